package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thnyheim/misp2bro/internal/model"
)

var botnet = model.Event{ID: "42", Info: "Botnet C2", AttributeCount: 1}

func rec(ind string, typ model.IndicatorType, category string) model.IndicatorRecord {
	return model.IndicatorRecord{
		Indicator:   ind,
		Type:        typ,
		SourceLabel: category + " - Botnet C2",
		SourceURL:   "http://misp.example/events/view/42",
		DoNotice:    true,
		IfIn:        "-",
	}
}

func TestMap_DispatchTable(t *testing.T) {
	m := NewMapper("http://misp.example/")

	tests := []struct {
		name string
		attr model.Attribute
		want []model.IndicatorRecord
	}{
		{
			name: "ip-src",
			attr: model.Attribute{Type: "ip-src", Category: "Network activity", Value: "1.2.3.4", ToIDS: true},
			want: []model.IndicatorRecord{rec("1.2.3.4", model.Addr, "Network activity")},
		},
		{
			name: "ip-dst",
			attr: model.Attribute{Type: "ip-dst", Category: "Network activity", Value: "5.6.7.8"},
			want: []model.IndicatorRecord{rec("5.6.7.8", model.Addr, "Network activity")},
		},
		{
			name: "domain",
			attr: model.Attribute{Type: "domain", Category: "Network activity", Value: "evil.example"},
			want: []model.IndicatorRecord{rec("evil.example", model.Domain, "Network activity")},
		},
		{
			name: "url https",
			attr: model.Attribute{Type: "url", Category: "Network activity", Value: "https://evil.example/x"},
			want: []model.IndicatorRecord{rec("evil.example/x", model.URL, "Network activity")},
		},
		{
			name: "url http",
			attr: model.Attribute{Type: "url", Category: "Payload delivery", Value: "http://evil.example/dl.php?a=1"},
			want: []model.IndicatorRecord{rec("evil.example/dl.php?a=1", model.URL, "Payload delivery")},
		},
		{
			name: "url without scheme",
			attr: model.Attribute{Type: "url", Category: "Network activity", Value: "evil.example/y"},
			want: []model.IndicatorRecord{rec("evil.example/y", model.URL, "Network activity")},
		},
		{
			name: "url only leading scheme stripped",
			attr: model.Attribute{Type: "url", Category: "Network activity", Value: "hxxp://a/?u=http://b"},
			want: []model.IndicatorRecord{rec("hxxp://a/?u=http://b", model.URL, "Network activity")},
		},
		{
			name: "url external analysis",
			attr: model.Attribute{Type: "url", Category: ExternalAnalysis, Value: "https://www.virustotal.com/report"},
			want: nil,
		},
		{
			name: "email-src",
			attr: model.Attribute{Type: "email-src", Category: "Payload delivery", Value: "a@evil.example"},
			want: []model.IndicatorRecord{rec("a@evil.example", model.Email, "Payload delivery")},
		},
		{
			name: "email-dst",
			attr: model.Attribute{Type: "email-dst", Category: "Payload delivery", Value: "b@evil.example"},
			want: []model.IndicatorRecord{rec("b@evil.example", model.Email, "Payload delivery")},
		},
		{
			name: "target-email",
			attr: model.Attribute{Type: "target-email", Category: "Targeting data", Value: "ceo@corp.example"},
			want: []model.IndicatorRecord{rec("ceo@corp.example", model.Email, "Targeting data")},
		},
		{
			name: "md5",
			attr: model.Attribute{Type: "md5", Category: "Payload delivery", Value: "deadbeef"},
			want: []model.IndicatorRecord{rec("deadbeef", model.FileHash, "Payload delivery")},
		},
		{
			name: "filename",
			attr: model.Attribute{Type: "filename", Category: "Payload delivery", Value: "bad.exe"},
			want: []model.IndicatorRecord{rec("bad.exe", model.FileName, "Payload delivery")},
		},
		{
			name: "filename|md5",
			attr: model.Attribute{Type: "filename|md5", Category: "Payload delivery", Value: "bad.exe|deadbeef"},
			want: []model.IndicatorRecord{
				rec("deadbeef", model.FileHash, "Payload delivery"),
				rec("bad.exe", model.FileName, "Payload delivery"),
			},
		},
		{
			name: "unsupported type",
			attr: model.Attribute{Type: "sha256", Category: "Payload delivery", Value: "abc"},
			want: nil,
		},
		{
			name: "type match is case-sensitive",
			attr: model.Attribute{Type: "IP-SRC", Category: "Network activity", Value: "1.2.3.4"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Map(botnet, tt.attr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMap_ExampleRow(t *testing.T) {
	m := NewMapper("http://misp.example/")
	got, err := m.Map(botnet, model.Attribute{Type: "ip-src", Value: "1.2.3.4", Category: "Network activity"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	r := got[0]
	assert.Equal(t, "1.2.3.4", r.Indicator)
	assert.Equal(t, "Intel::ADDR", r.Type.String())
	assert.Equal(t, "Network activity - Botnet C2", r.SourceLabel)
	assert.Equal(t, "http://misp.example/events/view/42", r.SourceURL)
	assert.True(t, r.DoNotice)
	assert.Equal(t, "-", r.IfIn)
}

func TestMap_MalformedComposite(t *testing.T) {
	m := NewMapper("http://misp.example/")
	for _, v := range []string{"bad.exe", "bad.exe|dead|beef", ""} {
		t.Run(v, func(t *testing.T) {
			got, err := m.Map(botnet, model.Attribute{Type: "filename|md5", Category: "Payload delivery", Value: v})
			require.Error(t, err)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, ErrMalformedComposite)

			var me *MappingError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, "42", me.EventID)
			assert.Equal(t, v, me.Value)
		})
	}
}

func TestNewMapper_AddsTrailingSlash(t *testing.T) {
	m := NewMapper("https://misp.corp.example")
	got, err := m.Map(botnet, model.Attribute{Type: "domain", Category: "Network activity", Value: "x.example"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://misp.corp.example/events/view/42", got[0].SourceURL)
}

func TestSupported(t *testing.T) {
	for _, typ := range []string{"ip-src", "ip-dst", "domain", "url", "email-src", "email-dst", "target-email", "md5", "filename", "filename|md5"} {
		assert.True(t, Supported(typ), typ)
	}
	for _, typ := range []string{"sha1", "hostname", "filename|sha256", "", "Domain"} {
		assert.False(t, Supported(typ), typ)
	}
}

func TestMap_ControlCharsInValueRejected(t *testing.T) {
	m := NewMapper("http://misp.example/")
	tests := []struct{ typ, value string }{
		{"domain", "evil.example\tIntel::ADDR"},
		{"ip-dst", "1.2.3.4\n5.6.7.8"},
		{"url", "http://evil.example/a\r\n"},
		{"filename|md5", "bad\t.exe|deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := m.Map(botnet, model.Attribute{Type: tt.typ, Category: "Network activity", Value: tt.value})
			assert.Nil(t, got)
			assert.ErrorIs(t, err, ErrControlChar)
			var me *MappingError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.value, me.Value)
		})
	}

	got, err := m.Map(botnet, model.Attribute{Type: "sha1", Value: "a\tb"})
	require.NoError(t, err, "unsupported types are ignored, not rejected")
	assert.Empty(t, got)

	got, err = m.Map(botnet, model.Attribute{Type: "url", Category: ExternalAnalysis, Value: "https://vt.example/\t"})
	require.NoError(t, err, "External analysis URLs are dropped before the value is checked")
	assert.Empty(t, got)
}

func TestMap_ControlCharsInLabelFlattened(t *testing.T) {
	m := NewMapper("http://misp.example/")
	ev := model.Event{ID: "7", Info: "Phishing\twave\r\nQ3", AttributeCount: 1}
	got, err := m.Map(ev, model.Attribute{Type: "domain", Category: "Network\tactivity", Value: "phish.example"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Network activity - Phishing wave  Q3", got[0].SourceLabel)
}
