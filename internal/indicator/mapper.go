// Package indicator maps MISP attributes onto Bro/Zeek intel records.
package indicator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/thnyheim/misp2bro/internal/model"
)

// ExternalAnalysis is the MISP category whose URLs point at analysis reports
// rather than at malicious infrastructure.
const ExternalAnalysis = "External analysis"

// ErrMalformedComposite is returned for a "filename|md5" value that does not
// contain exactly one pipe.
var ErrMalformedComposite = errors.New("composite value must contain exactly one '|'")

// ErrControlChar is returned for a value holding a tab or line break, which
// would split or shift the columns of its feed row.
var ErrControlChar = errors.New("value contains a tab or line break")

// MappingError reports an attribute that could not be mapped.
type MappingError struct {
	EventID string
	Type    string
	Value   string
	Err     error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("event %s: attribute %s %q: %v", e.EventID, e.Type, e.Value, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

var simpleTypes = map[string]model.IndicatorType{
	"ip-src":       model.Addr,
	"ip-dst":       model.Addr,
	"domain":       model.Domain,
	"url":          model.URL,
	"email-src":    model.Email,
	"email-dst":    model.Email,
	"target-email": model.Email,
	"md5":          model.FileHash,
	"filename":     model.FileName,
}

const compositeFilenameMD5 = "filename|md5"

// Supported reports whether attribute type t yields feed records.
func Supported(t string) bool {
	_, ok := simpleTypes[t]
	return ok || t == compositeFilenameMD5
}

// Mapper turns attributes into records. BaseURL is the MISP web root used for
// meta.url and is expected to end in "/".
type Mapper struct {
	BaseURL string
}

func NewMapper(baseURL string) *Mapper {
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Mapper{BaseURL: baseURL}
}

// Map returns zero, one or two records for attr. Unsupported types yield no
// records and no error.
func (m *Mapper) Map(ev model.Event, attr model.Attribute) ([]model.IndicatorRecord, error) {
	if !Supported(attr.Type) || (attr.Type == "url" && attr.Category == ExternalAnalysis) {
		return nil, nil
	}
	if strings.ContainsAny(attr.Value, fieldBreaks) {
		return nil, &MappingError{EventID: ev.ID, Type: attr.Type, Value: attr.Value, Err: ErrControlChar}
	}
	if attr.Type == compositeFilenameMD5 {
		name, hash, err := splitComposite(attr.Value)
		if err != nil {
			return nil, &MappingError{EventID: ev.ID, Type: attr.Type, Value: attr.Value, Err: err}
		}
		return []model.IndicatorRecord{
			m.record(ev, attr, hash, model.FileHash),
			m.record(ev, attr, name, model.FileName),
		}, nil
	}

	typ := simpleTypes[attr.Type]
	value := attr.Value
	if typ == model.URL {
		value = stripScheme(value)
	}
	return []model.IndicatorRecord{m.record(ev, attr, value, typ)}, nil
}

func (m *Mapper) record(ev model.Event, attr model.Attribute, value string, typ model.IndicatorType) model.IndicatorRecord {
	return model.IndicatorRecord{
		Indicator:   value,
		Type:        typ,
		SourceLabel: flatten(attr.Category + " - " + ev.Info),
		SourceURL:   m.BaseURL + "events/view/" + ev.ID,
		DoNotice:    true,
		IfIn:        "-",
	}
}

const fieldBreaks = "\t\r\n"

var breakReplacer = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")

// flatten keeps free text such as event info on a single feed column.
func flatten(s string) string {
	if !strings.ContainsAny(s, fieldBreaks) {
		return s
	}
	return breakReplacer.Replace(s)
}

// Intel::URL indicators are matched without the scheme.
func stripScheme(v string) string {
	if s, ok := strings.CutPrefix(v, "https://"); ok {
		return s
	}
	if s, ok := strings.CutPrefix(v, "http://"); ok {
		return s
	}
	return v
}

func splitComposite(v string) (first, second string, err error) {
	if strings.Count(v, "|") != 1 {
		return "", "", ErrMalformedComposite
	}
	first, second, _ = strings.Cut(v, "|")
	return first, second, nil
}
