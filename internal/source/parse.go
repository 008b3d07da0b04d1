package source

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	errs "github.com/thnyheim/misp2bro/internal/errors"
	"github.com/thnyheim/misp2bro/internal/model"
)

// MISP XML export layout:
//
//	<response>
//	  <Event>
//	    <id>42</id><info>...</info><attribute_count>3</attribute_count>
//	    <Attribute><type>ip-dst</type><category>...</category><to_ids>1</to_ids><value>...</value></Attribute>
//	    <Object>...</Object>
//	  </Event>
//	</response>
//
// Only Attribute elements that are direct children of an Event are read.
type xmlEvent struct {
	ID             string         `xml:"id"`
	Info           string         `xml:"info"`
	AttributeCount string         `xml:"attribute_count"`
	Attributes     []xmlAttribute `xml:"Attribute"`
}

type xmlAttribute struct {
	Type     string `xml:"type"`
	Category string `xml:"category"`
	Value    string `xml:"value"`
	ToIDS    string `xml:"to_ids"`
}

// XMLParser decodes exports one Event at a time so the parse tree never holds
// the whole document.
type XMLParser struct{}

func NewXMLParser() *XMLParser { return &XMLParser{} }

func (p *XMLParser) ParseFile(ctx context.Context, path string) ([]model.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.StageParse, path, err)
	}
	defer f.Close()
	events, err := p.Parse(ctx, f)
	if err != nil {
		return nil, errs.Wrap(errs.StageParse, path, err)
	}
	return events, nil
}

// Parse reads Event elements that are direct children of the root element.
func (p *XMLParser) Parse(ctx context.Context, r io.Reader) ([]model.Event, error) {
	dec := xml.NewDecoder(r)
	var (
		events  []model.Event
		depth   int
		sawRoot bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				sawRoot = true
			}
			if depth == 1 && t.Name.Local == "Event" {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				var xe xmlEvent
				if err := dec.DecodeElement(&xe, &t); err != nil {
					return nil, fmt.Errorf("decode event #%d: %w", len(events)+1, err)
				}
				ev, err := convertEvent(xe)
				if err != nil {
					return nil, err
				}
				events = append(events, ev)
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if !sawRoot {
		return nil, errors.New("export has no root element")
	}
	return events, nil
}

func convertEvent(xe xmlEvent) (model.Event, error) {
	id := strings.TrimSpace(xe.ID)
	if id == "" {
		return model.Event{}, errors.New("event without id")
	}
	count, err := strconv.Atoi(strings.TrimSpace(xe.AttributeCount))
	if err != nil {
		return model.Event{}, fmt.Errorf("event %s: attribute_count %q: %w", id, xe.AttributeCount, err)
	}
	ev := model.Event{
		ID:             id,
		Info:           xe.Info,
		AttributeCount: count,
		Attributes:     make([]model.Attribute, 0, len(xe.Attributes)),
	}
	for i, xa := range xe.Attributes {
		toIDS, err := parseFlag(xa.ToIDS)
		if err != nil {
			return model.Event{}, fmt.Errorf("event %s: attribute #%d: to_ids %q: %w", id, i+1, xa.ToIDS, err)
		}
		ev.Attributes = append(ev.Attributes, model.Attribute{
			Type:     strings.TrimSpace(xa.Type),
			Category: xa.Category,
			Value:    xa.Value,
			ToIDS:    toIDS,
		})
	}
	return ev, nil
}

// MISP writes to_ids as 0/1; newer versions may emit true/false.
func parseFlag(s string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(s))
}
