// Package feed builds and writes the Bro/Zeek intel feed document.
package feed

import (
	"errors"
	"slices"
	"strings"

	"go.uber.org/zap"

	errs "github.com/thnyheim/misp2bro/internal/errors"
	"github.com/thnyheim/misp2bro/internal/model"
)

// Header is the first line of every feed file.
const Header = "#fields indicator\tindicator_type\tmeta.source\tmeta.url\tmeta.do_notice\tmeta.if_in"

// ErrNoFeed means the export contained no event or no qualifying attribute.
// It is a clean outcome, not a failure.
var ErrNoFeed = errors.New("no feed produced")

// Mapper maps a single attribute; *indicator.Mapper satisfies it.
type Mapper interface {
	Map(ev model.Event, attr model.Attribute) ([]model.IndicatorRecord, error)
}

// Document is a deduplicated feed ready to render.
type Document struct {
	Header  string
	Records []model.IndicatorRecord // unique by Indicator, sorted byte-wise

	// Stats from the build that produced the document.
	Events     int // events with a non-zero attribute count
	Attributes int // to_ids attributes considered
	Mapped     int // records before dedup
	Skipped    int // attributes rejected by the mapper
}

// Builder applies the mapper to a parsed export.
type Builder struct {
	mapper Mapper
	logger *zap.Logger
	strict bool
}

type Option func(*Builder)

// WithStrict makes the first mapping error abort the build instead of
// skipping the attribute.
func WithStrict(strict bool) Option {
	return func(b *Builder) { b.strict = strict }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

func NewBuilder(m Mapper, opts ...Option) *Builder {
	b := &Builder{mapper: m, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns ErrNoFeed when nothing qualifies. When several attributes
// produce the same indicator, the first in event-then-attribute order wins.
func (b *Builder) Build(events []model.Event) (*Document, error) {
	if len(events) == 0 {
		return nil, ErrNoFeed
	}

	doc := &Document{Header: Header}
	var records []model.IndicatorRecord
	for _, ev := range events {
		if ev.AttributeCount == 0 {
			continue
		}
		doc.Events++
		for _, attr := range ev.Attributes {
			if !attr.ToIDS {
				continue
			}
			doc.Attributes++
			out, err := b.mapper.Map(ev, attr)
			if err != nil {
				if b.strict {
					return nil, errs.Wrap(errs.StageMapping, "event "+ev.ID, err)
				}
				doc.Skipped++
				b.logger.Warn("skipping attribute",
					zap.String("event_id", ev.ID),
					zap.String("type", attr.Type),
					zap.String("value", attr.Value),
					zap.Error(err))
				continue
			}
			records = append(records, out...)
		}
	}
	if len(records) == 0 {
		return nil, ErrNoFeed
	}
	doc.Mapped = len(records)
	doc.Records = dedupSorted(records)
	return doc, nil
}

// dedupSorted stable-sorts by indicator and keeps the first row per value.
func dedupSorted(records []model.IndicatorRecord) []model.IndicatorRecord {
	slices.SortStableFunc(records, func(a, b model.IndicatorRecord) int {
		return strings.Compare(a.Indicator, b.Indicator)
	})
	return slices.CompactFunc(records, func(a, b model.IndicatorRecord) bool {
		return a.Indicator == b.Indicator
	})
}
