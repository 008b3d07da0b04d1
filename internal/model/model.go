package model

// Event is one MISP event as read from the XML export.
type Event struct {
	ID             string
	Info           string
	AttributeCount int // as declared by MISP, not len(Attributes)
	Attributes     []Attribute
}

// Attribute is a typed indicator value belonging to exactly one Event.
type Attribute struct {
	Type     string // MISP type tag, e.g. "ip-dst" or "filename|md5"
	Category string
	Value    string
	ToIDS    bool
}

// IndicatorType is the Bro/Zeek Intel::Type of a feed row.
type IndicatorType int

const (
	Addr IndicatorType = iota
	Domain
	URL
	Email
	FileHash
	FileName
)

func (t IndicatorType) String() string {
	switch t {
	case Addr:
		return "Intel::ADDR"
	case Domain:
		return "Intel::DOMAIN"
	case URL:
		return "Intel::URL"
	case Email:
		return "Intel::EMAIL"
	case FileHash:
		return "Intel::FILE_HASH"
	case FileName:
		return "Intel::FILE_NAME"
	default:
		return "Intel::UNKNOWN"
	}
}

// IndicatorRecord is one row of the intel feed.
type IndicatorRecord struct {
	Indicator   string
	Type        IndicatorType
	SourceLabel string // meta.source
	SourceURL   string // meta.url
	DoNotice    bool
	IfIn        string
}
