package signature

import (
	"io"
	"time"
)

// Request is one form submission as received from the HTTP layer.
type Request struct {
	FirstName    string
	LastName     string
	Title        string
	RawPhone     string
	Email        string
	CalendarLink string
}

// Fields is the read-only projection of a Request after validation.
// Phone and CalendarLink are empty when absent.
type Fields struct {
	DisplayName  string
	Title        string
	Phone        string
	Email        string
	CalendarLink string
}

// HasPhone reports whether a formatted phone number should be rendered.
func (f Fields) HasPhone() bool {
	return f.Phone != ""
}

// HasCalendarLink reports whether a scheduling link should be rendered.
func (f Fields) HasCalendarLink() bool {
	return f.CalendarLink != ""
}

// Upload is the uploaded headshot handle. The caller owns Content and closes it.
type Upload struct {
	Filename string
	Content  io.Reader
}

// NormalizedImage is the canonical headshot produced by the normalizer.
type NormalizedImage struct {
	Data        []byte
	Width       int
	Height      int
	ContentType string
	Extension   string
}

// PublishedArtifact identifies an uploaded headshot.
type PublishedArtifact struct {
	Key string
	URL string
}

// Document is a rendered signature and the filename it is persisted under.
type Document struct {
	HTML     string
	Filename string
}

// Result is returned to the HTTP layer after a successful run.
type Result struct {
	Document Document
	Artifact PublishedArtifact
	Fields   Fields
}

// Event announces a rendered signature to downstream consumers.
type Event struct {
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Filename    string    `json:"filename"`
	HeadshotURL string    `json:"headshot_url"`
	RenderedAt  time.Time `json:"rendered_at"`
}
