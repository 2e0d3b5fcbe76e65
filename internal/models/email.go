package models

import "time"

// Provenance describes how a document was obtained
type Provenance string

const (
	ProvenanceAttachment  Provenance = "attachment"
	ProvenanceDirectLink  Provenance = "direct-link"
	ProvenanceScrapedLink Provenance = "scraped-link"
)

// MailMessage is a parsed mailbox message. It is never persisted.
type MailMessage struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject"`
	Sender      string       `json:"sender"`
	Date        *time.Time   `json:"date"`
	Attachments []Attachment `json:"attachments"`
	Links       []string     `json:"links"`
}

// Attachment represents a PDF attached to a message
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// ResolvedDocument is a PDF stored on local disk
type ResolvedDocument struct {
	Path       string     `json:"path"`
	Provenance Provenance `json:"provenance"`
	SourceURL  string     `json:"source_url,omitempty"`
}

// Metadata is the message context handed to the extraction boundary
type Metadata struct {
	Sender  string     `json:"sender"`
	Subject string     `json:"subject"`
	Date    *time.Time `json:"date"`
}
