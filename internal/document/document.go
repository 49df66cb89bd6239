// Package document defines the normalized unit every connector produces and
// the source definitions the engine reads from the administrative layer.
package document

import "time"

// ContentType classifies extracted content for downstream consumers.
type ContentType string

// Content classifications attached to extracted documents.
const (
	ContentWebPage  ContentType = "webpage"
	ContentText     ContentType = "text"
	ContentMarkdown ContentType = "markdown"
	ContentHTML     ContentType = "html"
	ContentPDF      ContentType = "pdf"
	ContentDOCX     ContentType = "docx"
	ContentRow      ContentType = "row"
	ContentEvent    ContentType = "event"
)

// Document is the normalized unit in transit from a connector to the indexing
// collaborator. (ExternalID, source id) is the idempotency key for upserts.
type Document struct {
	ExternalID   string            `json:"external_id"`
	Title        string            `json:"title"`
	Content      string            `json:"content"`
	URL          string            `json:"url,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	LastModified *time.Time        `json:"last_modified,omitempty"`
	ContentType  ContentType       `json:"content_type,omitempty"`
}
