package domain

import "time"

// PayloadType tags the RelayPayload variant.
type PayloadType string

const (
	PayloadDocument PayloadType = "pdf"
	PayloadText     PayloadType = "text"
)

// RelayPayload is the JSON body posted to the automation backend.
// Document payloads set FileName and FileBuffer; text payloads set Message.
type RelayPayload struct {
	Type       PayloadType     `json:"type"`
	FileName   string          `json:"fileName,omitempty"`
	FileBuffer string          `json:"fileBuffer,omitempty"` // base64
	Message    string          `json:"message,omitempty"`
	From       string          `json:"from"`
	Timestamp  time.Time       `json:"timestamp"`
	Extracted  *ExtractedBrief `json:"extracted,omitempty"`
}

// ExtractedBrief is the part of an ExtractedDocument forwarded with a PDF.
type ExtractedBrief struct {
	PageCount int               `json:"pageCount"`
	WordCount int               `json:"wordCount"`
	Info      map[string]string `json:"info,omitempty"`
	Summary   Summary           `json:"summary"`
	Sections  []Section         `json:"sections,omitempty"`
}

// NewTextPayload builds the text variant.
func NewTextPayload(from, message string, at time.Time) RelayPayload {
	return RelayPayload{Type: PayloadText, Message: message, From: from, Timestamp: at}
}

// NewDocumentPayload builds the document variant; content must already be base64.
func NewDocumentPayload(from, fileName, content string, at time.Time) RelayPayload {
	return RelayPayload{Type: PayloadDocument, FileName: fileName, FileBuffer: content, From: from, Timestamp: at}
}
