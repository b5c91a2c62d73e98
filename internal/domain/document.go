package domain

import (
	"encoding/json"
	"time"
)

// ShortDocumentNote is reported instead of a summary for texts too short to summarize.
const ShortDocumentNote = "document too short to summarize"

// ExtractedDocument is the structured result of parsing a PDF.
type ExtractedDocument struct {
	FileName    string           `json:"fileName" yaml:"fileName"`
	PageCount   int              `json:"pageCount" yaml:"pageCount"`
	TextContent string           `json:"textContent" yaml:"textContent"`
	WordCount   int              `json:"wordCount" yaml:"wordCount"`
	Metadata    DocumentMetadata `json:"metadata" yaml:"metadata"`
	Summary     Summary          `json:"summary" yaml:"summary"`
	Sections    []Section        `json:"sections,omitempty" yaml:"sections,omitempty"`
}

// DocumentMetadata is the PDF Info dictionary.
type DocumentMetadata struct {
	SourceInfo  map[string]string `json:"info" yaml:"info"`
	ExtractedAt time.Time         `json:"extractedAt" yaml:"extractedAt"`
	ByteSize    int               `json:"fileSize" yaml:"fileSize"`
}

// Characteristics are independent pattern checks over the full text.
type Characteristics struct {
	HasNumbers bool `json:"hasNumbers" yaml:"hasNumbers"`
	HasEmails  bool `json:"hasEmails" yaml:"hasEmails"`
	HasURLs    bool `json:"hasUrls" yaml:"hasUrls"`
	HasDates   bool `json:"hasDates" yaml:"hasDates"`
	HasPrice   bool `json:"hasPrice" yaml:"hasPrice"`
}

// Summary is either the short-document marker (Short == true) or a
// structured preview.
type Summary struct {
	Short                bool
	Preview              string
	Characteristics      Characteristics
	EstimatedReadMinutes int
}

type structuredSummary struct {
	Preview              string          `json:"preview" yaml:"preview"`
	Characteristics      Characteristics `json:"characteristics" yaml:"characteristics"`
	EstimatedReadMinutes int             `json:"estimatedReadTime" yaml:"estimatedReadTime"`
}

// MarshalJSON encodes the short marker as a bare string.
func (s Summary) MarshalJSON() ([]byte, error) {
	if s.Short {
		return json.Marshal(ShortDocumentNote)
	}
	return json.Marshal(structuredSummary{
		Preview:              s.Preview,
		Characteristics:      s.Characteristics,
		EstimatedReadMinutes: s.EstimatedReadMinutes,
	})
}

func (s *Summary) UnmarshalJSON(data []byte) error {
	var note string
	if err := json.Unmarshal(data, &note); err == nil {
		*s = Summary{Short: true}
		return nil
	}
	var st structuredSummary
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	*s = Summary{
		Preview:              st.Preview,
		Characteristics:      st.Characteristics,
		EstimatedReadMinutes: st.EstimatedReadMinutes,
	}
	return nil
}

// MarshalYAML mirrors MarshalJSON for the extract CLI.
func (s Summary) MarshalYAML() (any, error) {
	if s.Short {
		return ShortDocumentNote, nil
	}
	return structuredSummary{
		Preview:              s.Preview,
		Characteristics:      s.Characteristics,
		EstimatedReadMinutes: s.EstimatedReadMinutes,
	}, nil
}

// Section is a heuristically titled block of lines.
type Section struct {
	Title     string   `json:"title" yaml:"title"`
	Content   []string `json:"content" yaml:"content"`
	StartLine int      `json:"startLine" yaml:"startLine"`
}
