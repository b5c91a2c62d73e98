// Package extract turns PDF payloads into structured text, metadata and a
// heuristic summary.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pdfrelay/internal/domain"
	"pdfrelay/internal/metrics"
	"pdfrelay/internal/tempstore"

	"github.com/ledongthuc/pdf"
)

// pdfSignature is the magic prefix every PDF starts with.
var pdfSignature = []byte("%PDF-")

// ExtractionError reports a payload that could not be parsed as a document.
type ExtractionError struct {
	FileName string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("read pdf %s: %v", e.FileName, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Config configures the Extractor.
type Config struct {
	Sections    bool         // populate ExtractedDocument.Sections
	TitlePolicy *TitlePolicy // nil = DefaultTitlePolicy
	Store       *tempstore.Store
	Logger      *slog.Logger
}

// Extractor parses PDFs. It is safe for concurrent use.
type Extractor struct {
	sections bool
	policy   TitlePolicy
	store    *tempstore.Store
	logger   *slog.Logger
	now      func() time.Time
}

// New returns an Extractor using the default title policy unless cfg sets one.
func New(cfg Config) *Extractor {
	policy := DefaultTitlePolicy()
	if cfg.TitlePolicy != nil {
		policy = *cfg.TitlePolicy
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{
		sections: cfg.Sections,
		policy:   policy,
		store:    cfg.Store,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Validate reports whether buf starts with the PDF signature.
func (e *Extractor) Validate(buf []byte) bool {
	return bytes.HasPrefix(buf, pdfSignature)
}

// Extract parses the whole document. Any parse failure, including a panic
// inside the PDF reader, is returned as *ExtractionError.
func (e *Extractor) Extract(buf []byte, fileName string) (*domain.ExtractedDocument, error) {
	if fileName == "" {
		fileName = "document.pdf"
	}
	start := time.Now()
	e.logger.Debug("pdf parse started", "file", fileName, "size", len(buf))

	text, pages, info, err := readPDF(buf)
	if err != nil {
		metrics.ExtractionFailures.Inc()
		e.logger.Error("pdf parse failed", "file", fileName, "err", err)
		return nil, &ExtractionError{FileName: fileName, Err: err}
	}

	doc := &domain.ExtractedDocument{
		FileName:    fileName,
		PageCount:   pages,
		TextContent: text,
		WordCount:   CountWords(text),
		Metadata: domain.DocumentMetadata{
			SourceInfo:  info,
			ExtractedAt: e.now(),
			ByteSize:    len(buf),
		},
		Summary: Summarize(text),
	}
	if e.sections {
		doc.Sections = e.policy.ExtractSections(text)
	}

	metrics.DocumentsExtracted.Inc()
	metrics.ExtractionLatency.Observe(time.Since(start).Seconds())
	e.logger.Info("pdf parsed", "file", fileName, "pages", doc.PageCount, "words", doc.WordCount)
	return doc, nil
}

// ExtractSections segments text with the extractor's title policy.
func (e *Extractor) ExtractSections(text string) []domain.Section {
	return e.policy.ExtractSections(text)
}

// SaveTemp keeps a copy of the payload in the ephemeral store.
func (e *Extractor) SaveTemp(buf []byte, fileName string) (tempstore.Artifact, error) {
	if e.store == nil {
		return tempstore.Artifact{}, errors.New("no temp store configured")
	}
	return e.store.Save(buf, fileName)
}

func readPDF(buf []byte) (text string, pages int, info map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return "", 0, nil, err
	}

	pages = r.NumPage()
	fonts := make(map[string]*pdf.Font)
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}
		pageText, err := p.GetPlainText(fonts)
		if err != nil {
			return "", 0, nil, fmt.Errorf("page %d: %w", i, err)
		}
		sb.WriteString(pageText)
	}

	return sb.String(), pages, readInfo(r), nil
}

func readInfo(r *pdf.Reader) map[string]string {
	out := make(map[string]string)
	dict := r.Trailer().Key("Info")
	for _, key := range dict.Keys() {
		v := dict.Key(key)
		switch v.Kind() {
		case pdf.String:
			out[key] = v.Text()
		case pdf.Name:
			out[key] = v.Name()
		case pdf.Integer, pdf.Real, pdf.Bool:
			out[key] = v.String()
		}
	}
	return out
}

// CountWords counts whitespace-delimited tokens.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
