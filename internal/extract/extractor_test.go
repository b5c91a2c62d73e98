package extract

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"pdfrelay/internal/tempstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// buildPDF writes a minimal uncompressed PDF with one Helvetica font, one
// page per entry of pages and an Info dictionary carrying title.
func buildPDF(pages [][]string, title string) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 5+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	obj(fmt.Sprintf("<< /Title (%s) /Producer (pdfrelay tests) >>", title))

	for i, lines := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 6+2*i))
		var content strings.Builder
		content.WriteString("BT /F1 12 Tf 14 TL 72 720 Td\n")
		for _, l := range lines {
			fmt.Fprintf(&content, "(%s) Tj T*\n", l)
		}
		content.WriteString("ET")
		stream := content.String()
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 4 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	e := New(Config{Logger: testLogger()})

	tests := []struct {
		name string
		buf  []byte
		want bool
	}{
		{"pdf header", []byte("%PDF-1.7\nrest"), true},
		{"bare signature", []byte("%PDF-"), true},
		{"empty", nil, false},
		{"truncated signature", []byte("%PDF"), false},
		{"png", []byte("\x89PNG\r\n\x1a\n"), false},
		{"leading whitespace", []byte(" %PDF-1.4"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Validate(tt.buf); got != tt.want {
				t.Errorf("Validate(%q) = %v, want %v", tt.buf, got, tt.want)
			}
		})
	}
}

func TestExtract_TwoPages(t *testing.T) {
	e := New(Config{Logger: testLogger()})
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	buf := buildPDF([][]string{
		{"Hello world", "Second line"},
		{"Page two text"},
	}, "Quarterly Report")

	doc, err := e.Extract(buf, "report.pdf")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.FileName != "report.pdf" {
		t.Errorf("expected file name report.pdf, got %q", doc.FileName)
	}
	if doc.PageCount != 2 {
		t.Errorf("expected 2 pages, got %d", doc.PageCount)
	}
	for _, want := range []string{"Hello world", "Second line", "Page two text"} {
		if !strings.Contains(doc.TextContent, want) {
			t.Errorf("text %q missing %q", doc.TextContent, want)
		}
	}
	if doc.WordCount != 7 {
		t.Errorf("expected 7 words, got %d", doc.WordCount)
	}
	if got := doc.Metadata.SourceInfo["Title"]; got != "Quarterly Report" {
		t.Errorf("expected Title info, got %q", got)
	}
	if doc.Metadata.ByteSize != len(buf) {
		t.Errorf("expected byte size %d, got %d", len(buf), doc.Metadata.ByteSize)
	}
	if !doc.Metadata.ExtractedAt.Equal(fixed) {
		t.Errorf("unexpected extraction time %v", doc.Metadata.ExtractedAt)
	}
	if !doc.Summary.Short {
		t.Error("short text should produce the short summary marker")
	}
	if doc.Sections != nil {
		t.Error("sections should be omitted unless enabled")
	}
}

func TestExtract_DefaultFileName(t *testing.T) {
	e := New(Config{Logger: testLogger()})

	doc, err := e.Extract(buildPDF([][]string{{"x"}}, "t"), "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.FileName != "document.pdf" {
		t.Errorf("expected default name, got %q", doc.FileName)
	}
}

func TestExtract_WithSections(t *testing.T) {
	e := New(Config{Sections: true, Logger: testLogger()})

	buf := buildPDF([][]string{{
		"1. INTRODUCTION",
		"This paragraph explains the documentation of the relay.",
	}}, "Sections")

	doc, err := e.Extract(buf, "s.pdf")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(doc.Sections) != 1 || doc.Sections[0].Title != "1. INTRODUCTION" {
		t.Fatalf("unexpected sections: %+v", doc.Sections)
	}
	if len(doc.Sections[0].Content) != 1 {
		t.Errorf("expected one body line, got %+v", doc.Sections[0].Content)
	}
}

func TestExtract_Malformed(t *testing.T) {
	e := New(Config{Logger: testLogger()})

	tests := []struct {
		name string
		buf  []byte
	}{
		{"not a pdf", []byte("plain text, definitely not a document")},
		{"header only", []byte("%PDF-1.4\n")},
		{"truncated", buildPDF([][]string{{"Hello"}}, "t")[:200]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := e.Extract(tt.buf, "bad.pdf")
			if err == nil {
				t.Fatalf("expected error, got document %+v", doc)
			}
			var extErr *ExtractionError
			if !errors.As(err, &extErr) {
				t.Fatalf("expected *ExtractionError, got %T: %v", err, err)
			}
			if extErr.FileName != "bad.pdf" {
				t.Errorf("expected file name in error, got %q", extErr.FileName)
			}
		})
	}
}

func TestSaveTemp(t *testing.T) {
	e := New(Config{Logger: testLogger()})
	if _, err := e.SaveTemp([]byte("%PDF-"), "a.pdf"); err == nil {
		t.Error("expected error without a temp store")
	}

	store, err := tempstore.New(tempstore.Config{Dir: t.TempDir(), Retention: time.Hour, Logger: testLogger()})
	if err != nil {
		t.Fatalf("tempstore.New: %v", err)
	}
	defer store.Close()

	e = New(Config{Store: store, Logger: testLogger()})
	art, err := e.SaveTemp([]byte("%PDF-1.4"), "a.pdf")
	if err != nil {
		t.Fatalf("SaveTemp: %v", err)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "%PDF-1.4" {
		t.Errorf("unexpected artifact content %q", data)
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"one", 1},
		{"one two\tthree\nfour", 4},
		{"  padded   words  ", 2},
	}
	for _, tt := range tests {
		if got := CountWords(tt.text); got != tt.want {
			t.Errorf("CountWords(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
