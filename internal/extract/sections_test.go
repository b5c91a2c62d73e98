package extract

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"pdfrelay/internal/domain"
)

func TestExtractSections(t *testing.T) {
	text := strings.Join([]string{
		"Preamble text discussing administrative considerations",
		"1. INTRODUCTION",
		"This paragraph explains everything about the documentation.",
		"abcdefghijk",
		"",
		"   ",
		"SECOND PART",
		"Another paragraph describing implementation specifics.",
	}, "\n")

	got := DefaultTitlePolicy().ExtractSections(text)
	want := []domain.Section{
		{
			Title:     "1. INTRODUCTION",
			Content:   []string{"This paragraph explains everything about the documentation."},
			StartLine: 1,
		},
		{
			Title:     "SECOND PART",
			Content:   []string{"Another paragraph describing implementation specifics."},
			StartLine: 4,
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractSections:\n got  %+v\n want %+v", got, want)
	}
}

func TestExtractSections_Empty(t *testing.T) {
	if got := DefaultTitlePolicy().ExtractSections(""); got != nil {
		t.Errorf("expected nil for empty text, got %+v", got)
	}
}

func TestExtractSections_NoTitles(t *testing.T) {
	text := "A sentence that mentions administrative paperwork.\nAnother sentence about implementation."
	if got := DefaultTitlePolicy().ExtractSections(text); len(got) != 0 {
		t.Errorf("expected no sections, got %+v", got)
	}
}

func TestExtractSections_TitleWithoutBody(t *testing.T) {
	got := DefaultTitlePolicy().ExtractSections("SUMMARY")
	if len(got) != 1 {
		t.Fatalf("expected one section, got %+v", got)
	}
	if got[0].Content == nil || len(got[0].Content) != 0 {
		t.Errorf("expected empty non-nil content, got %#v", got[0].Content)
	}
}

func TestIsTitle(t *testing.T) {
	p := DefaultTitlePolicy()

	tests := []struct {
		line string
		want bool
	}{
		{"", false},
		{"CHAPTER ONE", true},
		{"2 Results", true},
		{"Results and costs", true},
		{"Measurements of performance characteristics", false},
		{strings.Repeat("A", 101), false},
	}
	for _, tt := range tests {
		if got := p.IsTitle(tt.line); got != tt.want {
			t.Errorf("IsTitle(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestIsTitle_Threshold(t *testing.T) {
	p := DefaultTitlePolicy()
	p.Threshold = 4

	if p.IsTitle("Results and costs") {
		t.Error("two matching predicates should not reach threshold 4")
	}
	if !p.IsTitle("1. OVERVIEW") {
		t.Error("numbered caps heading should reach threshold 4")
	}
}

func TestPredicates_Names(t *testing.T) {
	var names []string
	for _, pred := range DefaultTitlePolicy().Predicates() {
		names = append(names, pred.Name)
	}
	want := []string{"short", "upper_case", "numbered", "caps_punctuation", "no_lowercase_run"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("unexpected predicates %v", names)
	}
}

func TestLoadTitlePolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "titles.yaml")
	if err := os.WriteFile(path, []byte("threshold: 3\nmaxTitleLength: 60\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadTitlePolicy(path)
	if err != nil {
		t.Fatalf("LoadTitlePolicy: %v", err)
	}
	if p.Threshold != 3 || p.MaxTitleLength != 60 {
		t.Errorf("overrides not applied: %+v", p)
	}
	if p.ShortLength != 80 || p.LowercaseRun != 10 || p.MinBodyLength != 20 {
		t.Errorf("missing fields should keep defaults: %+v", p)
	}
}

func TestLoadTitlePolicy_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadTitlePolicy(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("threshold: [1, 2"), 0o600)
	if _, err := LoadTitlePolicy(bad); err == nil {
		t.Error("expected error for invalid yaml")
	}

	zero := filepath.Join(dir, "zero.yaml")
	os.WriteFile(zero, []byte("threshold: 0\n"), 0o600)
	if _, err := LoadTitlePolicy(zero); err == nil {
		t.Error("expected error for threshold below 1")
	}
}
