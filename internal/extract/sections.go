package extract

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"pdfrelay/internal/domain"

	"gopkg.in/yaml.v3"
)

var (
	numberedHeadingPattern = regexp.MustCompile(`^\d+\.?\s`)
	capsHeadingPattern     = regexp.MustCompile(`^[A-Z][A-Z\s\d.\-:]+$`)
)

// TitlePolicy decides which lines open a new section. A line is a title
// when at least Threshold of the named predicates hold.
type TitlePolicy struct {
	Threshold      int `yaml:"threshold"`
	MaxTitleLength int `yaml:"maxTitleLength"` // longer lines are never titles
	ShortLength    int `yaml:"shortLength"`    // "short" predicate bound (exclusive)
	LowercaseRun   int `yaml:"lowercaseRun"`   // run length that marks body prose
	MinBodyLength  int `yaml:"minBodyLength"`  // body lines must be longer than this

	lowercaseRun *regexp.Regexp
}

// TitlePredicate is one named criterion of the policy.
type TitlePredicate struct {
	Name  string
	Match func(line string) bool
}

// DefaultTitlePolicy matches a line when at least two predicates hold.
func DefaultTitlePolicy() TitlePolicy {
	return TitlePolicy{
		Threshold:      2,
		MaxTitleLength: 100,
		ShortLength:    80,
		LowercaseRun:   10,
		MinBodyLength:  20,
	}
}

// LoadTitlePolicy reads a YAML policy file. Missing fields keep their defaults.
func LoadTitlePolicy(path string) (TitlePolicy, error) {
	policy := DefaultTitlePolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read title policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parse title policy %s: %w", path, err)
	}
	if policy.Threshold < 1 {
		return policy, fmt.Errorf("title policy %s: threshold must be >= 1", path)
	}
	return policy, nil
}

// Predicates returns the criteria in evaluation order.
func (p TitlePolicy) Predicates() []TitlePredicate {
	lower := p.lowercaseRun
	if lower == nil {
		lower = regexp.MustCompile(fmt.Sprintf(`[a-z]{%d,}`, p.LowercaseRun))
	}
	return []TitlePredicate{
		{Name: "short", Match: func(l string) bool { return utf8.RuneCountInString(l) < p.ShortLength }},
		{Name: "upper_case", Match: func(l string) bool { return strings.ToUpper(l) == l }},
		{Name: "numbered", Match: numberedHeadingPattern.MatchString},
		{Name: "caps_punctuation", Match: capsHeadingPattern.MatchString},
		{Name: "no_lowercase_run", Match: func(l string) bool { return !lower.MatchString(l) }},
	}
}

// IsTitle scores line against the predicates.
func (p TitlePolicy) IsTitle(line string) bool {
	if line == "" || utf8.RuneCountInString(line) > p.MaxTitleLength {
		return false
	}
	return p.score(line, p.Predicates()) >= p.Threshold
}

func (p TitlePolicy) score(line string, preds []TitlePredicate) int {
	n := 0
	for _, pred := range preds {
		if pred.Match(line) {
			n++
		}
	}
	return n
}

// ExtractSections groups non-empty lines under the nearest preceding title.
// Lines before the first title are dropped.
func (p TitlePolicy) ExtractSections(text string) []domain.Section {
	if text == "" {
		return nil
	}
	p.lowercaseRun = regexp.MustCompile(fmt.Sprintf(`[a-z]{%d,}`, p.LowercaseRun))
	preds := p.Predicates()

	var (
		sections []domain.Section
		current  *domain.Section
		index    int
	)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) <= p.MaxTitleLength && p.score(line, preds) >= p.Threshold {
			if current != nil {
				sections = append(sections, *current)
			}
			current = &domain.Section{Title: line, Content: []string{}, StartLine: index}
		} else if current != nil && utf8.RuneCountInString(line) > p.MinBodyLength {
			current.Content = append(current.Content, line)
		}
		index++
	}
	if current != nil {
		sections = append(sections, *current)
	}
	return sections
}
