package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"pdfrelay/internal/domain"
)

const (
	minSummaryChars = 100
	previewChars    = 500
	ellipsis        = "..."
	wordsPerMinute  = 200
)

var (
	numberPattern = regexp.MustCompile(`\d+`)
	emailPattern  = regexp.MustCompile(`@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	urlPattern    = regexp.MustCompile(`https?://`)
	datePattern   = regexp.MustCompile(`\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}`)
	pricePattern  = regexp.MustCompile(`€|\$|EUR|USD|\d+[,.]\d{2}`)
)

// Summarize builds a quick summary of text. Texts shorter than 100
// characters yield the short-document marker.
func Summarize(text string) domain.Summary {
	n := utf8.RuneCountInString(text)
	if n < minSummaryChars {
		return domain.Summary{Short: true}
	}

	preview := text
	if n > previewChars {
		preview = string([]rune(text)[:previewChars])
	}
	preview = strings.TrimSpace(preview)
	if n > previewChars {
		preview += ellipsis
	}

	return domain.Summary{
		Preview:              preview,
		Characteristics:      Characterize(text),
		EstimatedReadMinutes: ReadMinutes(CountWords(text)),
	}
}

// Characterize runs each pattern check independently over text.
func Characterize(text string) domain.Characteristics {
	return domain.Characteristics{
		HasNumbers: numberPattern.MatchString(text),
		HasEmails:  emailPattern.MatchString(text),
		HasURLs:    urlPattern.MatchString(text),
		HasDates:   datePattern.MatchString(text),
		HasPrice:   pricePattern.MatchString(text),
	}
}

// ReadMinutes is ceil(words / 200).
func ReadMinutes(words int) int {
	if words <= 0 {
		return 0
	}
	return (words + wordsPerMinute - 1) / wordsPerMinute
}
