package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	brTag       = regexp.MustCompile(`(?i)<br\s*/?>`)
	anyTag      = regexp.MustCompile(`<[^>]*>`)
	multiSpaces = regexp.MustCompile(`\s+`)
)

// CleanText приводит фрагмент ячейки к одной строке:
// <br> -> пробел, остальные теги убираются, &nbsp; и NBSP -> пробел, пробелы схлопываются
func CleanText(s string) string {
	s = brTag.ReplaceAllString(s, " ")
	s = anyTag.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, " ", " ")
	s = multiSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ParseCount разбирает неотрицательный счётчик, убирая разделители тысяч
func ParseCount(text string) (int, error) {
	s := strings.ReplaceAll(CleanText(text), ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty count")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q: %w", text, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %q", text)
	}
	return n, nil
}

// NormalizeURL убирает пробелы и якорь
func NormalizeURL(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	if idx := strings.Index(urlStr, "#"); idx > -1 {
		urlStr = urlStr[:idx]
	}
	return urlStr
}
