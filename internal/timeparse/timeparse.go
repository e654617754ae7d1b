// Package timeparse превращает отображаемое на трекере время (точное или «N назад») в Unix-секунды.
package timeparse

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"tracker-stats/internal/normalize"
)

// UnparseableDateError: ни точное, ни относительное представление не разобрано
type UnparseableDateError struct {
	Precise  string
	Relative string
}

func (e *UnparseableDateError) Error() string {
	return fmt.Sprintf("unparseable date: precise=%q relative=%q", e.Precise, e.Relative)
}

var (
	preciseLayouts = []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006/01/02 15:04:05",
		"2006/01/02 15:04",
		"2006-01-02",
	}

	// дата и время, склеенные после удаления <br>
	gluedDateTime = regexp.MustCompile(`^(\d{4}[-/]\d{2}[-/]\d{2})(\d{2}:\d{2}(?::\d{2})?)$`)

	// длинные варианты единиц стоят раньше коротких: регулярки Go выбирают первую альтернативу
	relativeToken = regexp.MustCompile(`(?i)(\d+)\s*(years?|yrs?|months?|weeks?|wks?|days?|hours?|hrs?|minutes?|mins?|seconds?|secs?|年|个月|月|周|星期|天|日|小时|时|分钟|分|秒)`)
	relativeNoise = regexp.MustCompile(`(?i)\b(ago|and)\b|前|[,，\s]`)

	defaultLocation = mustLoadLocation(DefaultTimezone)

	nowWords       = []string{"just now", "now", "刚刚"}
	yesterdayWords = []string{"yesterday", "昨天"}
)

// DefaultTimezone: часовой пояс, в котором NexusPHP-трекеры показывают время
const DefaultTimezone = "Asia/Shanghai"

// самое старое относительное время, которое ещё считаем датой
const maxRelativeMonths = 12 * 1000

type Resolver struct {
	loc *time.Location
	now func() time.Time
}

// NewResolver создаёт резолвер для часового пояса сайта; nil означает DefaultTimezone
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = defaultLocation
	}
	return &Resolver{loc: loc, now: time.Now}
}

// WithClock подменяет источник текущего времени (для относительных дат и тестов)
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	return &Resolver{loc: r.loc, now: now}
}

// Resolve возвращает абсолютный момент в секундах.
// Точное представление всегда важнее относительного, даже если есть оба.
func (r *Resolver) Resolve(precise, relative string) (int64, error) {
	if p := normalize.CleanText(precise); p != "" {
		if t, err := r.ParsePrecise(p); err == nil {
			return t.Unix(), nil
		}
	}

	if rel := normalize.CleanText(relative); rel != "" {
		// ячейка иногда показывает точное время обычным текстом
		if t, err := r.ParsePrecise(rel); err == nil {
			return t.Unix(), nil
		}
		if t, err := r.ParseRelative(rel); err == nil {
			return t.Unix(), nil
		}
	}

	return 0, &UnparseableDateError{Precise: precise, Relative: relative}
}

// ParsePrecise разбирает полностью заданную дату в часовом поясе сайта
func (r *Resolver) ParsePrecise(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if m := gluedDateTime.FindStringSubmatch(s); m != nil {
		s = m[1] + " " + m[2]
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range preciseLayouts {
		if t, err := time.ParseInLocation(layout, s, r.loc); err == nil {
			return t, nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) >= 9 {
		return time.Unix(sec, 0), nil
	}
	return time.Time{}, fmt.Errorf("not a precise date: %q", s)
}

// ParseRelative разбирает "3 hours ago", "1天2时", "5分钟前" и т.п. относительно now
func (r *Resolver) ParseRelative(s string) (time.Time, error) {
	now := r.now()
	lower := strings.ToLower(strings.TrimSpace(s))

	for _, w := range nowWords {
		if lower == w {
			return now, nil
		}
	}
	for _, w := range yesterdayWords {
		if lower == w {
			return now.Add(-24 * time.Hour), nil
		}
	}

	matches := relativeToken.FindAllStringSubmatch(lower, -1)
	if len(matches) == 0 {
		return time.Time{}, fmt.Errorf("not a relative date: %q", s)
	}

	// всё, что не токен и не "ago"/"前", означает чужой формат
	rest := relativeToken.ReplaceAllString(lower, "")
	if relativeNoise.ReplaceAllString(rest, "") != "" {
		return time.Time{}, fmt.Errorf("not a relative date: %q", s)
	}

	var months int
	var d time.Duration
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid number in %q: %w", s, err)
		}

		unit := unitOf(m[2])
		if unit == "year" || unit == "month" {
			if unit == "year" {
				if n > maxRelativeMonths/12 {
					return time.Time{}, fmt.Errorf("relative date out of range: %q", s)
				}
				n *= 12
			}
			if n > maxRelativeMonths-months {
				return time.Time{}, fmt.Errorf("relative date out of range: %q", s)
			}
			months += n
			continue
		}

		step := unitDurations[unit]
		if int64(n) > math.MaxInt64/int64(step) {
			return time.Time{}, fmt.Errorf("relative date out of range: %q", s)
		}
		add := time.Duration(n) * step
		if d > math.MaxInt64-add {
			return time.Time{}, fmt.Errorf("relative date out of range: %q", s)
		}
		d += add
	}

	return now.AddDate(0, -months, 0).Add(-d), nil
}

var unitDurations = map[string]time.Duration{
	"week":   7 * 24 * time.Hour,
	"day":    24 * time.Hour,
	"hour":   time.Hour,
	"minute": time.Minute,
	"second": time.Second,
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("timeparse: load %s: %v", name, err))
	}
	return loc
}

func unitOf(token string) string {
	switch {
	case strings.HasPrefix(token, "y"), token == "年":
		return "year"
	case strings.HasPrefix(token, "mo"), token == "个月", token == "月":
		return "month"
	case strings.HasPrefix(token, "w"), token == "周", token == "星期":
		return "week"
	case strings.HasPrefix(token, "d"), token == "天", token == "日":
		return "day"
	case strings.HasPrefix(token, "h"), token == "小时", token == "时":
		return "hour"
	case strings.HasPrefix(token, "mi"), token == "分钟", token == "分":
		return "minute"
	default:
		return "second"
	}
}
