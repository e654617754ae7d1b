// Package extract достаёт значения полей из разметки по упорядоченным цепочкам стратегий.
//
// Разметка трекеров меняется между версиями движка и кастомизациями сайтов, поэтому одно
// логическое поле описывается списком стратегий: сначала структурные селекторы, в самом конце
// позиционные (номер ячейки строки). Позиционные стратегии привязаны к конкретной ревизии
// разметки и ломаются первыми; Chain.Validate не даёт поставить их раньше структурных.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FieldMissingError: ни одна стратегия цепочки не дала значения
type FieldMissingError struct {
	Field string
	Tried int
}

func (e *FieldMissingError) Error() string {
	return fmt.Sprintf("field %q missing (%d strategies tried)", e.Field, e.Tried)
}

var errNoMatch = errors.New("no match")

type Mode string

const (
	ModeText     Mode = "text"
	ModeHTML     Mode = "html"
	ModeAttr     Mode = "attr"
	ModeNextText Mode = "next_text"
)

// Rule: декларативное описание одной стратегии (читается из YAML/TOML определения сайта)
type Rule struct {
	Selector string `yaml:"selector" toml:"selector"`
	Mode     Mode   `yaml:"mode" toml:"mode"`
	Attr     string `yaml:"attr" toml:"attr"`
	// Cell: позиционная стратегия: индекс (с нуля) дочернего элемента строки.
	// Последнее средство, допустимо только в конце цепочки.
	Cell *int `yaml:"cell" toml:"cell"`
	// Pattern: регулярка, первая группа которой и есть значение
	Pattern string `yaml:"pattern" toml:"pattern"`
}

// Strategy: одна попытка извлечь поле. Ошибка означает «здесь нет», а не сбой всего поля.
type Strategy struct {
	Name       string
	Positional bool
	Extract    func(sel *goquery.Selection) (string, error)
}

type Chain []Strategy

// Validate проверяет, что позиционные стратегии стоят после всех структурных
func (c Chain) Validate() error {
	seenPositional := false
	for i, s := range c {
		if s.Positional {
			seenPositional = true
			continue
		}
		if seenPositional {
			return fmt.Errorf("strategy %d (%s) is structural but follows a positional one", i, s.Name)
		}
	}
	return nil
}

// Resolve возвращает первое непустое значение по цепочке.
// Ошибки отдельных стратегий не всплывают: важен только итог.
func Resolve(sel *goquery.Selection, field string, chain Chain) (string, error) {
	for _, s := range chain {
		v, err := s.Extract(sel)
		if err != nil {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	}
	return "", &FieldMissingError{Field: field, Tried: len(chain)}
}

// Compile собирает цепочку из правил
func Compile(rules []Rule) (Chain, error) {
	chain := make(Chain, 0, len(rules))
	for i, r := range rules {
		s, err := r.Strategy()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		chain = append(chain, s)
	}
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	return chain, nil
}

// Strategy компилирует правило
func (r Rule) Strategy() (Strategy, error) {
	mode := r.Mode
	if mode == "" {
		mode = ModeText
		if r.Attr != "" {
			mode = ModeAttr
		}
	}
	switch mode {
	case ModeText, ModeHTML, ModeNextText:
	case ModeAttr:
		if r.Attr == "" {
			return Strategy{}, fmt.Errorf("mode attr requires attr")
		}
	default:
		return Strategy{}, fmt.Errorf("unknown mode %q", mode)
	}
	if r.Cell == nil && r.Selector == "" && mode != ModeHTML && mode != ModeText {
		return Strategy{}, fmt.Errorf("rule needs a selector or a cell")
	}

	var re *regexp.Regexp
	if r.Pattern != "" {
		var err error
		re, err = regexp.Compile(r.Pattern)
		if err != nil {
			return Strategy{}, fmt.Errorf("invalid pattern: %w", err)
		}
		if re.NumSubexp() < 1 {
			return Strategy{}, fmt.Errorf("pattern %q needs a capture group", r.Pattern)
		}
	}

	return Strategy{
		Name:       r.name(mode),
		Positional: r.Cell != nil,
		Extract: func(sel *goquery.Selection) (string, error) {
			return r.extract(sel, mode, re)
		},
	}, nil
}

func (r Rule) name(mode Mode) string {
	var b strings.Builder
	if r.Cell != nil {
		fmt.Fprintf(&b, "cell[%d]", *r.Cell)
	}
	if r.Selector != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(r.Selector)
	}
	b.WriteString(" ")
	b.WriteString(string(mode))
	if r.Attr != "" {
		b.WriteString("@" + r.Attr)
	}
	return b.String()
}

func (r Rule) extract(sel *goquery.Selection, mode Mode, re *regexp.Regexp) (string, error) {
	target := sel
	if r.Cell != nil {
		target = sel.Children().Eq(*r.Cell)
	}
	if r.Selector != "" {
		target = target.Find(r.Selector)
	}
	if target.Length() == 0 {
		return "", errNoMatch
	}
	target = target.First()

	var value string
	switch mode {
	case ModeText:
		value = target.Text()
	case ModeHTML:
		h, err := target.Html()
		if err != nil {
			return "", err
		}
		value = h
	case ModeAttr:
		v, ok := target.Attr(r.Attr)
		if !ok {
			return "", errNoMatch
		}
		value = v
	case ModeNextText:
		v, ok := NextText(target.Nodes[0])
		if !ok {
			return "", errNoMatch
		}
		value = v
	}

	if re != nil {
		m := re.FindStringSubmatch(value)
		if m == nil {
			return "", errNoMatch
		}
		value = m[1]
	}
	return strings.TrimSpace(value), nil
}

// Cell: указатель на индекс для Rule.Cell
func Cell(i int) *int {
	return &i
}
