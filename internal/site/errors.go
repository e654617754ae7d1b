package site

import "fmt"

// ParseError: обязательное поле не найдено или не нормализуется. Ошибка относится
// к одному вызову адаптера одного сайта.
type ParseError struct {
	Site  string
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse %s: %v", e.Site, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
