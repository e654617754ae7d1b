package normalize

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/docker/go-units"
)

// InvalidUnitError возвращается, если единица не из ряда B, KiB, MiB, GiB, TiB, PiB
type InvalidUnitError struct {
	Unit string
}

func (e *InvalidUnitError) Error() string {
	return fmt.Sprintf("invalid size unit: %q", e.Unit)
}

// InvalidValueError возвращается для пустого, отрицательного или нечислового значения
type InvalidValueError struct {
	Value string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid size value: %q", e.Value)
}

var multipliers = map[string]int64{
	"B":   1,
	"KiB": units.KiB,
	"MiB": units.MiB,
	"GiB": units.GiB,
	"TiB": units.TiB,
	"PiB": units.PiB,
}

var decimalValue = regexp.MustCompile(`^\d+(\.\d+)?$`)

// Bytes переводит (значение, единица) в целое число байт с округлением до ближайшего.
// Единица должна быть уже в двоичной форме: переназначение "MB" -> "MiB" делает BinaryUnit.
func Bytes(value, unit string) (int64, error) {
	mult, ok := multipliers[strings.TrimSpace(unit)]
	if !ok {
		return 0, &InvalidUnitError{Unit: unit}
	}

	v := strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	if !decimalValue.MatchString(v) {
		return 0, &InvalidValueError{Value: value}
	}

	// big.Rat: десятичная дробь умножается точно, поэтому
	// Bytes(v, MiB) == Bytes(v*1024, KiB) для любого v
	r, ok := new(big.Rat).SetString(v)
	if !ok {
		return 0, &InvalidValueError{Value: value}
	}
	r.Mul(r, new(big.Rat).SetInt64(mult))

	q := roundRat(r)
	if !q.IsInt64() {
		return 0, &InvalidValueError{Value: value}
	}
	return q.Int64(), nil
}

// roundRat округляет неотрицательное рациональное число, половина вверх
func roundRat(r *big.Rat) *big.Int {
	num := new(big.Int).Set(r.Num())
	den := r.Denom()

	// (2*num + den) / (2*den)
	num.Mul(num, big.NewInt(2))
	num.Add(num, den)
	return num.Quo(num, new(big.Int).Mul(den, big.NewInt(2)))
}

var decimalSuffix = regexp.MustCompile(`(?i)^([KMGTP])B$`)

// BinaryUnit переназначает "десятичные" суффиксы страниц трекеров (KB, MB, ...) на двоичные.
// На трекерах эти суффиксы фактически означают степени 1024.
func BinaryUnit(unit string) string {
	unit = strings.TrimSpace(unit)
	if m := decimalSuffix.FindStringSubmatch(unit); m != nil {
		return strings.ToUpper(m[1]) + "iB"
	}
	if strings.EqualFold(unit, "b") {
		return "B"
	}
	if len(unit) == 3 && strings.EqualFold(unit[1:], "ib") {
		return strings.ToUpper(unit[:1]) + "iB"
	}
	return unit
}

var sizeText = regexp.MustCompile(`(?i)([\d.,]+)\s*([KMGTP]?i?B)\b`)

// SplitSize разбирает отображаемый размер ("1.23 GB", "1.23&nbsp;GB", "1.23<br>GB")
func SplitSize(text string) (value, unit string, err error) {
	text = CleanText(text)
	m := sizeText.FindStringSubmatch(text)
	if m == nil {
		return "", "", fmt.Errorf("no size in %q", text)
	}
	return m[1], m[2], nil
}

// ParseDisplaySize: SplitSize -> BinaryUnit -> Bytes
func ParseDisplaySize(text string) (int64, error) {
	value, unit, err := SplitSize(text)
	if err != nil {
		return 0, err
	}
	return Bytes(value, BinaryUnit(unit))
}

// Human форматирует размер в двоичных единицах для логов и CLI
func Human(b int64) string {
	return units.BytesSize(float64(b))
}
