package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, markup string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)
	return doc
}

func TestResolveTakesFirstPresentStrategy(t *testing.T) {
	doc := parse(t, `<div></div>`)
	thirdCalled := false

	chain := Chain{
		{Name: "broken", Extract: func(*goquery.Selection) (string, error) {
			return "", errors.New("boom")
		}},
		{Name: "works", Extract: func(*goquery.Selection) (string, error) {
			return " second ", nil
		}},
		{Name: "never", Extract: func(*goquery.Selection) (string, error) {
			thirdCalled = true
			return "", errors.New("also broken")
		}},
	}

	v, err := Resolve(doc.Selection, "seeders", chain)
	require.NoError(t, err)
	require.Equal(t, "second", v)
	require.False(t, thirdCalled)
}

func TestResolveSkipsEmptyValues(t *testing.T) {
	doc := parse(t, `<div></div>`)
	chain := Chain{
		{Name: "empty", Extract: func(*goquery.Selection) (string, error) { return "   ", nil }},
		{Name: "value", Extract: func(*goquery.Selection) (string, error) { return "x", nil }},
	}

	v, err := Resolve(doc.Selection, "f", chain)
	require.NoError(t, err)
	require.Equal(t, "x", v)
}

func TestResolveAllFail(t *testing.T) {
	doc := parse(t, `<div></div>`)
	chain, err := Compile([]Rule{{Selector: "a.missing"}, {Selector: "span.missing"}})
	require.NoError(t, err)

	_, err = Resolve(doc.Selection, "leechers", chain)
	var missing *FieldMissingError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "leechers", missing.Field)
	require.Equal(t, 2, missing.Tried)
}

func TestChainValidateKeepsPositionalLast(t *testing.T) {
	_, err := Compile([]Rule{{Selector: "a"}, {Cell: Cell(3)}})
	require.NoError(t, err)

	_, err = Compile([]Rule{{Cell: Cell(3)}, {Selector: "a"}})
	require.Error(t, err)
}

func TestRuleModes(t *testing.T) {
	doc := parse(t, `<table><tr id="row">
<td class="a"><a href="details.php?id=42" title=" Some Title ">x</a></td>
<td class="b"><font class="up">Up:</font> 1.5 TB <b>other</b></td>
<td class="c">1.23<br>GB</td>
</tr></table>`)
	row := doc.Find("#row")

	tests := []struct {
		name string
		rule Rule
		want string
	}{
		{"attr", Rule{Selector: "a[href*=details]", Attr: "title"}, "Some Title"},
		{"attr pattern", Rule{Selector: "a[href*=details]", Attr: "href", Pattern: `id=(\d+)`}, "42"},
		{"next text", Rule{Selector: "font.up", Mode: ModeNextText}, "1.5 TB"},
		{"text", Rule{Selector: "td.b b"}, "other"},
		{"cell html", Rule{Cell: Cell(2), Mode: ModeHTML}, "1.23<br/>GB"},
		{"cell with selector", Rule{Cell: Cell(0), Selector: "a", Attr: "title"}, "Some Title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := Compile([]Rule{tt.rule})
			require.NoError(t, err)
			v, err := Resolve(row, tt.name, chain)
			require.NoError(t, err)
			require.Equal(t, tt.want, v)
		})
	}
}

func TestRuleMissingTargets(t *testing.T) {
	doc := parse(t, `<table><tr id="row"><td><a href="x">x</a></td></tr></table>`)
	row := doc.Find("#row")

	rules := []Rule{
		{Cell: Cell(9)},
		{Selector: "a", Attr: "title"},
		{Selector: "a", Mode: ModeNextText},
		{Selector: "a", Attr: "href", Pattern: `id=(\d+)`},
	}
	for _, r := range rules {
		s, err := r.Strategy()
		require.NoError(t, err)
		_, err = s.Extract(row)
		require.Error(t, err, s.Name)
	}
}

func TestRuleStrategyRejectsBadRules(t *testing.T) {
	bad := []Rule{
		{Selector: "a", Mode: "weird"},
		{Selector: "a", Mode: ModeAttr},
		{Selector: "a", Pattern: "("},
		{Selector: "a", Pattern: `\d+`},
		{Mode: ModeNextText},
	}
	for _, r := range bad {
		_, err := r.Strategy()
		require.Error(t, err, "%+v", r)
	}
}
