package site

import (
	"sort"

	"tracker-stats/internal/extract"
)

// PTTime: определение для pttime.org.
// Позиционные правила (cell) привязаны к текущему порядку колонок NexusPHP:
// 3: время, 4: размер, 6: качают, 7: завершено. При редизайне они ломаются первыми.
func PTTime() Definition {
	return Definition{
		ID:           "pttime",
		Name:         "PTTime",
		BaseURL:      "https://www.pttime.org/",
		Timezone:     "Asia/Shanghai",
		Retries:      3,
		IndexRetries: 10,
		Account: AccountDefinition{
			Path: "index.php",
			Username: Field{Required: true, Rules: []extract.Rule{
				{Selector: "a[href*=userdetails] b"},
				{Selector: "a[href*=userdetails]"},
			}},
			UserID: Field{Required: true, Rules: []extract.Rule{
				{Selector: "a[href*=userdetails]", Attr: "href", Pattern: `id=(\d+)`},
			}},
			Uploaded: Field{Required: true, Rules: []extract.Rule{
				{Selector: "font[class=color_uploaded]", Mode: extract.ModeNextText},
			}},
			Downloaded: Field{Required: true, Rules: []extract.Rule{
				{Selector: "font[class=color_downloaded]", Mode: extract.ModeNextText},
			}},
			Seeding: Field{Rules: []extract.Rule{
				{Selector: `i[class="arrowup icon pt-shangsheng fcr"]`, Mode: extract.ModeNextText},
			}},
			Leeching: Field{Rules: []extract.Rule{
				{Selector: `i[class="arrowdown icon pt-xiajiang fcg"]`, Mode: extract.ModeNextText},
			}},
			SeedingPath:    "getusertorrentlist.php?userid={uid}&type=seeding",
			SeedingPattern: `资源总大小：</b>\s*(\d+(?:\.\d+)?(?:&nbsp;|\s)*[KMGTP]?i?B)`,
		},
		Search: SearchDefinition{
			Path:              "torrents.php",
			Query:             "notnewword=1&incldead=0&spstate=0&inclbookmarked=0&search={keyword}&search_area={scope}&search_mode=0&tag=",
			ExternalIDPattern: `\btt\d+\b`,
			ExternalIDScope:   "4",
			TitleScope:        "0",
			Rows:              ".torrents > tbody > tr",
			HeaderRows:        1,
			Title: Field{Required: true, Rules: []extract.Rule{
				{Selector: `td[class="embedded"] > a[href*="details"]`, Attr: "title"},
				{Selector: `td[class="embedded"] > a[href*="details"] b`},
			}},
			Subtitle: Field{Rules: []extract.Rule{
				{Selector: ".torrentname > tbody > tr .embedded span[class^=tags]:last-of-type", Mode: extract.ModeNextText},
				{Selector: ".torrentname > tbody > tr .embedded br", Mode: extract.ModeNextText},
			}},
			Category: Field{Rules: []extract.Rule{
				{Selector: "td a[href*=cat] img", Attr: "title"},
				{Selector: "td a[href*=cat] img", Attr: "alt"},
			}},
			Link: Field{Required: true, Rules: []extract.Rule{
				{Selector: "a[href*=details]", Attr: "href"},
			}},
			IDPattern: `id=(\d+)`,
			Seeders: Field{Rules: []extract.Rule{
				{Selector: "a[href*=seeders] font"},
				{Selector: "a[href*=seeders]"},
				{Selector: "span[class=red]"},
			}},
			Leechers: Field{Rules: []extract.Rule{
				{Selector: "a[href*=leechers]"},
				{Cell: extract.Cell(6)},
			}},
			Completed: Field{Rules: []extract.Rule{
				{Selector: "a[href*=snatches] b"},
				{Cell: extract.Cell(7)},
			}},
			Size: Field{Rules: []extract.Rule{
				{Cell: extract.Cell(4), Mode: extract.ModeHTML},
			}},
			TimePrecise: Field{Rules: []extract.Rule{
				{Cell: extract.Cell(3), Selector: "span[title]", Attr: "title"},
			}},
			TimeRelative: Field{Rules: []extract.Rule{
				{Cell: extract.Cell(3), Mode: extract.ModeHTML},
			}},
			PublishedRequired: true,
			Tags:              "span[class*=tags]",
		},
	}
}

var presets = map[string]func() Definition{
	"pttime": PTTime,
}

// Preset возвращает свежую копию определения по имени
func Preset(name string) (Definition, bool) {
	fn, ok := presets[name]
	if !ok {
		return Definition{}, false
	}
	return fn(), true
}

// Presets: имена встроенных определений, по алфавиту
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
