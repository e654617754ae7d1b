package site

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tracker-stats/internal/extract"
	"tracker-stats/internal/fetcher"
	"tracker-stats/internal/normalize"
	"tracker-stats/internal/observability"
	"tracker-stats/internal/timeparse"
)

var tracer = otel.Tracer("tracker-stats/site")

type field struct {
	name     string
	required bool
	chain    extract.Chain
}

// NexusPHP: адаптер, целиком управляемый Definition. После создания не меняется,
// поэтому один экземпляр можно вызывать параллельно.
type NexusPHP struct {
	def    Definition
	base   *url.URL
	logger *observability.Logger
	dates  *timeparse.Resolver

	username, userID, uploaded, downloaded, seeding, leeching field
	seedingVolume *regexp.Regexp

	externalID, torrentID              *regexp.Regexp
	title, subtitle, category, link    field
	seeders, leechers, completed, size field
	timePrecise, timeRelative          field
}

func NewNexusPHP(def Definition, logger *observability.Logger) (*NexusPHP, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewNop()
	}

	base, err := url.Parse(def.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base_url: %w", def.ID, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	if def.Timezone == "" {
		def.Timezone = timeparse.DefaultTimezone
	}
	loc, err := time.LoadLocation(def.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid timezone: %w", def.ID, err)
	}

	n := &NexusPHP{
		def:    def,
		base:   base,
		logger: logger.With("site", def.ID),
		dates:  timeparse.NewResolver(loc),
	}

	compile := func(dst *field, name string, f Field) {
		if err != nil {
			return
		}
		var chain extract.Chain
		chain, err = extract.Compile(f.Rules)
		if err != nil {
			err = fmt.Errorf("%s: field %s: %w", def.ID, name, err)
			return
		}
		*dst = field{name: name, required: f.Required, chain: chain}
	}

	a, s := def.Account, def.Search
	compile(&n.username, "username", a.Username)
	compile(&n.userID, "uid", a.UserID)
	compile(&n.uploaded, "uploaded", a.Uploaded)
	compile(&n.downloaded, "downloaded", a.Downloaded)
	compile(&n.seeding, "seeding", a.Seeding)
	compile(&n.leeching, "leeching", a.Leeching)
	compile(&n.title, "title", s.Title)
	compile(&n.subtitle, "subtitle", s.Subtitle)
	compile(&n.category, "category", s.Category)
	compile(&n.link, "link", s.Link)
	compile(&n.seeders, "seeders", s.Seeders)
	compile(&n.leechers, "leechers", s.Leechers)
	compile(&n.completed, "completed", s.Completed)
	compile(&n.size, "size", s.Size)
	compile(&n.timePrecise, "publishedAt", s.TimePrecise)
	compile(&n.timeRelative, "publishedAt", s.TimeRelative)
	if err != nil {
		return nil, err
	}

	if n.seedingVolume, err = compilePattern(a.SeedingPattern); err != nil {
		return nil, fmt.Errorf("%s: account.seeding_pattern: %w", def.ID, err)
	}
	if n.externalID, err = compilePattern(s.ExternalIDPattern); err != nil {
		return nil, fmt.Errorf("%s: search.external_id_pattern: %w", def.ID, err)
	}
	if n.torrentID, err = compilePattern(s.IDPattern); err != nil {
		return nil, fmt.Errorf("%s: search.id_pattern: %w", def.ID, err)
	}
	if n.torrentID == nil || n.torrentID.NumSubexp() < 1 {
		return nil, fmt.Errorf("%s: search.id_pattern needs a capture group", def.ID)
	}
	if n.seedingVolume != nil && n.seedingVolume.NumSubexp() < 1 {
		return nil, fmt.Errorf("%s: account.seeding_pattern needs a capture group", def.ID)
	}

	return n, nil
}

func compilePattern(p string) (*regexp.Regexp, error) {
	if p == "" {
		return nil, nil
	}
	return regexp.Compile(p)
}

// WithClock подменяет часы для относительных дат (тесты)
func (n *NexusPHP) WithClock(now func() time.Time) *NexusPHP {
	cp := *n
	cp.dates = n.dates.WithClock(now)
	return &cp
}

func (n *NexusPHP) ID() string {
	return n.def.ID
}

// Definition возвращает определение с применёнными умолчаниями
func (n *NexusPHP) Definition() Definition {
	return n.def
}

func (n *NexusPHP) resolveURL(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return n.base.ResolveReference(u).String(), nil
}

// AccountInfo: главная страница -> пользователь и трафик, затем фрагмент со списком раздач -> объём
func (n *NexusPHP) AccountInfo(ctx context.Context, f Fetcher) (_ *AccountInfo, err error) {
	ctx, span := tracer.Start(ctx, "site.account_info", trace.WithAttributes(attribute.String("site", n.def.ID)))
	defer func() { endSpan(span, err) }()

	indexURL, err := n.resolveURL(n.def.Account.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: account url: %w", n.def.ID, err)
	}

	page, err := f.Fetch(ctx, indexURL, fetcher.Document, n.def.IndexRetries)
	if err != nil {
		return nil, fmt.Errorf("%s: account page: %w", n.def.ID, err)
	}
	doc := page.Doc.Selection

	info := &AccountInfo{}
	if info.Username, err = n.text(doc, n.username); err != nil {
		return nil, err
	}

	uid, err := n.text(doc, n.userID)
	if err != nil {
		return nil, err
	}
	if info.AccountID, err = n.parseID(n.userID, uid); err != nil {
		return nil, err
	}

	if info.UploadedBytes, err = n.sizeOf(doc, n.uploaded); err != nil {
		return nil, err
	}
	if info.DownloadedBytes, err = n.sizeOf(doc, n.downloaded); err != nil {
		return nil, err
	}
	if info.SeedingCount, err = n.count(doc, n.seeding); err != nil {
		return nil, err
	}
	if info.LeechingCount, err = n.count(doc, n.leeching); err != nil {
		return nil, err
	}

	if info.SeedingVolumeBytes, err = n.seedingVolumeOf(ctx, f, info.AccountID); err != nil {
		return nil, err
	}

	n.logger.Debug("Account info parsed",
		"username", info.Username,
		"uid", info.AccountID,
		"uploaded", normalize.Human(info.UploadedBytes),
		"downloaded", normalize.Human(info.DownloadedBytes),
		"seeding_volume", normalize.Human(info.SeedingVolumeBytes),
	)
	return info, nil
}

// seedingVolumeOf: нет фрагмента в определении или нет цифры в ответе -> 0 байт.
// Ошибка загрузки фрагмента при этом не глотается.
func (n *NexusPHP) seedingVolumeOf(ctx context.Context, f Fetcher, uid int64) (int64, error) {
	if n.def.Account.SeedingPath == "" || n.seedingVolume == nil {
		return 0, nil
	}

	ref := strings.ReplaceAll(n.def.Account.SeedingPath, "{uid}", strconv.FormatInt(uid, 10))
	seedingURL, err := n.resolveURL(ref)
	if err != nil {
		return 0, fmt.Errorf("%s: seeding url: %w", n.def.ID, err)
	}

	page, err := f.Fetch(ctx, seedingURL, fetcher.Raw, n.def.Retries)
	if err != nil {
		return 0, fmt.Errorf("%s: seeding list: %w", n.def.ID, err)
	}

	m := n.seedingVolume.FindStringSubmatch(page.Body)
	if m == nil {
		n.logger.Debug("No seeding volume figure, assuming nothing seeded", "url", seedingURL)
		return 0, nil
	}
	v, err := normalize.ParseDisplaySize(m[1])
	if err != nil {
		n.logger.Warn("Seeding volume not parseable", "raw", m[1], "error", err)
		return 0, nil
	}
	return v, nil
}

// SearchURL собирает адрес поиска; строка запроса совпадает с формой сайта байт в байт
func (n *NexusPHP) SearchURL(keyword string) (string, error) {
	scope := n.def.Search.TitleScope
	if n.externalID != nil && n.externalID.MatchString(keyword) {
		scope = n.def.Search.ExternalIDScope
	}

	query := strings.NewReplacer(
		"{keyword}", EncodeURIComponent(keyword),
		"{scope}", scope,
	).Replace(n.def.Search.Query)

	return n.resolveURL(n.def.Search.Path + "?" + query)
}

func (n *NexusPHP) SearchTorrents(ctx context.Context, f Fetcher, keyword string) (_ *SearchResult, err error) {
	ctx, span := tracer.Start(ctx, "site.search", trace.WithAttributes(
		attribute.String("site", n.def.ID),
		attribute.String("keyword", keyword),
	))
	defer func() { endSpan(span, err) }()

	searchURL, err := n.SearchURL(keyword)
	if err != nil {
		return nil, fmt.Errorf("%s: search url: %w", n.def.ID, err)
	}

	page, err := f.Fetch(ctx, searchURL, fetcher.Document, n.def.Retries)
	if err != nil {
		return nil, fmt.Errorf("%s: search page: %w", n.def.ID, err)
	}

	result := &SearchResult{SiteID: n.def.ID, TorrentList: []TorrentRecord{}}
	rows := page.Doc.Find(n.def.Search.Rows)
	for i := n.def.Search.HeaderRows; i < rows.Length(); i++ {
		record, err := n.parseRow(rows.Eq(i))
		if err != nil {
			return nil, err
		}
		result.TorrentList = append(result.TorrentList, *record)
	}

	span.SetAttributes(attribute.Int("rows", len(result.TorrentList)))
	n.logger.Debug("Search parsed", "keyword", keyword, "rows", len(result.TorrentList))
	return result, nil
}

func (n *NexusPHP) parseRow(row *goquery.Selection) (*TorrentRecord, error) {
	var err error
	rec := &TorrentRecord{SiteID: n.def.ID}

	if rec.Title, err = n.text(row, n.title); err != nil {
		return nil, err
	}
	if rec.Subtitle, err = n.text(row, n.subtitle); err != nil {
		return nil, err
	}
	if rec.Category, err = n.text(row, n.category); err != nil {
		return nil, err
	}

	href, err := n.text(row, n.link)
	if err != nil {
		return nil, err
	}
	if href != "" {
		if rec.DetailLink, err = n.resolveURL(normalize.NormalizeURL(href)); err != nil {
			return nil, &ParseError{Site: n.def.ID, Field: n.link.name, Err: err}
		}
		m := n.torrentID.FindStringSubmatch(rec.DetailLink)
		if m == nil {
			return nil, &ParseError{Site: n.def.ID, Field: "torrentId", Err: fmt.Errorf("no id in %q", rec.DetailLink)}
		}
		if rec.TorrentID, err = n.parseID(field{name: "torrentId", required: true}, m[1]); err != nil {
			return nil, err
		}
	}

	if rec.SeederCount, err = n.count(row, n.seeders); err != nil {
		return nil, err
	}
	if rec.LeecherCount, err = n.count(row, n.leechers); err != nil {
		return nil, err
	}
	if rec.CompletedCount, err = n.count(row, n.completed); err != nil {
		return nil, err
	}
	if rec.SizeBytes, err = n.sizeOf(row, n.size); err != nil {
		return nil, err
	}
	if rec.PublishedAt, err = n.publishedAt(row); err != nil {
		return nil, err
	}

	rec.Tags = extract.CollectTags(row, n.def.Search.Tags)
	return rec, nil
}

// publishedAt: точное значение из атрибута предпочтительнее отображаемого
func (n *NexusPHP) publishedAt(row *goquery.Selection) (int64, error) {
	precise, _ := extract.Resolve(row, n.timePrecise.name, n.timePrecise.chain)
	relative, _ := extract.Resolve(row, n.timeRelative.name, n.timeRelative.chain)

	if precise == "" && relative == "" {
		if !n.def.Search.PublishedRequired {
			return 0, nil
		}
		return 0, &ParseError{Site: n.def.ID, Field: "publishedAt", Err: &extract.FieldMissingError{
			Field: "publishedAt",
			Tried: len(n.timePrecise.chain) + len(n.timeRelative.chain),
		}}
	}

	ts, err := n.dates.Resolve(precise, relative)
	if err != nil {
		if !n.def.Search.PublishedRequired {
			n.logger.Debug("Published time not parseable", "precise", precise, "relative", relative)
			return 0, nil
		}
		return 0, &ParseError{Site: n.def.ID, Field: "publishedAt", Err: err}
	}
	return ts, nil
}

// text разрешает поле; для необязательного пропуск даёт ""
func (n *NexusPHP) text(sel *goquery.Selection, f field) (string, error) {
	v, err := extract.Resolve(sel, f.name, f.chain)
	if err == nil {
		return v, nil
	}
	if f.required {
		return "", &ParseError{Site: n.def.ID, Field: f.name, Err: err}
	}
	return "", nil
}

func (n *NexusPHP) count(sel *goquery.Selection, f field) (int, error) {
	raw, err := n.text(sel, f)
	if err != nil || raw == "" {
		return 0, err
	}
	v, err := normalize.ParseCount(raw)
	if err != nil {
		return 0, n.degrade(f, raw, err)
	}
	return v, nil
}

func (n *NexusPHP) sizeOf(sel *goquery.Selection, f field) (int64, error) {
	raw, err := n.text(sel, f)
	if err != nil || raw == "" {
		return 0, err
	}
	v, err := normalize.ParseDisplaySize(raw)
	if err != nil {
		return 0, n.degrade(f, raw, err)
	}
	return v, nil
}

func (n *NexusPHP) parseID(f field, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err == nil && id < 0 {
		err = errors.New("negative id")
	}
	if err != nil {
		return 0, &ParseError{Site: n.def.ID, Field: f.name, Err: fmt.Errorf("invalid id %q: %w", raw, err)}
	}
	return id, nil
}

// degrade: значение найдено, но не нормализуется. Обязательное поле -> ParseError,
// необязательное -> значение по умолчанию.
func (n *NexusPHP) degrade(f field, raw string, err error) error {
	if f.required {
		return &ParseError{Site: n.def.ID, Field: f.name, Err: err}
	}
	n.logger.Debug("Optional field not parseable, using default", "field", f.name, "raw", raw, "error", err)
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// EncodeURIComponent кодирует как одноимённая функция браузера: пробел -> %20,
// символы !'()* остаются как есть
func EncodeURIComponent(s string) string {
	return uriComponentFixer.Replace(url.QueryEscape(s))
}

var uriComponentFixer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)
