package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"tracker-stats/internal/config"
	"tracker-stats/internal/observability"
	"tracker-stats/internal/site"
)

// Site: адаптер вместе с авторизованной сессией, которую ему передают в каждый вызов
type Site struct {
	Adapter site.Adapter
	Fetcher site.Fetcher
}

// SiteOutcome: результат одного сайта. Ошибка одного сайта не влияет на остальные.
type SiteOutcome struct {
	SiteID  string             `json:"siteId"`
	Account *site.AccountInfo  `json:"account,omitempty"`
	Search  *site.SearchResult `json:"search,omitempty"`
	Err     error              `json:"-"`
	Error   string             `json:"error,omitempty"`
	Elapsed time.Duration      `json:"elapsedNs"`
}

type Aggregator struct {
	cfg    *config.Config
	logger *observability.Logger
	sites  []Site
}

func NewAggregator(cfg *config.Config, logger *observability.Logger, sites []Site) *Aggregator {
	return &Aggregator{
		cfg:    cfg,
		logger: logger,
		sites:  sites,
	}
}

// CollectAccounts опрашивает сайты (все или перечисленные) параллельно.
// Результаты идут в порядке конфигурации.
func (a *Aggregator) CollectAccounts(ctx context.Context, ids ...string) ([]SiteOutcome, error) {
	sites, err := a.pick(ids)
	if err != nil {
		return nil, err
	}

	return a.fanOut(ctx, "account", sites, func(ctx context.Context, s Site) (SiteOutcome, error) {
		info, err := s.Adapter.AccountInfo(ctx, s.Fetcher)
		return SiteOutcome{Account: info}, err
	}), nil
}

// Search ищет keyword на всех сайтах
func (a *Aggregator) Search(ctx context.Context, keyword string) []SiteOutcome {
	return a.fanOut(ctx, "search", a.sites, func(ctx context.Context, s Site) (SiteOutcome, error) {
		res, err := s.Adapter.SearchTorrents(ctx, s.Fetcher, keyword)
		return SiteOutcome{Search: res}, err
	})
}

// MergeSearch склеивает успешные выдачи: сайты по порядку, строки внутри сайта как на странице
func MergeSearch(outcomes []SiteOutcome) []site.TorrentRecord {
	merged := []site.TorrentRecord{}
	for _, o := range outcomes {
		if o.Err != nil || o.Search == nil {
			continue
		}
		merged = append(merged, o.Search.TorrentList...)
	}
	return merged
}

func (a *Aggregator) pick(ids []string) ([]Site, error) {
	if len(ids) == 0 {
		return a.sites, nil
	}

	byID := make(map[string]Site, len(a.sites))
	for _, s := range a.sites {
		byID[s.Adapter.ID()] = s
	}

	out := make([]Site, 0, len(ids))
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown site %q", id)
		}
		out = append(out, s)
	}
	return out, nil
}

type siteCall func(ctx context.Context, s Site) (SiteOutcome, error)

// fanOut запускает call для каждого сайта с ограничением параллелизма и таймаутом на сайт.
// Если адаптер не реагирует на отмену, его результат просто не ждём.
func (a *Aggregator) fanOut(ctx context.Context, op string, sites []Site, call siteCall) []SiteOutcome {
	outcomes := make([]SiteOutcome, len(sites))

	var g errgroup.Group
	g.SetLimit(a.cfg.Aggregator.MaxParallelSites)

	for i, s := range sites {
		i, s := i, s
		g.Go(func() error {
			outcomes[i] = a.runOne(ctx, op, s, call)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (a *Aggregator) runOne(ctx context.Context, op string, s Site, call siteCall) SiteOutcome {
	id := s.Adapter.ID()
	start := time.Now()

	sctx, cancel := context.WithTimeout(ctx, a.cfg.GetSiteTimeout())
	defer cancel()

	type result struct {
		out SiteOutcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := call(sctx, s)
		done <- result{out: out, err: err}
	}()

	var out SiteOutcome
	select {
	case r := <-done:
		out = r.out
		out.Err = r.err
	case <-sctx.Done():
		out.Err = fmt.Errorf("%s: %w", id, sctx.Err())
	}

	out.SiteID = id
	out.Elapsed = time.Since(start)
	if out.Err != nil {
		out.Account, out.Search = nil, nil
		out.Error = out.Err.Error()
		a.logger.Warn("Site call failed", "op", op, "site", id, "elapsed", out.Elapsed.String(), "error", out.Err)
	} else {
		a.logger.Info("Site call completed", "op", op, "site", id, "elapsed", out.Elapsed.String())
	}
	return out
}
