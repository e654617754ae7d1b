package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tracker-stats/internal/config"
	"tracker-stats/internal/fetcher"
	"tracker-stats/internal/observability"
	"tracker-stats/internal/site"
)

type fakeAdapter struct {
	id      string
	account func(ctx context.Context) (*site.AccountInfo, error)
	search  func(ctx context.Context, keyword string) (*site.SearchResult, error)
	calls   int32
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) AccountInfo(ctx context.Context, _ site.Fetcher) (*site.AccountInfo, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.account(ctx)
}

func (f *fakeAdapter) SearchTorrents(ctx context.Context, _ site.Fetcher, keyword string) (*site.SearchResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.search(ctx, keyword)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Aggregator = config.AggregatorConfig{MaxParallelSites: 4, SiteTimeoutS: 1}
	return &cfg
}

func okAccount(name string) func(context.Context) (*site.AccountInfo, error) {
	return func(context.Context) (*site.AccountInfo, error) {
		return &site.AccountInfo{Username: name, AccountID: 1}, nil
	}
}

func TestCollectAccountsIsolatesFailures(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	sites := []Site{
		{Adapter: &fakeAdapter{id: "a", account: okAccount("alice")}},
		{Adapter: &fakeAdapter{id: "broken", account: func(context.Context) (*site.AccountInfo, error) {
			return nil, &site.ParseError{Site: "broken", Field: "username", Err: errors.New("missing")}
		}}},
		// адаптер, который игнорирует отмену
		{Adapter: &fakeAdapter{id: "stuck", account: func(context.Context) (*site.AccountInfo, error) {
			<-release
			return nil, nil
		}}},
		{Adapter: &fakeAdapter{id: "b", account: okAccount("bob")}},
	}

	agg := NewAggregator(testConfig(), observability.NewNop(), sites)

	start := time.Now()
	outcomes, err := agg.CollectAccounts(context.Background())
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, outcomes, 4)
	require.Equal(t, []string{"a", "broken", "stuck", "b"}, []string{
		outcomes[0].SiteID, outcomes[1].SiteID, outcomes[2].SiteID, outcomes[3].SiteID,
	})

	require.NoError(t, outcomes[0].Err)
	require.Equal(t, "alice", outcomes[0].Account.Username)

	var pe *site.ParseError
	require.True(t, errors.As(outcomes[1].Err, &pe))
	require.Nil(t, outcomes[1].Account)
	require.NotEmpty(t, outcomes[1].Error)

	require.ErrorIs(t, outcomes[2].Err, context.DeadlineExceeded)

	require.NoError(t, outcomes[3].Err)
	require.Equal(t, "bob", outcomes[3].Account.Username)
}

func TestCollectAccountsSubset(t *testing.T) {
	a := &fakeAdapter{id: "a", account: okAccount("alice")}
	b := &fakeAdapter{id: "b", account: okAccount("bob")}
	agg := NewAggregator(testConfig(), observability.NewNop(), []Site{{Adapter: a}, {Adapter: b}})

	outcomes, err := agg.CollectAccounts(context.Background(), "b")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, "bob", outcomes[0].Account.Username)
	require.Equal(t, int32(0), atomic.LoadInt32(&a.calls))

	_, err = agg.CollectAccounts(context.Background(), "nope")
	require.Error(t, err)
}

func TestSearchAndMerge(t *testing.T) {
	rows := func(id string, titles ...string) *site.SearchResult {
		res := &site.SearchResult{SiteID: id, TorrentList: []site.TorrentRecord{}}
		for _, title := range titles {
			res.TorrentList = append(res.TorrentList, site.TorrentRecord{SiteID: id, Title: title, Tags: []string{}})
		}
		return res
	}

	var seen atomic.Value
	sites := []Site{
		{Adapter: &fakeAdapter{id: "slow", search: func(ctx context.Context, kw string) (*site.SearchResult, error) {
			seen.Store(kw)
			time.Sleep(50 * time.Millisecond)
			return rows("slow", "s1", "s2"), nil
		}}},
		{Adapter: &fakeAdapter{id: "down", search: func(ctx context.Context, kw string) (*site.SearchResult, error) {
			return nil, &fetcher.FetchError{URL: "https://down.example/torrents.php", Attempts: 4, Err: errors.New("502")}
		}}},
		{Adapter: &fakeAdapter{id: "fast", search: func(ctx context.Context, kw string) (*site.SearchResult, error) {
			return rows("fast", "f1"), nil
		}}},
	}

	cfg := testConfig()
	cfg.Aggregator.MaxParallelSites = 1
	outcomes := NewAggregator(cfg, observability.NewNop(), sites).Search(context.Background(), "tt0111161")

	require.Equal(t, "tt0111161", seen.Load())
	var fe *fetcher.FetchError
	require.True(t, errors.As(outcomes[1].Err, &fe))

	merged := MergeSearch(outcomes)
	titles := make([]string, 0, len(merged))
	for _, r := range merged {
		titles = append(titles, r.Title)
	}
	require.Equal(t, []string{"s1", "s2", "f1"}, titles)
}

func TestMergeSearchEmpty(t *testing.T) {
	merged := MergeSearch(nil)
	require.NotNil(t, merged)
	require.Empty(t, merged)
}

func TestCollectAccountsCancelledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agg := NewAggregator(testConfig(), observability.NewNop(), []Site{
		{Adapter: &fakeAdapter{id: "a", account: func(ctx context.Context) (*site.AccountInfo, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}},
	})
	outcomes, err := agg.CollectAccounts(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, outcomes[0].Err, context.Canceled)
}

func TestBuildDefinition(t *testing.T) {
	def, err := BuildDefinition(config.SiteConfig{
		ID:      "pt",
		Preset:  "pttime",
		BaseURL: "https://pt.example.org/",
	}, 2)
	require.NoError(t, err)
	require.Equal(t, "pt", def.ID)
	require.Equal(t, "https://pt.example.org/", def.BaseURL)
	require.Equal(t, 3, def.Retries) // пресет задаёт своё
	require.Equal(t, 10, def.IndexRetries)

	_, err = BuildDefinition(config.SiteConfig{ID: "x", Preset: "nope"}, 2)
	require.Error(t, err)
}

func TestBuildDefinitionFromFileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://custom.example.org/
search:
  path: torrents.php
  query: "search={keyword}&search_area={scope}"
  rows: ".torrents > tbody > tr"
  header_rows: 1
  id_pattern: 'id=(\d+)'
  title:
    required: true
    rules:
      - selector: "a[href*=details]"
        attr: title
`), 0o644))

	def, err := BuildDefinition(config.SiteConfig{ID: "custom", DefinitionFile: path}, 2)
	require.NoError(t, err)
	require.Equal(t, 2, def.Retries)
	require.Equal(t, 2, def.IndexRetries)

	_, err = site.NewNexusPHP(def, nil)
	require.NoError(t, err)
}

func TestBuildDefinitionKeepsExplicitZeroRetries(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	custom := write("custom.yaml", `
base_url: https://custom.example.org/
retries: 0
search:
  path: torrents.php
  query: "search={keyword}"
  rows: "tr"
  id_pattern: 'id=(\d+)'
`)
	def, err := BuildDefinition(config.SiteConfig{ID: "custom", DefinitionFile: custom}, 3)
	require.NoError(t, err)
	require.Equal(t, 0, def.Retries)
	require.Equal(t, 0, def.IndexRetries)

	// поверх пресета: index_retries пресета остаётся
	mirror := write("mirror.yaml", "retries: 0\n")
	def, err = BuildDefinition(config.SiteConfig{ID: "pt", Preset: "pttime", DefinitionFile: mirror}, 3)
	require.NoError(t, err)
	require.Equal(t, 0, def.Retries)
	require.Equal(t, 10, def.IndexRetries)
}

func TestBuildSites(t *testing.T) {
	cfg := testConfig()
	cfg.Sites = []config.SiteConfig{
		{ID: "pttime", Preset: "pttime", Cookie: "c=1"},
		{ID: "off", Preset: "pttime", Disabled: true},
	}

	client := fetcher.NewClient(cfg, observability.NewNop())
	sites, err := BuildSites(cfg, client, nil, observability.NewNop())
	require.NoError(t, err)
	require.Len(t, sites, 1)
	require.Equal(t, "pttime", sites[0].Adapter.ID())
	require.IsType(t, &fetcher.Session{}, sites[0].Fetcher)
}
