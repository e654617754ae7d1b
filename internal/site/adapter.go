// Package site описывает контракт адаптера трекера и общий движок для сайтов на NexusPHP.
package site

import (
	"context"

	"tracker-stats/internal/fetcher"
)

// Fetcher: авторизованная возможность загрузки страниц. Передаётся в каждый вызов
// адаптера явно; адаптер не хранит сессию между вызовами.
type Fetcher interface {
	Fetch(ctx context.Context, url string, mode fetcher.Mode, maxRetries int) (*fetcher.Page, error)
}

var (
	_ Fetcher = (*fetcher.Session)(nil)
	_ Fetcher = (*fetcher.BrowserSession)(nil)
)

type Adapter interface {
	ID() string
	AccountInfo(ctx context.Context, f Fetcher) (*AccountInfo, error)
	SearchTorrents(ctx context.Context, f Fetcher, keyword string) (*SearchResult, error)
}
