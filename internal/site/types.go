package site

// AccountInfo: статистика аккаунта на одном трекере. Все объёмы в байтах.
type AccountInfo struct {
	Username           string `json:"username"`
	AccountID          int64  `json:"accountId"`
	UploadedBytes      int64  `json:"uploadedBytes"`
	DownloadedBytes    int64  `json:"downloadedBytes"`
	SeedingCount       int    `json:"seedingCount"`
	LeechingCount      int    `json:"leechingCount"`
	SeedingVolumeBytes int64  `json:"seedingVolumeBytes"`
}

// TorrentRecord: одна строка выдачи поиска
type TorrentRecord struct {
	SiteID         string   `json:"siteId"`
	Title          string   `json:"title"`
	Subtitle       string   `json:"subtitle"`
	Category       string   `json:"category"`
	DetailLink     string   `json:"detailLink"`
	TorrentID      int64    `json:"torrentId"`
	SeederCount    int      `json:"seederCount"`
	LeecherCount   int      `json:"leecherCount"`
	CompletedCount int      `json:"completedCount"`
	SizeBytes      int64    `json:"sizeBytes"`
	PublishedAt    int64    `json:"publishedAt"` // unix, секунды
	Tags           []string `json:"tags"`
}

// SearchResult хранит строки в порядке выдачи сайта
type SearchResult struct {
	SiteID      string          `json:"siteId"`
	TorrentList []TorrentRecord `json:"torrentList"`
}
