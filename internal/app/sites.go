package app

import (
	"fmt"

	"tracker-stats/internal/config"
	"tracker-stats/internal/fetcher"
	"tracker-stats/internal/observability"
	"tracker-stats/internal/site"
)

// retries, не заданные ни пресетом, ни файлом; 0 в файле означает "без повторов"
const unsetRetries = -1

// BuildDefinition собирает определение сайта: пресет, затем файл определения, затем base_url из конфига
func BuildDefinition(sc config.SiteConfig, defaultRetries int) (site.Definition, error) {
	def := site.Definition{Retries: unsetRetries, IndexRetries: unsetRetries}
	if sc.Preset != "" {
		p, ok := site.Preset(sc.Preset)
		if !ok {
			return def, fmt.Errorf("site %s: unknown preset %q (known: %v)", sc.ID, sc.Preset, site.Presets())
		}
		def = p
	}

	if sc.DefinitionFile != "" {
		var err error
		def, err = site.LoadDefinition(sc.DefinitionFile, def)
		if err != nil {
			return def, fmt.Errorf("site %s: %w", sc.ID, err)
		}
	}

	def.ID = sc.ID
	if sc.BaseURL != "" {
		def.BaseURL = sc.BaseURL
	}
	if def.Retries == unsetRetries {
		def.Retries = defaultRetries
	}
	if def.IndexRetries == unsetRetries {
		def.IndexRetries = def.Retries
	}
	return def, nil
}

// BuildSites создаёт адаптеры и сессии для включённых сайтов.
// browser может быть nil; тогда все сайты ходят через HTTP-клиент.
func BuildSites(cfg *config.Config, client *fetcher.Client, browser *fetcher.Browser, logger *observability.Logger) ([]Site, error) {
	var sites []Site
	for _, sc := range cfg.EnabledSites() {
		def, err := BuildDefinition(sc, cfg.HTTP.MaxRetries)
		if err != nil {
			return nil, err
		}

		adapter, err := site.NewNexusPHP(def, logger)
		if err != nil {
			return nil, err
		}

		creds := fetcher.Credentials{Cookie: sc.Cookie, UserAgent: sc.UserAgent}
		var f site.Fetcher = client.Session(creds)
		if browser != nil {
			f = browser.Session(creds)
		}

		sites = append(sites, Site{Adapter: adapter, Fetcher: f})
		logger.Debug("Site configured", "site", def.ID, "base_url", def.BaseURL, "browser", browser != nil)
	}
	return sites, nil
}
