package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"tracker-stats/internal/app"
	"tracker-stats/internal/config"
	"tracker-stats/internal/normalize"
	"tracker-stats/internal/site"
)

func init() {
	rootCmd.AddCommand(accountCmd, searchCmd, sitesCmd)
}

var accountCmd = &cobra.Command{
	Use:   "account [site...]",
	Short: "Fetches account statistics from all (or the listed) sites.",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		outcomes, err := e.aggregator.CollectAccounts(e.ctx, args...)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(outcomes)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Site", "User", "UID", "Uploaded", "Downloaded", "Ratio", "Seeding", "Leeching", "Seeding size", "Error"})
		for _, o := range outcomes {
			if o.Err != nil {
				t.AppendRow(table.Row{o.SiteID, "", "", "", "", "", "", "", "", o.Error})
				continue
			}
			a := o.Account
			t.AppendRow(table.Row{
				o.SiteID,
				a.Username,
				a.AccountID,
				normalize.Human(a.UploadedBytes),
				normalize.Human(a.DownloadedBytes),
				ratio(a.UploadedBytes, a.DownloadedBytes),
				a.SeedingCount,
				a.LeechingCount,
				normalize.Human(a.SeedingVolumeBytes),
				"",
			})
		}
		t.Render()
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Searches all enabled sites; tt<digits> keywords search by IMDb id.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		outcomes := e.aggregator.Search(e.ctx, args[0])
		if jsonOutput {
			return printJSON(struct {
				Sites    []app.SiteOutcome    `json:"sites"`
				Torrents []site.TorrentRecord `json:"torrents"`
			}{outcomes, app.MergeSearch(outcomes)})
		}

		t := newTable()
		t.AppendHeader(table.Row{"Site", "ID", "Title", "Category", "Size", "S", "L", "C", "Published", "Tags"})
		for _, r := range app.MergeSearch(outcomes) {
			t.AppendRow(table.Row{
				r.SiteID,
				r.TorrentID,
				title(r),
				r.Category,
				normalize.Human(r.SizeBytes),
				r.SeederCount,
				r.LeecherCount,
				r.CompletedCount,
				time.Unix(r.PublishedAt, 0).Format("2006-01-02 15:04"),
				fmt.Sprint(r.Tags),
			})
		}
		t.Render()

		for _, o := range outcomes {
			if o.Err != nil {
				fmt.Fprintf(os.Stderr, "%s: %s\n", o.SiteID, o.Error)
			}
		}
		return nil
	},
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Lists configured sites and built-in presets.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		type row struct {
			ID       string `json:"id"`
			Preset   string `json:"preset,omitempty"`
			BaseURL  string `json:"baseUrl"`
			Timezone string `json:"timezone"`
			Retries  int    `json:"retries"`
			Enabled  bool   `json:"enabled"`
		}
		var rows []row
		for _, sc := range cfg.Sites {
			def, err := app.BuildDefinition(sc, cfg.HTTP.MaxRetries)
			if err != nil {
				return err
			}
			// собираем адаптер, чтобы проверить определение целиком
			adapter, err := site.NewNexusPHP(def, nil)
			if err != nil {
				return err
			}
			def = adapter.Definition()
			rows = append(rows, row{
				ID:       sc.ID,
				Preset:   sc.Preset,
				BaseURL:  def.BaseURL,
				Timezone: def.Timezone,
				Retries:  def.Retries,
				Enabled:  !sc.Disabled,
			})
		}

		if jsonOutput {
			return printJSON(struct {
				Sites   []row    `json:"sites"`
				Presets []string `json:"presets"`
			}{rows, site.Presets()})
		}

		t := newTable()
		t.AppendHeader(table.Row{"Site", "Preset", "Base URL", "Timezone", "Retries", "Enabled"})
		for _, r := range rows {
			t.AppendRow(table.Row{r.ID, r.Preset, r.BaseURL, r.Timezone, r.Retries, r.Enabled})
		}
		t.Render()
		fmt.Printf("presets: %v\n", site.Presets())
		return nil
	},
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ratio(up, down int64) string {
	if down == 0 {
		return "∞"
	}
	return strconv.FormatFloat(float64(up)/float64(down), 'f', 3, 64)
}

func title(r site.TorrentRecord) string {
	if r.Subtitle == "" {
		return r.Title
	}
	return r.Title + "\n" + r.Subtitle
}
