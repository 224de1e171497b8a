package config

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port      string `env:"PL_PORT,default=9300"`
	DBPath    string `env:"PL_DB_PATH,default=/data/pulseledger.db"`
	LogLevel  string `env:"PL_LOG_LEVEL,default=info"`
	LogFormat string `env:"PL_LOG_FORMAT,default=json"`

	ProviderBaseURL string        `env:"PL_PROVIDER_BASE_URL,default=https://www.polaraccesslink.com"`
	ProviderToken   string        `env:"PL_PROVIDER_TOKEN"`
	FetchTimeout    time.Duration `env:"PL_FETCH_TIMEOUT,default=30s"`
	SyncEpoch       time.Time     `env:"PL_SYNC_EPOCH,default=2024-01-01T00:00:00Z"`
	SyncInterval    time.Duration `env:"PL_SYNC_INTERVAL"`

	NotionBaseURL    string `env:"PL_NOTION_BASE_URL,default=https://api.notion.com"`
	NotionToken      string `env:"PL_NOTION_TOKEN"`
	NotionDatabaseID string `env:"PL_NOTION_DATABASE_ID"`

	MaxNotesBytes         int           `env:"PL_MAX_NOTES_BYTES,default=2048"`
	WALCheckpointInterval time.Duration `env:"PL_WAL_CHECKPOINT_INTERVAL,default=10m"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	return &cfg, nil
}

// SinkConfigured reports whether the Notion write-back can be used.
func (c *Config) SinkConfigured() bool {
	return c.NotionToken != "" && c.NotionDatabaseID != ""
}

func WriteHelp(w io.Writer, version string) {
	fmt.Fprintf(w, "pulseledger %s\n\n", version)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  pulseledger sync    run the pipeline once and exit")
	fmt.Fprintln(w, "  pulseledger serve   run the query API with optional periodic sync")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment variables:")
	fmt.Fprintln(w, "  PL_PORT=9300")
	fmt.Fprintln(w, "  PL_DB_PATH=/data/pulseledger.db")
	fmt.Fprintln(w, "  PL_LOG_LEVEL=info")
	fmt.Fprintln(w, "  PL_LOG_FORMAT=json")
	fmt.Fprintln(w, "  PL_PROVIDER_BASE_URL=https://www.polaraccesslink.com")
	fmt.Fprintln(w, "  PL_PROVIDER_TOKEN=")
	fmt.Fprintln(w, "  PL_FETCH_TIMEOUT=30s")
	fmt.Fprintln(w, "  PL_SYNC_EPOCH=2024-01-01T00:00:00Z")
	fmt.Fprintln(w, "  PL_SYNC_INTERVAL=")
	fmt.Fprintln(w, "  PL_NOTION_BASE_URL=https://api.notion.com")
	fmt.Fprintln(w, "  PL_NOTION_TOKEN=")
	fmt.Fprintln(w, "  PL_NOTION_DATABASE_ID=")
	fmt.Fprintln(w, "  PL_MAX_NOTES_BYTES=2048")
	fmt.Fprintln(w, "  PL_WAL_CHECKPOINT_INTERVAL=10m")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  --help")
	fmt.Fprintln(w, "  --version")
}
