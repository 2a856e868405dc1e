package routefile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const maxCatalogueBytes = 32 << 20

// Fetcher reads the raw catalogue from a local path or an http(s) URL
type Fetcher struct {
	source string
	client *http.Client
	logger *slog.Logger
}

func NewFetcher(source string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		source: source,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("component", "route_fetcher"),
	}
}

func (f *Fetcher) Source() string {
	return f.source
}

func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if isRemote(f.source) {
		return f.download(ctx)
	}

	data, err := os.ReadFile(f.source)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	f.logger.Debug("read route catalogue", "path", f.source, "size_bytes", len(data))
	return data, nil
}

func (f *Fetcher) download(ctx context.Context) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.source, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "CampusBus-Backend/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Error("failed to download route catalogue",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("download catalogue: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.Error("unexpected HTTP status",
			"status_code", resp.StatusCode,
			"status", resp.Status,
		)
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogueBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	f.logger.Debug("downloaded route catalogue",
		"url", f.source,
		"size_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
