package routefile

import (
	"context"
	"log/slog"
	"time"

	"campusbus/internal/domain"
)

// Result is one successfully loaded catalogue
type Result struct {
	Routes      []*domain.Route
	Fingerprint string
}

type Loader struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

func NewLoader(source string, logger *slog.Logger) *Loader {
	return &Loader{
		fetcher: NewFetcher(source, logger),
		logger:  logger.With("component", "route_loader"),
	}
}

// Load fetches and parses the catalogue
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	start := time.Now()

	data, err := l.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	parse := Parse
	if IsGTFSArchive(data) {
		parse = ParseGTFS
	}

	cat, err := parse(data)
	if err != nil {
		l.logger.Warn("route catalogue rejected",
			"source", l.fetcher.Source(),
			"error", err,
		)
		return nil, err
	}

	res := &Result{
		Routes:      cat.Routes,
		Fingerprint: Fingerprint(data),
	}

	l.logger.Debug("route catalogue parsed",
		"routes", len(res.Routes),
		"fingerprint", res.Fingerprint[:12],
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
