package ingestor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusbus/internal/cache"
	"campusbus/internal/domain"
	"campusbus/internal/store"
	"campusbus/pkg/routefile"
)

type stubLoader struct {
	results []*routefile.Result
	err     error
	calls   int
}

func (l *stubLoader) Load(context.Context) (*routefile.Result, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	r := l.results[0]
	if len(l.results) > 1 {
		l.results = l.results[1:]
	}
	return r, nil
}

type memCatalogue struct {
	snap *cache.CatalogueSnapshot
}

func (m *memCatalogue) SaveCatalogue(_ context.Context, routes []*domain.Route, fp string) error {
	m.snap = &cache.CatalogueSnapshot{Routes: routes, Fingerprint: fp, SavedAt: time.Now()}
	return nil
}

func (m *memCatalogue) LoadCatalogue(context.Context) (*cache.CatalogueSnapshot, bool, error) {
	return m.snap, m.snap != nil, nil
}

func result(fp string, ids ...string) *routefile.Result {
	res := &routefile.Result{Fingerprint: fp}
	for _, id := range ids {
		res.Routes = append(res.Routes, &domain.Route{ID: id, Name: id, Waypoints: []domain.Waypoint{{Name: "a"}, {Name: "b"}}})
	}
	return res
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRouteIngestor_AppliesOnlyChangedCatalogues(t *testing.T) {
	loader := &stubLoader{results: []*routefile.Result{result("v1", "north"), result("v1", "north"), result("v2", "north", "south")}}
	rs := store.NewRouteStore()
	cat := &memCatalogue{}
	updates := 0

	ri := NewRouteIngestor(loader, rs, time.Minute, discard()).WithCache(cat)
	ri.SetOnUpdate(func(context.Context) { updates++ })

	require.NoError(t, ri.Init(context.Background()))
	assert.True(t, ri.IsReady())
	assert.Equal(t, 1, rs.GetStats().RoutesCount)
	assert.Equal(t, "v1", cat.snap.Fingerprint)
	assert.Equal(t, 1, updates)

	require.NoError(t, ri.update(context.Background()))
	assert.Equal(t, 1, updates, "same fingerprint is not re-applied")

	require.NoError(t, ri.update(context.Background()))
	assert.Equal(t, 2, rs.GetStats().RoutesCount)
	assert.Equal(t, 2, updates)
}

func TestRouteIngestor_InitFallsBackToCache(t *testing.T) {
	cat := &memCatalogue{}
	require.NoError(t, cat.SaveCatalogue(context.Background(), result("old", "north").Routes, "old"))

	rs := store.NewRouteStore()
	ri := NewRouteIngestor(&stubLoader{err: errors.New("offline")}, rs, time.Minute, discard()).WithCache(cat)

	require.NoError(t, ri.Init(context.Background()))
	assert.True(t, ri.IsReady())
	assert.Equal(t, "old", rs.Fingerprint())
}

func TestRouteIngestor_InitFailsWithoutCatalogue(t *testing.T) {
	rs := store.NewRouteStore()

	ri := NewRouteIngestor(&stubLoader{err: routefile.ErrInvalidCatalogue}, rs, time.Minute, discard())
	err := ri.Init(context.Background())
	assert.ErrorIs(t, err, routefile.ErrInvalidCatalogue)
	assert.False(t, ri.IsReady())

	ri = NewRouteIngestor(&stubLoader{err: errors.New("offline")}, rs, time.Minute, discard()).WithCache(&memCatalogue{})
	assert.Error(t, ri.Init(context.Background()))
}
