package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// KlineSource is the slice of a venue the snapshot provider needs.
type KlineSource interface {
	Klines(ctx context.Context, symbol string, limit int) ([]Kline, error)
}

// Provider produces market snapshots for consensus rounds.
type Provider interface {
	Snapshot(ctx context.Context, venue, symbol string) (*Snapshot, error)
}

// SnapshotProvider builds snapshots from venue klines. One instance serves
// all venues; sources are registered at boot.
type SnapshotProvider struct {
	mu      sync.RWMutex
	sources map[string]KlineSource
	limit   int
	logger  zerolog.Logger
}

// NewSnapshotProvider creates a provider fetching `limit` candles per snapshot.
func NewSnapshotProvider(limit int) *SnapshotProvider {
	if limit < MinSamples {
		limit = 100
	}
	return &SnapshotProvider{
		sources: make(map[string]KlineSource),
		limit:   limit,
		logger:  log.With().Str("component", "snapshot_provider").Logger(),
	}
}

// Register binds a venue name to its kline source.
func (p *SnapshotProvider) Register(venue string, source KlineSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources[venue] = source
}

// Snapshot fetches recent candles from the venue and shapes them into an
// aligned snapshot. Short histories are an error; the caller skips the symbol.
func (p *SnapshotProvider) Snapshot(ctx context.Context, venue, symbol string) (*Snapshot, error) {
	p.mu.RLock()
	source, ok := p.sources[venue]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no kline source registered for venue %s", venue)
	}

	klines, err := source.Klines(ctx, symbol, p.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s on %s: %w", symbol, venue, err)
	}

	snapshot := NewSnapshot(symbol, klines)
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("venue", venue).
		Str("symbol", symbol).
		Int("samples", len(snapshot.Closes)).
		Float64("last_close", snapshot.LastClose()).
		Msg("Snapshot built")

	return snapshot, nil
}
