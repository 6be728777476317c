package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lumen-gatherer/internal/infra/cache"
	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/transport"
)

const (
	DefaultFindTimeout = 20 * time.Second
	discoveredKey      = "discovered"
)

var ErrNoDiscoverer = errors.New("no discoverer configured")

// Resolution is the outcome of resolving a Reference.
type Resolution struct {
	Found   []protocol.Serial
	Missing []protocol.Serial
}

// Finder resolves references through a Discoverer. Discovery results are
// cached for ttl and concurrent discoveries share one network round.
type Finder struct {
	discoverer transport.Discoverer
	cache      cache.Cache[[]protocol.Serial]
	ttl        time.Duration
}

func NewFinder(discoverer transport.Discoverer, store cache.Cache[[]protocol.Serial], ttl time.Duration) *Finder {
	return &Finder{discoverer: discoverer, cache: store, ttl: ttl}
}

// Find discovers devices within timeout and matches them against ref.
func (f *Finder) Find(ctx context.Context, ref Reference, timeout time.Duration) (Resolution, error) {
	if f.discoverer == nil {
		return Resolution{}, ErrNoDiscoverer
	}
	if timeout <= 0 {
		timeout = DefaultFindTimeout
	}

	discovered, err := f.discover(ctx, timeout)
	if err != nil {
		return Resolution{Missing: ref.Serials()}, fmt.Errorf("discovering devices: %w", err)
	}

	if ref.IsAll() {
		slog.Debug("resolved every device", slog.Int("found", len(discovered)))
		return Resolution{Found: discovered}, nil
	}

	known := make(map[protocol.Serial]bool, len(discovered))
	for _, serial := range discovered {
		known[serial] = true
	}

	var res Resolution
	for _, serial := range ref.Serials() {
		if known[serial] {
			res.Found = append(res.Found, serial)
		} else {
			res.Missing = append(res.Missing, serial)
		}
	}

	slog.Debug("resolved reference",
		slog.String("reference", ref.String()),
		slog.Int("found", len(res.Found)),
		slog.Int("missing", len(res.Missing)),
	)
	return res, nil
}

// Forget drops the cached discovery so the next Find goes to the network.
func (f *Finder) Forget(ctx context.Context) {
	if f.cache != nil {
		f.cache.Delete(ctx, discoveredKey)
	}
}

func (f *Finder) discover(ctx context.Context, timeout time.Duration) ([]protocol.Serial, error) {
	load := func(ctx context.Context) ([]protocol.Serial, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return f.discoverer.Discover(ctx)
	}

	if f.cache == nil || f.ttl <= 0 {
		return load(ctx)
	}
	return f.cache.GetOrLoad(ctx, discoveredKey, f.ttl, load)
}
