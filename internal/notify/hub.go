// Package notify fans out "something changed" events to in-process
// subscribers. A Change carries no authoritative data: subscribers re-read.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/constants"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

const (
	TablePlayers   = "players"
	TableSites     = "sites"
	TableRates     = "rates"
	TableSnapshots = "snapshots"
	TableBoosts    = "boosts"
	TableTrades    = "trades"
)

type Change struct {
	Table    string
	PlayerID string
	SiteID   string
	// Origin is the session that made the write, empty when unknown.
	Origin string
	At     time.Time
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Change
	nextID int
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{subs: make(map[int]chan Change), logger: logger}
}

// Subscribe returns a buffered channel of changes and a func that
// unsubscribes and closes it.
func (h *Hub) Subscribe() (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Change, constants.HubSubscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Publish never blocks. A subscriber whose buffer is full misses the change;
// it still gets the next one, which triggers the same re-read.
func (h *Hub) Publish(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- c:
		default:
			h.logger.Warn().Int("subscriber", id).Str("table", c.Table).Msg("subscriber buffer full, change dropped")
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

type originKey struct{}

// WithOrigin tags ctx with the session id of the caller.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func OriginFrom(ctx context.Context) string {
	if o, ok := ctx.Value(originKey{}).(string); ok {
		return o
	}
	return ""
}

var Module = fx.Provide(NewHub)
