// Package session keeps one viewer's dashboard up to date from change
// notifications.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/clock"
	"github.com/iSwxkzyEU/sk-trade/internal/config"
	"github.com/iSwxkzyEU/sk-trade/internal/domain"
	"github.com/iSwxkzyEU/sk-trade/internal/notify"
	"github.com/iSwxkzyEU/sk-trade/internal/service"
	"github.com/iSwxkzyEU/sk-trade/internal/staleness"

	"github.com/rs/zerolog"
)

type Session struct {
	ID string

	stock   *service.StockService
	hub     *notify.Hub
	clock   clock.Clock
	guard   *staleness.Guard
	refresh time.Duration
	logger  zerolog.Logger

	mu       sync.Mutex
	playerID string
}

func New(id string, stock *service.StockService, hub *notify.Hub, clk clock.Clock, watch config.WatchTuning, logger zerolog.Logger) *Session {
	return &Session{
		ID:      id,
		stock:   stock,
		hub:     hub,
		clock:   clk,
		guard:   staleness.NewGuard(watch.EchoGrace),
		refresh: watch.RefreshInterval,
		logger:  logger.With().Str("session", id).Logger(),
	}
}

// Switch makes playerID the subject. Loads started for the previous subject
// are dropped.
func (s *Session) Switch(playerID string) staleness.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerID = playerID
	return s.guard.Advance()
}

func (s *Session) Subject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

// Load reads the subject's dashboard for tok. A superseded token yields
// (nil, nil).
func (s *Session) Load(ctx context.Context, tok staleness.Token) (*service.Dashboard, error) {
	d, err := s.stock.Dashboard(ctx, s.Subject(), s.guard.Checker(tok))
	if errors.Is(err, domain.ErrStaleContext) {
		s.logger.Debug().Msg("dropping stale dashboard")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.guard.Check(tok) != nil {
		return nil, nil
	}
	return d, nil
}

// Watch switches to playerID and calls send with a fresh dashboard now, on
// every relevant change and every refresh interval, until ctx is done.
func (s *Session) Watch(ctx context.Context, playerID string, send func(*service.Dashboard) error) error {
	changes, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	tok := s.Switch(playerID)
	push := func() error {
		d, err := s.Load(ctx, tok)
		if err != nil || d == nil {
			return err
		}
		return send(d)
	}
	if err := push(); err != nil {
		return err
	}

	var tick <-chan time.Time
	if s.refresh > 0 {
		ticker := time.NewTicker(s.refresh)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := push(); err != nil {
				return err
			}
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			if !s.React(c, playerID) {
				continue
			}
			if err := push(); err != nil {
				return err
			}
		}
	}
}

// React decides whether a change warrants a re-read of playerID's view.
// Our own writes open the echo window instead.
func (s *Session) React(c notify.Change, playerID string) bool {
	if c.PlayerID != "" && c.PlayerID != playerID {
		return false
	}
	now := s.clock.Now()
	if c.Origin != "" && c.Origin == s.ID {
		s.guard.MarkLocalWrite(now)
		return false
	}
	if !s.guard.ShouldReact(now) {
		s.logger.Debug().Str("table", c.Table).Msg("ignoring change inside echo window")
		return false
	}
	return true
}
