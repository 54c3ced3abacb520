package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/domain"
	"github.com/iSwxkzyEU/sk-trade/internal/notify"
	"github.com/iSwxkzyEU/sk-trade/internal/repository"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// txRunner runs a unit of work in one transaction and starts over when a
// snapshot version moved underneath it.
type txRunner struct {
	store      *repository.Store
	maxRetries int
	logger     zerolog.Logger
}

func (r txRunner) run(ctx context.Context, op string, fn func(tx *repository.Store) error) error {
	var err error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		err = r.store.InTx(ctx, fn)
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		r.logger.Debug().Str("op", op).Int("attempt", attempt).Msg("concurrent update, retrying")
	}
	r.logger.Warn().Err(err).Str("op", op).Int("attempts", r.maxRetries).Msg("giving up after repeated conflicts")
	return err
}

func newID() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate nanoid: %w", err)
	}
	return id, nil
}

func publish(ctx context.Context, hub *notify.Hub, table, playerID, siteID string, now time.Time) {
	if hub == nil {
		return
	}
	hub.Publish(notify.Change{
		Table:    table,
		PlayerID: playerID,
		SiteID:   siteID,
		Origin:   notify.OriginFrom(ctx),
		At:       now,
	})
}

func validType(t domain.ResourceType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: unknown resource type %q", domain.ErrValidation, t)
	}
	return nil
}
