package service

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/clock"
	"github.com/iSwxkzyEU/sk-trade/internal/config"
	"github.com/iSwxkzyEU/sk-trade/internal/database"
	"github.com/iSwxkzyEU/sk-trade/internal/domain"
	"github.com/iSwxkzyEU/sk-trade/internal/notify"
	"github.com/iSwxkzyEU/sk-trade/internal/repository"

	"github.com/rs/zerolog"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	ctx     context.Context
	store   *repository.Store
	clock   *clock.Manual
	hub     *notify.Hub
	stock   *StockService
	trades  *TradeService
	players *PlayerService
}

func newFixture(t *testing.T, tune func(*config.Tuning)) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{Tuning: config.DefaultTuning()}
	if tune != nil {
		tune(&cfg.Tuning)
	}
	store := repository.NewStore(database.NewSQLX(db), zerolog.Nop())
	clk := clock.NewManual(t0)
	hub := notify.NewHub(zerolog.Nop())
	return &fixture{
		ctx:     context.Background(),
		store:   store,
		clock:   clk,
		hub:     hub,
		stock:   NewStockService(store, clk, hub, cfg, zerolog.Nop()),
		trades:  NewTradeService(store, clk, hub, cfg, zerolog.Nop()),
		players: NewPlayerService(store, clk, hub, cfg, zerolog.Nop()),
	}
}

func (f *fixture) player(t *testing.T, name string, capacity int64) *domain.Player {
	t.Helper()
	p, err := f.players.CreatePlayer(f.ctx, name, capacity)
	if err != nil {
		t.Fatalf("create player %s: %v", name, err)
	}
	return p
}

func (f *fixture) site(t *testing.T, p *domain.Player, name string) *domain.Site {
	t.Helper()
	s, err := f.players.CreateSite(f.ctx, p.ID, name)
	if err != nil {
		t.Fatalf("create site %s: %v", name, err)
	}
	return s
}

func (f *fixture) amount(t *testing.T, siteID string, rt domain.ResourceType) float64 {
	t.Helper()
	got, err := f.stock.CurrentAmount(f.ctx, siteID, rt)
	if err != nil {
		t.Fatalf("CurrentAmount(%s, %s): %v", siteID, rt, err)
	}
	return got
}

func (f *fixture) setRate(t *testing.T, siteID string, rt domain.ResourceType, daily int64) {
	t.Helper()
	if _, err := f.stock.SetProductionRate(f.ctx, siteID, rt, daily); err != nil {
		t.Fatalf("SetProductionRate: %v", err)
	}
}

func (f *fixture) setAmount(t *testing.T, siteID string, rt domain.ResourceType, v float64) {
	t.Helper()
	if err := f.stock.SetManualAmount(f.ctx, siteID, rt, v); err != nil {
		t.Fatalf("SetManualAmount: %v", err)
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestCurrentAmount_OneHourAtDailyRate(t *testing.T) {
	f := newFixture(t, nil)
	v := f.site(t, f.player(t, "Arthur", 1000), "Camelot")

	f.setRate(t, v.ID, domain.Vin, 24)
	f.setAmount(t, v.ID, domain.Vin, 100)
	f.clock.Advance(time.Hour)

	if got := f.amount(t, v.ID, domain.Vin); !near(got, 101) {
		t.Fatalf("amount = %v, want 101", got)
	}
}

func TestCurrentAmount_ClampedToCapacity(t *testing.T) {
	f := newFixture(t, nil)
	v := f.site(t, f.player(t, "Arthur", 100), "Camelot")

	f.setRate(t, v.ID, domain.Sel, 1000)
	f.clock.Advance(48 * time.Hour)

	if got := f.amount(t, v.ID, domain.Sel); got != 100 {
		t.Fatalf("amount = %v, want capacity 100", got)
	}
}

func TestSetProductionRate_SameValueWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	v := f.site(t, f.player(t, "Arthur", 1000), "Camelot")

	f.setRate(t, v.ID, domain.Gibier, 24)
	before, _, _ := f.store.Snapshots.Get(f.ctx, v.ID, domain.Gibier)

	f.clock.Advance(time.Hour)
	changed, err := f.stock.SetProductionRate(f.ctx, v.ID, domain.Gibier, 24)
	if err != nil || changed {
		t.Fatalf("SetProductionRate = %v, %v; want false, nil", changed, err)
	}

	after, _, _ := f.store.Snapshots.Get(f.ctx, v.ID, domain.Gibier)
	if after.Version != before.Version || !after.AsOf.Equal(before.AsOf) {
		t.Fatalf("snapshot rewritten: before %+v after %+v", before, after)
	}
	if got := f.amount(t, v.ID, domain.Gibier); !near(got, 1) {
		t.Fatalf("amount = %v, want 1", got)
	}
}

func TestSetProductionRate_FreezesOldRate(t *testing.T) {
	f := newFixture(t, nil)
	v := f.site(t, f.player(t, "Arthur", 1000), "Camelot")

	f.setRate(t, v.ID, domain.Chaise, 24)
	f.clock.Advance(10 * time.Hour)
	f.setRate(t, v.ID, domain.Chaise, 48)

	snap, _, _ := f.store.Snapshots.Get(f.ctx, v.ID, domain.Chaise)
	if !near(snap.Amount, 10) || !snap.AsOf.Equal(f.clock.Now()) {
		t.Fatalf("frozen snapshot = %+v, want 10 at now", snap)
	}

	f.clock.Advance(time.Hour)
	if got := f.amount(t, v.ID, domain.Chaise); !near(got, 12) {
		t.Fatalf("amount = %v, want 12", got)
	}
}

func TestSetProductionRate_UnderBoostStoresBaseRate(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 1000)
	v := f.site(t, p, "Camelot")
	other := f.site(t, f.player(t, "Lancelot", 1000), "Joyeuse Garde")

	if _, err := f.stock.ActivateBoost(f.ctx, p.ID, domain.Epices, 3); err != nil {
		t.Fatalf("ActivateBoost: %v", err)
	}

	cases := []struct {
		name   string
		siteID string
		read   int64
		want   int64
	}{
		{"boosted reading is divided and rounded", v.ID, 100, 33},
		{"rounds to the nearest unit", v.ID, 104, 35},
		{"no running boost keeps the reading", other.ID, 100, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.stock.SetProductionRate(f.ctx, tc.siteID, domain.Epices, tc.read, UnderBoost()); err != nil {
				t.Fatalf("SetProductionRate: %v", err)
			}
			r, ok, err := f.store.Rates.Get(f.ctx, tc.siteID, domain.Epices)
			if err != nil || !ok {
				t.Fatalf("Rates.Get = %v, %v", ok, err)
			}
			if r.DailyAmount != tc.want {
				t.Fatalf("stored rate = %d, want %d", r.DailyAmount, tc.want)
			}
		})
	}

	// once the card expires the site produces at the stored base
	f.clock.Advance(12 * time.Hour)
	f.setAmount(t, v.ID, domain.Epices, 0)
	f.clock.Advance(24 * time.Hour)
	if got := f.amount(t, v.ID, domain.Epices); !near(got, 35) {
		t.Fatalf("amount after a day unboosted = %v, want 35", got)
	}
}

func TestActivateBoost_PreservesAccruedValue(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 1000)
	v := f.site(t, p, "Camelot")

	f.setRate(t, v.ID, domain.Gibier, 24)
	f.clock.Advance(12 * time.Hour)
	if _, err := f.stock.ActivateBoost(f.ctx, p.ID, domain.Gibier, 5); err != nil {
		t.Fatalf("ActivateBoost: %v", err)
	}

	snap, _, _ := f.store.Snapshots.Get(f.ctx, v.ID, domain.Gibier)
	if !near(snap.Amount, 12) {
		t.Fatalf("frozen amount = %v, want 12", snap.Amount)
	}

	f.clock.Advance(12 * time.Hour)
	if got := f.amount(t, v.ID, domain.Gibier); !near(got, 72) {
		t.Fatalf("amount at T0+24h = %v, want 72", got)
	}

	// the boost has expired, production is back to 24/day
	f.clock.Advance(12 * time.Hour)
	if got := f.amount(t, v.ID, domain.Gibier); !near(got, 84) {
		t.Fatalf("amount at T0+36h = %v, want 84", got)
	}
}

func TestActivateBoost_AppliesToEverySite(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 1000)
	a := f.site(t, p, "Camelot")
	b := f.site(t, p, "Tintagel")

	f.setRate(t, a.ID, domain.Soie, 24)
	f.setRate(t, b.ID, domain.Soie, 48)
	if _, err := f.stock.ActivateBoost(f.ctx, p.ID, domain.Soie, 2); err != nil {
		t.Fatalf("ActivateBoost: %v", err)
	}
	f.clock.Advance(time.Hour)

	if got := f.amount(t, a.ID, domain.Soie); !near(got, 2) {
		t.Fatalf("site a = %v, want 2", got)
	}
	if got := f.amount(t, b.ID, domain.Soie); !near(got, 4) {
		t.Fatalf("site b = %v, want 4", got)
	}
}

func TestActivateBoost_ReplacesRunningBoost(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 1000)
	v := f.site(t, p, "Camelot")
	f.setRate(t, v.ID, domain.Vin, 24)

	if _, err := f.stock.ActivateBoost(f.ctx, p.ID, domain.Vin, 2); err != nil {
		t.Fatalf("first boost: %v", err)
	}
	f.clock.Advance(time.Hour)
	if _, err := f.stock.ActivateBoost(f.ctx, p.ID, domain.Vin, 3); err != nil {
		t.Fatalf("second boost: %v", err)
	}
	f.clock.Advance(time.Hour)

	if got := f.amount(t, v.ID, domain.Vin); !near(got, 2+3) {
		t.Fatalf("amount = %v, want 5", got)
	}
	d, err := f.stock.Dashboard(f.ctx, p.ID, nil)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if len(d.Boosts) != 1 || d.Boosts[0].Multiplier != 3 {
		t.Fatalf("active boosts = %+v", d.Boosts)
	}
}

func TestActivateBoost_RejectsBadMultiplier(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 1000)
	for _, m := range []int{-1, 0, 1, 11} {
		if _, err := f.stock.ActivateBoost(f.ctx, p.ID, domain.Vin, m); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("multiplier %d: got %v, want ErrValidation", m, err)
		}
	}
	if _, err := f.stock.ActivateBoost(f.ctx, "nope", domain.Vin, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown player: got %v, want ErrNotFound", err)
	}
}

func TestRemoveBoost_KeepsBoostedAccrual(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 1000)
	v := f.site(t, p, "Camelot")
	f.setRate(t, v.ID, domain.Epices, 24)

	b, err := f.stock.ActivateBoost(f.ctx, p.ID, domain.Epices, 5)
	if err != nil {
		t.Fatalf("ActivateBoost: %v", err)
	}
	f.clock.Advance(6 * time.Hour)
	if err := f.stock.RemoveBoost(f.ctx, b.ID); err != nil {
		t.Fatalf("RemoveBoost: %v", err)
	}
	if got := f.amount(t, v.ID, domain.Epices); !near(got, 30) {
		t.Fatalf("amount after removal = %v, want 30", got)
	}

	f.clock.Advance(6 * time.Hour)
	if got := f.amount(t, v.ID, domain.Epices); !near(got, 36) {
		t.Fatalf("amount 6h later = %v, want 36", got)
	}
	if err := f.stock.RemoveBoost(f.ctx, b.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second removal: got %v, want ErrNotFound", err)
	}
}

func TestRetimeBoost_OnlyAffectsTheFuture(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 1000)
	v := f.site(t, p, "Camelot")
	f.setRate(t, v.ID, domain.Tunique, 24)

	b, err := f.stock.ActivateBoost(f.ctx, p.ID, domain.Tunique, 5)
	if err != nil {
		t.Fatalf("ActivateBoost: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	if _, err := f.stock.RetimeBoost(f.ctx, b.ID, f.clock.Now()); err != nil {
		t.Fatalf("RetimeBoost: %v", err)
	}
	if got := f.amount(t, v.ID, domain.Tunique); !near(got, 10) {
		t.Fatalf("amount at retime = %v, want 10", got)
	}

	f.clock.Advance(2 * time.Hour)
	if got := f.amount(t, v.ID, domain.Tunique); !near(got, 12) {
		t.Fatalf("amount after expiry = %v, want 12", got)
	}
}

func TestRetimeBoost_RevivedBoostAccruesAsDisplayed(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 100000)
	v := f.site(t, p, "Camelot")
	f.setRate(t, v.ID, domain.Vin, 240)

	first, err := f.stock.ActivateBoost(f.ctx, p.ID, domain.Vin, 5)
	if err != nil {
		t.Fatalf("ActivateBoost: %v", err)
	}
	f.clock.Advance(13 * time.Hour)
	if _, err := f.stock.ActivateBoost(f.ctx, p.ID, domain.Vin, 2); err != nil {
		t.Fatalf("ActivateBoost: %v", err)
	}
	f.clock.Advance(time.Hour)
	if _, err := f.stock.RetimeBoost(f.ctx, first.ID, t0.Add(30*time.Hour)); err != nil {
		t.Fatalf("RetimeBoost: %v", err)
	}

	f.clock.Set(t0.Add(26 * time.Hour))
	d, err := f.stock.Dashboard(f.ctx, p.ID, nil)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	line, _ := d.Sites[0].Line(domain.Vin)
	if line.Multiplier != 5 {
		t.Fatalf("displayed multiplier = %d, want 5", line.Multiplier)
	}

	before := f.amount(t, v.ID, domain.Vin)
	f.clock.Advance(time.Hour)
	if got := f.amount(t, v.ID, domain.Vin) - before; !near(got, 50) {
		t.Fatalf("accrued over 1h = %v, want 50 at x5", got)
	}
}

func TestSetManualAmount_Validation(t *testing.T) {
	f := newFixture(t, nil)
	v := f.site(t, f.player(t, "Arthur", 1000), "Camelot")

	for _, bad := range []float64{-1, math.NaN(), math.Inf(1)} {
		if err := f.stock.SetManualAmount(f.ctx, v.ID, domain.Vin, bad); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("SetManualAmount(%v) = %v, want ErrValidation", bad, err)
		}
	}
	if err := f.stock.SetManualAmount(f.ctx, v.ID, "Or", 5); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown type: got %v", err)
	}
	if err := f.stock.SetManualAmount(f.ctx, "nope", domain.Vin, 5); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown site: got %v", err)
	}
}

func TestResetSite_ZeroesWithoutResidualAccrual(t *testing.T) {
	f := newFixture(t, nil)
	v := f.site(t, f.player(t, "Arthur", 1000), "Camelot")
	for _, rt := range domain.ResourceTypes {
		f.setRate(t, v.ID, rt, 240)
	}
	f.clock.Advance(10 * time.Hour)

	if err := f.stock.ResetSite(f.ctx, v.ID); err != nil {
		t.Fatalf("ResetSite: %v", err)
	}
	for _, rt := range domain.ResourceTypes {
		if got := f.amount(t, v.ID, rt); got != 0 {
			t.Fatalf("%s after reset = %v, want 0", rt, got)
		}
	}

	// production keeps running from zero
	f.clock.Advance(time.Hour)
	if got := f.amount(t, v.ID, domain.Vin); !near(got, 10) {
		t.Fatalf("amount 1h after reset = %v, want 10", got)
	}
}

func TestMissingRowsReadAsZero(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 1000)
	site := domain.Site{ID: "bare", PlayerID: p.ID, Name: "Bare", CreatedAt: t0, UpdatedAt: t0}
	if err := f.store.Sites.Create(f.ctx, site); err != nil {
		t.Fatalf("create site: %v", err)
	}

	if got := f.amount(t, site.ID, domain.Sel); got != 0 {
		t.Fatalf("amount = %v, want 0", got)
	}
	f.setRate(t, site.ID, domain.Sel, 24)
	f.clock.Advance(time.Hour)
	if got := f.amount(t, site.ID, domain.Sel); !near(got, 1) {
		t.Fatalf("amount = %v, want 1", got)
	}
}

func TestTransferInternal_ConservesTotal(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 1000)
	a := f.site(t, p, "Camelot")
	b := f.site(t, p, "Tintagel")
	f.setAmount(t, a.ID, domain.Vaisselle, 100)
	f.setAmount(t, b.ID, domain.Vaisselle, 50)

	mv, err := f.trades.TransferInternal(f.ctx, a.ID, b.ID, domain.Vaisselle, 30)
	if err != nil {
		t.Fatalf("TransferInternal: %v", err)
	}
	if mv.FromAmount != 70 || mv.ToAmount != 80 || mv.Lost != 0 {
		t.Fatalf("movement = %+v", mv)
	}
	if sum := f.amount(t, a.ID, domain.Vaisselle) + f.amount(t, b.ID, domain.Vaisselle); sum != 150 {
		t.Fatalf("total after transfer = %v, want 150", sum)
	}
}

func TestTransferInternal_InsufficientStockChangesNothing(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 1000)
	a := f.site(t, p, "Camelot")
	b := f.site(t, p, "Tintagel")
	f.setAmount(t, a.ID, domain.Vin, 10)
	before, _, _ := f.store.Snapshots.Get(f.ctx, a.ID, domain.Vin)

	_, err := f.trades.TransferInternal(f.ctx, a.ID, b.ID, domain.Vin, 11)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("TransferInternal = %v, want ErrInsufficientStock", err)
	}
	after, _, _ := f.store.Snapshots.Get(f.ctx, a.ID, domain.Vin)
	if after.Version != before.Version || after.Amount != 10 {
		t.Fatalf("source changed: %+v -> %+v", before, after)
	}
}

func TestTransferInternal_ClampsAtCapacity(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 100)
	a := f.site(t, p, "Camelot")
	b := f.site(t, p, "Tintagel")
	f.setAmount(t, a.ID, domain.Sel, 50)
	f.setAmount(t, b.ID, domain.Sel, 90)

	mv, err := f.trades.TransferInternal(f.ctx, a.ID, b.ID, domain.Sel, 30)
	if err != nil {
		t.Fatalf("TransferInternal: %v", err)
	}
	if mv.FromAmount != 20 || mv.ToAmount != 100 || mv.Lost != 20 {
		t.Fatalf("movement = %+v", mv)
	}
}

func TestTransferInternal_RejectsOtherPlayersSite(t *testing.T) {
	f := newFixture(t, nil)
	a := f.site(t, f.player(t, "Arthur", 1000), "Camelot")
	b := f.site(t, f.player(t, "Lancelot", 1000), "Joyeuse Garde")
	f.setAmount(t, a.ID, domain.Vin, 10)

	if _, err := f.trades.TransferInternal(f.ctx, a.ID, b.ID, domain.Vin, 5); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("cross-player transfer: got %v, want ErrValidation", err)
	}
	if _, err := f.trades.TransferInternal(f.ctx, a.ID, a.ID, domain.Vin, 5); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("same-site transfer: got %v, want ErrValidation", err)
	}
}

func TestExecuteTrade_LedgerDurableWithoutSnapshotRow(t *testing.T) {
	f := newFixture(t, nil)
	from := f.player(t, "Arthur", 1000)
	src := f.site(t, from, "Camelot")
	to := f.player(t, "Lancelot", 1000)
	dest := domain.Site{ID: "bare", PlayerID: to.ID, Name: "Bare", CreatedAt: t0, UpdatedAt: t0}
	if err := f.store.Sites.Create(f.ctx, dest); err != nil {
		t.Fatalf("create site: %v", err)
	}
	f.setAmount(t, src.ID, domain.Gibier, 40)

	res, err := f.trades.ExecuteTrade(f.ctx, TradeRequest{
		FromPlayerID: from.ID,
		ToPlayerID:   to.ID,
		FromSiteID:   src.ID,
		Type:         domain.Gibier,
		Amount:       25,
	})
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if res.Movement.ToSiteID != dest.ID {
		t.Fatalf("destination = %s, want first site %s", res.Movement.ToSiteID, dest.ID)
	}
	if got := f.amount(t, dest.ID, domain.Gibier); got != 25 {
		t.Fatalf("destination = %v, want 25", got)
	}
	if got := f.amount(t, src.ID, domain.Gibier); got != 15 {
		t.Fatalf("source = %v, want 15", got)
	}

	trades, err := f.trades.ListTrades(f.ctx, 0)
	if err != nil || len(trades) != 1 {
		t.Fatalf("trades = %+v, %v", trades, err)
	}
	if trades[0].FromPlayerName != "Arthur" || trades[0].ToPlayerName != "Lancelot" || trades[0].Amount != 25 {
		t.Fatalf("trade = %+v", trades[0])
	}
}

func TestExecuteTrade_RecipientWithoutSiteOnlyRecords(t *testing.T) {
	f := newFixture(t, nil)
	from := f.player(t, "Arthur", 1000)
	src := f.site(t, from, "Camelot")
	to := f.player(t, "Lancelot", 1000)
	f.setAmount(t, src.ID, domain.Vin, 30)

	res, err := f.trades.ExecuteTrade(f.ctx, TradeRequest{FromPlayerID: from.ID, ToPlayerID: to.ID, FromSiteID: src.ID, Type: domain.Vin, Amount: 5})
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if res.Movement != (Movement{}) {
		t.Fatalf("movement = %+v, want none", res.Movement)
	}
	if got := f.amount(t, src.ID, domain.Vin); got != 30 {
		t.Fatalf("source = %v, want untouched 30", got)
	}
	trades, _ := f.trades.ListTrades(f.ctx, 10)
	if len(trades) != 1 {
		t.Fatalf("ledger has %d trades, want 1", len(trades))
	}
}

func TestExecuteTrade_BadDestinationLeavesLedgerEmpty(t *testing.T) {
	f := newFixture(t, nil)
	from := f.player(t, "Arthur", 1000)
	src := f.site(t, from, "Camelot")
	to := f.player(t, "Lancelot", 1000)
	f.site(t, to, "Joyeuse Garde")
	foreign := f.site(t, f.player(t, "Gauvain", 1000), "Orcanie")
	f.setAmount(t, src.ID, domain.Sel, 100)

	cases := []struct {
		name   string
		siteID string
		want   error
	}{
		{"site of a third player", foreign.ID, domain.ErrValidation},
		{"unknown site", "does-not-exist", domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.trades.ExecuteTrade(f.ctx, TradeRequest{
				FromPlayerID: from.ID,
				ToPlayerID:   to.ID,
				FromSiteID:   src.ID,
				ToSiteID:     tc.siteID,
				Type:         domain.Sel,
				Amount:       10,
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("ExecuteTrade = %v, want %v", err, tc.want)
			}
		})
	}

	if trades, _ := f.trades.ListTrades(f.ctx, 10); len(trades) != 0 {
		t.Fatalf("rejected trades reached the ledger: %+v", trades)
	}
	if got := f.amount(t, src.ID, domain.Sel); got != 100 {
		t.Fatalf("source = %v, want 100", got)
	}
}

func TestExecuteTrade_LenientDebitFloorsAtZero(t *testing.T) {
	f := newFixture(t, nil)
	from := f.player(t, "Arthur", 1000)
	src := f.site(t, from, "Camelot")
	to := f.player(t, "Lancelot", 1000)
	dest := f.site(t, to, "Joyeuse Garde")
	f.setAmount(t, src.ID, domain.Soie, 10)

	res, err := f.trades.ExecuteTrade(f.ctx, TradeRequest{
		FromPlayerID: from.ID,
		ToPlayerID:   to.ID,
		FromSiteID:   src.ID,
		ToSiteID:     dest.ID,
		Type:         domain.Soie,
		Amount:       50,
	})
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if res.Movement.FromAmount != 0 || res.Movement.Shortfall != 40 || res.Movement.ToAmount != 50 {
		t.Fatalf("movement = %+v", res.Movement)
	}
}

func TestExecuteTrade_StrictRejectsBeforeLedger(t *testing.T) {
	f := newFixture(t, func(tu *config.Tuning) { tu.Trades.Strict = true })
	from := f.player(t, "Arthur", 1000)
	src := f.site(t, from, "Camelot")
	to := f.player(t, "Lancelot", 1000)
	f.site(t, to, "Joyeuse Garde")
	f.setAmount(t, src.ID, domain.Soie, 10)

	_, err := f.trades.ExecuteTrade(f.ctx, TradeRequest{FromPlayerID: from.ID, ToPlayerID: to.ID, FromSiteID: src.ID, Type: domain.Soie, Amount: 50})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("ExecuteTrade = %v, want ErrInsufficientStock", err)
	}
	if trades, _ := f.trades.ListTrades(f.ctx, 10); len(trades) != 0 {
		t.Fatalf("rejected trade reached the ledger: %+v", trades)
	}
}

func TestExecuteTrade_CreditUsesRecipientCapacityAndBoost(t *testing.T) {
	f := newFixture(t, nil)
	from := f.player(t, "Arthur", 1000)
	to := f.player(t, "Lancelot", 100)
	dest := f.site(t, to, "Joyeuse Garde")
	f.setRate(t, dest.ID, domain.Vin, 24)
	if _, err := f.stock.ActivateBoost(f.ctx, to.ID, domain.Vin, 2); err != nil {
		t.Fatalf("ActivateBoost: %v", err)
	}
	f.clock.Advance(10 * time.Hour)

	// 20 accrued under x2, gift of 90 clamps at 100
	res, err := f.trades.ExecuteTrade(f.ctx, TradeRequest{FromPlayerID: from.ID, ToPlayerID: to.ID, Type: domain.Vin, Amount: 90})
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if res.Movement.ToAmount != 100 || !near(res.Movement.Lost, 10) {
		t.Fatalf("movement = %+v", res.Movement)
	}
}

func TestDashboard_TotalsAndProjections(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 100)
	a := f.site(t, p, "Camelot")
	b := f.site(t, p, "Tintagel")
	f.setRate(t, a.ID, domain.Vin, 240)
	f.setRate(t, b.ID, domain.Vin, 120)
	f.setAmount(t, a.ID, domain.Vin, 90)
	f.setAmount(t, b.ID, domain.Vin, 30)

	d, err := f.stock.Dashboard(f.ctx, p.ID, nil)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if len(d.Sites) != 2 || d.Sites[0].Site.ID != a.ID {
		t.Fatalf("sites = %+v", d.Sites)
	}

	line, _ := d.Sites[0].Line(domain.Vin)
	if line.PercentFull != 90 || !line.NearCapacity || line.HoursToFull == nil || *line.HoursToFull != 1 {
		t.Fatalf("line = %+v", line)
	}
	if empty, _ := d.Sites[0].Line(domain.Gibier); empty.HoursToFull != nil {
		t.Fatalf("no production should have no estimate: %+v", empty)
	}

	var vin TypeTotal
	for _, tot := range d.Totals {
		if tot.Type == domain.Vin {
			vin = tot
		}
	}
	if vin.Total != 120 || vin.Need != 80 || vin.DailyTotal != 360 || vin.HourlyThroughput != 15 {
		t.Fatalf("totals = %+v", vin)
	}
}

func TestDashboard_StaleCheckAborts(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 100)
	f.site(t, p, "Camelot")

	_, err := f.stock.Dashboard(f.ctx, p.ID, func() error { return domain.ErrStaleContext })
	if !errors.Is(err, domain.ErrStaleContext) {
		t.Fatalf("Dashboard = %v, want ErrStaleContext", err)
	}
}

func TestBackfillCreatesMissingRowsOnce(t *testing.T) {
	f := newFixture(t, nil)
	p := f.player(t, "Arthur", 100)
	f.site(t, p, "Camelot")
	bare := domain.Site{ID: "bare", PlayerID: p.ID, Name: "Bare", CreatedAt: t0, UpdatedAt: t0}
	if err := f.store.Sites.Create(f.ctx, bare); err != nil {
		t.Fatalf("create site: %v", err)
	}

	res, err := f.players.Backfill(f.ctx)
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	n := int64(len(domain.ResourceTypes))
	if res.Sites != 2 || res.Rates != n || res.Snapshots != n {
		t.Fatalf("first backfill = %+v", res)
	}
	if res, err = f.players.Backfill(f.ctx); err != nil || res.Rates != 0 || res.Snapshots != 0 {
		t.Fatalf("second backfill = %+v, %v", res, err)
	}
}

func TestWritesPublishChangesWithOrigin(t *testing.T) {
	f := newFixture(t, nil)
	v := f.site(t, f.player(t, "Arthur", 100), "Camelot")

	ch, unsub := f.hub.Subscribe()
	defer unsub()

	ctx := notify.WithOrigin(f.ctx, "tab-1")
	if _, err := f.stock.SetProductionRate(ctx, v.ID, domain.Vin, 10); err != nil {
		t.Fatalf("SetProductionRate: %v", err)
	}
	select {
	case c := <-ch:
		if c.Table != notify.TableRates || c.SiteID != v.ID || c.Origin != "tab-1" {
			t.Fatalf("change = %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatalf("no change published")
	}
}

func TestConcurrentTransfersConserveStock(t *testing.T) {
	f := newFixture(t, func(tu *config.Tuning) { tu.Storage.MaxRetries = 100 })
	p := f.player(t, "Arthur", 10000)
	a := f.site(t, p, "Camelot")
	b := f.site(t, p, "Tintagel")
	f.setAmount(t, a.ID, domain.Vin, 500)
	f.setAmount(t, b.ID, domain.Vin, 500)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 4; i++ {
		from, to := a.ID, b.ID
		if i%2 == 1 {
			from, to = b.ID, a.ID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if _, err := f.trades.TransferInternal(f.ctx, from, to, domain.Vin, 10); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("transfer failed: %v", err)
	}

	if sum := f.amount(t, a.ID, domain.Vin) + f.amount(t, b.ID, domain.Vin); sum != 1000 {
		t.Fatalf("total = %v, want 1000", sum)
	}
}

func TestTxRunnerRetriesConflicts(t *testing.T) {
	f := newFixture(t, nil)
	runner := txRunner{store: f.store, maxRetries: 3, logger: zerolog.Nop()}

	calls := 0
	err := runner.run(f.ctx, "test", func(*repository.Store) error {
		calls++
		if calls < 3 {
			return domain.ErrConflict
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("run = %v after %d calls", err, calls)
	}

	calls = 0
	err = runner.run(f.ctx, "test", func(*repository.Store) error {
		calls++
		return domain.ErrConflict
	})
	if !errors.Is(err, domain.ErrConflict) || calls != 3 {
		t.Fatalf("run = %v after %d calls, want ErrConflict after 3", err, calls)
	}
}
