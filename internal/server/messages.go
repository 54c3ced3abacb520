package server

import (
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/domain"
	"github.com/iSwxkzyEU/sk-trade/internal/service"
)

type Empty struct{}

type Player struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Capacity int64  `json:"capacity"`
}

type Site struct {
	ID       string `json:"id"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

type Boost struct {
	ID          string    `json:"id"`
	PlayerID    string    `json:"player_id"`
	Type        string    `json:"type"`
	Multiplier  int       `json:"multiplier"`
	ActivatedAt time.Time `json:"activated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type Trade struct {
	ID        string    `json:"id"`
	From      Player    `json:"from"`
	To        Player    `json:"to"`
	Type      string    `json:"type"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type Movement struct {
	FromSiteID string  `json:"from_site_id,omitempty"`
	ToSiteID   string  `json:"to_site_id"`
	FromAmount float64 `json:"from_amount"`
	ToAmount   float64 `json:"to_amount"`
	Lost       float64 `json:"lost"`
	Shortfall  float64 `json:"shortfall"`
}

type CreatePlayerRequest struct {
	Name     string `json:"name"`
	Capacity int64  `json:"capacity"`
}

type ListPlayersResponse struct {
	Players []Player `json:"players"`
}

type UpdateCapacityRequest struct {
	PlayerID string `json:"player_id"`
	Capacity int64  `json:"capacity"`
}

type PlayerRequest struct {
	PlayerID string `json:"player_id"`
}

type CreateSiteRequest struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

type SiteRequest struct {
	SiteID string `json:"site_id"`
}

type CurrentAmountRequest struct {
	SiteID string `json:"site_id"`
	Type   string `json:"type"`
}

type CurrentAmountResponse struct {
	Amount float64 `json:"amount"`
}

type SetProductionRateRequest struct {
	SiteID      string `json:"site_id"`
	Type        string `json:"type"`
	DailyAmount int64  `json:"daily_amount"`

	// UnderBoost: DailyAmount was read with the boost running.
	UnderBoost bool `json:"under_boost"`
}

type SetProductionRateResponse struct {
	Changed bool `json:"changed"`
}

type ActivateBoostRequest struct {
	PlayerID   string `json:"player_id"`
	Type       string `json:"type"`
	Multiplier int    `json:"multiplier"`
}

type RetimeBoostRequest struct {
	BoostID   string    `json:"boost_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type BoostRequest struct {
	BoostID string `json:"boost_id"`
}

type SetManualAmountRequest struct {
	SiteID string  `json:"site_id"`
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

type TransferInternalRequest struct {
	FromSiteID string  `json:"from_site_id"`
	ToSiteID   string  `json:"to_site_id"`
	Type       string  `json:"type"`
	Amount     float64 `json:"amount"`
}

type ExecuteTradeRequest struct {
	FromPlayerID string  `json:"from_player_id"`
	ToPlayerID   string  `json:"to_player_id"`
	FromSiteID   string  `json:"from_site_id"`
	ToSiteID     string  `json:"to_site_id"`
	Type         string  `json:"type"`
	Amount       float64 `json:"amount"`
}

type ExecuteTradeResponse struct {
	Trade    Trade    `json:"trade"`
	Movement Movement `json:"movement"`
}

type ListTradesRequest struct {
	Limit int `json:"limit"`
}

type ListTradesResponse struct {
	Trades []Trade `json:"trades"`
}

type ReportRequest struct {
	Kind string `json:"kind"`
	// PlayerID restricts the report to one player; empty means everyone.
	PlayerID string `json:"player_id"`
}

type ReportResponse struct {
	Text      string `json:"text"`
	Published bool   `json:"published"`
}

type WatchDashboardRequest struct {
	PlayerID  string `json:"player_id"`
	SessionID string `json:"session_id"`
}

type StockLine struct {
	Type         string   `json:"type"`
	Amount       float64  `json:"amount"`
	DailyRate    int64    `json:"daily_rate"`
	Multiplier   int      `json:"multiplier"`
	PercentFull  float64  `json:"percent_full"`
	NearCapacity bool     `json:"near_capacity"`
	HoursToFull  *float64 `json:"hours_to_full,omitempty"`
	TimeToFull   string   `json:"time_to_full,omitempty"`
}

type SiteStock struct {
	Site  Site        `json:"site"`
	Lines []StockLine `json:"lines"`
}

type TypeTotal struct {
	Type             string  `json:"type"`
	Total            float64 `json:"total"`
	Need             float64 `json:"need"`
	DailyTotal       int64   `json:"daily_total"`
	Multiplier       int     `json:"multiplier"`
	HourlyThroughput int64   `json:"hourly_throughput"`
}

type Dashboard struct {
	Player      Player      `json:"player"`
	Sites       []SiteStock `json:"sites"`
	Totals      []TypeTotal `json:"totals"`
	Boosts      []Boost     `json:"boosts"`
	GeneratedAt time.Time   `json:"generated_at"`
}

func toPlayer(p domain.Player) Player {
	return Player{ID: p.ID, Name: p.Name, Capacity: p.Capacity}
}

func toSite(s domain.Site) Site {
	return Site{ID: s.ID, PlayerID: s.PlayerID, Name: s.Name}
}

func toBoost(b domain.Boost) Boost {
	return Boost{
		ID:          b.ID,
		PlayerID:    b.PlayerID,
		Type:        b.Type.String(),
		Multiplier:  b.Multiplier,
		ActivatedAt: b.ActivatedAt,
		ExpiresAt:   b.ExpiresAt,
	}
}

func toTrade(t domain.Trade) Trade {
	return Trade{
		ID:        t.ID,
		From:      Player{ID: t.FromPlayerID, Name: t.FromPlayerName},
		To:        Player{ID: t.ToPlayerID, Name: t.ToPlayerName},
		Type:      t.Type.String(),
		Amount:    t.Amount,
		CreatedAt: t.CreatedAt,
	}
}

func toMovement(m service.Movement) Movement {
	return Movement{
		FromSiteID: m.FromSiteID,
		ToSiteID:   m.ToSiteID,
		FromAmount: m.FromAmount,
		ToAmount:   m.ToAmount,
		Lost:       m.Lost,
		Shortfall:  m.Shortfall,
	}
}
