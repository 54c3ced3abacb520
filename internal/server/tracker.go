package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/iSwxkzyEU/sk-trade/internal/accrual"
	"github.com/iSwxkzyEU/sk-trade/internal/api"
	"github.com/iSwxkzyEU/sk-trade/internal/clock"
	"github.com/iSwxkzyEU/sk-trade/internal/config"
	"github.com/iSwxkzyEU/sk-trade/internal/domain"
	"github.com/iSwxkzyEU/sk-trade/internal/middleware"
	"github.com/iSwxkzyEU/sk-trade/internal/notify"
	"github.com/iSwxkzyEU/sk-trade/internal/report"
	"github.com/iSwxkzyEU/sk-trade/internal/service"
	"github.com/iSwxkzyEU/sk-trade/internal/session"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const StockTrackerPath = "/stronghold.v1.StockTracker/"

type TrackerServer struct {
	players *service.PlayerService
	stock   *service.StockService
	trades  *service.TradeService
	webhook *api.WebhookClient
	hub     *notify.Hub
	clock   clock.Clock
	watch   config.WatchTuning
	logger  zerolog.Logger
}

func NewTrackerServer(
	players *service.PlayerService,
	stock *service.StockService,
	trades *service.TradeService,
	webhook *api.WebhookClient,
	hub *notify.Hub,
	clk clock.Clock,
	cfg *config.Config,
	logger zerolog.Logger,
) *TrackerServer {
	return &TrackerServer{
		players: players,
		stock:   stock,
		trades:  trades,
		webhook: webhook,
		hub:     hub,
		clock:   clk,
		watch:   cfg.Tuning.Watch,
		logger:  logger,
	}
}

func (s *TrackerServer) CreatePlayer(ctx context.Context, req *connect.Request[CreatePlayerRequest]) (*connect.Response[Player], error) {
	p, err := s.players.CreatePlayer(ctx, req.Msg.Name, req.Msg.Capacity)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(ptr(toPlayer(*p))), nil
}

func (s *TrackerServer) ListPlayers(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[ListPlayersResponse], error) {
	players, err := s.players.ListPlayers(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &ListPlayersResponse{Players: make([]Player, len(players))}
	for i, p := range players {
		resp.Players[i] = toPlayer(p)
	}
	return connect.NewResponse(resp), nil
}

func (s *TrackerServer) UpdateCapacity(ctx context.Context, req *connect.Request[UpdateCapacityRequest]) (*connect.Response[Empty], error) {
	if err := s.players.UpdateCapacity(ctx, req.Msg.PlayerID, req.Msg.Capacity); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *TrackerServer) DeletePlayer(ctx context.Context, req *connect.Request[PlayerRequest]) (*connect.Response[Empty], error) {
	if err := s.players.DeletePlayer(ctx, req.Msg.PlayerID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *TrackerServer) CreateSite(ctx context.Context, req *connect.Request[CreateSiteRequest]) (*connect.Response[Site], error) {
	site, err := s.players.CreateSite(ctx, req.Msg.PlayerID, req.Msg.Name)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(ptr(toSite(*site))), nil
}

func (s *TrackerServer) DeleteSite(ctx context.Context, req *connect.Request[SiteRequest]) (*connect.Response[Empty], error) {
	if err := s.players.DeleteSite(ctx, req.Msg.SiteID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *TrackerServer) GetDashboard(ctx context.Context, req *connect.Request[PlayerRequest]) (*connect.Response[Dashboard], error) {
	d, err := s.stock.Dashboard(ctx, req.Msg.PlayerID, nil)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toDashboard(d)), nil
}

func (s *TrackerServer) GetCurrentAmount(ctx context.Context, req *connect.Request[CurrentAmountRequest]) (*connect.Response[CurrentAmountResponse], error) {
	t, err := domain.ParseResourceType(req.Msg.Type)
	if err != nil {
		return nil, toConnectError(err)
	}
	amount, err := s.stock.CurrentAmount(ctx, req.Msg.SiteID, t)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CurrentAmountResponse{Amount: amount}), nil
}

func (s *TrackerServer) SetProductionRate(ctx context.Context, req *connect.Request[SetProductionRateRequest]) (*connect.Response[SetProductionRateResponse], error) {
	t, err := domain.ParseResourceType(req.Msg.Type)
	if err != nil {
		return nil, toConnectError(err)
	}
	var opts []service.RateOption
	if req.Msg.UnderBoost {
		opts = append(opts, service.UnderBoost())
	}
	changed, err := s.stock.SetProductionRate(ctx, req.Msg.SiteID, t, req.Msg.DailyAmount, opts...)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SetProductionRateResponse{Changed: changed}), nil
}

func (s *TrackerServer) ActivateBoost(ctx context.Context, req *connect.Request[ActivateBoostRequest]) (*connect.Response[Boost], error) {
	t, err := domain.ParseResourceType(req.Msg.Type)
	if err != nil {
		return nil, toConnectError(err)
	}
	b, err := s.stock.ActivateBoost(ctx, req.Msg.PlayerID, t, req.Msg.Multiplier)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(ptr(toBoost(*b))), nil
}

func (s *TrackerServer) RetimeBoost(ctx context.Context, req *connect.Request[RetimeBoostRequest]) (*connect.Response[Boost], error) {
	b, err := s.stock.RetimeBoost(ctx, req.Msg.BoostID, req.Msg.ExpiresAt)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(ptr(toBoost(*b))), nil
}

func (s *TrackerServer) RemoveBoost(ctx context.Context, req *connect.Request[BoostRequest]) (*connect.Response[Empty], error) {
	if err := s.stock.RemoveBoost(ctx, req.Msg.BoostID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *TrackerServer) SetManualAmount(ctx context.Context, req *connect.Request[SetManualAmountRequest]) (*connect.Response[Empty], error) {
	t, err := domain.ParseResourceType(req.Msg.Type)
	if err != nil {
		return nil, toConnectError(err)
	}
	if err := s.stock.SetManualAmount(ctx, req.Msg.SiteID, t, req.Msg.Amount); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *TrackerServer) ResetSite(ctx context.Context, req *connect.Request[SiteRequest]) (*connect.Response[Empty], error) {
	if err := s.stock.ResetSite(ctx, req.Msg.SiteID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *TrackerServer) TransferInternal(ctx context.Context, req *connect.Request[TransferInternalRequest]) (*connect.Response[Movement], error) {
	t, err := domain.ParseResourceType(req.Msg.Type)
	if err != nil {
		return nil, toConnectError(err)
	}
	mv, err := s.trades.TransferInternal(ctx, req.Msg.FromSiteID, req.Msg.ToSiteID, t, req.Msg.Amount)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(ptr(toMovement(*mv))), nil
}

func (s *TrackerServer) ExecuteTrade(ctx context.Context, req *connect.Request[ExecuteTradeRequest]) (*connect.Response[ExecuteTradeResponse], error) {
	t, err := domain.ParseResourceType(req.Msg.Type)
	if err != nil {
		return nil, toConnectError(err)
	}
	res, err := s.trades.ExecuteTrade(ctx, service.TradeRequest{
		FromPlayerID: req.Msg.FromPlayerID,
		ToPlayerID:   req.Msg.ToPlayerID,
		FromSiteID:   req.Msg.FromSiteID,
		ToSiteID:     req.Msg.ToSiteID,
		Type:         t,
		Amount:       req.Msg.Amount,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ExecuteTradeResponse{
		Trade:    toTrade(res.Trade),
		Movement: toMovement(res.Movement),
	}), nil
}

func (s *TrackerServer) ListTrades(ctx context.Context, req *connect.Request[ListTradesRequest]) (*connect.Response[ListTradesResponse], error) {
	trades, err := s.trades.ListTrades(ctx, req.Msg.Limit)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &ListTradesResponse{Trades: make([]Trade, len(trades))}
	for i, t := range trades {
		resp.Trades[i] = toTrade(t)
	}
	return connect.NewResponse(resp), nil
}

func (s *TrackerServer) GetReport(ctx context.Context, req *connect.Request[ReportRequest]) (*connect.Response[ReportResponse], error) {
	text, err := s.render(ctx, req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ReportResponse{Text: text}), nil
}

func (s *TrackerServer) PublishReport(ctx context.Context, req *connect.Request[ReportRequest]) (*connect.Response[ReportResponse], error) {
	text, err := s.render(ctx, req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	if err := s.webhook.Post(ctx, text); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ReportResponse{Text: text, Published: true}), nil
}

func (s *TrackerServer) render(ctx context.Context, req *ReportRequest) (string, error) {
	kind, err := report.ParseKind(req.Kind)
	if err != nil {
		return "", err
	}

	var ds []service.Dashboard
	if req.PlayerID != "" {
		d, err := s.stock.Dashboard(ctx, req.PlayerID, nil)
		if err != nil {
			return "", err
		}
		ds = []service.Dashboard{*d}
	} else if ds, err = s.stock.Dashboards(ctx); err != nil {
		return "", err
	}
	return report.Render(kind, ds)
}

// WatchDashboard streams the player's dashboard on every relevant change
// until the client goes away.
func (s *TrackerServer) WatchDashboard(ctx context.Context, req *connect.Request[WatchDashboardRequest], stream *connect.ServerStream[Dashboard]) error {
	id := req.Msg.SessionID
	if id == "" {
		id = req.Header().Get(middleware.SessionHeader)
	}
	if id == "" {
		id = uuid.New().String()
	}

	sess := session.New(id, s.stock, s.hub, s.clock, s.watch, s.logger)
	s.logger.Info().Str("session", id).Str("player_id", req.Msg.PlayerID).Msg("watch started")
	defer func() {
		s.logger.Info().Str("session", id).Msg("watch ended")
	}()

	err := sess.Watch(ctx, req.Msg.PlayerID, func(d *service.Dashboard) error {
		return stream.Send(toDashboard(d))
	})
	if err != nil {
		return toConnectError(err)
	}
	return nil
}

// Handler mounts every procedure under StockTrackerPath.
func (s *TrackerServer) Handler() (string, http.Handler) {
	opts := []connect.HandlerOption{WithJSON()}
	mux := http.NewServeMux()

	unary(mux, "CreatePlayer", s.CreatePlayer, opts)
	unary(mux, "ListPlayers", s.ListPlayers, opts)
	unary(mux, "UpdateCapacity", s.UpdateCapacity, opts)
	unary(mux, "DeletePlayer", s.DeletePlayer, opts)
	unary(mux, "CreateSite", s.CreateSite, opts)
	unary(mux, "DeleteSite", s.DeleteSite, opts)
	unary(mux, "GetDashboard", s.GetDashboard, opts)
	unary(mux, "GetCurrentAmount", s.GetCurrentAmount, opts)
	unary(mux, "SetProductionRate", s.SetProductionRate, opts)
	unary(mux, "ActivateBoost", s.ActivateBoost, opts)
	unary(mux, "RetimeBoost", s.RetimeBoost, opts)
	unary(mux, "RemoveBoost", s.RemoveBoost, opts)
	unary(mux, "SetManualAmount", s.SetManualAmount, opts)
	unary(mux, "ResetSite", s.ResetSite, opts)
	unary(mux, "TransferInternal", s.TransferInternal, opts)
	unary(mux, "ExecuteTrade", s.ExecuteTrade, opts)
	unary(mux, "ListTrades", s.ListTrades, opts)
	unary(mux, "GetReport", s.GetReport, opts)
	unary(mux, "PublishReport", s.PublishReport, opts)

	procedure := StockTrackerPath + "WatchDashboard"
	mux.Handle(procedure, connect.NewServerStreamHandler(procedure, s.WatchDashboard, opts...))

	return StockTrackerPath, mux
}

func unary[Req, Res any](mux *http.ServeMux, name string, fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error), opts []connect.HandlerOption) {
	procedure := StockTrackerPath + name
	mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, opts...))
}

func toConnectError(err error) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, domain.ErrValidation):
		code = connect.CodeInvalidArgument
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, api.ErrWebhookDisabled):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, domain.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, domain.ErrConflict):
		code = connect.CodeAborted
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, domain.ErrStorage):
		code = connect.CodeUnavailable
	}
	return connect.NewError(code, err)
}

func toDashboard(d *service.Dashboard) *Dashboard {
	out := &Dashboard{
		Player:      toPlayer(d.Player),
		Sites:       make([]SiteStock, len(d.Sites)),
		Totals:      make([]TypeTotal, len(d.Totals)),
		Boosts:      make([]Boost, len(d.Boosts)),
		GeneratedAt: d.GeneratedAt,
	}
	for i, v := range d.Sites {
		lines := make([]StockLine, len(v.Lines))
		for j, l := range v.Lines {
			lines[j] = StockLine{
				Type:         l.Type.String(),
				Amount:       l.Amount,
				DailyRate:    l.DailyRate,
				Multiplier:   l.Multiplier,
				PercentFull:  l.PercentFull,
				NearCapacity: l.NearCapacity,
				HoursToFull:  l.HoursToFull,
			}
			if l.HoursToFull != nil {
				lines[j].TimeToFull = accrual.FormatHours(*l.HoursToFull)
			}
		}
		out.Sites[i] = SiteStock{Site: toSite(v.Site), Lines: lines}
	}
	for i, t := range d.Totals {
		out.Totals[i] = TypeTotal{
			Type:             t.Type.String(),
			Total:            t.Total,
			Need:             t.Need,
			DailyTotal:       t.DailyTotal,
			Multiplier:       t.Multiplier,
			HourlyThroughput: t.HourlyThroughput,
		}
	}
	for i, b := range d.Boosts {
		out.Boosts[i] = toBoost(b)
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
