package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/api"
	"github.com/iSwxkzyEU/sk-trade/internal/constants"
	fxmodules "github.com/iSwxkzyEU/sk-trade/internal/fx"
	"github.com/iSwxkzyEU/sk-trade/internal/report"
	"github.com/iSwxkzyEU/sk-trade/internal/service"

	"github.com/fatih/color"
	"github.com/jmoiron/sqlx"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

type app struct {
	players *service.PlayerService
	stock   *service.StockService
	trades  *service.TradeService
	webhook *api.WebhookClient
	db      *sqlx.DB
}

var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "skctl",
		Short: "Stronghold banquet stock tracker",
		Long: `Reads and publishes banquet stock reports straight from the tracker
database. DB_PATH, WEBHOOK_URL and TUNING_PATH are read from the
environment or a .env file, as for the server.`,
		SilenceUsage: true,
	}

	for _, kind := range report.Kinds {
		rootCmd.AddCommand(reportCmd(kind))
	}
	rootCmd.AddCommand(
		publishCmd(),
		playersCmd(),
		tradesCmd(),
		backfillCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp builds the core graph quietly, runs fn and closes the database.
func withApp(fn func(ctx context.Context, a *app) error) error {
	var a app
	fxApp := fx.New(
		fxmodules.Core,
		fx.NopLogger,
		fx.Decorate(func(l zerolog.Logger) zerolog.Logger {
			return l.Level(zerolog.WarnLevel)
		}),
		fx.Populate(&a.players, &a.stock, &a.trades, &a.webhook, &a.db),
	)
	if err := fxApp.Err(); err != nil {
		return err
	}
	defer a.db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), constants.RequestTimeout)
	defer cancel()
	return fn(ctx, &a)
}

func dashboards(ctx context.Context, a *app, player string) ([]service.Dashboard, error) {
	if player == "" {
		return a.stock.Dashboards(ctx)
	}
	p, err := a.players.FindPlayer(ctx, player)
	if err != nil {
		return nil, err
	}
	d, err := a.stock.Dashboard(ctx, p.ID, nil)
	if err != nil {
		return nil, err
	}
	return []service.Dashboard{*d}, nil
}

func kindNames() string {
	names := make([]string, len(report.Kinds))
	for i, k := range report.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, "|")
}

var kindShort = map[report.Kind]string{
	report.KindStock:  "Print the current stock of every site",
	report.KindTemps:  "Print the time left until each stock is full",
	report.KindBesoin: "Print what each site still needs for its banquet",
}

func reportCmd(kind report.Kind) *cobra.Command {
	var player string
	cmd := &cobra.Command{
		Use:   string(kind),
		Short: kindShort[kind],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				ds, err := dashboards(ctx, a, player)
				if err != nil {
					return err
				}
				text, err := report.Render(kind, ds)
				if err != nil {
					return err
				}
				fmt.Println(text)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&player, "player", "p", "", "restrict to one player by name")
	return cmd
}

func publishCmd() *cobra.Command {
	var player string
	cmd := &cobra.Command{
		Use:   "publish <" + kindNames() + ">",
		Short: "Post a stock report to the configured webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := report.ParseKind(args[0])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				if !a.webhook.Enabled() {
					return api.ErrWebhookDisabled
				}
				ds, err := dashboards(ctx, a, player)
				if err != nil {
					return err
				}
				text, err := report.Render(kind, ds)
				if err != nil {
					return err
				}
				if err := a.webhook.Post(ctx, text); err != nil {
					return err
				}
				successColor.Printf("✓ %s report published\n", kind)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&player, "player", "p", "", "restrict to one player by name")
	return cmd
}

func playersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "players",
		Short: "List players and their sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				players, err := a.players.ListPlayers(ctx)
				if err != nil {
					return err
				}
				if len(players) == 0 {
					warnColor.Println("no players")
					return nil
				}

				table := tablewriter.NewTable(os.Stdout,
					tablewriter.WithHeader([]string{"Player", "Capacity", "Sites"}),
				)
				for _, p := range players {
					sites, err := a.players.ListSites(ctx, p.ID)
					if err != nil {
						return err
					}
					names := make([]string, len(sites))
					for i, s := range sites {
						names[i] = s.Name
					}
					_ = table.Append([]string{p.Name, fmt.Sprintf("%d", p.Capacity), strings.Join(names, ", ")})
				}
				return table.Render()
			})
		},
	}
}

func tradesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show the most recent trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				trades, err := a.trades.ListTrades(ctx, limit)
				if err != nil {
					return err
				}
				titleColor.Printf("%d trade(s)\n", len(trades))
				table := tablewriter.NewTable(os.Stdout,
					tablewriter.WithHeader([]string{"When", "From", "To", "Type", "Amount"}),
				)
				for _, t := range trades {
					_ = table.Append([]string{
						t.CreatedAt.Local().Format(time.DateTime),
						orDeleted(t.FromPlayerName),
						orDeleted(t.ToPlayerName),
						t.Type.String(),
						fmt.Sprintf("%.0f", t.Amount),
					})
				}
				return table.Render()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of trades (0 uses the configured default)")
	return cmd
}

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Create missing rate and snapshot rows for every site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				res, err := a.players.Backfill(ctx)
				if err != nil {
					return err
				}
				successColor.Printf("✓ %d site(s) checked: %d rate(s), %d snapshot(s) created\n",
					res.Sites, res.Rates, res.Snapshots)
				return nil
			})
		},
	}
}

func orDeleted(name string) string {
	if name == "" {
		return "(deleted)"
	}
	return name
}
