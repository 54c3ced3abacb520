// Package report renders dashboards as chat messages.
package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/iSwxkzyEU/sk-trade/internal/accrual"
	"github.com/iSwxkzyEU/sk-trade/internal/domain"
	"github.com/iSwxkzyEU/sk-trade/internal/service"
)

type Kind string

const (
	KindStock  Kind = "stock"
	KindTemps  Kind = "temps"
	KindBesoin Kind = "besoin"
)

var Kinds = []Kind{KindStock, KindTemps, KindBesoin}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown report %q", domain.ErrValidation, s)
}

const noSites = "Aucun village."

// Render dispatches on kind.
func Render(kind Kind, ds []service.Dashboard) (string, error) {
	switch kind {
	case KindStock:
		return Stock(ds), nil
	case KindTemps:
		return TimeToFull(ds), nil
	case KindBesoin:
		return Needs(ds), nil
	}
	return "", fmt.Errorf("%w: unknown report %q", domain.ErrValidation, kind)
}

// Stock lists every site's amounts with percent of capacity and the active
// multiplier.
func Stock(ds []service.Dashboard) string {
	if !hasSites(ds) {
		return noSites
	}

	var b strings.Builder
	b.WriteString("**STOCKS**\n")
	for _, d := range ds {
		if len(d.Sites) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n**%s** (%d)\n", d.Player.Name, d.Player.Capacity)
		for _, v := range d.Sites {
			fmt.Fprintf(&b, "%s\n```\n", v.Site.Name)
			for _, l := range v.Lines {
				cur := math.Floor(l.Amount)
				pct := 0.0
				if d.Player.Capacity > 0 {
					pct = math.Round(cur / float64(d.Player.Capacity) * 100)
				}
				bar := fmt.Sprintf("%.0f%%", pct)
				if pct >= 100 {
					bar = "FULL"
				}
				mult := ""
				if l.Multiplier > 1 {
					mult = fmt.Sprintf("x%d", l.Multiplier)
				}
				fmt.Fprintf(&b, "%-9s %5.0f %4s %s\n", l.Type, cur, bar, mult)
			}
			b.WriteString("```\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// TimeToFull lists the time before each line reaches capacity.
func TimeToFull(ds []service.Dashboard) string {
	if !hasSites(ds) {
		return noSites
	}

	var b strings.Builder
	b.WriteString("**TEMPS AVANT FULL**\n")
	for _, d := range ds {
		if len(d.Sites) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n**%s**\n", d.Player.Name)
		for _, v := range d.Sites {
			fmt.Fprintf(&b, "**%s**\n```\n", v.Site.Name)
			for _, l := range v.Lines {
				cur := math.Floor(l.Amount)
				eta := "pas de prod"
				if cur >= float64(d.Player.Capacity) {
					eta = "PLEIN"
				} else if h, ok := accrual.TimeToFull(cur, d.Player.Capacity, l.DailyRate, l.Multiplier); ok {
					eta = accrual.FormatHours(h)
				}
				mult := ""
				if l.Multiplier > 1 {
					mult = fmt.Sprintf(" (x%d)", l.Multiplier)
				}
				fmt.Fprintf(&b, "%-10s %11s%s\n", l.Type, eta, mult)
			}
			b.WriteString("```\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// Needs lists, per site, what is missing to fill every type.
func Needs(ds []service.Dashboard) string {
	if !hasSites(ds) {
		return noSites
	}

	var b strings.Builder
	first := true
	for _, d := range ds {
		for _, v := range d.Sites {
			if !first {
				b.WriteString("\n——————————————————\n\n")
			}
			first = false

			var needs []string
			for _, l := range v.Lines {
				if need := math.Max(0, float64(d.Player.Capacity)-math.Floor(l.Amount)); need > 0 {
					needs = append(needs, fmt.Sprintf("%s: %.0f", l.Type, need))
				}
			}
			if len(needs) == 0 {
				fmt.Fprintf(&b, "**%s** — All full!\n", v.Site.Name)
				continue
			}
			b.WriteString("Hey I need this to complete my banquet:\n")
			fmt.Fprintf(&b, "**%s**\n%s\n", v.Site.Name, strings.Join(needs, "\n"))
		}
	}
	return strings.TrimSpace(b.String())
}

func hasSites(ds []service.Dashboard) bool {
	for _, d := range ds {
		if len(d.Sites) > 0 {
			return true
		}
	}
	return false
}
