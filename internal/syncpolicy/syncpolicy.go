// Package syncpolicy reconciles a master's pre-existing open positions onto a
// slave when its pairing activates. It runs exactly once per activation edge,
// never on ordinary signal traffic.
package syncpolicy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"relay-core/internal/transform"
	"relay-core/internal/wire"
	"relay-core/pkg/db"
)

// PipSize returns the price increment of one pip for a symbol. JPY-quoted
// pairs tick in hundredths, everything else in ten-thousandths.
func PipSize(symbol string) float64 {
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		return 0.01
	}
	return 0.0001
}

// Skip records one position the engine chose not to synchronize.
type Skip struct {
	Ticket int64
	Symbol string
	Reason string
}

// Result holds the synthesized commands plus the positions skipped with the
// reason for each. Skips are warnings, never errors.
type Result struct {
	Commands []wire.TradeSignal
	Skipped  []Skip
}

// Plan builds the sync commands for one activation. Every synthesized order
// runs through the transform pipeline, so filters, symbol mapping, lot
// sizing and reversal apply exactly as they would to a live signal.
func Plan(positions []wire.PositionInfo, masterAccount string, settings db.SlaveSettings,
	master db.MasterSettings, slaveEquity, masterEquity float64, now time.Time) Result {

	var res Result
	if settings.SyncMode == wire.SyncSkip || settings.SyncMode == "" {
		return res
	}

	for _, pos := range positions {
		sig, skip := synthesize(pos, masterAccount, settings, now)
		if skip != nil {
			res.Skipped = append(res.Skipped, *skip)
			continue
		}

		out, err := transform.Apply(transform.Input{
			Signal:       *sig,
			Settings:     settings,
			Master:       master,
			SlaveEquity:  slaveEquity,
			MasterEquity: masterEquity,
			Now:          now,
		})
		if err != nil {
			res.Skipped = append(res.Skipped, Skip{Ticket: pos.Ticket, Symbol: pos.Symbol, Reason: err.Error()})
			continue
		}
		if out.Suppressed {
			res.Skipped = append(res.Skipped, Skip{Ticket: pos.Ticket, Symbol: pos.Symbol, Reason: out.Reason})
			continue
		}
		res.Commands = append(res.Commands, *out.Command)
	}
	return res
}

func synthesize(pos wire.PositionInfo, masterAccount string, settings db.SlaveSettings, now time.Time) (*wire.TradeSignal, *Skip) {
	sig := wire.TradeSignal{
		Action:        wire.ActionOpen,
		Ticket:        pos.Ticket,
		Symbol:        pos.Symbol,
		Lots:          pos.Lots,
		OpenPrice:     pos.OpenPrice,
		StopLoss:      pos.StopLoss,
		TakeProfit:    pos.TakeProfit,
		MagicNumber:   pos.MagicNumber,
		SourceAccount: masterAccount,
		Timestamp:     now.UnixMilli(),
		Comment:       fmt.Sprintf("sync #%d", pos.Ticket),
	}

	switch settings.SyncMode {
	case wire.SyncLimitOrder:
		// A pending order at the master's entry fills only if the market
		// returns there. Expiry of zero means good-til-cancelled.
		sig.OrderType = toLimit(pos.OrderType)
		if settings.LimitOrderExpiry > 0 {
			sig.Expiry = now.Add(time.Duration(settings.LimitOrderExpiry) * time.Minute).UnixMilli()
		}

	case wire.SyncMarketOrder:
		maxPips := settings.MarketSyncMaxPips
		if maxPips > 0 {
			deviation := math.Abs(pos.CurrentPrice-pos.OpenPrice) / PipSize(pos.Symbol)
			if deviation > maxPips {
				return nil, &Skip{
					Ticket: pos.Ticket,
					Symbol: pos.Symbol,
					Reason: fmt.Sprintf("price deviation %.1f pips exceeds limit %.1f", deviation, maxPips),
				}
			}
		}
		sig.OrderType = pos.OrderType

	default:
		return nil, &Skip{Ticket: pos.Ticket, Symbol: pos.Symbol,
			Reason: fmt.Sprintf("unknown sync mode %q", settings.SyncMode)}
	}
	return &sig, nil
}

func toLimit(ot wire.OrderType) wire.OrderType {
	switch ot {
	case wire.OrderBuy:
		return wire.OrderBuyLimit
	case wire.OrderSell:
		return wire.OrderSellLimit
	}
	return ot
}
