// Package transform turns a master trade signal into the command one slave
// pairing should execute. The pipeline is a pure function of the signal, the
// pairing settings and the equity snapshots handed in by the caller; it does
// no I/O and holds no state.
package transform

import (
	"fmt"
	"math"
	"strings"
	"time"

	"relay-core/internal/wire"
	"relay-core/pkg/db"
)

// Input bundles everything one transformation depends on.
type Input struct {
	Signal   wire.TradeSignal
	Settings db.SlaveSettings
	Master   db.MasterSettings

	// Equity snapshots from the latest heartbeats. Zero means unknown.
	// Heartbeat staleness of a few seconds is tolerated on purpose; a
	// synchronous equity fetch would stall signal delivery.
	SlaveEquity  float64
	MasterEquity float64

	Now time.Time
}

// Outcome is the pipeline result for one pairing. Exactly one of Command and
// Suppressed is meaningful. Suppression is not an error; filters fire on
// most signals in normal operation.
type Outcome struct {
	Command    *wire.TradeSignal
	Suppressed bool
	Reason     string
}

func suppress(reason string) Outcome {
	return Outcome{Suppressed: true, Reason: reason}
}

// DefaultLotStep is used when the pairing does not carry a broker lot step.
const DefaultLotStep = 0.01

// Apply runs the pipeline: filter, symbol transform, lot calculation,
// reversal, staleness check, in that order. Close and Modify signals skip
// filtering and lot scaling so an already-copied position can always be
// managed, whatever the current filter settings say.
func Apply(in Input) (Outcome, error) {
	sig := in.Signal

	if sig.Action == wire.ActionOpen {
		if reason, ok := passesFilters(&sig, &in.Settings); !ok {
			return suppress(reason), nil
		}
	}

	sig.Symbol = ConvertSymbol(sig.Symbol, &in.Settings, &in.Master)

	if sig.Action == wire.ActionOpen {
		lots, err := calculateLots(&sig, &in)
		if err != nil {
			return Outcome{}, err
		}
		sig.Lots = lots
	}

	if in.Settings.ReverseTrades {
		reverse(&sig)
	}

	if sig.Action == wire.ActionOpen && in.Settings.MaxSignalDelayMs > 0 {
		age := in.Now.UnixMilli() - sig.Timestamp
		if age > in.Settings.MaxSignalDelayMs {
			if !in.Settings.StaleAsPending {
				return suppress(fmt.Sprintf("signal %dms old exceeds delay limit", age)), nil
			}
			toPending(&sig)
		}
	}

	return Outcome{Command: &sig}, nil
}

func passesFilters(sig *wire.TradeSignal, s *db.SlaveSettings) (string, bool) {
	if !s.CopyPendingOrders && sig.OrderType.IsPending() {
		return "pending orders not copied", false
	}

	f := &s.Filters
	if f.AllowedSymbols != nil && !containsString(f.AllowedSymbols, sig.Symbol) {
		return "symbol not in allow list", false
	}
	if containsString(f.BlockedSymbols, sig.Symbol) {
		return "symbol blocked", false
	}
	if f.AllowedMagicNumbers != nil && !containsInt(f.AllowedMagicNumbers, sig.MagicNumber) {
		return "magic number not in allow list", false
	}
	if containsInt(f.BlockedMagicNumbers, sig.MagicNumber) {
		return "magic number blocked", false
	}
	if f.SourceLotMin != nil && sig.Lots < *f.SourceLotMin {
		return "source lot below minimum", false
	}
	if f.SourceLotMax != nil && sig.Lots > *f.SourceLotMax {
		return "source lot above maximum", false
	}
	return "", true
}

// ConvertSymbol maps a master symbol to the slave broker's name for it:
// strip the master's affixes, look up an explicit mapping, then add the
// slave's affixes. An explicit mapping for the raw source symbol wins
// outright and is used verbatim.
func ConvertSymbol(symbol string, s *db.SlaveSettings, m *db.MasterSettings) string {
	if target, ok := lookupMapping(s.SymbolMappings, symbol); ok {
		return target
	}

	base := symbol
	if m != nil {
		base = strings.TrimPrefix(base, m.SymbolPrefix)
		if m.SymbolSuffix != "" {
			base = strings.TrimSuffix(base, m.SymbolSuffix)
		}
	}

	if target, ok := lookupMapping(s.SymbolMappings, base); ok {
		return target
	}
	return s.SymbolPrefix + base + s.SymbolSuffix
}

func lookupMapping(mappings []wire.SymbolMapping, symbol string) (string, bool) {
	for _, m := range mappings {
		if m.SourceSymbol == symbol {
			return m.TargetSymbol, true
		}
	}
	return "", false
}

func calculateLots(sig *wire.TradeSignal, in *Input) (float64, error) {
	var lots float64
	switch in.Settings.LotMode {
	case wire.LotModeMarginRatio:
		if in.MasterEquity <= 0 || in.SlaveEquity <= 0 {
			return 0, fmt.Errorf("margin ratio sizing needs equity snapshots (master=%.2f slave=%.2f)",
				in.MasterEquity, in.SlaveEquity)
		}
		lots = sig.Lots * (in.SlaveEquity / in.MasterEquity)
	case wire.LotModeMultiplier, "":
		mult := in.Settings.LotMultiplier
		if mult <= 0 {
			mult = 1.0
		}
		lots = sig.Lots * mult
	default:
		return 0, fmt.Errorf("unknown lot calculation mode %q", in.Settings.LotMode)
	}

	step := in.Settings.LotStep
	if step <= 0 {
		step = DefaultLotStep
	}
	lots = math.Round(lots/step) * step
	if lots < step {
		lots = step
	}
	if in.Settings.MaxLotSize > 0 && lots > in.Settings.MaxLotSize {
		lots = in.Settings.MaxLotSize
	}
	// Kill float noise from the division above.
	return math.Round(lots*1e8) / 1e8, nil
}

// reverse flips the order side and mirrors SL/TP to the opposite side of the
// open price, preserving their distances.
func reverse(sig *wire.TradeSignal) {
	sig.OrderType = sig.OrderType.Reverse()
	if sig.Action != wire.ActionOpen && sig.Action != wire.ActionModify {
		return
	}
	if sig.StopLoss != nil {
		v := 2*sig.OpenPrice - *sig.StopLoss
		sig.StopLoss = &v
	}
	if sig.TakeProfit != nil {
		v := 2*sig.OpenPrice - *sig.TakeProfit
		sig.TakeProfit = &v
	}
}

// toPending converts a market open into a limit order at the master's price,
// so a late copy fills only if the market comes back to where the master
// entered.
func toPending(sig *wire.TradeSignal) {
	switch sig.OrderType {
	case wire.OrderBuy:
		sig.OrderType = wire.OrderBuyLimit
	case wire.OrderSell:
		sig.OrderType = wire.OrderSellLimit
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int64, v int64) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}
