package wire

import (
	"sort"
	"strings"
)

// Role identifies which side of a copy pairing a terminal plays.
type Role string

const (
	RoleMaster Role = "Master"
	RoleSlave  Role = "Slave"
)

// ParseRole returns the Role for s, or false when s is not a known role.
// Matching ignores case: the wire protocol capitalizes roles, query
// parameters and CLI flags usually do not.
func ParseRole(s string) (Role, bool) {
	switch {
	case strings.EqualFold(s, string(RoleMaster)):
		return RoleMaster, true
	case strings.EqualFold(s, string(RoleSlave)):
		return RoleSlave, true
	default:
		return "", false
	}
}

// TradeAction is the verb carried by a TradeSignal.
type TradeAction string

const (
	ActionOpen   TradeAction = "Open"
	ActionModify TradeAction = "Modify"
	ActionClose  TradeAction = "Close"
)

// OrderType covers market and pending order kinds.
type OrderType string

const (
	OrderBuy       OrderType = "Buy"
	OrderSell      OrderType = "Sell"
	OrderBuyLimit  OrderType = "BuyLimit"
	OrderSellLimit OrderType = "SellLimit"
	OrderBuyStop   OrderType = "BuyStop"
	OrderSellStop  OrderType = "SellStop"
)

// IsPending reports whether the order type is a pending (limit/stop) order.
func (o OrderType) IsPending() bool {
	switch o {
	case OrderBuyLimit, OrderSellLimit, OrderBuyStop, OrderSellStop:
		return true
	}
	return false
}

// Reverse maps an order type to its opposite side. Unknown types map to themselves.
func (o OrderType) Reverse() OrderType {
	switch o {
	case OrderBuy:
		return OrderSell
	case OrderSell:
		return OrderBuy
	case OrderBuyLimit:
		return OrderSellLimit
	case OrderSellLimit:
		return OrderBuyLimit
	case OrderBuyStop:
		return OrderSellStop
	case OrderSellStop:
		return OrderBuyStop
	}
	return o
}

// LotCalculationMode selects how a slave's lot size is derived.
type LotCalculationMode string

const (
	LotModeMultiplier  LotCalculationMode = "multiplier"
	LotModeMarginRatio LotCalculationMode = "margin_ratio"
)

// SyncMode selects how pre-existing master positions are reconciled when a
// pairing activates.
type SyncMode string

const (
	SyncSkip        SyncMode = "skip"
	SyncLimitOrder  SyncMode = "limit_order"
	SyncMarketOrder SyncMode = "market_order"
)

// Runtime status values shared between the relay and the terminals.
const (
	StatusDisabled  = 0
	StatusEnabled   = 1
	StatusConnected = 2
)

// WarningCode tags a degraded pairing evaluation. Purely informational; codes
// never affect relay correctness.
type WarningCode string

const (
	WarnSlaveWebUIDisabled        WarningCode = "slave_web_ui_disabled"
	WarnSlaveOffline              WarningCode = "slave_offline"
	WarnSlaveAutoTradingDisabled  WarningCode = "slave_auto_trading_disabled"
	WarnMasterWebUIDisabled       WarningCode = "master_web_ui_disabled"
	WarnMasterOffline             WarningCode = "master_offline"
	WarnMasterAutoTradingDisabled WarningCode = "master_auto_trading_disabled"
	WarnNoMasterAssigned          WarningCode = "no_master_assigned"
	WarnMasterClusterDegraded     WarningCode = "master_cluster_degraded"
)

// Priority returns the display rank of a warning code. Lower ranks first:
// slave-side issues are actionable by the user directly, master-side issues
// next, configuration issues last.
func (w WarningCode) Priority() int {
	switch w {
	case WarnSlaveWebUIDisabled:
		return 10
	case WarnSlaveOffline:
		return 20
	case WarnSlaveAutoTradingDisabled:
		return 30
	case WarnMasterWebUIDisabled:
		return 40
	case WarnMasterOffline:
		return 50
	case WarnMasterAutoTradingDisabled:
		return 60
	case WarnNoMasterAssigned:
		return 70
	case WarnMasterClusterDegraded:
		return 80
	}
	return 100
}

// SortWarnings orders codes by priority in place.
func SortWarnings(codes []WarningCode) {
	sort.Slice(codes, func(i, j int) bool {
		return codes[i].Priority() < codes[j].Priority()
	})
}

// SymbolMapping maps a master symbol to the slave broker's name for it.
type SymbolMapping struct {
	SourceSymbol string `msgpack:"source_symbol" json:"source_symbol"`
	TargetSymbol string `msgpack:"target_symbol" json:"target_symbol"`
}

// TradeFilters holds allow/block lists. A nil allow list means "allow all";
// an empty non-nil allow list blocks everything.
type TradeFilters struct {
	AllowedSymbols      []string `msgpack:"allowed_symbols,omitempty" json:"allowed_symbols,omitempty"`
	BlockedSymbols      []string `msgpack:"blocked_symbols,omitempty" json:"blocked_symbols,omitempty"`
	AllowedMagicNumbers []int64  `msgpack:"allowed_magic_numbers,omitempty" json:"allowed_magic_numbers,omitempty"`
	BlockedMagicNumbers []int64  `msgpack:"blocked_magic_numbers,omitempty" json:"blocked_magic_numbers,omitempty"`
	SourceLotMin        *float64 `msgpack:"source_lot_min,omitempty" json:"source_lot_min,omitempty"`
	SourceLotMax        *float64 `msgpack:"source_lot_max,omitempty" json:"source_lot_max,omitempty"`
}
