package db

import (
	"time"

	"relay-core/internal/wire"
)

// TradeGroup is one master account and its copy settings.
type TradeGroup struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	MasterAccount  string         `json:"master_account"`
	Enabled        bool           `json:"enabled"`
	MasterSettings MasterSettings `json:"master_settings"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MasterSettings is the JSON blob stored per group. ConfigVersion increases
// monotonically on every settings mutation; terminals discard config messages
// with an older version than the one they hold.
type MasterSettings struct {
	ConfigVersion int64  `json:"config_version"`
	SymbolPrefix  string `json:"symbol_prefix,omitempty"`
	SymbolSuffix  string `json:"symbol_suffix,omitempty"`
}

// Member is one slave pairing inside a group. Status is a cache of the last
// status evaluation, refreshed on every re-evaluation; it is never the
// source of truth.
type Member struct {
	ID           int64         `json:"id"`
	GroupID      int64         `json:"group_id"`
	SlaveAccount string        `json:"slave_account"`
	Settings     SlaveSettings `json:"slave_settings"`
	Status       int           `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SlaveSettings is the JSON blob stored per pairing.
type SlaveSettings struct {
	ConfigVersion     int64                   `json:"config_version"`
	Enabled           bool                    `json:"enabled"`
	LotMode           wire.LotCalculationMode `json:"lot_calculation_mode"`
	LotMultiplier     float64                 `json:"lot_multiplier"`
	LotStep           float64                 `json:"lot_step,omitempty"`
	MaxLotSize        float64                 `json:"max_lot_size,omitempty"`
	ReverseTrades     bool                    `json:"reverse_trades"`
	CopyPendingOrders bool                    `json:"copy_pending_orders"`
	SymbolPrefix      string                  `json:"symbol_prefix,omitempty"`
	SymbolSuffix      string                  `json:"symbol_suffix,omitempty"`
	SymbolMappings    []wire.SymbolMapping    `json:"symbol_mappings,omitempty"`
	Filters           wire.TradeFilters       `json:"filters"`
	SyncMode          wire.SyncMode           `json:"sync_mode"`
	MarketSyncMaxPips float64                 `json:"market_sync_max_pips,omitempty"`
	LimitOrderExpiry  int                     `json:"limit_order_expiry_min,omitempty"`
	MaxSignalDelayMs  int64                   `json:"max_signal_delay_ms,omitempty"`
	StaleAsPending    bool                    `json:"use_pending_order_for_delayed,omitempty"`
}

// DefaultSlaveSettings returns the settings a new pairing starts with.
func DefaultSlaveSettings() SlaveSettings {
	return SlaveSettings{
		Enabled:           false,
		LotMode:           wire.LotModeMultiplier,
		LotMultiplier:     1.0,
		LotStep:           0.01,
		CopyPendingOrders: true,
		SyncMode:          wire.SyncSkip,
		MaxSignalDelayMs:  30000,
	}
}

// User is a dashboard account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ActivityEntry is an append-only audit record.
type ActivityEntry struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	AccountID string    `json:"account_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SendFailure is a dead-lettered outbound message.
type SendFailure struct {
	ID            int64     `json:"id"`
	TargetAccount string    `json:"target_account"`
	MessageKind   string    `json:"message_kind"`
	Payload       []byte    `json:"-"`
	Error         string    `json:"error"`
	RetryCount    int       `json:"retry_count"`
	CreatedAt     time.Time `json:"created_at"`
}
