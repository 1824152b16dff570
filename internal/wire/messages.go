package wire

// Message kinds carried in the "message_type" discriminator field. TradeSignal
// frames have no message_type and are identified by their "action" field.
const (
	KindRegister         = "Register"
	KindUnregister       = "Unregister"
	KindHeartbeat        = "Heartbeat"
	KindRequestConfig    = "RequestConfig"
	KindPositionSnapshot = "PositionSnapshot"
	KindSyncRequest      = "SyncRequest"
	KindSlaveConfig      = "SlaveConfig"
	KindMasterConfig     = "MasterConfig"
)

// Register announces a terminal to the relay.
type Register struct {
	MessageType string `msgpack:"message_type" json:"message_type"`
	AccountID   string `msgpack:"account_id" json:"account_id"`
	Role        Role   `msgpack:"role" json:"role"`
	Broker      string `msgpack:"broker,omitempty" json:"broker,omitempty"`
	Platform    string `msgpack:"platform,omitempty" json:"platform,omitempty"`
	Timestamp   int64  `msgpack:"timestamp" json:"timestamp"`
}

// Unregister is sent on clean terminal shutdown.
type Unregister struct {
	MessageType string `msgpack:"message_type" json:"message_type"`
	AccountID   string `msgpack:"account_id" json:"account_id"`
	Role        Role   `msgpack:"role" json:"role"`
	Timestamp   int64  `msgpack:"timestamp" json:"timestamp"`
}

// Heartbeat carries liveness plus the account state used for status
// evaluation and margin-ratio lot sizing. It holds full identity so a relay
// restart can re-register a terminal from its next heartbeat alone.
type Heartbeat struct {
	MessageType    string  `msgpack:"message_type" json:"message_type"`
	AccountID      string  `msgpack:"account_id" json:"account_id"`
	Role           Role    `msgpack:"role" json:"role"`
	Broker         string  `msgpack:"broker,omitempty" json:"broker,omitempty"`
	Platform       string  `msgpack:"platform,omitempty" json:"platform,omitempty"`
	Balance        float64 `msgpack:"balance" json:"balance"`
	Equity         float64 `msgpack:"equity" json:"equity"`
	OpenPositions  int     `msgpack:"open_positions" json:"open_positions"`
	IsTradeAllowed bool    `msgpack:"is_trade_allowed" json:"is_trade_allowed"`
	Timestamp      int64   `msgpack:"timestamp" json:"timestamp"`
}

// TradeSignal is a master trade event. Identified on the wire by its action
// field. CloseRatio, when set on a Close, requests a partial close of that
// fraction of the position.
type TradeSignal struct {
	Action        TradeAction `msgpack:"action" json:"action"`
	Ticket        int64       `msgpack:"ticket" json:"ticket"`
	Symbol        string      `msgpack:"symbol" json:"symbol"`
	OrderType     OrderType   `msgpack:"order_type" json:"order_type"`
	Lots          float64     `msgpack:"lots" json:"lots"`
	OpenPrice     float64     `msgpack:"open_price" json:"open_price"`
	StopLoss      *float64    `msgpack:"stop_loss,omitempty" json:"stop_loss,omitempty"`
	TakeProfit    *float64    `msgpack:"take_profit,omitempty" json:"take_profit,omitempty"`
	CloseRatio    *float64    `msgpack:"close_ratio,omitempty" json:"close_ratio,omitempty"`
	Expiry        int64       `msgpack:"expiry,omitempty" json:"expiry,omitempty"`
	MagicNumber   int64       `msgpack:"magic_number" json:"magic_number"`
	Comment       string      `msgpack:"comment,omitempty" json:"comment,omitempty"`
	SourceAccount string      `msgpack:"source_account" json:"source_account"`
	Timestamp     int64       `msgpack:"timestamp" json:"timestamp"`
}

// RequestConfig asks the relay to push a fresh config message.
type RequestConfig struct {
	MessageType string `msgpack:"message_type" json:"message_type"`
	AccountID   string `msgpack:"account_id" json:"account_id"`
	Role        Role   `msgpack:"role" json:"role"`
	Timestamp   int64  `msgpack:"timestamp" json:"timestamp"`
}

// PositionInfo describes one open position in a snapshot. CurrentPrice lets
// the relay judge market-sync price deviation without a quote feed.
type PositionInfo struct {
	Ticket       int64     `msgpack:"ticket" json:"ticket"`
	Symbol       string    `msgpack:"symbol" json:"symbol"`
	OrderType    OrderType `msgpack:"order_type" json:"order_type"`
	Lots         float64   `msgpack:"lots" json:"lots"`
	OpenPrice    float64   `msgpack:"open_price" json:"open_price"`
	CurrentPrice float64   `msgpack:"current_price" json:"current_price"`
	StopLoss     *float64  `msgpack:"stop_loss,omitempty" json:"stop_loss,omitempty"`
	TakeProfit   *float64  `msgpack:"take_profit,omitempty" json:"take_profit,omitempty"`
	MagicNumber  int64     `msgpack:"magic_number" json:"magic_number"`
	OpenTime     int64     `msgpack:"open_time" json:"open_time"`
}

// PositionSnapshot is the master's periodic full list of open positions.
type PositionSnapshot struct {
	MessageType string         `msgpack:"message_type" json:"message_type"`
	AccountID   string         `msgpack:"account_id" json:"account_id"`
	Positions   []PositionInfo `msgpack:"positions" json:"positions"`
	Timestamp   int64          `msgpack:"timestamp" json:"timestamp"`
}

// SyncRequest is a slave asking its master for a position snapshot.
type SyncRequest struct {
	MessageType   string `msgpack:"message_type" json:"message_type"`
	AccountID     string `msgpack:"account_id" json:"account_id"`
	MasterAccount string `msgpack:"master_account" json:"master_account"`
	Timestamp     int64  `msgpack:"timestamp" json:"timestamp"`
}

// SlaveConfig is pushed to slave terminals whenever their effective
// configuration or status changes.
type SlaveConfig struct {
	MessageType       string             `msgpack:"message_type" json:"message_type"`
	AccountID         string             `msgpack:"account_id" json:"account_id"`
	MasterAccount     string             `msgpack:"master_account" json:"master_account"`
	ConfigVersion     int64              `msgpack:"config_version" json:"config_version"`
	Status            int                `msgpack:"status" json:"status"`
	WarningCodes      []WarningCode      `msgpack:"warning_codes" json:"warning_codes"`
	AllowNewOrders    bool               `msgpack:"allow_new_orders" json:"allow_new_orders"`
	MasterEquity      *float64           `msgpack:"master_equity,omitempty" json:"master_equity,omitempty"`
	LotMode           LotCalculationMode `msgpack:"lot_calculation_mode" json:"lot_calculation_mode"`
	LotMultiplier     float64            `msgpack:"lot_multiplier" json:"lot_multiplier"`
	MaxLotSize        float64            `msgpack:"max_lot_size,omitempty" json:"max_lot_size,omitempty"`
	ReverseTrades     bool               `msgpack:"reverse_trades" json:"reverse_trades"`
	CopyPendingOrders bool               `msgpack:"copy_pending_orders" json:"copy_pending_orders"`
	SymbolPrefix      string             `msgpack:"symbol_prefix,omitempty" json:"symbol_prefix,omitempty"`
	SymbolSuffix      string             `msgpack:"symbol_suffix,omitempty" json:"symbol_suffix,omitempty"`
	SymbolMappings    []SymbolMapping    `msgpack:"symbol_mappings,omitempty" json:"symbol_mappings,omitempty"`
	Filters           TradeFilters       `msgpack:"filters" json:"filters"`
	SyncMode          SyncMode           `msgpack:"sync_mode" json:"sync_mode"`
	Timestamp         int64              `msgpack:"timestamp" json:"timestamp"`
}

// MasterConfig is pushed to master terminals: status plus the symbol
// affixes the master should strip before publishing signals.
type MasterConfig struct {
	MessageType   string        `msgpack:"message_type" json:"message_type"`
	AccountID     string        `msgpack:"account_id" json:"account_id"`
	ConfigVersion int64         `msgpack:"config_version" json:"config_version"`
	Status        int           `msgpack:"status" json:"status"`
	WarningCodes  []WarningCode `msgpack:"warning_codes" json:"warning_codes"`
	SymbolPrefix  string        `msgpack:"symbol_prefix,omitempty" json:"symbol_prefix,omitempty"`
	SymbolSuffix  string        `msgpack:"symbol_suffix,omitempty" json:"symbol_suffix,omitempty"`
	Timestamp     int64         `msgpack:"timestamp" json:"timestamp"`
}
