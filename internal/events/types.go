package events

import "relay-core/internal/wire"

// Event enumerates high-level topics inside the relay core.
type Event string

const (
	EventConnectionChange Event = "connection.change"
	EventStatusChange     Event = "status.change"
	EventTradeRelayed     Event = "trade.relayed"
	EventTradeSuppressed  Event = "trade.suppressed"
	EventConfigPushed     Event = "config.pushed"
	EventSendFailure      Event = "send.failure"
	EventActivity         Event = "activity"
)

// ConnectionChange is published on register, heartbeat timeout and unregister.
type ConnectionChange struct {
	AccountID string    `json:"account_id"`
	Role      wire.Role `json:"role"`
	State     string    `json:"state"`
	Timestamp int64     `json:"timestamp"`
}

// StatusChange is published whenever a pairing's evaluated status moves.
type StatusChange struct {
	GroupID      int64              `json:"group_id"`
	SlaveAccount string             `json:"slave_account"`
	OldStatus    int                `json:"old_status"`
	NewStatus    int                `json:"new_status"`
	Warnings     []wire.WarningCode `json:"warnings"`
	Timestamp    int64              `json:"timestamp"`
}

// TradeRelayed reports a signal delivered to one slave.
type TradeRelayed struct {
	SourceAccount string           `json:"source_account"`
	TargetAccount string           `json:"target_account"`
	Action        wire.TradeAction `json:"action"`
	Ticket        int64            `json:"ticket"`
	Symbol        string           `json:"symbol"`
	Lots          float64          `json:"lots"`
	Timestamp     int64            `json:"timestamp"`
}

// TradeSuppressed reports a signal dropped by the transform pipeline.
type TradeSuppressed struct {
	SourceAccount string           `json:"source_account"`
	TargetAccount string           `json:"target_account"`
	Action        wire.TradeAction `json:"action"`
	Ticket        int64            `json:"ticket"`
	Reason        string           `json:"reason"`
	Timestamp     int64            `json:"timestamp"`
}

// ConfigPushed reports a config message delivered to a terminal.
type ConfigPushed struct {
	AccountID     string    `json:"account_id"`
	Role          wire.Role `json:"role"`
	ConfigVersion int64     `json:"config_version"`
	Status        int       `json:"status"`
	Timestamp     int64     `json:"timestamp"`
}

// SendFailure reports a publish that exhausted its retries.
type SendFailure struct {
	TargetAccount string `json:"target_account"`
	Kind          string `json:"kind"`
	Error         string `json:"error"`
	Timestamp     int64  `json:"timestamp"`
}

// Activity is a human-readable audit entry mirrored to the activity log.
type Activity struct {
	Category  string `json:"category"`
	Message   string `json:"message"`
	AccountID string `json:"account_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
