package wire

import (
	"errors"
	"testing"
)

func TestDecodeDispatch(t *testing.T) {
	sl := 1.0850
	tests := []struct {
		name string
		msg  interface{}
	}{
		{"register", &Register{MessageType: KindRegister, AccountID: "12345", Role: RoleMaster, Timestamp: 1700000000000}},
		{"heartbeat", &Heartbeat{MessageType: KindHeartbeat, AccountID: "12345", Role: RoleSlave, Equity: 5000, IsTradeAllowed: true, Timestamp: 1700000000000}},
		{"unregister", &Unregister{MessageType: KindUnregister, AccountID: "12345", Role: RoleSlave}},
		{"request_config", &RequestConfig{MessageType: KindRequestConfig, AccountID: "67890", Role: RoleSlave}},
		{"sync_request", &SyncRequest{MessageType: KindSyncRequest, AccountID: "67890", MasterAccount: "12345"}},
		{"snapshot", &PositionSnapshot{MessageType: KindPositionSnapshot, AccountID: "12345", Positions: []PositionInfo{
			{Ticket: 42, Symbol: "EURUSD", OrderType: OrderBuy, Lots: 0.10, OpenPrice: 1.0900, CurrentPrice: 1.0910},
		}}},
		{"slave_config", &SlaveConfig{MessageType: KindSlaveConfig, AccountID: "67890", MasterAccount: "12345", ConfigVersion: 3, Status: StatusConnected, WarningCodes: []WarningCode{}, AllowNewOrders: true, LotMode: LotModeMultiplier, LotMultiplier: 0.5}},
		{"master_config", &MasterConfig{MessageType: KindMasterConfig, AccountID: "12345", ConfigVersion: 2, Status: StatusConnected, WarningCodes: []WarningCode{WarnMasterOffline}, SymbolSuffix: ".pro"}},
		{"trade_open", &TradeSignal{Action: ActionOpen, Ticket: 42, Symbol: "EURUSD", OrderType: OrderBuy, Lots: 0.10, OpenPrice: 1.0900, StopLoss: &sl, SourceAccount: "12345"}},
		{"trade_close", &TradeSignal{Action: ActionClose, Ticket: 42, Symbol: "EURUSD", OrderType: OrderBuy, SourceAccount: "12345"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			switch want := tt.msg.(type) {
			case *Register:
				r, ok := got.(*Register)
				if !ok {
					t.Fatalf("expected *Register, got %T", got)
				}
				if r.AccountID != want.AccountID || r.Role != want.Role {
					t.Errorf("round trip mismatch: got %+v want %+v", r, want)
				}
			case *Heartbeat:
				h, ok := got.(*Heartbeat)
				if !ok {
					t.Fatalf("expected *Heartbeat, got %T", got)
				}
				if h.Equity != want.Equity || !h.IsTradeAllowed {
					t.Errorf("round trip mismatch: got %+v", h)
				}
			case *TradeSignal:
				s, ok := got.(*TradeSignal)
				if !ok {
					t.Fatalf("expected *TradeSignal, got %T", got)
				}
				if s.Action != want.Action || s.Ticket != want.Ticket {
					t.Errorf("round trip mismatch: got %+v want %+v", s, want)
				}
				if want.StopLoss != nil && (s.StopLoss == nil || *s.StopLoss != *want.StopLoss) {
					t.Errorf("stop loss not preserved: %v", s.StopLoss)
				}
			case *SlaveConfig:
				c, ok := got.(*SlaveConfig)
				if !ok {
					t.Fatalf("expected *SlaveConfig, got %T", got)
				}
				if c.ConfigVersion != want.ConfigVersion || c.Status != want.Status {
					t.Errorf("round trip mismatch: got %+v want %+v", c, want)
				}
				if !c.AllowNewOrders || c.LotMultiplier != want.LotMultiplier {
					t.Errorf("settings not preserved: %+v", c)
				}
			case *MasterConfig:
				c, ok := got.(*MasterConfig)
				if !ok {
					t.Fatalf("expected *MasterConfig, got %T", got)
				}
				if c.ConfigVersion != want.ConfigVersion || c.SymbolSuffix != want.SymbolSuffix {
					t.Errorf("round trip mismatch: got %+v want %+v", c, want)
				}
			case *PositionSnapshot:
				p, ok := got.(*PositionSnapshot)
				if !ok {
					t.Fatalf("expected *PositionSnapshot, got %T", got)
				}
				if len(p.Positions) != 1 || p.Positions[0].CurrentPrice != 1.0910 {
					t.Errorf("positions not preserved: %+v", p.Positions)
				}
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xc1, 0xff, 0x00}); err == nil {
		t.Fatal("expected error for garbage frame")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	data, err := Encode(map[string]string{"message_type": "Telemetry"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	_, err = Decode(data)
	if !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestDecodeMissingDiscriminator(t *testing.T) {
	data, err := Encode(map[string]interface{}{"ticket": 42})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := Decode(data); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestParseRoleIgnoresCase(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"Master", RoleMaster, true},
		{"master", RoleMaster, true},
		{"SLAVE", RoleSlave, true},
		{"slave", RoleSlave, true},
		{"banana", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRole(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseRole(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOrderTypeReverse(t *testing.T) {
	tests := []struct {
		in, want OrderType
	}{
		{OrderBuy, OrderSell},
		{OrderSell, OrderBuy},
		{OrderBuyLimit, OrderSellLimit},
		{OrderSellLimit, OrderBuyLimit},
		{OrderBuyStop, OrderSellStop},
		{OrderSellStop, OrderBuyStop},
	}
	for _, tt := range tests {
		if got := tt.in.Reverse(); got != tt.want {
			t.Errorf("Reverse(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWarningPriorityOrder(t *testing.T) {
	codes := []WarningCode{WarnNoMasterAssigned, WarnSlaveOffline, WarnMasterAutoTradingDisabled}
	SortWarnings(codes)
	want := []WarningCode{WarnSlaveOffline, WarnMasterAutoTradingDisabled, WarnNoMasterAssigned}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("sorted order %v, want %v", codes, want)
		}
	}
}

func TestFailureCounter(t *testing.T) {
	fc := NewFailureCounter(3)
	if fc.Fail() || fc.Fail() {
		t.Fatal("limit reached too early")
	}
	fc.Reset()
	if fc.Fail() || fc.Fail() {
		t.Fatal("reset did not clear streak")
	}
	if !fc.Fail() {
		t.Fatal("limit not reached at 3 consecutive failures")
	}
}
