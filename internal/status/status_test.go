package status

import (
	"reflect"
	"testing"

	"relay-core/internal/wire"
)

func TestEvaluateSlave(t *testing.T) {
	healthy := SlaveInput{
		GroupEnabled: true, MemberEnabled: true, HasMaster: true,
		SlaveOnline: true, SlaveTradeAllowed: true,
		MasterOnline: true, MasterTradeAllowed: true,
	}

	tests := []struct {
		name         string
		mutate       func(*SlaveInput)
		wantStatus   int
		wantWarnings []wire.WarningCode
		wantAllow    bool
	}{
		{
			name:       "fully operational",
			mutate:     func(in *SlaveInput) {},
			wantStatus: wire.StatusConnected,
			wantAllow:  true,
		},
		{
			name:       "member disabled carries no warning",
			mutate:     func(in *SlaveInput) { in.MemberEnabled = false; in.SlaveOnline = false },
			wantStatus: wire.StatusDisabled,
		},
		{
			name:         "slave offline",
			mutate:       func(in *SlaveInput) { in.SlaveOnline = false },
			wantStatus:   wire.StatusEnabled,
			wantWarnings: []wire.WarningCode{wire.WarnSlaveOffline},
		},
		{
			name:         "slave auto trading off",
			mutate:       func(in *SlaveInput) { in.SlaveTradeAllowed = false },
			wantStatus:   wire.StatusEnabled,
			wantWarnings: []wire.WarningCode{wire.WarnSlaveAutoTradingDisabled},
		},
		{
			name:         "group disabled",
			mutate:       func(in *SlaveInput) { in.GroupEnabled = false },
			wantStatus:   wire.StatusEnabled,
			wantWarnings: []wire.WarningCode{wire.WarnMasterWebUIDisabled},
		},
		{
			name:         "master offline",
			mutate:       func(in *SlaveInput) { in.MasterOnline = false },
			wantStatus:   wire.StatusEnabled,
			wantWarnings: []wire.WarningCode{wire.WarnMasterOffline},
		},
		{
			name:         "master auto trading off",
			mutate:       func(in *SlaveInput) { in.MasterTradeAllowed = false },
			wantStatus:   wire.StatusEnabled,
			wantWarnings: []wire.WarningCode{wire.WarnMasterAutoTradingDisabled},
		},
		{
			name:         "no master assigned disables the pairing",
			mutate:       func(in *SlaveInput) { in.HasMaster = false },
			wantStatus:   wire.StatusDisabled,
			wantWarnings: []wire.WarningCode{wire.WarnNoMasterAssigned},
		},
		{
			name:         "no master outranks member disabled",
			mutate:       func(in *SlaveInput) { in.HasMaster = false; in.MemberEnabled = false },
			wantStatus:   wire.StatusDisabled,
			wantWarnings: []wire.WarningCode{wire.WarnNoMasterAssigned},
		},
		{
			name: "multiple warnings sorted by priority",
			mutate: func(in *SlaveInput) {
				in.SlaveTradeAllowed = false
				in.MasterOnline = false
			},
			wantStatus:   wire.StatusEnabled,
			wantWarnings: []wire.WarningCode{wire.WarnSlaveAutoTradingDisabled, wire.WarnMasterOffline},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := healthy
			tt.mutate(&in)
			got := EvaluateSlave(in)
			if got.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", got.Status, tt.wantStatus)
			}
			if !reflect.DeepEqual(got.Warnings, tt.wantWarnings) {
				t.Errorf("warnings = %v, want %v", got.Warnings, tt.wantWarnings)
			}
			if got.AllowNewOrders != tt.wantAllow {
				t.Errorf("allow_new_orders = %v, want %v", got.AllowNewOrders, tt.wantAllow)
			}
		})
	}
}

func TestEvaluateMaster(t *testing.T) {
	tests := []struct {
		name         string
		in           MasterInput
		wantStatus   int
		wantWarnings []wire.WarningCode
		wantAllow    bool
	}{
		{
			name:       "operational",
			in:         MasterInput{GroupEnabled: true, MasterOnline: true, MasterTradeAllowed: true},
			wantStatus: wire.StatusConnected,
			wantAllow:  true,
		},
		{
			name:         "group disabled",
			in:           MasterInput{MasterOnline: true, MasterTradeAllowed: true},
			wantStatus:   wire.StatusDisabled,
			wantWarnings: []wire.WarningCode{wire.WarnMasterWebUIDisabled},
		},
		{
			name:         "offline still connected status with warning",
			in:           MasterInput{GroupEnabled: true},
			wantStatus:   wire.StatusConnected,
			wantWarnings: []wire.WarningCode{wire.WarnMasterOffline},
		},
		{
			name:         "auto trading off",
			in:           MasterInput{GroupEnabled: true, MasterOnline: true},
			wantStatus:   wire.StatusConnected,
			wantWarnings: []wire.WarningCode{wire.WarnMasterAutoTradingDisabled},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateMaster(tt.in)
			if got.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", got.Status, tt.wantStatus)
			}
			if !reflect.DeepEqual(got.Warnings, tt.wantWarnings) && !(len(got.Warnings) == 0 && len(tt.wantWarnings) == 0) {
				t.Errorf("warnings = %v, want %v", got.Warnings, tt.wantWarnings)
			}
			if got.AllowNewOrders != tt.wantAllow {
				t.Errorf("allow_new_orders = %v, want %v", got.AllowNewOrders, tt.wantAllow)
			}
		})
	}
}

// Master has exactly two statuses; no input combination may yield ENABLED.
func TestMasterNeverEnabled(t *testing.T) {
	for i := 0; i < 8; i++ {
		in := MasterInput{
			GroupEnabled:       i&1 != 0,
			MasterOnline:       i&2 != 0,
			MasterTradeAllowed: i&4 != 0,
		}
		if got := EvaluateMaster(in); got.Status == wire.StatusEnabled {
			t.Errorf("input %+v produced ENABLED", in)
		}
	}
}
