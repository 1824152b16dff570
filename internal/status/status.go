// Package status evaluates the runtime status of copy pairings. Evaluation is
// pure: callers feed in connection facts, the engine returns a status plus
// informational warning codes. Nothing here gates message routing; warnings
// exist for the terminals and the dashboard.
package status

import "relay-core/internal/wire"

// SlaveInput is everything a slave pairing evaluation depends on.
type SlaveInput struct {
	GroupEnabled  bool
	MemberEnabled bool
	HasMaster     bool

	SlaveOnline       bool
	SlaveTradeAllowed bool

	MasterOnline       bool
	MasterTradeAllowed bool
}

// MasterInput is everything a master evaluation depends on.
type MasterInput struct {
	GroupEnabled       bool
	MasterOnline       bool
	MasterTradeAllowed bool
}

// Result is one evaluation outcome. Warnings are sorted by display priority.
type Result struct {
	Status         int
	Warnings       []wire.WarningCode
	AllowNewOrders bool
}

// EvaluateSlave runs the pairing decision table.
//
// DISABLED: the user switched the pairing off. ENABLED: switched on but some
// party is not ready; warnings say which. CONNECTED: fully operational.
// Several warnings can apply at once; all are reported.
func EvaluateSlave(in SlaveInput) Result {
	// A pairing with no master cannot operate at all; this row outranks
	// every other input, including the member's own enable switch.
	if !in.HasMaster {
		return Result{
			Status:   wire.StatusDisabled,
			Warnings: []wire.WarningCode{wire.WarnNoMasterAssigned},
		}
	}
	// Switched off on purpose; nothing to warn about.
	if !in.MemberEnabled {
		return Result{Status: wire.StatusDisabled}
	}

	var warnings []wire.WarningCode
	if !in.SlaveOnline {
		warnings = append(warnings, wire.WarnSlaveOffline)
	} else if !in.SlaveTradeAllowed {
		warnings = append(warnings, wire.WarnSlaveAutoTradingDisabled)
	}

	switch {
	case !in.GroupEnabled:
		warnings = append(warnings, wire.WarnMasterWebUIDisabled)
	case !in.MasterOnline:
		warnings = append(warnings, wire.WarnMasterOffline)
	case !in.MasterTradeAllowed:
		warnings = append(warnings, wire.WarnMasterAutoTradingDisabled)
	}

	if len(warnings) > 0 {
		wire.SortWarnings(warnings)
		return Result{Status: wire.StatusEnabled, Warnings: warnings}
	}
	return Result{Status: wire.StatusConnected, AllowNewOrders: true}
}

// EvaluateMaster runs the master decision table. Masters have no ENABLED
// state: either the group is switched off or the master is operational,
// with warnings describing degradations.
func EvaluateMaster(in MasterInput) Result {
	if !in.GroupEnabled {
		return Result{
			Status:   wire.StatusDisabled,
			Warnings: []wire.WarningCode{wire.WarnMasterWebUIDisabled},
		}
	}

	var warnings []wire.WarningCode
	if !in.MasterOnline {
		warnings = append(warnings, wire.WarnMasterOffline)
	} else if !in.MasterTradeAllowed {
		warnings = append(warnings, wire.WarnMasterAutoTradingDisabled)
	}
	wire.SortWarnings(warnings)

	return Result{
		Status:         wire.StatusConnected,
		Warnings:       warnings,
		AllowNewOrders: len(warnings) == 0,
	}
}
