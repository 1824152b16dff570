package relay

import (
	"context"
	"fmt"
	"log"
	"time"

	"relay-core/internal/events"
	"relay-core/internal/registry"
	"relay-core/internal/router"
	"relay-core/internal/status"
	"relay-core/internal/wire"
	"relay-core/pkg/db"
)

// reevaluateAccount re-runs the status engine for every pairing the account
// touches and pushes fresh configs where the result moved.
func (r *Relay) reevaluateAccount(accountID string, role wire.Role) {
	switch role {
	case wire.RoleMaster:
		group, members, ok := r.state.groupFor(accountID)
		if !ok {
			return
		}
		for _, member := range members {
			r.evaluatePairing(Pairing{Group: group, Member: member})
		}
		r.evaluateMaster(group)
	case wire.RoleSlave:
		for _, p := range r.state.pairingsFor(accountID) {
			r.evaluatePairing(p)
		}
	}
	r.refreshStatusGauge()
}

// ReevaluateAll re-runs the status engine across the whole snapshot. The API
// layer calls this after configuration mutations.
func (r *Relay) ReevaluateAll() {
	seen := make(map[int64]db.TradeGroup)
	for _, p := range r.state.allPairings() {
		r.evaluatePairing(p)
		seen[p.Group.ID] = p.Group
	}
	for _, g := range seen {
		r.evaluateMaster(g)
	}
	r.refreshStatusGauge()
}

func (r *Relay) slaveInput(p Pairing) status.SlaveInput {
	masterConn, masterOK := r.registry.Get(p.Group.MasterAccount, wire.RoleMaster)
	slaveConn, slaveOK := r.registry.Get(p.Member.SlaveAccount, wire.RoleSlave)
	return status.SlaveInput{
		GroupEnabled:       p.Group.Enabled,
		MemberEnabled:      p.Member.Settings.Enabled,
		HasMaster:          p.Group.MasterAccount != "",
		SlaveOnline:        slaveOK && slaveConn.State == registry.StateOnline,
		SlaveTradeAllowed:  slaveConn.IsTradeAllowed,
		MasterOnline:       masterOK && masterConn.State == registry.StateOnline,
		MasterTradeAllowed: masterConn.IsTradeAllowed,
	}
}

// evaluatePairing recomputes one pairing's status. On a status change it
// refreshes the cached status column and publishes the transition; a fresh
// SlaveConfig is pushed on a status change or a config_version bump, and the
// sync policy fires on a rising edge into CONNECTED.
func (r *Relay) evaluatePairing(p Pairing) {
	res := status.EvaluateSlave(r.slaveInput(p))
	prev, known := r.state.swapStatus(p.Member.ID, res.Status)
	prevVer, verKnown := r.state.swapConfigVersion(p.Member.ID, p.Member.Settings.ConfigVersion)
	statusChanged := !known || prev != res.Status
	versionChanged := verKnown && prevVer != p.Member.Settings.ConfigVersion
	if !statusChanged && !versionChanged {
		return
	}

	if statusChanged {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := r.store.UpdateMemberStatus(ctx, p.Member.GroupID, p.Member.SlaveAccount, res.Status); err != nil {
			log.Printf("[RELAY] status cache update failed: %v", err)
		}
		cancel()

		r.bus.Publish(events.EventStatusChange, events.StatusChange{
			GroupID:      p.Member.GroupID,
			SlaveAccount: p.Member.SlaveAccount,
			OldStatus:    prev,
			NewStatus:    res.Status,
			Warnings:     res.Warnings,
			Timestamp:    time.Now().UnixMilli(),
		})
		r.logActivity("status", p.Member.SlaveAccount,
			fmt.Sprintf("pairing %s -> status %d", p.Member.SlaveAccount, res.Status))
	}

	r.pushSlaveConfig(p, res)

	// Sync runs only on a genuine rising edge. An unknown previous status
	// (fresh process) is not an activation; re-syncing on every relay
	// restart would duplicate positions.
	if known && prev != wire.StatusConnected && res.Status == wire.StatusConnected {
		r.runSync(p)
	}
}

func (r *Relay) evaluateMaster(g db.TradeGroup) {
	masterConn, masterOK := r.registry.Get(g.MasterAccount, wire.RoleMaster)
	res := status.EvaluateMaster(status.MasterInput{
		GroupEnabled:       g.Enabled,
		MasterOnline:       masterOK && masterConn.State == registry.StateOnline,
		MasterTradeAllowed: masterConn.IsTradeAllowed,
	})
	prev, known := r.state.swapMasterStatus(g.ID, res.Status)
	prevVer, verKnown := r.state.swapMasterVersion(g.ID, g.MasterSettings.ConfigVersion)
	statusChanged := !known || prev != res.Status
	versionChanged := verKnown && prevVer != g.MasterSettings.ConfigVersion
	if !statusChanged && !versionChanged {
		return
	}
	r.pushMasterConfig(g, res)
}

// pushConfigFor answers an explicit RequestConfig or a fresh registration.
func (r *Relay) pushConfigFor(accountID string, role wire.Role) {
	switch role {
	case wire.RoleMaster:
		group, _, ok := r.state.groupFor(accountID)
		if !ok {
			return
		}
		masterConn, masterOK := r.registry.Get(accountID, wire.RoleMaster)
		res := status.EvaluateMaster(status.MasterInput{
			GroupEnabled:       group.Enabled,
			MasterOnline:       masterOK && masterConn.State == registry.StateOnline,
			MasterTradeAllowed: masterConn.IsTradeAllowed,
		})
		r.pushMasterConfig(group, res)
	case wire.RoleSlave:
		for _, p := range r.state.pairingsFor(accountID) {
			r.pushSlaveConfig(p, status.EvaluateSlave(r.slaveInput(p)))
		}
	}
}

// BuildSlaveConfig assembles the config message for one pairing.
func (r *Relay) BuildSlaveConfig(p Pairing, res status.Result) wire.SlaveConfig {
	s := p.Member.Settings
	cfg := wire.SlaveConfig{
		MessageType:       wire.KindSlaveConfig,
		AccountID:         p.Member.SlaveAccount,
		MasterAccount:     p.Group.MasterAccount,
		ConfigVersion:     s.ConfigVersion,
		Status:            res.Status,
		WarningCodes:      res.Warnings,
		AllowNewOrders:    res.AllowNewOrders,
		LotMode:           s.LotMode,
		LotMultiplier:     s.LotMultiplier,
		MaxLotSize:        s.MaxLotSize,
		ReverseTrades:     s.ReverseTrades,
		CopyPendingOrders: s.CopyPendingOrders,
		SymbolPrefix:      s.SymbolPrefix,
		SymbolSuffix:      s.SymbolSuffix,
		SymbolMappings:    s.SymbolMappings,
		Filters:           s.Filters,
		SyncMode:          s.SyncMode,
		Timestamp:         time.Now().UnixMilli(),
	}
	if cfg.WarningCodes == nil {
		cfg.WarningCodes = []wire.WarningCode{}
	}
	if conn, ok := r.registry.Get(p.Group.MasterAccount, wire.RoleMaster); ok && conn.Equity > 0 {
		equity := conn.Equity
		cfg.MasterEquity = &equity
	}
	return cfg
}

func (r *Relay) pushSlaveConfig(p Pairing, res status.Result) {
	key := router.Key{AccountID: p.Member.SlaveAccount, Role: wire.RoleSlave}
	if !r.router.HasSession(key) {
		return
	}
	cfg := r.BuildSlaveConfig(p, res)
	if err := r.router.PublishConfig(key, wire.KindSlaveConfig, &cfg); err != nil {
		log.Printf("[RELAY] config push to %s failed: %v", p.Member.SlaveAccount, err)
		return
	}
	if r.metrics != nil {
		r.metrics.IncrementConfigs()
	}
	r.bus.Publish(events.EventConfigPushed, events.ConfigPushed{
		AccountID:     p.Member.SlaveAccount,
		Role:          wire.RoleSlave,
		ConfigVersion: cfg.ConfigVersion,
		Status:        cfg.Status,
		Timestamp:     cfg.Timestamp,
	})
}

func (r *Relay) pushMasterConfig(g db.TradeGroup, res status.Result) {
	key := router.Key{AccountID: g.MasterAccount, Role: wire.RoleMaster}
	if !r.router.HasSession(key) {
		return
	}
	cfg := wire.MasterConfig{
		MessageType:   wire.KindMasterConfig,
		AccountID:     g.MasterAccount,
		ConfigVersion: g.MasterSettings.ConfigVersion,
		Status:        res.Status,
		WarningCodes:  res.Warnings,
		SymbolPrefix:  g.MasterSettings.SymbolPrefix,
		SymbolSuffix:  g.MasterSettings.SymbolSuffix,
		Timestamp:     time.Now().UnixMilli(),
	}
	if cfg.WarningCodes == nil {
		cfg.WarningCodes = []wire.WarningCode{}
	}
	if err := r.router.PublishConfig(key, wire.KindMasterConfig, &cfg); err != nil {
		log.Printf("[RELAY] config push to master %s failed: %v", g.MasterAccount, err)
		return
	}
	if r.metrics != nil {
		r.metrics.IncrementConfigs()
	}
	r.bus.Publish(events.EventConfigPushed, events.ConfigPushed{
		AccountID:     g.MasterAccount,
		Role:          wire.RoleMaster,
		ConfigVersion: cfg.ConfigVersion,
		Status:        cfg.Status,
		Timestamp:     cfg.Timestamp,
	})
}

func (r *Relay) refreshStatusGauge() {
	if r.metrics == nil {
		return
	}
	counts := make(map[int]int)
	for _, p := range r.state.allPairings() {
		res := status.EvaluateSlave(r.slaveInput(p))
		counts[res.Status]++
	}
	r.metrics.SetPairingStatusCounts(counts)
}
