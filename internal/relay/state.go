package relay

import (
	"context"
	"sync"

	"relay-core/internal/wire"
	"relay-core/pkg/db"
)

// Pairing joins one group with one of its members, the unit every routing and
// status decision works on.
type Pairing struct {
	Group  db.TradeGroup
	Member db.Member
}

// memberState is the relay's in-memory view of groups and pairings. It is
// warmed from the store at startup, refreshed after every API mutation, and
// serves reads even when the store is unavailable.
type memberState struct {
	mu       sync.RWMutex
	byMaster map[string]*groupView
	bySlave  map[string][]Pairing
	// last evaluated status per member id, for edge detection
	lastStatus map[int64]int
	// last evaluated master status per group id
	lastMasterStatus map[int64]int
	// last seen config_version per member id / group id, so a settings
	// mutation pushes a fresh config even when the status did not move
	lastVersion       map[int64]int64
	lastMasterVersion map[int64]int64
}

type groupView struct {
	group   db.TradeGroup
	members []db.Member
}

func newMemberState() *memberState {
	return &memberState{
		byMaster:          make(map[string]*groupView),
		bySlave:           make(map[string][]Pairing),
		lastStatus:        make(map[int64]int),
		lastMasterStatus:  make(map[int64]int),
		lastVersion:       make(map[int64]int64),
		lastMasterVersion: make(map[int64]int64),
	}
}

// reload replaces the snapshot from the store.
func (s *memberState) reload(ctx context.Context, store *db.Store) error {
	groups, err := store.ListGroups(ctx)
	if err != nil {
		return err
	}
	members, err := store.ListAllMembers(ctx)
	if err != nil {
		return err
	}

	byID := make(map[int64]*groupView, len(groups))
	byMaster := make(map[string]*groupView, len(groups))
	for _, g := range groups {
		gv := &groupView{group: g}
		byID[g.ID] = gv
		byMaster[g.MasterAccount] = gv
	}
	bySlave := make(map[string][]Pairing)
	for _, m := range members {
		gv, ok := byID[m.GroupID]
		if !ok {
			continue
		}
		gv.members = append(gv.members, m)
		bySlave[m.SlaveAccount] = append(bySlave[m.SlaveAccount], Pairing{Group: gv.group, Member: m})
	}

	s.mu.Lock()
	s.byMaster = byMaster
	s.bySlave = bySlave
	for id := range s.lastStatus {
		if _, ok := memberStillExists(byMaster, id); !ok {
			delete(s.lastStatus, id)
		}
	}
	for id := range s.lastVersion {
		if _, ok := memberStillExists(byMaster, id); !ok {
			delete(s.lastVersion, id)
		}
	}
	s.mu.Unlock()
	return nil
}

func memberStillExists(byMaster map[string]*groupView, memberID int64) (Pairing, bool) {
	for _, gv := range byMaster {
		for _, m := range gv.members {
			if m.ID == memberID {
				return Pairing{Group: gv.group, Member: m}, true
			}
		}
	}
	return Pairing{}, false
}

// groupFor returns the group owned by a master account with its members.
func (s *memberState) groupFor(masterAccount string) (db.TradeGroup, []db.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gv, ok := s.byMaster[masterAccount]
	if !ok {
		return db.TradeGroup{}, nil, false
	}
	members := make([]db.Member, len(gv.members))
	copy(members, gv.members)
	return gv.group, members, true
}

// pairingsFor returns every pairing a slave account belongs to.
func (s *memberState) pairingsFor(slaveAccount string) []Pairing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Pairing, len(s.bySlave[slaveAccount]))
	copy(out, s.bySlave[slaveAccount])
	return out
}

// allPairings returns every pairing in the snapshot.
func (s *memberState) allPairings() []Pairing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Pairing
	for _, gv := range s.byMaster {
		for _, m := range gv.members {
			out = append(out, Pairing{Group: gv.group, Member: m})
		}
	}
	return out
}

// swapStatus records the freshly evaluated status and returns the previous
// one for edge detection.
func (s *memberState) swapStatus(memberID int64, status int) (prev int, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, known = s.lastStatus[memberID]
	s.lastStatus[memberID] = status
	return prev, known
}

// swapMasterStatus does the same for a group's master evaluation.
func (s *memberState) swapMasterStatus(groupID int64, status int) (prev int, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, known = s.lastMasterStatus[groupID]
	s.lastMasterStatus[groupID] = status
	return prev, known
}

// swapConfigVersion records the config_version carried by the current
// evaluation and returns the previous one, so version bumps are detectable
// independently of status transitions.
func (s *memberState) swapConfigVersion(memberID int64, version int64) (prev int64, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, known = s.lastVersion[memberID]
	s.lastVersion[memberID] = version
	return prev, known
}

// swapMasterVersion does the same for a group's master settings.
func (s *memberState) swapMasterVersion(groupID int64, version int64) (prev int64, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, known = s.lastMasterVersion[groupID]
	s.lastMasterVersion[groupID] = version
	return prev, known
}

// positionBook tracks each master's open positions, fed by snapshots and
// kept current by live signals. The sync policy engine reads from here.
type positionBook struct {
	mu   sync.RWMutex
	book map[string]map[int64]wire.PositionInfo
}

func newPositionBook() *positionBook {
	return &positionBook{book: make(map[string]map[int64]wire.PositionInfo)}
}

// replace installs a full snapshot for one master.
func (b *positionBook) replace(masterAccount string, positions []wire.PositionInfo) {
	next := make(map[int64]wire.PositionInfo, len(positions))
	for _, p := range positions {
		next[p.Ticket] = p
	}
	b.mu.Lock()
	b.book[masterAccount] = next
	b.mu.Unlock()
}

// applySignal keeps the book current between snapshots.
func (b *positionBook) applySignal(sig *wire.TradeSignal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	positions, ok := b.book[sig.SourceAccount]
	if !ok {
		positions = make(map[int64]wire.PositionInfo)
		b.book[sig.SourceAccount] = positions
	}

	switch sig.Action {
	case wire.ActionOpen:
		positions[sig.Ticket] = wire.PositionInfo{
			Ticket:       sig.Ticket,
			Symbol:       sig.Symbol,
			OrderType:    sig.OrderType,
			Lots:         sig.Lots,
			OpenPrice:    sig.OpenPrice,
			CurrentPrice: sig.OpenPrice,
			StopLoss:     sig.StopLoss,
			TakeProfit:   sig.TakeProfit,
			MagicNumber:  sig.MagicNumber,
			OpenTime:     sig.Timestamp,
		}
	case wire.ActionModify:
		if p, ok := positions[sig.Ticket]; ok {
			p.StopLoss = sig.StopLoss
			p.TakeProfit = sig.TakeProfit
			positions[sig.Ticket] = p
		}
	case wire.ActionClose:
		if sig.CloseRatio != nil && *sig.CloseRatio < 1.0 {
			if p, ok := positions[sig.Ticket]; ok {
				p.Lots *= 1.0 - *sig.CloseRatio
				positions[sig.Ticket] = p
			}
			return
		}
		delete(positions, sig.Ticket)
	}
}

// positions returns a copy of one master's open positions.
func (b *positionBook) positions(masterAccount string) []wire.PositionInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.book[masterAccount]
	out := make([]wire.PositionInfo, 0, len(src))
	for _, p := range src {
		out = append(out, p)
	}
	return out
}
