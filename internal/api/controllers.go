package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"relay-core/internal/events"
	"relay-core/internal/wire"
	"relay-core/pkg/config"
	"relay-core/pkg/db"
)

func respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "record not found"})
	case errors.Is(err, db.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"code": "ALREADY_EXISTS", "error": "record already exists"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
	}
}

func groupIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_GROUP_ID", "error": "invalid group id"})
		return 0, false
	}
	return id, true
}

// afterMutation refreshes the relay snapshot and re-runs the status engine so
// terminals see the change without waiting for their next heartbeat.
func (s *Server) afterMutation(c *gin.Context, category, accountID, message string) {
	if err := s.Relay.Reload(c.Request.Context()); err != nil {
		log.Printf("[API] relay reload after mutation failed: %v", err)
	}
	s.Relay.ReevaluateAll()
	s.recordActivity(c, category, accountID, message)
}

func (s *Server) recordActivity(c *gin.Context, category, accountID, message string) {
	if err := s.Store.AppendActivity(c.Request.Context(), uuid.NewString(), category, accountID, message); err != nil {
		log.Printf("[API] activity write failed: %v", err)
	}
	s.Bus.Publish(events.EventActivity, events.Activity{
		Category:  category,
		AccountID: accountID,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

// ----------------------------------------
// Connections
// ----------------------------------------

func (s *Server) listConnections(c *gin.Context) {
	conns := s.Registry.List()
	c.JSON(http.StatusOK, gin.H{"connections": conns, "count": len(conns)})
}

func (s *Server) getConnection(c *gin.Context) {
	account := c.Param("account")
	role, ok := wire.ParseRole(c.DefaultQuery("role", string(wire.RoleSlave)))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_ROLE", "error": "role must be master or slave"})
		return
	}
	conn, ok := s.Registry.Get(account, role)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "connection not found"})
		return
	}
	c.JSON(http.StatusOK, conn)
}

// ----------------------------------------
// Trade groups
// ----------------------------------------

func (s *Server) listGroups(c *gin.Context) {
	groups, err := s.Store.ListGroups(c.Request.Context())
	if err != nil {
		// Serve the relay's in-memory snapshot when the store is down.
		log.Printf("[API] list groups from store failed, serving snapshot: %v", err)
		seen := make(map[int64]db.TradeGroup)
		for _, p := range s.Relay.Pairings() {
			seen[p.Group.ID] = p.Group
		}
		groups = make([]db.TradeGroup, 0, len(seen))
		for _, g := range seen {
			groups = append(groups, g)
		}
		c.JSON(http.StatusOK, gin.H{"groups": groups, "count": len(groups), "degraded": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups, "count": len(groups)})
}

func (s *Server) createGroup(c *gin.Context) {
	var req struct {
		Name          string            `json:"name"`
		MasterAccount string            `json:"master_account"`
		Settings      db.MasterSettings `json:"settings"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if req.Name == "" || req.MasterAccount == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_FIELDS", "error": "name and master_account are required"})
		return
	}

	group, err := s.Store.CreateGroup(c.Request.Context(), req.Name, req.MasterAccount, req.Settings)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	s.afterMutation(c, "config", group.MasterAccount, "trade group "+group.Name+" created")
	c.JSON(http.StatusCreated, group)
}

func (s *Server) getGroup(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}
	group, err := s.Store.GetGroup(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	members, err := s.Store.ListMembers(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group, "members": members})
}

func (s *Server) updateGroup(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Name     string            `json:"name"`
		Settings db.MasterSettings `json:"settings"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}

	group, err := s.Store.UpdateGroupSettings(c.Request.Context(), id, req.Name, req.Settings)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	s.afterMutation(c, "config", group.MasterAccount, "trade group "+group.Name+" updated")
	c.JSON(http.StatusOK, group)
}

func (s *Server) deleteGroup(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}
	group, err := s.Store.GetGroup(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	if err := s.Store.DeleteGroup(c.Request.Context(), id); err != nil {
		respondStoreError(c, err)
		return
	}
	s.afterMutation(c, "config", group.MasterAccount, "trade group "+group.Name+" deleted")
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) toggleGroup(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}

	group, err := s.Store.SetGroupEnabled(c.Request.Context(), id, req.Enabled)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	verb := "disabled"
	if req.Enabled {
		verb = "enabled"
	}
	s.afterMutation(c, "config", group.MasterAccount, "trade group "+group.Name+" "+verb)
	c.JSON(http.StatusOK, group)
}

// ----------------------------------------
// Members
// ----------------------------------------

func (s *Server) listMembers(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}
	members, err := s.Store.ListMembers(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members, "count": len(members)})
}

func (s *Server) addMember(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}
	var req struct {
		SlaveAccount string            `json:"slave_account"`
		Preset       string            `json:"preset"`
		Settings     *db.SlaveSettings `json:"settings"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if req.SlaveAccount == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_FIELDS", "error": "slave_account is required"})
		return
	}
	group, err := s.Store.GetGroup(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	if req.SlaveAccount == group.MasterAccount {
		c.JSON(http.StatusBadRequest, gin.H{"code": "SELF_PAIRING", "error": "a master cannot follow itself"})
		return
	}
	settings := db.DefaultSlaveSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}
	if req.Preset != "" {
		preset, ok := s.Presets.Find(req.Preset)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"code": "UNKNOWN_PRESET", "error": "unknown broker preset " + req.Preset})
			return
		}
		applyPreset(&settings, preset)
	}

	member, err := s.Store.AddMember(c.Request.Context(), id, req.SlaveAccount, settings)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	s.afterMutation(c, "config", member.SlaveAccount, "slave "+member.SlaveAccount+" paired into group "+group.Name)
	c.JSON(http.StatusCreated, member)
}

func (s *Server) updateMember(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}
	account := c.Param("account")
	var req struct {
		Settings db.SlaveSettings `json:"settings"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}

	member, err := s.Store.UpdateMemberSettings(c.Request.Context(), id, account, req.Settings)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	s.afterMutation(c, "config", account, "pairing settings updated for "+account)
	c.JSON(http.StatusOK, member)
}

func (s *Server) deleteMember(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}
	account := c.Param("account")
	if err := s.Store.DeleteMember(c.Request.Context(), id, account); err != nil {
		respondStoreError(c, err)
		return
	}
	s.afterMutation(c, "config", account, "slave "+account+" removed from group")
	c.JSON(http.StatusOK, gin.H{"deleted": account})
}

func (s *Server) toggleMember(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}
	account := c.Param("account")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}

	member, err := s.Store.SetMemberEnabled(c.Request.Context(), id, account, req.Enabled)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	verb := "disabled"
	if req.Enabled {
		verb = "enabled"
	}
	s.afterMutation(c, "config", account, "pairing "+account+" "+verb)
	c.JSON(http.StatusOK, member)
}

// applyPreset overlays a broker preset onto pairing settings. Explicit
// settings from the request keep priority over the preset.
func applyPreset(settings *db.SlaveSettings, preset config.BrokerPreset) {
	if settings.SymbolPrefix == "" {
		settings.SymbolPrefix = preset.SymbolPrefix
	}
	if settings.SymbolSuffix == "" {
		settings.SymbolSuffix = preset.SymbolSuffix
	}
	existing := make(map[string]bool, len(settings.SymbolMappings))
	for _, m := range settings.SymbolMappings {
		existing[m.SourceSymbol] = true
	}
	for source, target := range preset.SymbolMappings {
		if !existing[source] {
			settings.SymbolMappings = append(settings.SymbolMappings, wire.SymbolMapping{
				SourceSymbol: source,
				TargetSymbol: target,
			})
		}
	}
}

func (s *Server) listPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": s.Presets.Brokers, "count": len(s.Presets.Brokers)})
}

// ----------------------------------------
// Activity, dead letters, metrics
// ----------------------------------------

func (s *Server) listActivity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := s.Store.ListActivity(c.Request.Context(), limit)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries, "count": len(entries)})
}

func (s *Server) listSendFailures(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	failures, err := s.Store.ListSendFailures(c.Request.Context(), limit)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": failures, "count": len(failures)})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}
