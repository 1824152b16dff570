// Package api exposes the control plane: dashboard auth, trade group and
// pairing management, connection and activity views, and the live event
// stream.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"relay-core/internal/events"
	"relay-core/internal/monitor"
	"relay-core/internal/registry"
	"relay-core/internal/relay"
	"relay-core/pkg/config"
	"relay-core/pkg/db"
)

// Server holds the HTTP surface and its collaborators.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Store     *db.Store
	Relay     *relay.Relay
	Registry  *registry.Registry
	Metrics   *monitor.SystemMetrics
	Presets   *config.Presets
	JWTSecret string
}

// BridgeHandler is the terminal websocket endpoint, injected so the api
// package does not depend on the bridge.
type BridgeHandler func(c *gin.Context)

// NewServer builds the gin engine with the full middleware chain and routes.
func NewServer(bus *events.Bus, store *db.Store, rl *relay.Relay, reg *registry.Registry,
	metrics *monitor.SystemMetrics, presets *config.Presets, bridgeHandler BridgeHandler, jwtSecret string) *Server {

	if presets == nil {
		presets = &config.Presets{}
	}
	s := &Server{
		Bus:       bus,
		Store:     store,
		Relay:     rl,
		Registry:  reg,
		Metrics:   metrics,
		Presets:   presets,
		JWTSecret: jwtSecret,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogger())
	router.Use(RateLimitMiddleware())
	router.Use(TimeoutMiddleware(30 * time.Second))
	router.Use(CORSMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	if bridgeHandler != nil {
		router.GET("/bridge", gin.HandlerFunc(bridgeHandler))
	}
	router.GET("/ws", s.handleDashboardWS)

	auth := router.Group("/api/auth")
	{
		auth.POST("/register", s.registerUser)
		auth.POST("/login", s.loginUser)
	}

	api := router.Group("/api")
	api.Use(AuthMiddleware(jwtSecret))
	{
		api.GET("/connections", s.listConnections)
		api.GET("/connections/:account", s.getConnection)

		api.GET("/trade-groups", s.listGroups)
		api.POST("/trade-groups", s.createGroup)
		api.GET("/trade-groups/:id", s.getGroup)
		api.PUT("/trade-groups/:id", s.updateGroup)
		api.DELETE("/trade-groups/:id", s.deleteGroup)
		api.POST("/trade-groups/:id/toggle", s.toggleGroup)

		api.GET("/trade-groups/:id/members", s.listMembers)
		api.POST("/trade-groups/:id/members", s.addMember)
		api.PUT("/trade-groups/:id/members/:account", s.updateMember)
		api.DELETE("/trade-groups/:id/members/:account", s.deleteMember)
		api.POST("/trade-groups/:id/members/:account/toggle", s.toggleMember)

		api.GET("/presets", s.listPresets)

		api.GET("/activity", s.listActivity)
		api.GET("/send-failures", s.listSendFailures)
		api.GET("/metrics", s.getMetrics)
	}

	s.Router = router
	return s
}

// Run starts the HTTP server on the given address.
func (s *Server) Run(addr string) error {
	return s.Router.Run(addr)
}
