package devserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pulseboardhq/pulseboard/internal/feed"
	"github.com/pulseboardhq/pulseboard/internal/realtime"
	"github.com/pulseboardhq/pulseboard/internal/updates"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("store dependency required")
	errMissingHub   = errors.New("hub dependency required")
)

// Dependencies wires the HTTP surface of the development backend.
type Dependencies struct {
	Store  *Store
	Hub    *Hub
	Logger *zap.Logger
}

// NewHTTPHandler builds the gin router: REST endpoints for updates and
// the websocket push endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:  deps.Store,
		hub:    deps.Hub,
		logger: logger,
	}

	router.POST("/api/teams/:teamId/updates", handler.handleCreateUpdate)
	router.GET("/api/teams/:teamId/updates", handler.handleListUpdates)
	router.GET("/ws", handler.handleWebsocket)

	return router, nil
}

type httpHandler struct {
	store  *Store
	hub    *Hub
	logger *zap.Logger
}

func realtimeEvent(update updates.Update) realtime.UpdateCreated {
	return realtime.UpdateCreated{TeamID: update.TeamID, Update: update}
}

func (h *httpHandler) handleCreateUpdate(c *gin.Context) {
	teamID, err := updates.NewTeamID(c.Param("teamId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_team_id"})
		return
	}

	var draft feed.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	created, err := h.store.CreateUpdate(c.Request.Context(), teamID.String(), draft)
	if err != nil {
		if errors.Is(err, updates.ErrEmptyText) || errors.Is(err, updates.ErrInvalidCategory) ||
			errors.Is(err, updates.ErrInvalidMedia) || errors.Is(err, updates.ErrInvalidTeamID) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("create update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}

	// Fan out after the write is durable so push subscribers only ever
	// see canonical entries.
	h.hub.Publish(realtimeEvent(created))

	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleListUpdates(c *gin.Context) {
	teamID, err := updates.NewTeamID(c.Param("teamId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_team_id"})
		return
	}

	listed, err := h.store.ListUpdates(c.Request.Context(), teamID.String())
	if err != nil {
		h.logger.Error("list updates failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	state := updates.FilterState{
		Day:             c.Query("day"),
		Category:        updates.Category(c.Query("category")),
		MediaKind:       updates.MediaKind(c.Query("media")),
		RequireLocation: c.Query("has_location") == "true",
	}
	c.JSON(http.StatusOK, updates.ApplyFilters(listed, state))
}
