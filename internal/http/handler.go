package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hostpanel/platform/instance-service/internal/client"
	"github.com/hostpanel/platform/instance-service/internal/models"
	"github.com/hostpanel/platform/instance-service/internal/service"
)

type Handler struct {
	lifecycle *service.LifecycleService
	sync      *service.SyncService
	auth      *client.AuthClient
}

func NewHandler(lifecycle *service.LifecycleService, sync *service.SyncService, auth *client.AuthClient) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		sync:      sync,
		auth:      auth,
	}
}

// ==================== User API Handlers ====================

// GetMe returns the current user's profile plus the server time and
// window state the dashboard header renders. The client's own clock is
// a display hint only; this payload is the authoritative one.
func (h *Handler) GetMe(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	user, err := h.auth.GetUser(c.Request.Context(), userID.(string))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "auth service unavailable"})
		return
	}

	now := time.Now().In(h.lifecycle.Location())
	c.JSON(http.StatusOK, models.CurrentUserResponse{
		User:       user,
		ServerTime: now.Format(time.RFC3339),
		Window:     h.windowInfo(),
	})
}

// Logout forwards logout to the auth service.
func (h *Handler) Logout(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	if err := h.auth.Logout(c.Request.Context(), userID.(string)); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "auth service unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListInstances returns the current user's instances shaped for the
// dashboard grid, with can_start recomputed for this request.
func (h *Handler) ListInstances(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	instances, err := h.lifecycle.List(c.Request.Context(), userID.(string))
	if err != nil {
		h.writeError(c, err)
		return
	}

	canStart := h.lifecycle.StartAllowed()
	views := make([]models.InstanceView, 0, len(instances))
	for _, inst := range instances {
		views = append(views, h.toView(inst, canStart))
	}

	now := time.Now().In(h.lifecycle.Location())
	c.JSON(http.StatusOK, models.InstanceListResponse{
		Instances:  views,
		CanStart:   canStart,
		Window:     h.windowInfo(),
		ServerTime: now.Format(time.RFC3339),
	})
}

// CreateInstance handles the dashboard's create dialog.
func (h *Handler) CreateInstance(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req models.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := h.lifecycle.Create(c.Request.Context(), userID.(string), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	view := h.toView(inst, h.lifecycle.StartAllowed())
	c.JSON(http.StatusCreated, models.CommandResponse{
		Instance: &view,
		Status:   inst.State,
		Message:  "Instance created. Start it during the access window.",
	})
}

// GetInstance returns one instance.
func (h *Handler) GetInstance(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	inst, err := h.lifecycle.Get(c.Request.Context(), c.Param("id"), userID.(string))
	if err != nil {
		h.writeError(c, err)
		return
	}

	view := h.toView(inst, h.lifecycle.StartAllowed())
	c.JSON(http.StatusOK, view)
}

// GetInstanceEvents returns the audit trail for one instance.
func (h *Handler) GetInstanceEvents(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := h.lifecycle.Events(c.Request.Context(), c.Param("id"), userID.(string), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	views := make([]models.InstanceEventView, 0, len(events))
	for _, event := range events {
		views = append(views, models.InstanceEventView{
			Action:    event.Action,
			State:     event.State,
			Message:   event.Message,
			CreatedAt: event.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"events": views})
}

// StartInstance requests a start. The command returns once the
// starting transition is recorded; the dashboard polls for the final
// state.
func (h *Handler) StartInstance(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	inst, err := h.lifecycle.Start(c.Request.Context(), c.Param("id"), userID.(string))
	if err != nil {
		h.writeError(c, err)
		return
	}

	view := h.toView(inst, h.lifecycle.StartAllowed())
	c.JSON(http.StatusAccepted, models.CommandResponse{
		Instance: &view,
		Status:   inst.State,
		Message:  "Start requested. The instance will be running shortly.",
	})
}

// StopInstance requests a stop. Never gated by the access window.
func (h *Handler) StopInstance(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	inst, err := h.lifecycle.Stop(c.Request.Context(), c.Param("id"), userID.(string))
	if err != nil {
		h.writeError(c, err)
		return
	}

	view := h.toView(inst, h.lifecycle.StartAllowed())
	c.JSON(http.StatusAccepted, models.CommandResponse{
		Instance: &view,
		Status:   inst.State,
		Message:  "Stop requested.",
	})
}

// DeleteInstance retires an instance.
func (h *Handler) DeleteInstance(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	if err := h.lifecycle.Delete(c.Request.Context(), c.Param("id"), userID.(string)); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, models.CommandResponse{
		Status:  "deleting",
		Message: "Instance deletion started.",
	})
}

// ==================== Runtime Callback Handlers ====================

// RuntimeStatus handles status pushes from the process runtime. The
// observation goes through the same reconcile rules as the poll loop.
func (h *Handler) RuntimeStatus(c *gin.Context) {
	var req models.RuntimeStatusCallback
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sync.Observe(c.Request.Context(), req.InstanceID, req.Status); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ==================== helpers ====================

// writeError maps the error taxonomy to HTTP statuses. Nothing crashes
// through to the client; gin's recovery middleware is a backstop only.
func (h *Handler) writeError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var stateErr *models.InvalidStateError
	var windowErr *models.WindowRestrictedError
	var runtimeErr *models.RuntimeUnavailableError

	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":         stateErr.Error(),
			"current_state": stateErr.Current,
		})
	case errors.As(err, &windowErr):
		c.JSON(http.StatusForbidden, gin.H{
			"error":  windowErr.Error(),
			"window": h.windowInfo(),
		})
	case errors.As(err, &runtimeErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runtime temporarily unavailable, try again"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) windowInfo() models.WindowInfo {
	window := h.lifecycle.Window()
	return models.WindowInfo{
		StartHour: window.StartHour,
		EndHour:   window.EndHour,
		Timezone:  h.lifecycle.Location().String(),
		Open:      h.lifecycle.StartAllowed(),
	}
}

// toView shapes an instance for a dashboard card. An instance can be
// started when the window is open and its current state permits it.
func (h *Handler) toView(inst *models.Instance, windowOpen bool) models.InstanceView {
	startable := false
	switch inst.State {
	case models.StateCreated, models.StateStopped, models.StateFailed:
		startable = true
	}

	return models.InstanceView{
		ID:               inst.ID,
		Kind:             inst.Kind,
		Name:             inst.Name,
		State:            inst.State,
		DesiredState:     inst.DesiredState,
		StateMessage:     inst.StateMessage,
		CanStart:         windowOpen && startable,
		LastTransitionAt: inst.LastTransitionAt.Format(time.RFC3339),
		CreatedAt:        inst.CreatedAt.Format(time.RFC3339),
	}
}
