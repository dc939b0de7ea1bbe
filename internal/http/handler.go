package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fieldops-service/internal/http/middleware"
	"fieldops-service/internal/model"
	"fieldops-service/internal/repository"
	"fieldops-service/internal/scheduler"
	"fieldops-service/internal/service"
)

type Handler struct {
	ticketService         *service.TicketService
	assignmentService     *service.AssignmentService
	recommendationService *service.RecommendationService
	slaMonitor            *service.SLAMonitor
	notificationService   *service.NotificationService
	log                   zerolog.Logger
}

func NewHandler(
	ticketService *service.TicketService,
	assignmentService *service.AssignmentService,
	recommendationService *service.RecommendationService,
	slaMonitor *service.SLAMonitor,
	notificationService *service.NotificationService,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		ticketService:         ticketService,
		assignmentService:     assignmentService,
		recommendationService: recommendationService,
		slaMonitor:            slaMonitor,
		notificationService:   notificationService,
		log:                   log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	api := r.Group("/api/v1")
	api.Use(authMiddleware)

	tickets := api.Group("/tickets")
	{
		tickets.POST("", h.createTicket)
		tickets.GET("", h.listTickets)
		tickets.GET("/:id", h.getTicketDetails)
		tickets.DELETE("/:id", h.deleteTicket)
		tickets.PUT("/:id/status", h.transitionTicket)
		tickets.POST("/:id/reopen", h.reopenTicket)
		tickets.GET("/:id/escalations", h.listEscalations)

		// Team roster
		tickets.GET("/:id/technicians", h.listRoster)
		tickets.PUT("/:id/technicians", h.replaceTeam)
		tickets.POST("/:id/technicians", h.addMember)
		tickets.DELETE("/:id/technicians/:technician_id", h.removeMember)
		tickets.PUT("/:id/technicians/:technician_id/role", h.setRole)

		tickets.GET("/:id/recommendations", h.recommend)
		tickets.POST("/:id/auto-assign", h.autoAssign)
	}

	api.POST("/sla/sweep", h.runSweep)

	webhooks := r.Group("/webhooks")
	webhooks.Use(middleware.WebhookSecret(h.notificationService.Authorize))
	{
		webhooks.POST("/notifications/status", h.deliveryStatus)
	}
}

func (h *Handler) createTicket(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var req struct {
		CustomerID     uint     `json:"customer_id" binding:"required"`
		Type           string   `json:"type" binding:"required"`
		Priority       string   `json:"priority" binding:"required"`
		Title          string   `json:"title" binding:"required"`
		Description    string   `json:"description" binding:"required"`
		RequiredSkills []string `json:"required_skills"`
		ServiceZone    *string  `json:"service_zone"`
		Latitude       *float64 `json:"latitude"`
		Longitude      *float64 `json:"longitude"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	ticket, err := h.ticketService.Create(c.Request.Context(), principal, service.CreateTicketInput{
		CustomerID:     req.CustomerID,
		Type:           req.Type,
		Priority:       req.Priority,
		Title:          req.Title,
		Description:    req.Description,
		RequiredSkills: req.RequiredSkills,
		ServiceZone:    req.ServiceZone,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(ticket))
}

func (h *Handler) listTickets(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	filter := repository.TicketListFilter{}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := model.TicketStatus(raw)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, errorResponse("invalid status"))
			return
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("priority")); raw != "" {
		priority, ok := model.ParsePriority(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, errorResponse("invalid priority"))
			return
		}
		filter.Priority = &priority
	}
	var err error
	if filter.CustomerID, err = queryUint(c, "customer_id"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid customer_id"))
		return
	}
	if filter.TechnicianID, err = queryUint(c, "technician_id"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid technician_id"))
		return
	}
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid limit"))
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid offset"))
		return
	}

	tickets, err := h.ticketService.List(c.Request.Context(), principal, filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(tickets))
}

func (h *Handler) getTicketDetails(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ticket, err := h.ticketService.Get(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	roster, err := h.assignmentService.ListRoster(c.Request.Context(), principal, id, false)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{
		"ticket":      ticket,
		"technicians": roster,
	}))
}

func (h *Handler) deleteTicket(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.ticketService.Delete(c.Request.Context(), principal, id); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) transitionTicket(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Status          string  `json:"status" binding:"required"`
		ResolutionNotes *string `json:"resolution_notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	ticket, err := h.ticketService.Transition(c.Request.Context(), principal, id, service.TransitionInput{
		Status:          req.Status,
		ResolutionNotes: req.ResolutionNotes,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(ticket))
}

func (h *Handler) reopenTicket(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ticket, err := h.ticketService.Reopen(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(ticket))
}

func (h *Handler) listEscalations(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	// Get applies the caller's visibility rules.
	if _, err := h.ticketService.Get(c.Request.Context(), principal, id); err != nil {
		h.handleError(c, err)
		return
	}
	escalations, err := h.slaMonitor.Escalations(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(escalations))
}

func (h *Handler) runSweep(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}
	if !principal.IsAdmin() {
		h.handleError(c, service.ErrPermissionDenied)
		return
	}

	result, err := h.slaMonitor.Run(c.Request.Context())
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		c.JSON(http.StatusAccepted, successResponse(gin.H{"skipped": true}))
		return
	}
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) deliveryStatus(c *gin.Context) {
	var req struct {
		NotificationID    *uint   `json:"notification_id"`
		ProviderMessageID *string `json:"provider_message_id"`
		Status            string  `json:"status" binding:"required"`
		Error             *string `json:"error"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	err := h.notificationService.ApplyDeliveryStatus(c.Request.Context(), service.DeliveryStatusInput{
		NotificationID:    req.NotificationID,
		ProviderMessageID: req.ProviderMessageID,
		Status:            req.Status,
		Error:             req.Error,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, errorCodeResponse(err, "permission_denied"))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorCodeResponse(err, "not_found"))
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorCodeResponse(err, "invalid_input"))
	case errors.Is(err, service.ErrInvalidTeamComposition):
		c.JSON(http.StatusBadRequest, errorCodeResponse(err, "invalid_team_composition"))
	case errors.Is(err, service.ErrCannotRemoveLead):
		c.JSON(http.StatusBadRequest, errorCodeResponse(err, "cannot_remove_lead"))
	case errors.Is(err, service.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, errorCodeResponse(err, "invalid_role"))
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorCodeResponse(err, "invalid_transition"))
	case errors.Is(err, service.ErrMissingAssignment):
		c.JSON(http.StatusConflict, errorCodeResponse(err, "missing_assignment"))
	case errors.Is(err, service.ErrNoEligibleTechnician):
		c.JSON(http.StatusConflict, errorCodeResponse(err, "no_eligible_technician"))
	case errors.Is(err, service.ErrTicketClosed):
		c.JSON(http.StatusConflict, errorCodeResponse(err, "ticket_closed"))
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, errorCodeResponse(err, "conflict"))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func errorCodeResponse(err error, code string) gin.H {
	return gin.H{
		"error": err.Error(),
		"code":  code,
	}
}

// pathID reads a numeric path parameter, writing a 400 when it is malformed.
func pathID(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, errorResponse("invalid "+name))
		return 0, false
	}
	return uint(id), true
}

func queryUint(c *gin.Context, name string) (*uint, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	id := uint(v)
	return &id, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return v, nil
}

func queryBool(c *gin.Context, name string) bool {
	v, _ := strconv.ParseBool(strings.TrimSpace(c.Query(name)))
	return v
}

func queryList(c *gin.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryArray(name) {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
