package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fieldops-service/internal/http/middleware"
	"fieldops-service/internal/model"
	"fieldops-service/internal/service"
)

type teamMemberRequest struct {
	TechnicianID uint           `json:"technician_id" binding:"required"`
	Role         model.TeamRole `json:"role"`
	Notes        *string        `json:"notes"`
}

func (r teamMemberRequest) input() service.TeamMemberInput {
	role := r.Role
	if role == "" {
		role = model.TeamRoleMember
	}
	return service.TeamMemberInput{
		TechnicianID: r.TechnicianID,
		Role:         role,
		Notes:        r.Notes,
	}
}

func (h *Handler) listRoster(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if _, err := h.ticketService.Get(c.Request.Context(), principal, id); err != nil {
		h.handleError(c, err)
		return
	}
	roster, err := h.assignmentService.ListRoster(c.Request.Context(), principal, id, queryBool(c, "include_inactive"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(roster))
}

func (h *Handler) replaceTeam(c *gin.Context) {
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
		Technicians []teamMemberRequest `json:"technicians" binding:"required,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	members := make([]service.TeamMemberInput, 0, len(req.Technicians))
	for _, m := range req.Technicians {
		members = append(members, m.input())
	}

	roster, err := h.assignmentService.ReplaceTeam(c.Request.Context(), principal, id, members)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(roster))
}

func (h *Handler) addMember(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req teamMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	assignment, err := h.assignmentService.AddMember(c.Request.Context(), principal, id, req.input())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(assignment))
}

func (h *Handler) removeMember(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	technicianID, ok := pathID(c, "technician_id")
	if !ok {
		return
	}

	if err := h.assignmentService.RemoveMember(c.Request.Context(), principal, id, technicianID); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{
		"ticket_id":     id,
		"technician_id": technicianID,
		"is_active":     false,
	}))
}

func (h *Handler) setRole(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	technicianID, ok := pathID(c, "technician_id")
	if !ok {
		return
	}

	var req struct {
		Role model.TeamRole `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	assignment, err := h.assignmentService.SetRole(c.Request.Context(), principal, id, technicianID, req.Role)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(assignment))
}

func (h *Handler) recommend(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid limit"))
		return
	}

	ranked, err := h.recommendationService.Recommend(c.Request.Context(), principal, id, service.RecommendInput{
		Zone:              c.Query("zone"),
		Skills:            queryList(c, "skills"),
		AllowOverCapacity: queryBool(c, "allow_over_capacity"),
		Limit:             limit,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(ranked))
}

func (h *Handler) autoAssign(c *gin.Context) {
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
		Zone              string   `json:"zone"`
		Skills            []string `json:"skills"`
		AllowOverCapacity bool     `json:"allow_over_capacity"`
	}
	// The body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
	}

	roster, err := h.recommendationService.AutoAssign(c.Request.Context(), principal, id, service.RecommendInput{
		Zone:              req.Zone,
		Skills:            req.Skills,
		AllowOverCapacity: req.AllowOverCapacity,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(roster))
}
