package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/usecase"
)

// RoleHandler exposes RBAC administration endpoints. Routes are expected to
// be mounted behind RequireAuth plus an admin role or permission check.
type RoleHandler struct {
	rbac *usecase.RBACService
}

// NewRoleHandler constructs RoleHandler.
func NewRoleHandler(rbac *usecase.RBACService) *RoleHandler {
	return &RoleHandler{rbac: rbac}
}

// RegisterRoutes binds role administration routes.
func (h *RoleHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.ListRoles)
	r.POST("", h.CreateRole)
	r.PUT("/:role_id", h.RenameRole)
	r.DELETE("/:role_id", h.DeleteRole)

	r.POST("/:role_id/permissions", h.AttachPermissions)
	r.DELETE("/:role_id/permissions", h.DetachPermissions)

	r.POST("/:role_id/assignments", h.AssignRole)
	r.DELETE("/:role_id/assignments/:user_id", h.RemoveRole)

	r.POST("/permissions", h.CreatePermission)
	r.GET("/users/:user_id/permissions", h.UserPermissions)
}

// ListRoles returns every role.
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.rbac.ListRoles(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list roles"))
		return
	}

	payloads := make([]RolePayload, 0, len(roles))
	for _, role := range roles {
		payloads = append(payloads, newRolePayload(role))
	}

	c.JSON(http.StatusOK, RoleListResponse{Roles: payloads})
}

// CreateRole creates a non-system role.
func (h *RoleHandler) CreateRole(c *gin.Context) {
	var req RoleCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid role payload"))
		return
	}

	role, err := h.rbac.CreateRole(c.Request.Context(), strings.TrimSpace(req.Name), strings.TrimSpace(req.DisplayName), false)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrRoleExists, Status: http.StatusConflict, Message: "role already exists"},
		}, http.StatusInternalServerError, "failed to create role")
		return
	}

	c.JSON(http.StatusCreated, newRolePayload(*role))
}

// RenameRole updates a role's name and display name.
func (h *RoleHandler) RenameRole(c *gin.Context) {
	var req RoleRenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid role payload"))
		return
	}

	err := h.rbac.RenameRole(c.Request.Context(), c.Param("role_id"), strings.TrimSpace(req.Name), strings.TrimSpace(req.DisplayName))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrRoleNotFound, Status: http.StatusNotFound, Message: "role not found"},
			{Err: usecase.ErrSystemRoleImmutable, Status: http.StatusForbidden, Message: "system roles cannot be modified"},
			{Err: usecase.ErrRoleExists, Status: http.StatusConflict, Message: "role name already in use"},
		}, http.StatusInternalServerError, "failed to rename role")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "role updated"})
}

// DeleteRole removes a non-system role and detaches it from all holders.
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	err := h.rbac.DeleteRole(c.Request.Context(), c.Param("role_id"))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrRoleNotFound, Status: http.StatusNotFound, Message: "role not found"},
			{Err: usecase.ErrSystemRoleImmutable, Status: http.StatusForbidden, Message: "system roles cannot be deleted"},
		}, http.StatusInternalServerError, "failed to delete role")
		return
	}

	c.Status(http.StatusNoContent)
}

// CreatePermission registers a new permission.
func (h *RoleHandler) CreatePermission(c *gin.Context) {
	var req PermissionCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid permission payload"))
		return
	}

	permission, err := h.rbac.CreatePermission(c.Request.Context(),
		strings.TrimSpace(req.Name),
		strings.TrimSpace(req.Group),
		strings.TrimSpace(req.Resource),
		strings.TrimSpace(req.Action),
	)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrPermissionExists, Status: http.StatusConflict, Message: "permission already exists"},
		}, http.StatusInternalServerError, "failed to create permission")
		return
	}

	c.JSON(http.StatusCreated, newPermissionPayload(*permission))
}

// AttachPermissions grants the listed permissions to a role.
func (h *RoleHandler) AttachPermissions(c *gin.Context) {
	var req RolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid permissions payload"))
		return
	}

	err := h.rbac.AttachPermissions(c.Request.Context(), c.Param("role_id"), req.PermissionIDs)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrRoleNotFound, Status: http.StatusNotFound, Message: "role not found"},
			{Err: usecase.ErrPermissionNotFound, Status: http.StatusBadRequest, Message: "permission not found"},
		}, http.StatusInternalServerError, "failed to attach permissions")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "permissions attached"})
}

// DetachPermissions revokes the listed permissions from a role.
func (h *RoleHandler) DetachPermissions(c *gin.Context) {
	var req RolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid permissions payload"))
		return
	}

	err := h.rbac.DetachPermissions(c.Request.Context(), c.Param("role_id"), req.PermissionIDs)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrRoleNotFound, Status: http.StatusNotFound, Message: "role not found"},
		}, http.StatusInternalServerError, "failed to detach permissions")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "permissions detached"})
}

// AssignRole grants a role to a user, optionally until an expiry time.
func (h *RoleHandler) AssignRole(c *gin.Context) {
	var req RoleAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid assignment payload"))
		return
	}

	err := h.rbac.AssignRole(c.Request.Context(), strings.TrimSpace(req.UserID), c.Param("role_id"), req.ExpiresAt)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrRoleNotFound, Status: http.StatusNotFound, Message: "role not found"},
		}, http.StatusInternalServerError, "failed to assign role")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "role assigned"})
}

// RemoveRole revokes a role from a user.
func (h *RoleHandler) RemoveRole(c *gin.Context) {
	err := h.rbac.RemoveRole(c.Request.Context(), c.Param("user_id"), c.Param("role_id"))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrRoleNotFound, Status: http.StatusNotFound, Message: "role not found"},
		}, http.StatusInternalServerError, "failed to remove role")
		return
	}

	c.Status(http.StatusNoContent)
}

// UserPermissions returns the resolved role and permission set for a user.
func (h *RoleHandler) UserPermissions(c *gin.Context) {
	userID := c.Param("user_id")

	roles, err := h.rbac.RoleNames(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to resolve roles"))
		return
	}

	permissions, err := h.rbac.ResolvePermissions(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to resolve permissions"))
		return
	}

	c.JSON(http.StatusOK, UserPermissionsResponse{
		UserID:      userID,
		Roles:       roles,
		Permissions: permissions,
	})
}
