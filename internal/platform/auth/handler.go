package auth

import (
	"errors"
	"net/http"
	"strconv"

	"LIBRA-backend/internal/platform/apierr"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct{ svc AuthService }

func RegisterRoutes(r gin.IRoutes, svc AuthService) {
	h := &AuthHandler{svc: svc}
	r.POST("/login", h.Login)
	r.POST("/register", h.Register)
}

// RegisterAdminRoutes は管理者用のユーザー操作。
func RegisterAdminRoutes(r gin.IRoutes, svc AuthService) {
	h := &AuthHandler{svc: svc}
	r.GET("/users", h.ListUsers)
	r.GET("/users/stats", h.Stats)
	r.PUT("/users/:id/admin", h.SetAdmin)
	r.PUT("/users/:id/status", h.SetStatus)
}

type LoginRequest struct {
	OpenID   string `json:"openid" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, err := h.svc.Login(c.Request.Context(), req.OpenID, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountDisabled):
			c.JSON(http.StatusForbidden, apierr.Body(err))
		case errors.Is(err, ErrBadCredentials):
			c.JSON(http.StatusUnauthorized, apierr.Body(err))
		default:
			c.JSON(http.StatusInternalServerError, apierr.Body(err))
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"message": "Login successful",
	})
}

type RegisterRequest struct {
	OpenID   string `json:"openid" binding:"required"`
	Password string `json:"password" binding:"required"`
	Nickname string `json:"nickname"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	id, err := h.svc.Register(c.Request.Context(), req.OpenID, req.Password, req.Nickname)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "message": "registered"})
}

type SetAdminRequest struct {
	IsAdmin *bool `json:"is_admin" binding:"required"`
}

func (h *AuthHandler) SetAdmin(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("invalid id")))
		return
	}
	var req SetAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid(err.Error())))
		return
	}
	actor, _ := CurrentUser(c)
	if err := h.svc.SetAdmin(c.Request.Context(), actor.UserID, id, *req.IsAdmin); err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_admin": *req.IsAdmin})
}

type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *AuthHandler) SetStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("invalid id")))
		return
	}
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid(err.Error())))
		return
	}
	actor, _ := CurrentUser(c)
	if err := h.svc.SetStatus(c.Request.Context(), actor.UserID, id, req.Status); err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

// ListUsers: ?keyword=&filter=all|admin|recent&limit=&offset=
func (h *AuthHandler) ListUsers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	res, err := h.svc.ListUsers(c.Request.Context(), UserQuery{
		Keyword: c.Query("keyword"),
		Filter:  c.Query("filter"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AuthHandler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, st)
}
