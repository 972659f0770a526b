package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lukesavage/convohub/internal/cache"
	"github.com/lukesavage/convohub/internal/config"
	"github.com/lukesavage/convohub/internal/registry"
)

// Registry is the slice of the coordinator the auth endpoints need.
type Registry interface {
	Register(ctx context.Context, name, email, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
}

type AuthHandler struct {
	registry Registry

	// shared with UsersHandler; a fresh registration must show up in the
	// next listing rather than after the cache TTL
	cache *cache.Cache
}

func NewAuthHandler(reg Registry, c *cache.Cache) *AuthHandler {
	return &AuthHandler{
		registry: reg,
		cache:    c,
	}
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	token, err := h.registry.Register(cctx, req.Name, req.Email, req.Password)

	if err != nil {
		if errors.Is(err, registry.ErrDuplicateUser) {
			RespondBadRequest(ctx, "Email is already in use.", nil)
			return
		}

		RespondInternal(ctx, "Could not create user")
		return
	}

	if h.cache != nil {
		h.cache.Delete(usersCacheKey)
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"token": token,
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	token, err := h.registry.Login(cctx, req.Email, req.Password)

	if err != nil {
		if errors.Is(err, registry.ErrInvalidCredentials) {
			// same shape for unknown email and wrong password
			RespondBadRequest(ctx, "Email or password is incorrect.", nil)
			return
		}

		RespondInternal(ctx, "Could not log in")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"token": token,
	})
}
