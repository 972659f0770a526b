package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lukesavage/convohub/internal/cache"
	"github.com/lukesavage/convohub/internal/config"
	"github.com/lukesavage/convohub/internal/domain/user"
)

type UserLister interface {
	List(ctx context.Context) ([]user.MirrorRecord, error)
}

const usersCacheKey = "users:list"

type UsersHandler struct {
	registry UserLister
	cache    *cache.Cache
}

func NewUsersHandler(reg UserLister, c *cache.Cache) *UsersHandler {
	return &UsersHandler{
		registry: reg,
		cache:    c,
	}
}

// List serves the user listing from the mirror. Password hashes never leave
// the store layer, so there is nothing to redact here.
func (h *UsersHandler) List(ctx *gin.Context) {
	if h.cache != nil {
		if v, ok := h.cache.Get(usersCacheKey); ok {
			if users, ok := v.([]user.MirrorRecord); ok {
				ctx.JSON(http.StatusOK, gin.H{"users": users})
				return
			}
		}
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	users, err := h.registry.List(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not list users")
		return
	}

	if h.cache != nil {
		h.cache.Set(usersCacheKey, users)
	}

	ctx.JSON(http.StatusOK, gin.H{"users": users})
}
