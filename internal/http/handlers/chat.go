package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lukesavage/convohub/internal/chat"
	"github.com/lukesavage/convohub/internal/http/middlewares"
)

type Converser interface {
	Converse(ctx context.Context, userID, message, systemRole string) (string, error)
}

type ChatHandler struct {
	assembler Converser
}

func NewChatHandler(assembler Converser) *ChatHandler {
	return &ChatHandler{
		assembler: assembler,
	}
}

type ChatRequest struct {
	Message    string `json:"message" binding:"required"`
	SystemRole string `json:"systemRole"`
}

// Chatbot runs one conversational turn for the authenticated user. The
// upstream completion call is bounded by the client's own timeout, so the
// request context is passed through as-is.
func (h *ChatHandler) Chatbot(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if ok {
		ok = userID != ""
	}

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	var req ChatRequest

	if !BindJSON(ctx, &req) {
		return
	}

	reply, err := h.assembler.Converse(ctx.Request.Context(), userID, req.Message, req.SystemRole)

	if err != nil {
		if errors.Is(err, chat.ErrUserNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not complete chat turn")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"reply": reply,
	})
}
