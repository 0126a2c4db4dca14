package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"yuzu/internal/model"
	"yuzu/internal/pkg/ctxutil"
	"yuzu/internal/service"
)

// ChatHandler 对话处理器
type ChatHandler struct {
	chatSvc *service.ChatService
}

// NewChatHandler 创建对话处理器
func NewChatHandler(chatSvc *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatSvc: chatSvc,
	}
}

// Chat 对话接口
// POST /api/chat
// 携带合法 Bearer Token 时交互会被持久化；未认证调用走临时模式，正常应答但不落库
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	// 身份可选：OptionalAuth 验证通过才会注入 user_id
	userID, _ := ctxutil.GetUserID(c.Request.Context())

	resp, err := h.chatSvc.Exchange(c.Request.Context(), userID, req.ThreadID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Code:    40002,
				Message: "Message must not be empty",
			})
		case errors.Is(err, service.ErrAssistantUnavailable):
			c.JSON(http.StatusBadGateway, model.ErrorResponse{
				Code:    50201,
				Message: "Assistant service failed",
				Detail:  err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, model.ErrorResponse{
				Code:    50001,
				Message: "Chat failed",
				Detail:  err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}
