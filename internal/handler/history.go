package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"yuzu/internal/model"
	"yuzu/internal/pkg/ctxutil"
	httpresp "yuzu/internal/pkg/http"
	"yuzu/internal/service"
)

// HistoryHandler 对话历史处理器
// 全部接口要求认证；跨用户访问一律 404，不泄露线程存在性
type HistoryHandler struct {
	historySvc *service.HistoryService
}

// NewHistoryHandler 创建对话历史处理器
func NewHistoryHandler(historySvc *service.HistoryService) *HistoryHandler {
	return &HistoryHandler{
		historySvc: historySvc,
	}
}

// List 获取对话列表
// GET /api/chat/history?q=<标题子串>
func (h *HistoryHandler) List(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	summaries, err := h.historySvc.Search(c.Request.Context(), userID, c.Query("q"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to list conversations",
			Detail:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, model.HistoryListResponse{
		Conversations: summaries,
		Total:         len(summaries),
	})
}

// Get 获取单个对话的全部消息
// GET /api/chat/history/:threadId
func (h *HistoryHandler) Get(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	detail, err := h.historySvc.Get(c.Request.Context(), userID, c.Param("threadId"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, model.ErrorResponse{
				Code:    40401,
				Message: "Conversation not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to load conversation",
			Detail:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, model.HistoryDetailResponse{Conversation: *detail})
}

// Save 保存一批消息（幂等追加）
// POST /api/chat/history
func (h *HistoryHandler) Save(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req model.SaveHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	err := h.historySvc.Save(c.Request.Context(), userID, req.ThreadID, req.Title, req.Messages)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMessages) {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Code:    40002,
				Message: "Invalid message batch",
				Detail:  err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to save conversation",
			Detail:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, httpresp.NewSuccessResponse("Conversation saved", nil))
}

// Delete 删除对话及其消息
// DELETE /api/chat/history/:threadId （幂等，删除不存在的线程也是成功）
func (h *HistoryHandler) Delete(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	if err := h.historySvc.Delete(c.Request.Context(), userID, c.Param("threadId")); err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to delete conversation",
			Detail:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, httpresp.NewSuccessResponse("Conversation deleted", nil))
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, model.ErrorResponse{
		Code:    40101,
		Message: "Authentication required",
	})
}
