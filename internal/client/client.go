package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"yuzu/internal/config"
	"yuzu/internal/model"
)

// ErrNotFound 线程不存在或不属于当前身份
var ErrNotFound = errors.New("conversation not found")

// Client 服务端 API 客户端
// 供终端客户端与会话缓存使用
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// New 创建 API 客户端
func New(cfg *config.ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		token:   cfg.Token,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Chat 发送一条消息
// threadID 为空时由服务端新建线程
func (c *Client) Chat(ctx context.Context, threadID, message string) (*model.ChatResponse, error) {
	req := model.ChatRequest{Message: message, ThreadID: threadID}

	var resp model.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListHistory 获取对话摘要列表
func (c *Client) ListHistory(ctx context.Context) ([]model.ConversationSummary, error) {
	var resp model.HistoryListResponse
	if err := c.do(ctx, http.MethodGet, "/api/chat/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// GetHistory 获取单个对话的全部消息
func (c *Client) GetHistory(ctx context.Context, threadID string) (*model.ConversationDetail, error) {
	var resp model.HistoryDetailResponse
	if err := c.do(ctx, http.MethodGet, "/api/chat/history/"+threadID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Conversation, nil
}

// SaveHistory 幂等保存一批消息
func (c *Client) SaveHistory(ctx context.Context, req *model.SaveHistoryRequest) error {
	return c.do(ctx, http.MethodPost, "/api/chat/history", req, nil)
}

// DeleteHistory 删除对话（幂等）
func (c *Client) DeleteHistory(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodDelete, "/api/chat/history/"+threadID, nil, nil)
}

// do 执行一次请求并解析响应
func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var errResp model.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Message != "" {
			return fmt.Errorf("server error %d: %s", errResp.Code, errResp.Message)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
