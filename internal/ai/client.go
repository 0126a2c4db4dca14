package ai

import (
	"context"

	"yuzu/internal/config"
	"yuzu/internal/model"
)

// Client AI 能力层客户端
// 职责: 封装外部线程服务，提供统一接口
type Client struct {
	cfg       *config.AssistantConfig
	assistant *AssistantClient
}

// ExchangeResult 一次交互的结果
type ExchangeResult struct {
	Reply      string
	ThreadID   string
	Attachment *model.Attachment
	Tag        string // 产生回复的助手标识
}

// NewClient 创建 AI 客户端
func NewClient(cfg *config.AssistantConfig) (*Client, error) {
	assistant, err := NewAssistantClient(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:       cfg,
		assistant: assistant,
	}, nil
}

// StartThread 新建线程对话
func (c *Client) StartThread(ctx context.Context, text string) (*ExchangeResult, error) {
	return c.assistant.StartThread(ctx, text)
}

// ContinueThread 继续既有线程对话
func (c *Client) ContinueThread(ctx context.Context, threadID, text string) (*ExchangeResult, error) {
	return c.assistant.ContinueThread(ctx, threadID, text)
}
