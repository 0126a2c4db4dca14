package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog/log"

	"yuzu/internal/config"
	"yuzu/internal/model"
)

var (
	// ErrNotConfigured 未配置外部服务（缺少 API Key 或 assistant_id）
	ErrNotConfigured = errors.New("assistant service not configured")
	// ErrRunFailed 外部服务执行 run 失败
	ErrRunFailed = errors.New("assistant run failed")
)

const (
	defaultTimeout      = 60 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// AssistantClient 外部对话线程服务客户端
// 封装 create-thread / continue-thread 契约：文本进，回复文本 + thread_id + 可选附件出。
// thread_id 始终由外部服务分配。
type AssistantClient struct {
	client       *openai.Client
	assistantID  string
	timeout      time.Duration
	pollInterval time.Duration
}

// NewAssistantClient 创建外部线程服务客户端
func NewAssistantClient(cfg *config.AssistantConfig) (*AssistantClient, error) {
	if cfg.APIKey == "" || cfg.AssistantID == "" {
		return nil, ErrNotConfigured
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &AssistantClient{
		client:       openai.NewClientWithConfig(clientCfg),
		assistantID:  cfg.AssistantID,
		timeout:      timeout,
		pollInterval: pollInterval,
	}, nil
}

// StartThread 创建新线程并发送首条消息
func (a *AssistantClient) StartThread(ctx context.Context, text string) (*ExchangeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	thread, err := a.client.CreateThread(ctx, openai.ThreadRequest{
		Messages: []openai.ThreadMessage{
			{Role: openai.ThreadMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	return a.runAndCollect(ctx, thread.ID)
}

// ContinueThread 向既有线程追加消息并获取回复
func (a *AssistantClient) ContinueThread(ctx context.Context, threadID, text string) (*ExchangeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	_, err := a.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: text,
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	return a.runAndCollect(ctx, threadID)
}

// runAndCollect 在线程上执行一次 run，轮询到终态后取回助手回复
func (a *AssistantClient) runAndCollect(ctx context.Context, threadID string) (*ExchangeResult, error) {
	run, err := a.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: a.assistantID,
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for run.Status != openai.RunStatusCompleted {
		switch run.Status {
		case openai.RunStatusFailed, openai.RunStatusExpired, openai.RunStatusCancelling, openai.RunStatusCancelled:
			if run.LastError != nil {
				return nil, fmt.Errorf("%w: %s (%s)", ErrRunFailed, run.LastError.Message, run.Status)
			}
			return nil, fmt.Errorf("%w: status %s", ErrRunFailed, run.Status)
		case openai.RunStatusRequiresAction:
			// 本服务不注册工具，不应出现；视为失败而不是挂死等待
			return nil, fmt.Errorf("%w: unexpected requires_action", ErrRunFailed)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		run, err = a.client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return nil, fmt.Errorf("retrieve run: %w", err)
		}
	}

	return a.collectReply(ctx, threadID, run)
}

// collectReply 取回本次 run 产生的助手消息
func (a *AssistantClient) collectReply(ctx context.Context, threadID string, run openai.Run) (*ExchangeResult, error) {
	limit := 10
	msgs, err := a.client.ListMessage(ctx, threadID, &limit, nil, nil, nil, &run.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	result := &ExchangeResult{
		ThreadID: threadID,
		Tag:      run.AssistantID,
	}

	var parts []string
	for _, msg := range msgs.Messages {
		if msg.Role != string(openai.ThreadMessageRoleAssistant) {
			continue
		}
		for _, cnt := range msg.Content {
			switch {
			case cnt.Text != nil:
				parts = append(parts, cnt.Text.Value)
			case cnt.ImageFile != nil && result.Attachment == nil:
				result.Attachment = &model.Attachment{
					Type:   "image",
					Name:   illustrationName(cnt.ImageFile.FileID),
					FileID: cnt.ImageFile.FileID,
				}
			}
		}
	}

	if len(parts) == 0 && result.Attachment == nil {
		return nil, fmt.Errorf("%w: run produced no reply", ErrRunFailed)
	}

	result.Reply = strings.Join(parts, "\n")

	log.Debug().
		Str("thread_id", threadID).
		Str("run_id", run.ID).
		Bool("has_attachment", result.Attachment != nil).
		Msg("assistant reply collected")

	return result, nil
}

// illustrationName 从文件标识派生附件展示名
func illustrationName(fileID string) string {
	return "illustration-" + strings.TrimPrefix(fileID, "file-")
}
