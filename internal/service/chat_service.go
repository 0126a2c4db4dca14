package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"yuzu/internal/ai"
	"yuzu/internal/config"
	"yuzu/internal/model"
)

// Assistant 外部线程服务接口，由 ai.Client 实现
type Assistant interface {
	StartThread(ctx context.Context, text string) (*ai.ExchangeResult, error)
	ContinueThread(ctx context.Context, threadID, text string) (*ai.ExchangeResult, error)
}

// ChatService 对话网关 - 业务逻辑层
// 职责: 编排外部 AI 调用与历史持久化
// 回复先行返回，持久化异步完成；外部调用失败与保存失败是两类错误，
// 只有后者产生可见的不一致窗口。
type ChatService struct {
	assistant  Assistant
	history    *HistoryService // 为 nil 时所有交互均为临时模式
	retries    int
	retryDelay time.Duration

	locks sync.Map // 每个 (user_id, thread_id) 一把锁，串行化同线程请求与持久化
	saves sync.WaitGroup
}

// NewChatService 创建对话网关
func NewChatService(assistant Assistant, history *HistoryService, cfg *config.HistoryConfig) *ChatService {
	retries := cfg.SaveRetries
	if retries <= 0 {
		retries = 3
	}
	retryDelay := cfg.SaveRetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &ChatService{
		assistant:  assistant,
		history:    history,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

// Exchange 处理一次对话交互
// 业务流程: 1. 本地校验 -> 2. 调用外部服务（无 threadID 则新建线程）-> 3. 异步持久化
// userID 为空表示未认证调用：交互照常进行，但不做任何持久化（临时模式）。
func (s *ChatService) Exchange(ctx context.Context, userID, threadID, text string) (*model.ChatResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	logger := log.With().Str("user_id", userID).Str("thread_id", threadID).Logger()

	// 同一 (user, thread) 的请求串行化：两个几乎同时的发送不会乱序持久化，
	// 也不会争抢线程的建立。锁会传递给持久化 goroutine，保存完成才释放。
	var lock *sync.Mutex
	persisting := userID != "" && s.history != nil
	if persisting {
		lock = s.threadLock(userID, threadID)
		lock.Lock()
	}

	var (
		result *ai.ExchangeResult
		err    error
	)
	if threadID == "" {
		result, err = s.assistant.StartThread(ctx, text)
	} else {
		result, err = s.assistant.ContinueThread(ctx, threadID, text)
	}
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		logger.Error().Err(err).Msg("assistant exchange failed")
		return nil, fmt.Errorf("%w: %s", ErrAssistantUnavailable, err)
	}

	// 用户已经拿到回复，保存与响应解耦；客户端中途离开不会中止保存
	if persisting {
		s.saves.Add(1)
		go s.persistExchange(context.WithoutCancel(ctx), userID, text, result, lock, threadID == "")
	}

	return &model.ChatResponse{
		Message:    result.Reply,
		ThreadID:   result.ThreadID,
		Attachment: result.Attachment,
		Tag:        result.Tag,
	}, nil
}

// DrainSaves 等待所有在途保存结束（优雅关闭时调用）
func (s *ChatService) DrainSaves() {
	s.saves.Wait()
}

// persistExchange 持久化一组 (用户消息, 助手回复)
// 有限重试 + 指数退避；最终失败时打标记，供历史列表暴露不一致窗口。
// held 是 Exchange 里已持有的线程锁，保存收尾时才释放。
func (s *ChatService) persistExchange(ctx context.Context, userID, text string, result *ai.ExchangeResult, held *sync.Mutex, newThread bool) {
	defer s.saves.Done()
	defer held.Unlock()

	// 新建线程时 Exchange 持有的是 (user, "") 锁；在这里补上具体线程的锁，
	// 否则紧随其后的同线程发送可能抢先建行，标题就不再来自第一条用户消息
	if newThread {
		threadLock := s.threadLock(userID, result.ThreadID)
		threadLock.Lock()
		defer threadLock.Unlock()
	}

	pair := []model.WireMessage{
		{Role: model.RoleUser, Content: text},
		{Role: model.RoleAssistant, Content: result.Reply, Attachment: result.Attachment, Tag: result.Tag},
	}

	logger := log.With().Str("user_id", userID).Str("thread_id", result.ThreadID).Logger()

	delay := s.retryDelay
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		if err = s.history.Save(ctx, userID, result.ThreadID, "", pair); err == nil {
			return
		}
		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("failed to save exchange")
	}

	// 外部线程已有这轮内容而本地没有：记录不一致窗口
	logger.Error().Err(err).Msg("giving up on saving exchange")
	s.history.MarkSaveFailed(ctx, userID, result.ThreadID)
}

// threadLock 取同一 (user, thread) 共享的互斥锁
func (s *ChatService) threadLock(userID, threadID string) *sync.Mutex {
	key := userID + "\x00" + threadID
	actual, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}
