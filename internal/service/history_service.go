package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"yuzu/internal/pkg/cache"
	"yuzu/internal/model"
)

// ConversationStore 对话存取接口，由 repository.ConversationRepo 实现
type ConversationStore interface {
	Create(ctx context.Context, conv *model.Conversation) error
	FindByThread(ctx context.Context, userID, threadID string) (*model.Conversation, error)
	ListByUserID(ctx context.Context, userID string) ([]*model.Conversation, error)
	AddMessageCount(ctx context.Context, id primitive.ObjectID, delta int) error
	Delete(ctx context.Context, userID, threadID string) (bool, error)
}

// MessageStore 消息存取接口，由 repository.MessageRepo 实现
type MessageStore interface {
	InsertBatch(ctx context.Context, msgs []model.Message) error
	ListByConversation(ctx context.Context, convID primitive.ObjectID) ([]model.Message, error)
	TailByConversation(ctx context.Context, convID primitive.ObjectID, n int) ([]model.Message, error)
	CountByConversation(ctx context.Context, convID primitive.ObjectID) (int64, error)
	DeleteByConversation(ctx context.Context, convID primitive.ObjectID) error
}

// Cache 缓存与标记接口，由 cache.RedisCache 实现；可为 nil（降级为直查）
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// TitleRefiner 标题精炼接口，由 chain.TitleChain 实现；可为 nil（不精炼）
type TitleRefiner interface {
	Run(ctx context.Context, rawTitle string) (string, error)
}

// HistoryService 历史存储服务 - 业务逻辑层
// 职责: 对话与消息的持久化，维护标题、顺序与计数不变量
// 所有操作都以调用者身份为范围，跨用户访问一律返回 ErrNotFound
type HistoryService struct {
	convs  ConversationStore
	msgs   MessageStore
	cache  Cache
	titler TitleRefiner
}

// NewHistoryService 创建历史存储服务
func NewHistoryService(convs ConversationStore, msgs MessageStore, c Cache, titler TitleRefiner) *HistoryService {
	return &HistoryService{
		convs:  convs,
		msgs:   msgs,
		cache:  c,
		titler: titler,
	}
}

// List 按最近更新列出用户的对话摘要
func (s *HistoryService) List(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	convs, err := s.convs.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, model.ConversationSummary{
			ThreadID:     conv.ThreadID,
			Title:        conv.Title,
			MessageCount: conv.MessageCount,
			UpdatedAt:    conv.UpdatedAt,
			SaveFailed:   s.saveFailed(ctx, userID, conv.ThreadID),
		})
	}
	return summaries, nil
}

// Search 在已取回的摘要列表上做标题子串过滤
func (s *HistoryService) Search(ctx context.Context, userID, query string) ([]model.ConversationSummary, error) {
	summaries, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	return model.FilterSummaries(summaries, query), nil
}

// Get 按创建顺序取回一个对话的全部消息
func (s *HistoryService) Get(ctx context.Context, userID, threadID string) (*model.ConversationDetail, error) {
	conv, err := s.findOwned(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		var cached model.ConversationDetail
		if err := s.cache.Get(ctx, cache.HistoryCacheKey(userID, threadID), &cached); err == nil {
			return &cached, nil
		}
	}

	msgs, err := s.msgs.ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	// 读路径解析附件 blob：解析失败只丢附件，消息正文照常返回
	for i := range msgs {
		attachment, ok := model.DecodeAttachment(msgs[i].AttachmentBlob)
		if !ok {
			log.Debug().
				Str("thread_id", threadID).
				Int("seq", msgs[i].Seq).
				Msg("dropping malformed attachment blob")
		}
		msgs[i].Attachment = attachment
	}

	detail := &model.ConversationDetail{
		ThreadID:     conv.ThreadID,
		Title:        conv.Title,
		MessageCount: conv.MessageCount,
		Messages:     msgs,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.HistoryCacheKey(userID, threadID), detail, cache.HistoryCacheTTL); err != nil {
			log.Debug().Err(err).Msg("history cache set failed")
		}
	}

	return detail, nil
}

// Save 幂等追加一批消息
// 对话不存在时创建并一次性固定标题；已存在时只追加消息，标题不再变动。
// 通过与存量尾部按 位置+角色+内容 比对抑制重复，同一批次重复提交不会产生重复行。
func (s *HistoryService) Save(ctx context.Context, userID, threadID string, title string, incoming []model.WireMessage) error {
	if threadID == "" || len(incoming) == 0 {
		return ErrInvalidMessages
	}
	for _, m := range incoming {
		if !m.Role.Valid() {
			return ErrInvalidMessages
		}
	}

	conv, err := s.convs.FindByThread(ctx, userID, threadID)
	switch {
	case err == nil:
	case errors.Is(err, mongo.ErrNoDocuments):
		conv, err = s.createConversation(ctx, userID, threadID, title, incoming)
		if err != nil {
			return err
		}
	default:
		return err
	}

	if err := s.reconcileCount(ctx, conv); err != nil {
		return err
	}

	fresh, err := s.dropOverlap(ctx, conv, incoming)
	if err != nil {
		return err
	}
	if len(fresh) > 0 {
		if err := s.appendMessages(ctx, conv, fresh); err != nil {
			return err
		}
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, cache.HistoryCacheKey(userID, threadID), cache.SaveFailKey(userID, threadID))
	}
	return nil
}

// Delete 删除对话及其全部消息
// 幂等：线程不存在时直接成功。先删消息再删对话行，任何时刻都不会留下孤儿消息。
func (s *HistoryService) Delete(ctx context.Context, userID, threadID string) error {
	conv, err := s.convs.FindByThread(ctx, userID, threadID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.msgs.DeleteByConversation(ctx, conv.ID); err != nil {
		return err
	}
	if _, err := s.convs.Delete(ctx, userID, threadID); err != nil {
		return err
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, cache.HistoryCacheKey(userID, threadID), cache.SaveFailKey(userID, threadID))
	}

	log.Info().Str("user_id", userID).Str("thread_id", threadID).Msg("conversation deleted")
	return nil
}

// MarkSaveFailed 记录保存最终失败
// 外部线程已有内容而本地缺失，标记供历史列表向用户暴露
func (s *HistoryService) MarkSaveFailed(ctx context.Context, userID, threadID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cache.SaveFailKey(userID, threadID), true, cache.SaveFailTTL); err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("failed to record save failure flag")
	}
}

// findOwned 带属主校验的查询；不存在与非属主统一映射为 ErrNotFound
func (s *HistoryService) findOwned(ctx context.Context, userID, threadID string) (*model.Conversation, error) {
	conv, err := s.convs.FindByThread(ctx, userID, threadID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// createConversation 首次保存时创建对话行并固定标题
func (s *HistoryService) createConversation(ctx context.Context, userID, threadID, title string, incoming []model.WireMessage) (*model.Conversation, error) {
	if title == "" {
		title = model.DeriveTitle(incoming)
	} else if runes := []rune(title); len(runes) > model.TitleMaxLen {
		title = string(runes[:model.TitleMaxLen]) + "…"
	}

	// 精炼只发生在标题写入之前，失败时沿用原始标题
	if s.titler != nil {
		refined, err := s.titler.Run(ctx, title)
		if err != nil {
			log.Warn().Err(err).Msg("title refine failed, keeping raw title")
		} else {
			title = refined
		}
	}

	conv := &model.Conversation{
		UserID:   userID,
		ThreadID: threadID,
		Title:    title,
	}
	err := s.convs.Create(ctx, conv)
	if mongo.IsDuplicateKeyError(err) {
		// 并发保存竞争，另一个调用先建好了
		return s.convs.FindByThread(ctx, userID, threadID)
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID).
		Str("thread_id", threadID).
		Str("title", title).
		Msg("conversation created")
	return conv, nil
}

// reconcileCount 以真实行数校准冗余计数
// 先前的保存可能在写入消息之后、计数更新之前失败；重试前先收敛，
// 否则重叠比对会漏检，写入序号也会重复
func (s *HistoryService) reconcileCount(ctx context.Context, conv *model.Conversation) error {
	rows, err := s.msgs.CountByConversation(ctx, conv.ID)
	if err != nil {
		return err
	}
	if int(rows) == conv.MessageCount {
		return nil
	}

	log.Warn().
		Str("thread_id", conv.ThreadID).
		Int("message_count", conv.MessageCount).
		Int64("rows", rows).
		Msg("message count diverged from rows, reconciling")

	if err := s.convs.AddMessageCount(ctx, conv.ID, int(rows)-conv.MessageCount); err != nil {
		return err
	}
	conv.MessageCount = int(rows)
	return nil
}

// dropOverlap 去掉 incoming 中与存量尾部重叠的前缀
func (s *HistoryService) dropOverlap(ctx context.Context, conv *model.Conversation, incoming []model.WireMessage) ([]model.WireMessage, error) {
	tail, err := s.msgs.TailByConversation(ctx, conv.ID, len(incoming))
	if err != nil {
		return nil, err
	}

	// 找最长的 k，使存量末尾 k 条与 incoming 前 k 条逐位匹配
	maxK := len(tail)
	if len(incoming) < maxK {
		maxK = len(incoming)
	}
	for k := maxK; k > 0; k-- {
		if matchesTail(tail, incoming, k) {
			return incoming[k:], nil
		}
	}
	return incoming, nil
}

// matchesTail 判断 incoming 前 k 条是否与 tail 末尾 k 条逐位相同
func matchesTail(tail []model.Message, incoming []model.WireMessage, k int) bool {
	offset := len(tail) - k
	for i := 0; i < k; i++ {
		if tail[offset+i].Role != incoming[i].Role || tail[offset+i].Content != incoming[i].Content {
			return false
		}
	}
	return true
}

// appendMessages 写入新消息并同步计数
func (s *HistoryService) appendMessages(ctx context.Context, conv *model.Conversation, fresh []model.WireMessage) error {
	now := time.Now()
	docs := make([]model.Message, 0, len(fresh))
	for i, m := range fresh {
		blob, err := model.EncodeAttachment(m.Attachment)
		if err != nil {
			return err
		}
		docs = append(docs, model.Message{
			ConversationID: conv.ID,
			Seq:            conv.MessageCount + i,
			Role:           m.Role,
			Content:        m.Content,
			AttachmentBlob: blob,
			Tag:            m.Tag,
			CreatedAt:      now,
		})
	}

	if err := s.msgs.InsertBatch(ctx, docs); err != nil {
		return err
	}
	if err := s.convs.AddMessageCount(ctx, conv.ID, len(docs)); err != nil {
		return err
	}
	conv.MessageCount += len(docs)
	return nil
}

// saveFailed 查询保存失败标记；redis 不可用时按未失败处理
func (s *HistoryService) saveFailed(ctx context.Context, userID, threadID string) bool {
	if s.cache == nil {
		return false
	}
	ok, err := s.cache.Exists(ctx, cache.SaveFailKey(userID, threadID))
	if err != nil {
		return false
	}
	return ok
}
