package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"yuzu/internal/model"
)

var (
	// ErrEmptyInput 输入内容为空或全部空白
	ErrEmptyInput = errors.New("input is empty")
	// ErrBusy 上一次发送尚未完成
	ErrBusy = errors.New("a request is already in flight")
)

// State 会话状态
type State int

const (
	// StateIdle 空闲，可以输入
	StateIdle State = iota
	// StateComposing 有未发送的草稿
	StateComposing
	// StateAwaitingReply 已发送，等待回复
	StateAwaitingReply
)

// Entry 会话中的一条消息
// Pending 表示乐观追加、尚未被服务端确认；Failed 表示发送失败被保留。
type Entry struct {
	Role       model.Role
	Content    string
	Attachment *model.Attachment
	Tag        string
	Pending    bool
	Failed     bool
	Notice     bool // 合成的错误提示条目，不属于真实对话内容
}

// API 会话缓存需要的服务端能力
type API interface {
	Chat(ctx context.Context, threadID, message string) (*model.ChatResponse, error)
	GetHistory(ctx context.Context, threadID string) (*model.ConversationDetail, error)
}

// Cache 单个会话的内存状态
//
// 网络调用期间不持有锁，响应返回后按 epoch 决定是否应用：
// 每次切换会话（新建、加载、关闭）都会使 epoch 递增，
// 归属旧 epoch 的响应一律丢弃，不会污染新会话。
type Cache struct {
	api API

	mu       sync.Mutex
	epoch    int
	threadID string
	title    string
	entries  []Entry
	draft    string
	inFlight bool
}

// NewCache 创建空白会话缓存
func NewCache(api API) *Cache {
	return &Cache{api: api}
}

// StartNew 重置为全新会话
// 线程标识在首条消息往返后由服务端分配。
func (c *Cache) StartNew() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Close 关闭当前会话
// 在途请求的响应返回后会被丢弃。
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Cache) reset() {
	c.epoch++
	c.threadID = ""
	c.title = ""
	c.entries = nil
	c.draft = ""
	c.inFlight = false
}

// Load 从服务端加载一个已有对话并整体替换当前内容
// 载荷校验不通过或加载失败时不做任何部分应用，当前会话原样保留。
func (c *Cache) Load(ctx context.Context, threadID string) error {
	c.mu.Lock()
	// 只使在途响应失效，内容要等加载成功才替换
	c.epoch++
	c.inFlight = false
	epoch := c.epoch
	c.mu.Unlock()

	detail, err := c.api.GetHistory(ctx, threadID)
	if err != nil {
		return err
	}

	entries := make([]Entry, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		if !m.Role.Valid() {
			return errors.New("history payload contains invalid role")
		}
		entries = append(entries, Entry{
			Role:       m.Role,
			Content:    m.Content,
			Attachment: m.Attachment,
			Tag:        m.Tag,
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return nil
	}
	c.threadID = detail.ThreadID
	c.title = detail.Title
	c.entries = entries
	c.draft = ""
	return nil
}

// SetDraft 更新草稿内容
func (c *Cache) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

// Draft 返回当前草稿
func (c *Cache) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Send 发送一条消息并等待回复
//
// 调用前乐观追加用户条目；成功后用确认内容替换该条目并追加助手回复，
// 失败则把该条目标记为 Failed，并追加一条合成的提示条目，
// 错误同时返回给调用方，会话保持可用。
func (c *Cache) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	epoch := c.epoch
	threadID := c.threadID
	c.entries = append(c.entries, Entry{Role: model.RoleUser, Content: text, Pending: true})
	pendingAt := len(c.entries) - 1
	c.draft = ""
	c.inFlight = true
	c.mu.Unlock()

	resp, err := c.api.Chat(ctx, threadID, text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		// 用户已切换会话，迟到的响应不再应用
		return nil
	}
	c.inFlight = false

	if err != nil {
		c.entries[pendingAt].Pending = false
		c.entries[pendingAt].Failed = true
		c.entries = append(c.entries, Entry{
			Role:    model.RoleAssistant,
			Content: "回复生成失败：" + err.Error(),
			Notice:  true,
		})
		return err
	}

	c.entries[pendingAt] = Entry{Role: model.RoleUser, Content: text}
	c.entries = append(c.entries, Entry{
		Role:       model.RoleAssistant,
		Content:    resp.Message,
		Attachment: resp.Attachment,
		Tag:        resp.Tag,
	})
	if c.threadID == "" {
		c.threadID = resp.ThreadID
	}
	return nil
}

// State 返回当前会话状态
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return StateAwaitingReply
	}
	if c.draft != "" {
		return StateComposing
	}
	return StateIdle
}

// ThreadID 返回当前线程标识，新会话首次往返前为空
func (c *Cache) ThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

// Title 返回加载时带回的标题
func (c *Cache) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

// Entries 返回当前消息列表的副本
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}
