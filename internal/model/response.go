package model

// ChatResponse 对话响应
type ChatResponse struct {
	Message    string      `json:"message"`
	ThreadID   string      `json:"thread_id"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Tag        string      `json:"tag,omitempty"`
}

// HistoryListResponse 对话列表响应
type HistoryListResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
}

// HistoryDetailResponse 单个对话历史响应
type HistoryDetailResponse struct {
	Conversation ConversationDetail `json:"conversation"`
}

// ConversationDetail 对话详情
type ConversationDetail struct {
	ThreadID     string    `json:"thread_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	Messages     []Message `json:"messages"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// TransformResponse 文本转换响应
type TransformResponse struct {
	Text  string      `json:"text"`            // 转换后的文本
	Usage *TokenUsage `json:"usage,omitempty"` // Token 使用统计
}

// TokenUsage Token 使用统计
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
