package model

import (
	"encoding/json"
	"strings"
)

const (
	// TitleMaxLen 标题最大长度（按 rune 计）
	TitleMaxLen = 50
	// DefaultTitle 没有用户消息时的占位标题
	DefaultTitle = "新对话"
)

// EncodeAttachment 将附件序列化为文本 blob
// 附件缺失时返回空串（存储为空字段）
func EncodeAttachment(a *Attachment) (string, error) {
	if a == nil {
		return "", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeAttachment 将文本 blob 解析回结构化附件
// 空 blob 表示没有附件；解析失败返回 (nil, false)，调用方保留正文、丢弃附件
func DecodeAttachment(blob string) (*Attachment, bool) {
	if blob == "" {
		return nil, true
	}

	var a Attachment
	if err := json.Unmarshal([]byte(blob), &a); err != nil {
		return nil, false
	}
	if a.Type == "" {
		return nil, false
	}
	return &a, true
}

// DeriveTitle 从消息列表派生对话标题
// 取第一条 role=user 的消息，超过 50 字截断并追加省略号；
// 没有用户消息时返回占位标题。纯函数，同一输入必得同一输出。
func DeriveTitle(msgs []WireMessage) string {
	for _, m := range msgs {
		if m.Role != RoleUser {
			continue
		}
		title := strings.TrimSpace(m.Content)
		if title == "" {
			continue
		}
		runes := []rune(title)
		if len(runes) > TitleMaxLen {
			return string(runes[:TitleMaxLen]) + "…"
		}
		return title
	}
	return DefaultTitle
}

// FilterSummaries 按标题过滤对话摘要
// 大小写不敏感的子串匹配，在已取回的列表上求值
func FilterSummaries(list []ConversationSummary, query string) []ConversationSummary {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return list
	}

	filtered := make([]ConversationSummary, 0, len(list))
	for _, s := range list {
		if strings.Contains(strings.ToLower(s.Title), query) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
