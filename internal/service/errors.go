package service

import "errors"

var (
	// ErrEmptyMessage 消息去除空白后为空，任何网络或数据库调用之前就拒绝
	ErrEmptyMessage = errors.New("message is empty")

	// ErrInvalidMessages 保存批次非法（空批次或非法角色）
	ErrInvalidMessages = errors.New("invalid message batch")

	// ErrNotFound 线程不存在或不属于调用者
	// 两种情况返回同一错误，避免向非属主确认线程存在性
	ErrNotFound = errors.New("conversation not found")

	// ErrAssistantUnavailable 外部 AI 调用失败或超时，未发生任何线程/数据库变更
	ErrAssistantUnavailable = errors.New("assistant service unavailable")
)
