package model

// ChatRequest 对话请求
type ChatRequest struct {
	Message  string `json:"message" binding:"required"`
	ThreadID string `json:"thread_id,omitempty"`
}

// SaveHistoryRequest 保存历史请求
// messages 为增量批次；服务端按位置做重复抑制，重复提交不会产生重复行
type SaveHistoryRequest struct {
	ThreadID string        `json:"thread_id" binding:"required"`
	Title    string        `json:"title,omitempty"`
	Messages []WireMessage `json:"messages" binding:"required"`
}

// WireMessage 线上消息表示（客户端与服务端之间）
type WireMessage struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Tag        string      `json:"tag,omitempty"`
}

// TransformRequest 文本转换请求
type TransformRequest struct {
	Text   string `json:"text" binding:"required"`   // 输入文本
	Prompt string `json:"prompt" binding:"required"` // 转换指令 (如: "翻译成英文", "总结要点")
}
