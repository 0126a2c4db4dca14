package chain

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"yuzu/internal/ai/component"
	"yuzu/internal/config"
)

// TitleChain 标题精炼链
// 工作流: 截断后的原始标题 -> Prompt模板 -> ChatModel -> 精炼后的短标题
// 只在首次保存之前运行一次，写入后标题不再改变
type TitleChain struct {
	chatModel model.BaseChatModel
	maxRunes  int
}

// NewTitleChain 创建标题精炼链
func NewTitleChain(ctx context.Context, cfg *config.AIConfig, maxRunes int) (*TitleChain, error) {
	chatModel, err := component.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &TitleChain{
		chatModel: chatModel,
		maxRunes:  maxRunes,
	}, nil
}

// Run 精炼标题；模型输出超长或为空时退回原始标题
func (c *TitleChain) Run(ctx context.Context, rawTitle string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage("You condense chat openers into short conversation titles. Reply with the title only, no quotes."),
		schema.UserMessage("Condense into a conversation title: " + rawTitle),
	}

	resp, err := c.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(resp.Content)
	if title == "" || len([]rune(title)) > c.maxRunes {
		return rawTitle, nil
	}
	return title, nil
}
