package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid 检查角色是否合法
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation 对话实体
// 镜像外部服务的一个 thread：thread_id 由外部服务分配，在单个用户范围内唯一。
// message_count 是冗余计数，随消息批量写入一起维护。
type Conversation struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"user_id" json:"user_id"`
	ThreadID     string             `bson:"thread_id" json:"thread_id"`
	Title        string             `bson:"title" json:"title"` // 首次保存时派生，之后不变
	MessageCount int                `bson:"message_count" json:"message_count"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (c *Conversation) Collection() string { return "conversations" }

// EnsureIndexes 创建和维护索引
func (c *Conversation) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(c.Collection())
	indexes := []mongo.IndexModel{
		{
			// thread_id 在用户范围内唯一，而不是全局唯一
			Keys:    bson.D{bson.E{Key: "user_id", Value: 1}, bson.E{Key: "thread_id", Value: 1}},
			Options: options.Index().SetName("idx_user_thread").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "user_id", Value: 1}, bson.E{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_user_updated"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}

// Message 消息实体
// 属于且仅属于一个 Conversation，对话删除时级联删除。
// 排序键为 created_at，并以 seq（写入序号）决胜。
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID primitive.ObjectID `bson:"conversation_id" json:"-"`
	Seq            int                `bson:"seq" json:"seq"`
	Role           Role               `bson:"role" json:"role"`
	Content        string             `bson:"content" json:"content"`
	AttachmentBlob string             `bson:"attachment_blob,omitempty" json:"-"` // 序列化后的附件，可能为空或损坏
	Tag            string             `bson:"tag,omitempty" json:"tag,omitempty"` // 产生回复的助手标识
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`

	// Attachment 是 attachment_blob 解析后的结构化形式，读路径填充。
	// 解析失败时保持为 nil，消息正文不受影响。
	Attachment *Attachment `bson:"-" json:"attachment,omitempty"`
}

// Collection 返回集合名称
func (m *Message) Collection() string { return "messages" }

// EnsureIndexes 创建和维护索引
func (m *Message) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(m.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				bson.E{Key: "conversation_id", Value: 1},
				bson.E{Key: "created_at", Value: 1},
				bson.E{Key: "seq", Value: 1},
			},
			Options: options.Index().SetName("idx_conv_order"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}

// Attachment 消息附件（结构化负载）
// 例如助手返回的技术插图引用。存储时序列化为文本 blob。
type Attachment struct {
	Type   string `json:"type"`              // 目前只有 "image"
	Name   string `json:"name"`              // 展示名称
	FileID string `json:"file_id,omitempty"` // 外部服务侧的文件标识
}

// ConversationSummary 对话摘要（列表项）
type ConversationSummary struct {
	ThreadID     string    `json:"thread_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
	SaveFailed   bool      `json:"save_failed,omitempty"` // 外部线程有内容而本地保存失败
}
