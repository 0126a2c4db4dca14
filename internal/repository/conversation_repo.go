package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"yuzu/internal/model"
)

// ConversationRepo 对话仓库
// 所有查询都带 user_id 条件，非属主访问等价于不存在
type ConversationRepo struct {
	collection *mongo.Collection
}

// NewConversationRepo 创建对话仓库
func NewConversationRepo(db *mongo.Database) *ConversationRepo {
	return &ConversationRepo{
		collection: db.Collection((&model.Conversation{}).Collection()),
	}
}

// Create 创建对话
func (r *ConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	result, err := r.collection.InsertOne(ctx, conv)
	if err != nil {
		return err
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		conv.ID = oid
	}
	return nil
}

// FindByThread 按 (user_id, thread_id) 查询
// 未找到时返回 mongo.ErrNoDocuments
func (r *ConversationRepo) FindByThread(ctx context.Context, userID, threadID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID, "thread_id": threadID}).Decode(&conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListByUserID 查询用户对话列表，按最近更新排序
func (r *ConversationRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "updated_at", Value: -1}})

	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var convs []*model.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, err
	}

	return convs, nil
}

// AddMessageCount 增加消息计数并刷新 updated_at
// 与消息批量写入同一次保存内调用，保证计数与行数收敛
func (r *ConversationRepo) AddMessageCount(ctx context.Context, id primitive.ObjectID, delta int) error {
	update := bson.M{
		"$inc": bson.M{"message_count": delta},
		"$set": bson.M{"updated_at": time.Now()},
	}
	_, err := r.collection.UpdateByID(ctx, id, update)
	return err
}

// Delete 删除对话
// 返回是否真的删除了一行；删除不存在的对话不是错误
func (r *ConversationRepo) Delete(ctx context.Context, userID, threadID string) (bool, error) {
	result, err := r.collection.DeleteOne(ctx, bson.M{"user_id": userID, "thread_id": threadID})
	if err != nil {
		return false, err
	}
	return result.DeletedCount > 0, nil
}
