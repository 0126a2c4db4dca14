package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"yuzu/internal/model"
)

// MessageRepo 消息仓库
type MessageRepo struct {
	collection *mongo.Collection
}

// NewMessageRepo 创建消息仓库
func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection((&model.Message{}).Collection()),
	}
}

// InsertBatch 批量插入消息
func (r *MessageRepo) InsertBatch(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(msgs))
	for i := range msgs {
		docs = append(docs, msgs[i])
	}

	// 有序插入，保证 seq 顺序即写入顺序
	_, err := r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	return err
}

// ListByConversation 按创建顺序列出对话的全部消息
// 排序键 created_at，seq 决胜（同一批次写入的消息时间戳可能相同）
func (r *MessageRepo) ListByConversation(ctx context.Context, convID primitive.ObjectID) ([]model.Message, error) {
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "created_at", Value: 1}, bson.E{Key: "seq", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"conversation_id": convID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []model.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}

	return msgs, nil
}

// TailByConversation 取对话末尾的 n 条消息（创建顺序）
// 用于幂等保存时与新批次做重叠比对
func (r *MessageRepo) TailByConversation(ctx context.Context, convID primitive.ObjectID, n int) ([]model.Message, error) {
	if n <= 0 {
		return nil, nil
	}

	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "created_at", Value: -1}, bson.E{Key: "seq", Value: -1}}).
		SetLimit(int64(n))

	cursor, err := r.collection.Find(ctx, bson.M{"conversation_id": convID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []model.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}

	// 反转回创建顺序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// CountByConversation 统计对话真实消息行数
func (r *MessageRepo) CountByConversation(ctx context.Context, convID primitive.ObjectID) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"conversation_id": convID})
}

// DeleteByConversation 删除对话的全部消息（级联删除的前半步）
func (r *MessageRepo) DeleteByConversation(ctx context.Context, convID primitive.ObjectID) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"conversation_id": convID})
	return err
}
