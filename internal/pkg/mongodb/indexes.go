package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"yuzu/internal/model"
)

// EnsureIndexes 创建所有模型的索引
// 统一入口，应用启动时调用；模型通过 Model 接口自行声明索引
func EnsureIndexes(db *mongo.Database) error {
	ctx := context.Background()

	models := []Model{
		&model.Conversation{},
		&model.Message{},
	}

	return EnsureAllIndexes(ctx, db, models...)
}
