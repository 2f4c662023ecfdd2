package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"filechat/internal/model/conversation"
)

// Model 需要管理索引的模型
type Model interface {
	Collection() string
	EnsureIndexes(ctx context.Context, db *mongo.Database) error
}

// models 启动时需要建索引的全部模型
func models() []Model {
	return []Model{
		&conversation.Turn{},
	}
}

// EnsureIndexes 为全部模型创建索引，幂等
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for _, m := range models() {
		if err := m.EnsureIndexes(ctx, db); err != nil {
			return fmt.Errorf("ensure indexes for %s: %w", m.Collection(), err)
		}
	}
	return nil
}
