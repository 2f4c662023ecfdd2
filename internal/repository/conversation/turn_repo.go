package conversation

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"filechat/internal/model/conversation"
)

// ErrTurnNotFound 消息不存在
var ErrTurnNotFound = errors.New("turn not found")

// TurnRepo 对话消息仓库
type TurnRepo struct {
	collection *mongo.Collection
}

// NewTurnRepo 创建消息仓库
func NewTurnRepo(db *mongo.Database) *TurnRepo {
	var t conversation.Turn
	return &TurnRepo{
		collection: db.Collection(t.Collection()),
	}
}

// Create 保存消息
func (r *TurnRepo) Create(ctx context.Context, turn *conversation.Turn) error {
	now := time.Now()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}
	turn.UpdatedAt = now
	if turn.FileIDs == nil {
		turn.FileIDs = []string{}
	}

	_, err := r.collection.InsertOne(ctx, turn)
	return err
}

// FindByID 根据ID查询
func (r *TurnRepo) FindByID(ctx context.Context, id string) (*conversation.Turn, error) {
	var turn conversation.Turn
	err := r.collection.FindOne(ctx, bson.M{"id": id}).Decode(&turn)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTurnNotFound
		}
		return nil, err
	}
	return &turn, nil
}

// ListByConversation 按创建时间升序列出对话的全部消息
func (r *TurnRepo) ListByConversation(ctx context.Context, conversationID string) ([]*conversation.Turn, error) {
	return r.find(ctx, bson.M{"conversation_id": conversationID})
}

// ListByRole 列出对话中指定角色的消息
func (r *TurnRepo) ListByRole(ctx context.Context, conversationID string, role conversation.Role) ([]*conversation.Turn, error) {
	return r.find(ctx, bson.M{"conversation_id": conversationID, "role": role})
}

func (r *TurnRepo) find(ctx context.Context, filter bson.M) ([]*conversation.Turn, error) {
	opts := options.Find().SetSort(bson.D{
		bson.E{Key: "created_at", Value: 1},
		bson.E{Key: "_id", Value: 1},
	})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	turns := make([]*conversation.Turn, 0)
	if err := cursor.All(ctx, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// AddAttachment 追加附件元数据；消息内容保持不变
func (r *TurnRepo) AddAttachment(ctx context.Context, turnID string, att conversation.Attachment) error {
	update := bson.M{
		"$push": bson.M{"attachments": att},
		"$set":  bson.M{"updated_at": time.Now()},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"id": turnID}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrTurnNotFound
	}
	return nil
}

// DeleteByConversation 删除对话的全部消息，返回删除数量
func (r *TurnRepo) DeleteByConversation(ctx context.Context, conversationID string) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}
