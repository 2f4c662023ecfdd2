package conversation

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"      // 用户
	RoleAssistant Role = "assistant" // 助手
)

// String 返回角色的字符串表示
func (r Role) String() string {
	return string(r)
}

// Valid 是否为合法角色
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn 对话中的一条消息
// 持久化后内容不可变，仅允许追加附件元数据。
type Turn struct {
	ID             string `bson:"id" json:"id"`                           // 消息ID（UUID）
	ConversationID string `bson:"conversation_id" json:"conversation_id"` // 所属对话ID

	Role    Role     `bson:"role" json:"role"`
	Content string   `bson:"content" json:"content"`
	FileIDs []string `bson:"file_ids" json:"file_ids"` // 服务商侧文件ID（用户上传或代码执行生成）

	Attachments []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`

	SessionID string `bson:"session_id,omitempty" json:"session_id,omitempty"` // 助手消息对应的服务商容器ID
	Model     string `bson:"model,omitempty" json:"model,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Attachment 消息附件（持久化存储的文件）
type Attachment struct {
	ID          string    `bson:"id" json:"id"`
	FileID      string    `bson:"file_id,omitempty" json:"file_id,omitempty"` // 服务商文件ID，转换为文本的文件为空
	Filename    string    `bson:"filename" json:"filename"`
	ContentType string    `bson:"content_type" json:"content_type"`
	ByteSize    int64     `bson:"byte_size" json:"byte_size"`
	StorageKey  string    `bson:"storage_key" json:"storage_key"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// Collection 返回集合名称
func (t *Turn) Collection() string { return "turns" }

// EnsureIndexes 创建和维护索引
func (t *Turn) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(t.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("uniq_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_conversation_created"),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "role", Value: 1}},
			Options: options.Index().SetName("idx_conversation_role"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}

// Message 发送给服务商的一条上下文消息
// 由历史构建器产出，严格按 user/assistant 交替。
type Message struct {
	Role    Role
	Content string
	FileIDs []string
}
