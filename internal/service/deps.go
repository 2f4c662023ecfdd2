package service

import (
	"context"
	"errors"
	"io"

	"filechat/internal/model/conversation"
	"filechat/internal/pkg/cache"
	"filechat/internal/pkg/claude"
)

var (
	ErrConversationRequired = errors.New("conversation id is required")
	ErrEmptyMessage         = errors.New("message must contain text or files")
	ErrUnknownModel         = errors.New("unknown model")

	// ErrUploadTimeout 文件上传超时；请求未进入对话调用，没有可等待的结果
	ErrUploadTimeout = errors.New("file upload timed out")
)

// Provider 生成服务客户端（*claude.Client）
type Provider interface {
	Complete(ctx context.Context, messages []conversation.Message, model string, session claude.Session) (*claude.Completion, error)
	UploadFile(ctx context.Context, path, filename, mimeType string) (*claude.FileObject, error)
	GetFileMetadata(ctx context.Context, fileID string) (*claude.FileObject, error)
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// TurnStore 消息持久化（*conversation.TurnRepo）
type TurnStore interface {
	Create(ctx context.Context, turn *conversation.Turn) error
	ListByConversation(ctx context.Context, conversationID string) ([]*conversation.Turn, error)
	ListByRole(ctx context.Context, conversationID string, role conversation.Role) ([]*conversation.Turn, error)
	AddAttachment(ctx context.Context, turnID string, att conversation.Attachment) error
	DeleteByConversation(ctx context.Context, conversationID string) (int64, error)
}

// SessionStore 会话缓存（*cache.SessionCache），可为空
type SessionStore interface {
	SetSession(ctx context.Context, conversationID string, state cache.SessionState) error
	GetSession(ctx context.Context, conversationID string) (*cache.SessionState, error)
	DeleteSession(ctx context.Context, conversationID string) error
}

// TextConverter 文档转文本（*docconv.Converter）
type TextConverter interface {
	ConvertToText(path, mimeType string) (string, error)
}
