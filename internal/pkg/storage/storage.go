package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("storage: object not found")

// Storage 附件存储接口
type Storage interface {
	// Upload 上传文件，返回访问URL
	Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error)

	// Download 下载文件，调用方负责关闭
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetPresignedDownloadURL 获取预签名下载URL
	GetPresignedDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, error)

	// Delete 删除文件，不存在时视为成功
	Delete(ctx context.Context, key string) error

	// DeletePrefix 删除前缀下的全部文件，返回删除数量
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Exists 检查文件是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// GetFileInfo 获取文件信息
	GetFileInfo(ctx context.Context, key string) (*FileInfo, error)

	// GetStorageType 获取存储类型
	GetStorageType() string
}

// FileInfo 文件信息
type FileInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// StorageType 存储类型
type StorageType string

const (
	StorageTypeLocal StorageType = "local" // 本地文件系统
	StorageTypeOSS   StorageType = "oss"   // 阿里云OSS
)

// ConversationPrefix 对话附件的 key 前缀
func ConversationPrefix(conversationID string) string {
	return path.Join("conversations", conversationID) + "/"
}

// AttachmentKey 附件的存储 key：conversations/{conversationId}/{turnId}/{attachmentId}/{filename}
func AttachmentKey(conversationID, turnID, attachmentID, filename string) string {
	return path.Join("conversations", conversationID, turnID, attachmentID, SanitizeFilename(filename))
}

// SanitizeFilename 去掉路径成分，避免 key 逃逸出附件目录
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." || name == "" {
		return "file"
	}
	return name
}
