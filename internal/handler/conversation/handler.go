package conversation

import (
	"context"
	"io"
	"os"

	"filechat/internal/pkg/claude"
	"filechat/internal/service"
)

// ProviderFiles 服务商文件接口（*claude.Client）
type ProviderFiles interface {
	UploadFile(ctx context.Context, path, filename, mimeType string) (*claude.FileObject, error)
	ListFiles(ctx context.Context, limit int, afterID string) (*claude.FileList, error)
	GetFileMetadata(ctx context.Context, fileID string) (*claude.FileObject, error)
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// Handler 对话模块处理器
type Handler struct {
	chatService service.ChatService
	files       ProviderFiles
	tempDir     string
	maxBodySize int64 // 单次请求体上限，0 表示不限制
}

// NewHandler 创建对话模块处理器；tempDir 为空时使用系统临时目录
func NewHandler(chatService service.ChatService, files ProviderFiles, tempDir string, maxBodySize int64) *Handler {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Handler{
		chatService: chatService,
		files:       files,
		tempDir:     tempDir,
		maxBodySize: maxBodySize,
	}
}
