package claude

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// tlsHandshakeTimeout net/http 握手超时错误的固定文案（该类型未导出）
const tlsHandshakeTimeout = "TLS handshake timeout"

var (
	// ErrConnectTimeout 无法在连接超时内建立连接，可重试
	ErrConnectTimeout = errors.New("claude: connection timeout")
	// ErrReadTimeout 等待响应超时，服务端可能仍在处理
	ErrReadTimeout = errors.New("claude: response timeout, still processing")
	// ErrArtifactDownload 生成文件下载失败（单个文件，非致命）
	ErrArtifactDownload = errors.New("claude: artifact download failed")
	// ErrUnsupportedFile 文件类型或大小不满足上传要求
	ErrUnsupportedFile = errors.New("claude: file not accepted for upload")
)

// ServiceError 非 2xx 响应
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("claude API error: %d - %s", e.StatusCode, e.Body)
}

// Retryable 限流或服务端错误
func (e *ServiceError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// ArtifactDownloadError 单个生成文件的下载错误
type ArtifactDownloadError struct {
	FileID string
	Err    error
}

func (e *ArtifactDownloadError) Error() string {
	return fmt.Sprintf("download generated file %s: %v", e.FileID, e.Err)
}

func (e *ArtifactDownloadError) Unwrap() []error {
	return []error{ErrArtifactDownload, e.Err}
}

// classifyTransportError 将网络错误归类为连接超时 / 读取超时 / 其他
// 调用方取消（context）原样返回
func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("claude request canceled: %w", ctxErr)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			if opErr.Timeout() {
				return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
			}
			return fmt.Errorf("claude connect: %w", err)
		case "write":
			return fmt.Errorf("claude send request: %w", err)
		}
	}

	// TLS 握手属于建立连接阶段，请求尚未送达
	if isTimeout(err) && strings.Contains(err.Error(), tlsHandshakeTimeout) {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}

	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrReadTimeout, err)
	}
	return fmt.Errorf("claude request: %w", err)
}

// isTimeout 沿错误链查找超时错误
// url.Error 等外层包装未必转发 Timeout()
func isTimeout(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if t, ok := e.(interface{ Timeout() bool }); ok && t.Timeout() {
			return true
		}
	}
	return false
}
