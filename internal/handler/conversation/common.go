package conversation

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"filechat/internal/model/conversation"
	"filechat/internal/pkg/claude"
	"filechat/internal/pkg/docconv"
	httputil "filechat/internal/pkg/http"
	"filechat/internal/pkg/ingest"
	"filechat/internal/service"
)

// ErrorResponse 错误响应类型别名（使用共用的 http.ErrorResponse）
type ErrorResponse = httputil.ErrorResponse

// 错误码
const (
	CodeInvalidRequest      = 40001
	CodeUnsupportedMedia    = 42201
	CodeFileTooLarge        = 42202
	CodeUnknownModel        = 42203
	CodeInternal            = 50001
	CodeConversionFailed    = 50002
	CodeProviderError       = 50201
	CodeProviderUnavailable = 50301
	CodeStillProcessing     = 50401
	CodeUploadTimeout       = 50402
)

// TurnInfo 消息 DTO
type TurnInfo struct {
	ID          string           `json:"id"`
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	FileIDs     []string         `json:"file_ids"`
	Attachments []AttachmentInfo `json:"attachments"`
	SessionID   string           `json:"session_id,omitempty"`
	Model       string           `json:"model,omitempty"`
	CreatedAt   string           `json:"created_at"`
}

// AttachmentInfo 附件 DTO
type AttachmentInfo struct {
	ID          string `json:"id"`
	TurnID      string `json:"turn_id,omitempty"`
	FileID      string `json:"file_id,omitempty"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ByteSize    int64  `json:"byte_size"`
	URL         string `json:"url,omitempty"`
	UploadedAt  string `json:"uploaded_at,omitempty"`
	GeneratedAt string `json:"generated_at,omitempty"`
}

func toTurnInfo(t *conversation.Turn) TurnInfo {
	info := TurnInfo{
		ID:          t.ID,
		Role:        t.Role.String(),
		Content:     t.Content,
		FileIDs:     t.FileIDs,
		Attachments: make([]AttachmentInfo, 0, len(t.Attachments)),
		SessionID:   t.SessionID,
		Model:       t.Model,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
	}
	if info.FileIDs == nil {
		info.FileIDs = []string{}
	}
	for _, att := range t.Attachments {
		info.Attachments = append(info.Attachments, AttachmentInfo{
			ID:          att.ID,
			FileID:      att.FileID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			ByteSize:    att.ByteSize,
		})
	}
	return info
}

func toTurnInfoList(turns []*conversation.Turn) []TurnInfo {
	list := make([]TurnInfo, len(turns))
	for i, t := range turns {
		list[i] = toTurnInfo(t)
	}
	return list
}

func toAttachmentInfo(a service.AttachmentInfo, generated bool) AttachmentInfo {
	info := AttachmentInfo{
		ID:          a.ID,
		TurnID:      a.TurnID,
		FileID:      a.FileID,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		ByteSize:    a.ByteSize,
		URL:         a.URL,
	}
	if generated {
		info.GeneratedAt = a.CreatedAt.Format(time.RFC3339)
	} else {
		info.UploadedAt = a.CreatedAt.Format(time.RFC3339)
	}
	return info
}

// respondError 将业务错误映射为 HTTP 状态码与错误码
func respondError(c *gin.Context, err error) {
	status, code, message := http.StatusInternalServerError, CodeInternal, "Internal server error"

	var svcErr *claude.ServiceError
	switch {
	case errors.Is(err, ingest.ErrUnsupportedMediaType):
		status, code, message = http.StatusUnprocessableEntity, CodeUnsupportedMedia, "Unsupported file type"
	case errors.Is(err, ingest.ErrFileTooLarge):
		status, code, message = http.StatusUnprocessableEntity, CodeFileTooLarge, "File too large"
	case errors.Is(err, service.ErrUnknownModel):
		status, code, message = http.StatusUnprocessableEntity, CodeUnknownModel, "Unknown model"
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrConversationRequired):
		status, code, message = http.StatusBadRequest, CodeInvalidRequest, "Invalid request"
	case errors.Is(err, docconv.ErrConversion):
		status, code, message = http.StatusInternalServerError, CodeConversionFailed, "Failed to convert file"
	case errors.Is(err, service.ErrUploadTimeout):
		status, code, message = http.StatusGatewayTimeout, CodeUploadTimeout, "File upload timed out, please retry"
	case errors.Is(err, claude.ErrConnectTimeout):
		status, code, message = http.StatusServiceUnavailable, CodeProviderUnavailable, "Service unavailable, please retry"
	case errors.As(err, &svcErr):
		status, code, message = http.StatusBadGateway, CodeProviderError, "Generative service error"
	case errors.Is(err, context.Canceled):
		message = "Request canceled"
	}

	c.JSON(status, httputil.NewErrorResponse(code, message, err.Error()))
}

// respondProcessing 读取超时：服务端可能仍在处理，返回会话ID供调用方重试
func respondProcessing(c *gin.Context, sessionID string) {
	c.JSON(http.StatusAccepted, httputil.NewProcessingResponse(CodeStillProcessing, sessionID))
}
