package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	httputil "filechat/internal/pkg/http"
	"filechat/internal/pkg/storage"
)

// attachmentRoot 可访问的 key 前缀
const attachmentRoot = "conversations/"

// AttachmentHandler 附件下载（本地存储的访问URL指向这里）
type AttachmentHandler struct {
	storage storage.Storage
}

// NewAttachmentHandler 创建附件下载处理器
func NewAttachmentHandler(st storage.Storage) *AttachmentHandler {
	return &AttachmentHandler{storage: st}
}

// Head 检查附件是否存在
func (h *AttachmentHandler) Head(c *gin.Context) {
	key, ok := attachmentKey(c)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	exists, err := h.storage.Exists(c.Request.Context(), key)
	switch {
	case err != nil:
		c.Status(http.StatusInternalServerError)
	case !exists:
		c.Status(http.StatusNotFound)
	default:
		c.Status(http.StatusOK)
	}
}

// Get 下载附件
// @Summary      下载附件
// @Tags         附件
// @Produce      octet-stream
// @Param        key  path  string  true  "附件 key"
// @Success      200  {file}  binary  "文件内容"
// @Failure      404  {object}  httputil.ErrorResponse  "附件不存在"
// @Router       /attachments/{key} [get]
func (h *AttachmentHandler) Get(c *gin.Context) {
	key, ok := attachmentKey(c)
	if !ok {
		c.JSON(http.StatusNotFound, httputil.NewErrorResponse(40401, "Attachment not found"))
		return
	}
	ctx := c.Request.Context()

	info, err := h.storage.GetFileInfo(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, httputil.NewErrorResponse(40401, "Attachment not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, httputil.NewErrorResponse(50001, "Failed to read attachment", err.Error()))
		return
	}

	body, err := h.storage.Download(ctx, key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httputil.NewErrorResponse(50001, "Failed to read attachment", err.Error()))
		return
	}
	defer body.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Length", strconv.FormatInt(info.Size, 10))
	if info.ETag != "" {
		c.Header("ETag", `"`+info.ETag+`"`)
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		log.Warn().Err(err).Str("storage_key", key).Msg("failed to stream attachment")
	}
}

func attachmentKey(c *gin.Context) (string, bool) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if !strings.HasPrefix(key, attachmentRoot) || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}
