package conversation

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"filechat/internal/pkg/claude"
	httputil "filechat/internal/pkg/http"
	"filechat/internal/pkg/id"
	"filechat/internal/service"
)

const octetStream = "application/octet-stream"

// SendMessageResponseData 发送消息响应数据
type SendMessageResponseData struct {
	UserMessage      TurnInfo `json:"user_message"`
	AssistantMessage TurnInfo `json:"assistant_message"`
	SessionID        string   `json:"session_id"`
	Model            string   `json:"model"`
}

// SendMessage 发送消息（可附带文件）
// @Summary      发送消息
// @Description  发送一条用户消息，附件按类型上传到服务商或转换为文本，返回助手回复与生成文件
// @Tags         对话
// @Accept       multipart/form-data
// @Produce      json
// @Param        conversation_id  path      string  true   "对话ID"
// @Param        content          formData  string  false  "消息内容"
// @Param        model            formData  string  false  "模型名称或别名"
// @Param        session_id       formData  string  false  "服务商会话ID"
// @Param        code_execution   formData  bool    false  "是否启用代码执行"
// @Param        files            formData  file    false  "附件（可多个）"
// @Success      201  {object}  map[string]interface{}  "成功响应"
// @Success      202  {object}  map[string]interface{}  "服务端仍在处理"
// @Failure      400  {object}  ErrorResponse  "请求参数错误"
// @Failure      422  {object}  ErrorResponse  "文件类型不支持、文件过大或模型未知"
// @Failure      502  {object}  ErrorResponse  "服务商错误"
// @Failure      503  {object}  ErrorResponse  "服务商连接超时"
// @Router       /api/v1/conversations/{conversation_id}/messages [post]
func (h *Handler) SendMessage(c *gin.Context) {
	if h.maxBodySize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize)
	}

	files, err := h.saveUploads(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, httputil.NewErrorResponse(CodeFileTooLarge, "Request body too large", err.Error()))
			return
		}
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(CodeInvalidRequest, "Invalid file", err.Error()))
		return
	}

	req := &service.SendMessageRequest{
		ConversationID: c.Param("conversation_id"),
		Text:           c.PostForm("content"),
		Model:          c.PostForm("model"),
		SessionID:      c.PostForm("session_id"),
		Files:          files,
	}
	if v := c.PostForm("code_execution"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			cleanup(files)
			c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(CodeInvalidRequest, "Invalid code_execution", err.Error()))
			return
		}
		req.CodeExecution = &enabled
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, claude.ErrReadTimeout) {
			respondProcessing(c, req.SessionID)
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, httputil.NewSuccessResponse("消息发送成功", SendMessageResponseData{
		UserMessage:      toTurnInfo(result.UserTurn),
		AssistantMessage: toTurnInfo(result.AssistantTurn),
		SessionID:        result.SessionID,
		Model:            result.Model,
	}))
}

// saveUploads 将 multipart 文件写入临时目录；出错时清理已写入的文件
func (h *Handler) saveUploads(c *gin.Context) ([]service.UploadedFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}

	headers := form.File["files"]
	files := make([]service.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := h.saveUpload(c, fh)
		if err != nil {
			cleanup(files)
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (h *Handler) saveUpload(c *gin.Context, fh *multipart.FileHeader) (service.UploadedFile, error) {
	path := filepath.Join(h.tempDir, "upload-"+id.New()+filepath.Ext(fh.Filename))
	if err := c.SaveUploadedFile(fh, path); err != nil {
		return service.UploadedFile{}, fmt.Errorf("save %s: %w", fh.Filename, err)
	}

	return service.UploadedFile{
		LocalPath: path,
		Filename:  filepath.Base(fh.Filename),
		MimeType:  detectMimeType(fh.Header.Get("Content-Type"), path),
		Size:      fh.Size,
	}, nil
}

// detectMimeType 优先使用客户端声明的类型，缺失或为通用二进制时按内容嗅探
func detectMimeType(declared, path string) string {
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != octetStream {
			return mediaType
		}
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return octetStream
	}
	mediaType, _, err := mime.ParseMediaType(mt.String())
	if err != nil {
		return octetStream
	}
	return mediaType
}

func cleanup(files []service.UploadedFile) {
	for _, f := range files {
		if err := removeFile(f.LocalPath); err != nil {
			log.Warn().Err(err).Str("path", f.LocalPath).Msg("failed to remove temp file")
		}
	}
}
