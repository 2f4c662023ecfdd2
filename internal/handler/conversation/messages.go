package conversation

import (
	"errors"
	"io/fs"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	httputil "filechat/internal/pkg/http"
)

// ListMessages 按时间顺序列出对话消息
// @Summary      消息列表
// @Tags         对话
// @Produce      json
// @Param        conversation_id  path  string  true  "对话ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Router       /api/v1/conversations/{conversation_id}/messages [get]
func (h *Handler) ListMessages(c *gin.Context) {
	turns, err := h.chatService.ListTurns(c.Request.Context(), c.Param("conversation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("success", gin.H{
		"messages": toTurnInfoList(turns),
	}))
}

// ListUploadedFiles 列出用户上传的文件
// @Summary      已上传文件
// @Tags         对话
// @Produce      json
// @Param        conversation_id  path  string  true  "对话ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Router       /api/v1/conversations/{conversation_id}/uploaded_files [get]
func (h *Handler) ListUploadedFiles(c *gin.Context) {
	infos, err := h.chatService.ListUploadedFiles(c.Request.Context(), c.Param("conversation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	files := make([]AttachmentInfo, len(infos))
	for i, info := range infos {
		files[i] = toAttachmentInfo(info, false)
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("success", gin.H{"files": files}))
}

// ListGeneratedFiles 列出代码执行生成的文件
// @Summary      生成文件
// @Tags         对话
// @Produce      json
// @Param        conversation_id  path  string  true  "对话ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Router       /api/v1/conversations/{conversation_id}/generated_files [get]
func (h *Handler) ListGeneratedFiles(c *gin.Context) {
	infos, err := h.chatService.ListGeneratedFiles(c.Request.Context(), c.Param("conversation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	files := make([]AttachmentInfo, len(infos))
	for i, info := range infos {
		files[i] = toAttachmentInfo(info, true)
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("success", gin.H{"files": files}))
}

// ClearConversation 清空对话
// @Summary      清空对话
// @Tags         对话
// @Produce      json
// @Param        conversation_id  path  string  true  "对话ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Router       /api/v1/conversations/{conversation_id} [delete]
func (h *Handler) ClearConversation(c *gin.Context) {
	result, err := h.chatService.ClearConversation(c.Request.Context(), c.Param("conversation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("对话已清空", gin.H{
		"deleted_messages": result.DeletedTurns,
		"deleted_files":    result.DeletedFiles,
	}))
}

// GetSession 获取对话最近一次的服务商会话
// @Summary      会话状态
// @Description  读取超时后可轮询该接口获取最新的服务商会话ID
// @Tags         对话
// @Produce      json
// @Param        conversation_id  path  string  true  "对话ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Failure      404  {object}  ErrorResponse  "无会话记录"
// @Router       /api/v1/conversations/{conversation_id}/session [get]
func (h *Handler) GetSession(c *gin.Context) {
	state, err := h.chatService.GetSession(c.Request.Context(), c.Param("conversation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if state == nil {
		c.JSON(http.StatusNotFound, httputil.NewErrorResponse(40401, "No session found"))
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("success", state))
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
