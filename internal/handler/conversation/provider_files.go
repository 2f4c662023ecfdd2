package conversation

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	httputil "filechat/internal/pkg/http"
	"filechat/internal/service"
)

// ListProviderFiles 列出服务商侧文件
// @Summary      服务商文件列表
// @Tags         文件
// @Produce      json
// @Param        limit     query  int     false  "数量上限"
// @Param        after_id  query  string  false  "分页游标"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Router       /api/v1/files [get]
func (h *Handler) ListProviderFiles(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(CodeInvalidRequest, "Invalid limit"))
			return
		}
		limit = n
	}

	list, err := h.files.ListFiles(c.Request.Context(), limit, c.Query("after_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("success", list))
}

// UploadProviderFile 直接上传文件到服务商
// @Summary      上传服务商文件
// @Tags         文件
// @Accept       multipart/form-data
// @Produce      json
// @Param        file  formData  file  true  "文件"
// @Success      201  {object}  map[string]interface{}  "成功响应"
// @Failure      422  {object}  ErrorResponse  "文件类型不支持或过大"
// @Router       /api/v1/files [post]
func (h *Handler) UploadProviderFile(c *gin.Context) {
	if h.maxBodySize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(CodeInvalidRequest, "File is required", err.Error()))
		return
	}

	f, err := h.saveUpload(c, fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(CodeInvalidRequest, "Invalid file", err.Error()))
		return
	}
	defer cleanup([]service.UploadedFile{f})

	obj, err := h.files.UploadFile(c.Request.Context(), f.LocalPath, f.Filename, f.MimeType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httputil.NewSuccessResponse("文件上传成功", obj))
}

// GetProviderFile 获取服务商文件元数据
// @Summary      服务商文件元数据
// @Tags         文件
// @Produce      json
// @Param        file_id  path  string  true  "文件ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Router       /api/v1/files/{file_id} [get]
func (h *Handler) GetProviderFile(c *gin.Context) {
	obj, err := h.files.GetFileMetadata(c.Request.Context(), c.Param("file_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("success", obj))
}

// DownloadProviderFile 下载服务商文件内容
// @Summary      下载服务商文件
// @Tags         文件
// @Produce      octet-stream
// @Param        file_id  path  string  true  "文件ID"
// @Success      200  {file}  binary  "文件内容"
// @Router       /api/v1/files/{file_id}/content [get]
func (h *Handler) DownloadProviderFile(c *gin.Context) {
	fileID := c.Param("file_id")
	ctx := c.Request.Context()

	meta, err := h.files.GetFileMetadata(ctx, fileID)
	if err != nil {
		respondError(c, err)
		return
	}
	body, err := h.files.DownloadFile(ctx, fileID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer body.Close()

	contentType := meta.MimeType
	if contentType == "" {
		contentType = octetStream
	}
	c.Header("Content-Disposition", "attachment; filename=\""+meta.Filename+"\"")
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("failed to stream provider file")
	}
}

// DeleteProviderFile 删除服务商文件
// @Summary      删除服务商文件
// @Tags         文件
// @Produce      json
// @Param        file_id  path  string  true  "文件ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Router       /api/v1/files/{file_id} [delete]
func (h *Handler) DeleteProviderFile(c *gin.Context) {
	if err := h.files.DeleteFile(c.Request.Context(), c.Param("file_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("文件已删除", nil))
}
