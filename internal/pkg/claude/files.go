package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"filechat/internal/pkg/ingest"
)

const filesPath = "/v1/files"

// FileObject 服务商文件元数据
type FileObject struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Filename     string    `json:"filename"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
	Downloadable bool      `json:"downloadable"`
}

// FileList 文件列表分页结果
type FileList struct {
	Data    []FileObject `json:"data"`
	HasMore bool         `json:"has_more"`
	FirstID string       `json:"first_id"`
	LastID  string       `json:"last_id"`
}

// UploadFile 上传本地文件到服务商
// 类型或大小不满足要求时在发起网络请求前返回 ErrUnsupportedFile（包装 *ingest.RejectError）
func (c *Client) UploadFile(ctx context.Context, path, filename, mimeType string) (*FileObject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload file: %w", err)
	}
	if filename == "" {
		filename = filepath.Base(path)
	}
	if err := c.checkUploadable(filename, mimeType, info.Size()); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFilePart(mw, f, filename, mimeType))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+filesPath, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("content-type", mw.FormDataContentType())

	log.Info().Str("filename", filename).Str("mime_type", mimeType).Int64("size", info.Size()).Msg("uploading file to claude")

	body, err := c.do(ctx, req)
	// 请求提前失败时确保写入协程退出
	pr.Close()
	if err != nil {
		return nil, err
	}

	var obj FileObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode file object: %w", err)
	}
	log.Info().Str("file_id", obj.ID).Str("filename", filename).Msg("file uploaded to claude")
	return &obj, nil
}

func (c *Client) checkUploadable(filename, mimeType string, size int64) error {
	decision := c.router.Classify(mimeType, size, true)
	if !decision.Rejected() {
		return nil
	}
	rejectErr := &ingest.RejectError{Filename: filename, MimeType: mimeType, Size: size, Reason: decision.Reason}
	return fmt.Errorf("%w: %w", ErrUnsupportedFile, rejectErr)
}

func writeFilePart(mw *multipart.Writer, r io.Reader, filename, mimeType string) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// GetFileMetadata 获取文件元数据
func (c *Client) GetFileMetadata(ctx context.Context, fileID string) (*FileObject, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(fileID), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var obj FileObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode file object: %w", err)
	}
	return &obj, nil
}

// DownloadFile 下载文件内容，调用方负责关闭返回的 ReadCloser
func (c *Client) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(fileID)+"/content", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ServiceError{StatusCode: resp.StatusCode, Body: string(errorBody)}
	}
	return resp.Body, nil
}

// DeleteFile 删除文件
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.fileURL(fileID), nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	_, err = c.do(ctx, req)
	return err
}

// ListFiles 列出文件，limit<=0 时使用服务端默认值
func (c *Client) ListFiles(ctx context.Context, limit int, afterID string) (*FileList, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if afterID != "" {
		q.Set("after_id", afterID)
	}
	u := c.baseURL + filesPath
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var list FileList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode file list: %w", err)
	}
	return &list, nil
}

func (c *Client) fileURL(fileID string) string {
	return c.baseURL + filesPath + "/" + url.PathEscape(fileID)
}
