package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"filechat/internal/model/conversation"
	"filechat/internal/pkg/claude"
	"filechat/internal/pkg/id"
	applog "filechat/internal/pkg/logger"
	"filechat/internal/pkg/storage"
)

// sniffLen 嗅探 Content-Type 读取的字节数
const sniffLen = 3072

var errMissingMetadata = errors.New("missing file metadata")

// ArtifactDownloader 下载代码执行生成的文件并保存为助手消息的附件
// 单个文件失败只记录日志，不影响其他文件和整体响应
type ArtifactDownloader struct {
	provider    Provider
	store       TurnStore
	storage     storage.Storage
	concurrency int
	now         func() time.Time
}

// NewArtifactDownloader 创建下载器
func NewArtifactDownloader(provider Provider, store TurnStore, st storage.Storage, concurrency int) *ArtifactDownloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &ArtifactDownloader{
		provider:    provider,
		store:       store,
		storage:     st,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Download 并发下载生成文件，返回成功保存的附件（按提交顺序）
func (d *ArtifactDownloader) Download(ctx context.Context, turn *conversation.Turn, artifacts []claude.Artifact) []conversation.Attachment {
	if len(artifacts) == 0 {
		return []conversation.Attachment{}
	}
	logger := applog.Conversation(ctx, "artifacts", turn.ConversationID).With().
		Str("turn_id", turn.ID).
		Logger()

	results := make([]*conversation.Attachment, len(artifacts))
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for i, artifact := range artifacts {
		g.Go(func() error {
			att, err := d.downloadOne(ctx, turn, artifact)
			if err != nil {
				logger.Error().Err(err).Str("file_id", artifact.FileID).Str("filename", artifact.Filename).Msg("failed to download generated file")
				return nil
			}
			results[i] = att
			return nil
		})
	}
	_ = g.Wait()

	saved := make([]conversation.Attachment, 0, len(artifacts))
	for _, att := range results {
		if att != nil {
			saved = append(saved, *att)
		}
	}
	logger.Info().Int("requested", len(artifacts)).Int("saved", len(saved)).Msg("generated files downloaded")
	return saved
}

func (d *ArtifactDownloader) downloadOne(ctx context.Context, turn *conversation.Turn, artifact claude.Artifact) (*conversation.Attachment, error) {
	meta, err := d.provider.GetFileMetadata(ctx, artifact.FileID)
	if err != nil {
		return nil, &claude.ArtifactDownloadError{FileID: artifact.FileID, Err: fmt.Errorf("metadata: %w", err)}
	}
	if meta == nil {
		return nil, &claude.ArtifactDownloadError{FileID: artifact.FileID, Err: errMissingMetadata}
	}

	body, err := d.provider.DownloadFile(ctx, artifact.FileID)
	if err != nil {
		return nil, &claude.ArtifactDownloadError{FileID: artifact.FileID, Err: err}
	}
	defer body.Close()

	br := bufio.NewReaderSize(body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, &claude.ArtifactDownloadError{FileID: artifact.FileID, Err: err}
	}
	contentType := declaredContentType(meta.MimeType)
	if contentType == "" {
		contentType = mimetype.Detect(head).String()
	}
	filename := meta.Filename
	if filename == "" {
		filename = artifact.Filename
	}

	att := conversation.Attachment{
		ID:          id.New(),
		FileID:      artifact.FileID,
		Filename:    storage.SanitizeFilename(filename),
		ContentType: contentType,
		CreatedAt:   d.now(),
	}
	att.StorageKey = storage.AttachmentKey(turn.ConversationID, turn.ID, att.ID, att.Filename)

	counter := &countingReader{r: br}
	if _, err := d.storage.Upload(ctx, att.StorageKey, counter, contentType); err != nil {
		return nil, &claude.ArtifactDownloadError{FileID: artifact.FileID, Err: fmt.Errorf("store: %w", err)}
	}
	att.ByteSize = counter.n

	if err := d.store.AddAttachment(ctx, turn.ID, att); err != nil {
		_ = d.storage.Delete(ctx, att.StorageKey)
		return nil, &claude.ArtifactDownloadError{FileID: artifact.FileID, Err: fmt.Errorf("attach: %w", err)}
	}
	return &att, nil
}

// declaredContentType 服务商声明的类型；缺失或为通用二进制时返回空，由内容嗅探决定
func declaredContentType(declared string) string {
	if declared == "" {
		return ""
	}
	mediaType, params, err := mime.ParseMediaType(declared)
	if err != nil || mediaType == "application/octet-stream" {
		return ""
	}
	return mime.FormatMediaType(mediaType, params)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
