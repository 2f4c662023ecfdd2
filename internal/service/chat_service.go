package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"filechat/internal/config"
	"filechat/internal/model/conversation"
	"filechat/internal/pkg/cache"
	"filechat/internal/pkg/claude"
	"filechat/internal/pkg/docconv"
	"filechat/internal/pkg/history"
	"filechat/internal/pkg/id"
	"filechat/internal/pkg/ingest"
	applog "filechat/internal/pkg/logger"
	"filechat/internal/pkg/storage"
)

// attachmentURLExpiry 附件下载链接有效期
const attachmentURLExpiry = time.Hour

// ChatService 对话服务接口
type ChatService interface {
	// SendMessage 处理一条用户消息：文件路由、历史构建、调用服务商、保存生成文件
	SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResult, error)

	// ListTurns 按时间顺序列出对话消息
	ListTurns(ctx context.Context, conversationID string) ([]*conversation.Turn, error)

	// ListUploadedFiles 列出用户消息的附件
	ListUploadedFiles(ctx context.Context, conversationID string) ([]AttachmentInfo, error)

	// ListGeneratedFiles 列出助手消息的附件（代码执行生成）
	ListGeneratedFiles(ctx context.Context, conversationID string) ([]AttachmentInfo, error)

	// ClearConversation 删除对话的全部消息与附件
	ClearConversation(ctx context.Context, conversationID string) (*ClearResult, error)

	// GetSession 获取对话最近一次的服务商会话，无缓存时返回 nil
	GetSession(ctx context.Context, conversationID string) (*cache.SessionState, error)
}

// UploadedFile 请求期间的临时上传文件，处理完成后删除
type UploadedFile struct {
	LocalPath string
	Filename  string
	MimeType  string
	Size      int64
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	ConversationID string
	Text           string
	Files          []UploadedFile
	SessionID      string // 调用方持有的服务商会话ID，可为空
	Model          string // 友好名称或完整ID，空为默认模型
	// CodeExecution 为空时使用配置默认值
	CodeExecution *bool
}

// SendMessageResult 发送消息结果
type SendMessageResult struct {
	UserTurn      *conversation.Turn
	AssistantTurn *conversation.Turn
	SessionID     string
	Model         string
}

// AttachmentInfo 附件列表项
type AttachmentInfo struct {
	TurnID string
	conversation.Attachment
	URL string
}

// ClearResult 清空对话结果
type ClearResult struct {
	DeletedTurns int64
	DeletedFiles int
}

// chatService 对话服务实现
type chatService struct {
	cfg        config.ClaudeConfig
	provider   Provider
	store      TurnStore
	storage    storage.Storage
	sessions   SessionStore
	converter  TextConverter
	router     *ingest.Router
	builder    *history.Builder
	downloader *ArtifactDownloader
	now        func() time.Time
}

// NewChatService 创建对话服务；sessions 为空时不缓存会话
func NewChatService(
	cfg config.ClaudeConfig,
	provider Provider,
	store TurnStore,
	st storage.Storage,
	sessions SessionStore,
) ChatService {
	return &chatService{
		cfg:        cfg,
		provider:   provider,
		store:      store,
		storage:    st,
		sessions:   sessions,
		converter:  docconv.NewConverter(),
		router:     ingest.NewRouter(cfg.MaxFileSize),
		builder:    history.NewBuilder(cfg.FileFreshness),
		downloader: NewArtifactDownloader(provider, store, st, cfg.DownloadConcurrency),
		now:        time.Now,
	}
}

// routedFile 已分类的上传文件
type routedFile struct {
	UploadedFile
	action ingest.Action
	fileID string // 上传到服务商后的文件ID
}

// SendMessage 处理一条用户消息
func (s *chatService) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResult, error) {
	defer removeTempFiles(req.Files)

	if req.ConversationID == "" {
		return nil, ErrConversationRequired
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Files) == 0 {
		return nil, ErrEmptyMessage
	}
	model, ok := s.cfg.ResolveModel(req.Model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, req.Model)
	}
	codeExecution := s.cfg.EnableCodeExecution
	if req.CodeExecution != nil {
		codeExecution = *req.CodeExecution
	}

	logger := applog.Conversation(ctx, "chat", req.ConversationID).With().Str("model", model).Logger()

	// 1. 分类：任一文件被拒绝则在网络调用前终止
	files, err := s.route(req.Files, codeExecution)
	if err != nil {
		logger.Warn().Err(err).Msg("file rejected")
		return nil, err
	}

	// 2. 需要转换的文件按顺序追加到消息内容
	content, err := s.convert(req.Text, files)
	if err != nil {
		logger.Error().Err(err).Msg("file conversion failed")
		return nil, err
	}

	// 3. 其余文件并发上传，ID 按提交顺序合并
	fileIDs, err := s.upload(ctx, files)
	if err != nil {
		logger.Error().Err(err).Msg("file upload failed")
		return nil, err
	}

	// 4. 保存用户消息及原始文件
	userTurn := &conversation.Turn{
		ID:             id.NewTimeOrdered(),
		ConversationID: req.ConversationID,
		Role:           conversation.RoleUser,
		Content:        content,
		FileIDs:        fileIDs,
		Model:          model,
		CreatedAt:      s.now(),
	}
	if err := s.store.Create(ctx, userTurn); err != nil {
		return nil, fmt.Errorf("save user turn: %w", err)
	}
	userTurn.Attachments = s.storeUploads(ctx, logger, userTurn, files)
	removeTempFiles(req.Files)

	// 5. 构建历史并调用服务商
	prior, err := s.store.ListByConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	messages := s.builder.Build(prior, userTurn.ID, conversation.Message{Content: content, FileIDs: fileIDs})

	completion, err := s.provider.Complete(ctx, messages, model, claude.Session{
		SessionID:           req.SessionID,
		EnableCodeExecution: codeExecution,
	})
	if err != nil {
		logger.Error().Err(err).Str("session_id", req.SessionID).Msg("completion failed")
		return nil, err
	}

	// 6. 保存助手消息
	generatedIDs := make([]string, 0, len(completion.Artifacts))
	for _, a := range completion.Artifacts {
		generatedIDs = append(generatedIDs, a.FileID)
	}
	assistantTurn := &conversation.Turn{
		ID:             id.NewTimeOrdered(),
		ConversationID: req.ConversationID,
		Role:           conversation.RoleAssistant,
		Content:        completion.Text,
		FileIDs:        generatedIDs,
		SessionID:      completion.SessionID,
		Model:          model,
		CreatedAt:      s.now(),
	}
	if err := s.store.Create(ctx, assistantTurn); err != nil {
		return nil, fmt.Errorf("save assistant turn: %w", err)
	}
	s.cacheSession(ctx, logger, req.ConversationID, assistantTurn)

	// 7. 下载生成文件
	assistantTurn.Attachments = s.downloader.Download(ctx, assistantTurn, completion.Artifacts)

	logger.Info().
		Int("uploaded", len(fileIDs)).
		Int("generated", len(completion.Artifacts)).
		Str("session_id", completion.SessionID).
		Msg("message processed")

	return &SendMessageResult{
		UserTurn:      userTurn,
		AssistantTurn: assistantTurn,
		SessionID:     completion.SessionID,
		Model:         model,
	}, nil
}

func (s *chatService) route(uploads []UploadedFile, codeExecution bool) ([]routedFile, error) {
	files := make([]routedFile, 0, len(uploads))
	for _, f := range uploads {
		decision := s.router.Classify(f.MimeType, f.Size, codeExecution)
		if decision.Rejected() {
			return nil, &ingest.RejectError{Filename: f.Filename, MimeType: f.MimeType, Size: f.Size, Reason: decision.Reason}
		}
		files = append(files, routedFile{UploadedFile: f, action: decision.Action})
	}
	return files, nil
}

func (s *chatService) convert(text string, files []routedFile) (string, error) {
	content := text
	for _, f := range files {
		if f.action != ingest.ActionConvertToText {
			continue
		}
		extracted, err := s.converter.ConvertToText(f.LocalPath, f.MimeType)
		if err != nil {
			return "", fmt.Errorf("convert %s: %w", f.Filename, err)
		}
		content = docconv.AppendAttachment(content, f.Filename, extracted)
	}
	return content, nil
}

func (s *chatService) upload(ctx context.Context, files []routedFile) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.UploadConcurrency, 1))
	for i := range files {
		if files[i].action != ingest.ActionUploadToProvider {
			continue
		}
		f := &files[i]
		g.Go(func() error {
			obj, err := s.provider.UploadFile(gctx, f.LocalPath, f.Filename, f.MimeType)
			if err != nil {
				// 读取超时只对对话调用表示“仍在处理”
				if errors.Is(err, claude.ErrReadTimeout) {
					return fmt.Errorf("%w: %s: %v", ErrUploadTimeout, f.Filename, err)
				}
				return fmt.Errorf("upload %s: %w", f.Filename, err)
			}
			f.fileID = obj.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(files))
	for _, f := range files {
		if f.fileID != "" {
			ids = append(ids, f.fileID)
		}
	}
	return ids, nil
}

// storeUploads 将原始文件保存为用户消息的附件，失败只记录日志
func (s *chatService) storeUploads(ctx context.Context, logger zerolog.Logger, turn *conversation.Turn, files []routedFile) []conversation.Attachment {
	attachments := make([]conversation.Attachment, 0, len(files))
	for _, f := range files {
		att, err := s.storeUpload(ctx, turn, f)
		if err != nil {
			logger.Warn().Err(err).Str("filename", f.Filename).Msg("failed to store uploaded file")
			continue
		}
		attachments = append(attachments, att)
	}
	return attachments
}

func (s *chatService) storeUpload(ctx context.Context, turn *conversation.Turn, f routedFile) (conversation.Attachment, error) {
	att := conversation.Attachment{
		ID:          id.New(),
		FileID:      f.fileID,
		Filename:    storage.SanitizeFilename(f.Filename),
		ContentType: f.MimeType,
		ByteSize:    f.Size,
		CreatedAt:   s.now(),
	}
	att.StorageKey = storage.AttachmentKey(turn.ConversationID, turn.ID, att.ID, att.Filename)

	file, err := os.Open(f.LocalPath)
	if err != nil {
		return att, err
	}
	defer file.Close()

	if _, err := s.storage.Upload(ctx, att.StorageKey, file, f.MimeType); err != nil {
		return att, err
	}
	if err := s.store.AddAttachment(ctx, turn.ID, att); err != nil {
		_ = s.storage.Delete(ctx, att.StorageKey)
		return att, err
	}
	return att, nil
}

func (s *chatService) cacheSession(ctx context.Context, logger zerolog.Logger, conversationID string, turn *conversation.Turn) {
	if s.sessions == nil || turn.SessionID == "" {
		return
	}
	state := cache.SessionState{
		SessionID: turn.SessionID,
		Model:     turn.Model,
		TurnID:    turn.ID,
		UpdatedAt: turn.CreatedAt,
	}
	if err := s.sessions.SetSession(ctx, conversationID, state); err != nil {
		logger.Warn().Err(err).Msg("failed to cache session")
	}
}

// removeTempFiles 删除请求期间的临时文件，重复调用无副作用
func removeTempFiles(files []UploadedFile) {
	for _, f := range files {
		if f.LocalPath == "" {
			continue
		}
		if err := os.Remove(f.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", f.LocalPath).Msg("failed to remove temp file")
		}
	}
}

// ListTurns 按时间顺序列出对话消息
func (s *chatService) ListTurns(ctx context.Context, conversationID string) ([]*conversation.Turn, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}
	return s.store.ListByConversation(ctx, conversationID)
}

// ListUploadedFiles 列出用户消息的附件
func (s *chatService) ListUploadedFiles(ctx context.Context, conversationID string) ([]AttachmentInfo, error) {
	return s.listAttachments(ctx, conversationID, conversation.RoleUser)
}

// ListGeneratedFiles 列出助手消息的附件
func (s *chatService) ListGeneratedFiles(ctx context.Context, conversationID string) ([]AttachmentInfo, error) {
	return s.listAttachments(ctx, conversationID, conversation.RoleAssistant)
}

func (s *chatService) listAttachments(ctx context.Context, conversationID string, role conversation.Role) ([]AttachmentInfo, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}
	turns, err := s.store.ListByRole(ctx, conversationID, role)
	if err != nil {
		return nil, err
	}

	infos := make([]AttachmentInfo, 0)
	for _, t := range turns {
		for _, att := range t.Attachments {
			info := AttachmentInfo{TurnID: t.ID, Attachment: att}
			if url, err := s.storage.GetPresignedDownloadURL(ctx, att.StorageKey, attachmentURLExpiry); err == nil {
				info.URL = url
			} else {
				log.Warn().Err(err).Str("storage_key", att.StorageKey).Msg("failed to sign attachment url")
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// ClearConversation 删除对话的全部消息与附件
func (s *chatService) ClearConversation(ctx context.Context, conversationID string) (*ClearResult, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}
	deletedTurns, err := s.store.DeleteByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("delete turns: %w", err)
	}
	deletedFiles, err := s.storage.DeletePrefix(ctx, storage.ConversationPrefix(conversationID))
	if err != nil {
		return nil, fmt.Errorf("delete attachments: %w", err)
	}
	if s.sessions != nil {
		if err := s.sessions.DeleteSession(ctx, conversationID); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to delete cached session")
		}
	}

	log.Info().
		Str("conversation_id", conversationID).
		Int64("turns", deletedTurns).
		Int("files", deletedFiles).
		Msg("conversation cleared")
	return &ClearResult{DeletedTurns: deletedTurns, DeletedFiles: deletedFiles}, nil
}

// GetSession 获取对话最近一次的服务商会话
func (s *chatService) GetSession(ctx context.Context, conversationID string) (*cache.SessionState, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}
	if s.sessions == nil {
		return nil, nil
	}
	return s.sessions.GetSession(ctx, conversationID)
}
