package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"filechat/internal/config"
	"filechat/internal/handler"
	conversationHandler "filechat/internal/handler/conversation"
	"filechat/internal/pkg/cache"
	"filechat/internal/pkg/claude"
	"filechat/internal/pkg/mongodb"
	"filechat/internal/pkg/storage"
	"filechat/internal/pkg/storagefactory"
	conversationRepo "filechat/internal/repository/conversation"
	"filechat/internal/server/middleware"
	"filechat/internal/service"
)

// shutdownTimeout 优雅关闭等待时间
const shutdownTimeout = 15 * time.Second

// Server HTTP 服务器
type Server struct {
	cfg     *config.Config
	engine  *gin.Engine
	mongo   *mongodb.Client
	redis   *cache.RedisCache
	storage storage.Storage
	claude  *claude.Client
}

// New 创建服务器实例
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	// 设置 Gin 模式
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	claudeClient, err := claude.NewClient(cfg.Claude)
	if err != nil {
		return nil, fmt.Errorf("init claude client: %w", err)
	}

	st, err := storagefactory.NewStorage(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.Info().Str("type", st.GetStorageType()).Msg("initialized attachment storage")

	// 初始化 MongoDB (可选)
	var mongoClient *mongodb.Client
	if cfg.Mongo.URI != "" {
		client, err := mongodb.New(ctx, &cfg.Mongo)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to MongoDB, continuing without it")
		} else {
			mongoClient = client
			log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

			if err := mongodb.EnsureIndexes(ctx, mongoClient.Database()); err != nil {
				log.Warn().Err(err).Msg("failed to ensure indexes")
			}
		}
	}

	// 初始化 Redis (可选)
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without it")
		} else {
			redisCache = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	srv := &Server{
		cfg:     cfg,
		engine:  gin.New(),
		mongo:   mongoClient,
		redis:   redisCache,
		storage: st,
		claude:  claudeClient,
	}
	srv.setupRoutes()

	return srv, nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// 全局中间件
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())

	// 健康检查
	deps := map[string]handler.Pinger{"mongo": nil, "redis": nil}
	if s.mongo != nil {
		deps["mongo"] = s.mongo
	}
	if s.redis != nil {
		deps["redis"] = s.redis
	}
	healthHandler := handler.NewHealthHandler(deps)
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// 附件下载（本地存储的访问URL）
	attachmentHandler := handler.NewAttachmentHandler(s.storage)
	s.engine.GET("/attachments/*key", attachmentHandler.Get)
	s.engine.HEAD("/attachments/*key", attachmentHandler.Head)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := s.engine.Group("/api/v1")

	// 服务商文件接口不依赖本地存储
	convHdl := conversationHandler.NewHandler(s.newChatService(), s.claude, s.cfg.Claude.TempDir, s.maxBodySize())
	files := v1.Group("/files")
	{
		files.GET("", convHdl.ListProviderFiles)
		files.POST("", convHdl.UploadProviderFile)
		files.GET("/:file_id", convHdl.GetProviderFile)
		files.GET("/:file_id/content", convHdl.DownloadProviderFile)
		files.DELETE("/:file_id", convHdl.DeleteProviderFile)
	}

	if s.mongo == nil {
		log.Warn().Msg("MongoDB not configured, conversation endpoints disabled")
		return
	}

	conversations := v1.Group("/conversations/:conversation_id")
	{
		conversations.POST("/messages", convHdl.SendMessage)
		conversations.GET("/messages", convHdl.ListMessages)
		conversations.GET("/uploaded_files", convHdl.ListUploadedFiles)
		conversations.GET("/generated_files", convHdl.ListGeneratedFiles)
		conversations.GET("/session", convHdl.GetSession)
		conversations.DELETE("", convHdl.ClearConversation)
	}
}

// newChatService 组装对话服务；MongoDB 未启用时返回 nil
func (s *Server) newChatService() service.ChatService {
	if s.mongo == nil {
		return nil
	}
	var sessions service.SessionStore
	if s.redis != nil {
		sessions = cache.NewSessionCache(s.redis, s.cfg.Claude.SessionTTL)
	}
	return service.NewChatService(
		s.cfg.Claude,
		s.claude,
		conversationRepo.NewTurnRepo(s.mongo.Database()),
		s.storage,
		sessions,
	)
}

// maxBodySize 单次请求上限：每个文件上限的若干倍，留出表单开销
func (s *Server) maxBodySize() int64 {
	const maxFilesPerMessage = 10
	return s.cfg.Claude.MaxFileSize*maxFilesPerMessage + 1<<20
}

// Run 启动服务器
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	// 启动服务器
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待关闭信号或错误
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// 请求排空后再关闭连接
		if s.mongo != nil {
			if err := s.mongo.Close(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to close MongoDB connection")
			}
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close Redis connection")
			}
		}
		return err
	case err := <-errCh:
		return err
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
