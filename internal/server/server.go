package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"yuzu/internal/ai"
	"yuzu/internal/ai/chain"
	"yuzu/internal/config"
	"yuzu/internal/handler"
	"yuzu/internal/model"
	"yuzu/internal/pkg/cache"
	"yuzu/internal/pkg/jwt"
	"yuzu/internal/pkg/mongodb"
	"yuzu/internal/repository"
	"yuzu/internal/server/middleware"
	"yuzu/internal/service"
)

// Server HTTP 服务器
type Server struct {
	cfg     *config.Config
	engine  *gin.Engine
	mongo   *mongodb.Client
	redis   *cache.RedisCache
	chatSvc *service.ChatService
}

// New 创建服务器实例
func New(cfg *config.Config) (*Server, error) {
	// 设置 Gin 模式
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建 Gin 引擎
	engine := gin.New()

	// 初始化 MongoDB (可选；缺失时历史接口不可用，对话降级为临时模式)
	var mongoClient *mongodb.Client
	if cfg.Mongo.URI != "" {
		client, err := mongodb.New(&cfg.Mongo)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to MongoDB, continuing without it")
		} else {
			mongoClient = client
			log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

			if err := mongodb.EnsureIndexes(mongoClient.Database()); err != nil {
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
		cfg:    cfg,
		engine: engine,
		mongo:  mongoClient,
		redis:  redisCache,
	}

	// 设置路由
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
	healthHandler := handler.NewHealthHandler()
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	jwtSecret := s.cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		log.Warn().Msg("JWT secret not configured, using default (NOT SECURE for production)")
	}
	jwtUtil := jwt.NewJWT(jwtSecret, 24*time.Hour)

	api := s.engine.Group("/api")
	{
		// 历史存储（需要 MongoDB）
		var historySvc *service.HistoryService
		if s.mongo != nil {
			var svcCache service.Cache
			if s.redis != nil {
				svcCache = s.redis
			}

			historySvc = service.NewHistoryService(
				repository.NewConversationRepo(s.mongo.Database()),
				repository.NewMessageRepo(s.mongo.Database()),
				svcCache,
				s.newTitleRefiner(),
			)

			historyHdl := handler.NewHistoryHandler(historySvc)
			history := api.Group("/chat/history")
			history.Use(middleware.Auth(jwtUtil))
			{
				history.GET("", historyHdl.List)
				history.POST("", historyHdl.Save)
				history.GET("/:threadId", historyHdl.Get)
				history.DELETE("/:threadId", historyHdl.Delete)
			}
		} else {
			log.Warn().Msg("MongoDB not configured, history endpoints disabled; chat runs in ephemeral mode")
		}

		// 对话网关（需要外部线程服务）
		aiClient, err := ai.NewClient(&s.cfg.Assistant)
		if err != nil {
			log.Warn().Err(err).Msg("assistant service not configured, chat endpoint disabled")
		} else {
			s.chatSvc = service.NewChatService(aiClient, historySvc, &s.cfg.History)
			chatHdl := handler.NewChatHandler(s.chatSvc)
			api.POST("/chat", middleware.OptionalAuth(jwtUtil), chatHdl.Chat)
		}

		// 文本转换（需要 ChatModel）
		if s.cfg.AI.APIKey != "" {
			transformSvc, err := service.NewTransformService(context.Background(), &s.cfg.AI)
			if err != nil {
				log.Warn().Err(err).Msg("failed to initialize TransformService, continuing without it")
			} else {
				api.POST("/transform", handler.NewTransformHandler(transformSvc).Transform)
			}
		}
	}
}

// newTitleRefiner 按配置构建标题精炼链；未开启或初始化失败时返回 nil
func (s *Server) newTitleRefiner() service.TitleRefiner {
	if !s.cfg.History.TitleRefine || s.cfg.AI.APIKey == "" {
		return nil
	}

	titleChain, err := chain.NewTitleChain(context.Background(), &s.cfg.AI, model.TitleMaxLen)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize title chain, keeping raw titles")
		return nil
	}
	return titleChain
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

		// 已触发的保存要跑到完成或失败，不随客户端或服务器生命周期中断
		if s.chatSvc != nil {
			s.chatSvc.DrainSaves()
		}

		if s.mongo != nil {
			if err := s.mongo.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close MongoDB connection")
			}
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close Redis connection")
			}
		}

		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
