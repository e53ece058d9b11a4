// Package main 是服务端的入口点
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"cielo-chat-server/internal/cache"
	"cielo-chat-server/internal/config"
	"cielo-chat-server/internal/database"
	"cielo-chat-server/internal/handler"
	"cielo-chat-server/internal/llm"
	"cielo-chat-server/internal/middleware"
	"cielo-chat-server/internal/repository"
	"cielo-chat-server/internal/service"
	"cielo-chat-server/internal/websocket"
	"cielo-chat-server/pkg/jwt"
	"cielo-chat-server/pkg/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load("./configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	release := cfg.Server.Mode == "release"

	// 初始化日志
	zlog := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		File:    cfg.Log.File,
		Release: release,
	})
	defer zlog.Sync()

	if cfg.JWT.Secret == "" {
		zlog.Fatal("jwt.secret is required")
	}

	// 初始化数据库
	db, err := database.Open(cfg.Database, release)
	if err != nil {
		zlog.Fatal("failed to init database", zap.Error(err))
	}
	zlog.Info("database connected", zap.String("driver", cfg.Database.Driver))

	// 自动迁移数据库表
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			zlog.Fatal("failed to migrate database", zap.Error(err))
		}
		zlog.Info("database migrations completed")
	}

	// 初始化 Redis，不可用时降级：吊销检查以数据库为准，实时推送仅限本实例
	redisCache := cache.NewRedisCache(cfg.Redis)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisCache.Ping(pingCtx); err != nil {
		zlog.Warn("redis unavailable at startup, continuing in degraded mode", zap.Error(err))
	} else {
		zlog.Info("redis connected")
	}
	pingCancel()

	// 初始化会话令牌服务
	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.SessionExpire)

	// 初始化 Repository 层
	sessionRepo := repository.NewSessionRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// 大模型客户端
	completer := llm.NewOpenAIClient(cfg.AI, zlog)
	if cfg.AI.APIKey == "" {
		zlog.Warn("ai.api_key is empty, replies will use the fallback text")
	}

	// 初始化 Service 层
	chatService := service.NewChatService(sessionRepo, messageRepo, completer, jwtService, redisCache, zlog, service.Options{
		SystemPrompt:        cfg.AI.SystemPrompt,
		HistoryLimit:        cfg.AI.HistoryLimit,
		MaxMessageLength:    cfg.Chat.MaxMessageLength,
		RequireSessionToken: cfg.Chat.RequireSessionToken,
	})

	// 初始化 WebSocket Hub
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	wsHub := websocket.NewHub(redisCache, zlog)
	chatService.SetNotifier(wsHub)
	go wsHub.Run(ctx) // 在单独的 goroutine 中运行

	// 初始化 Handler 层
	chatHandler := handler.NewChatHandler(chatService)
	adminHandler := handler.NewAdminHandler(chatService)
	healthHandler := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"database": databaseCheck(db),
		"redis":    redisCache.Ping,
	})
	wsHandler := websocket.NewHandler(wsHub, cfg.Server.CORS)

	// 设置 Gin 模式
	if release {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建 Gin 引擎
	router := gin.New()

	// 全局中间件
	router.Use(middleware.RecoveryMiddleware(zlog))
	router.Use(middleware.LoggerMiddleware(zlog))
	router.Use(middleware.CORSMiddleware(middleware.NewCORSConfig(cfg.Server.CORS)))

	// 注册路由
	registerRoutes(router, cfg.Admin.Token, chatHandler, adminHandler, healthHandler, wsHandler)

	// 创建 HTTP 服务器
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 在 goroutine 中启动服务器
	go func() {
		zlog.Info("server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}

	// 关闭观察者连接
	stop()

	// 关闭 Redis 连接
	if err := redisCache.Close(); err != nil {
		zlog.Warn("failed to close redis", zap.Error(err))
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	zlog.Info("server exited")
}

// databaseCheck 健康检查：ping 底层连接
func databaseCheck(db *gorm.DB) handler.HealthCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

// registerRoutes 注册所有路由
func registerRoutes(
	router *gin.Engine,
	adminToken string,
	chatHandler *handler.ChatHandler,
	adminHandler *handler.AdminHandler,
	healthHandler *handler.HealthHandler,
	wsHandler *websocket.Handler,
) {
	// 健康检查
	router.GET("/health", healthHandler.Health)

	adminAuth := middleware.AdminAuthMiddleware(adminToken)

	chat := router.Group("/api/chat")
	{
		// 访客（无需管理令牌）
		chat.POST("/session", chatHandler.CreateSession)
		chat.POST("/session/resume", chatHandler.ResumeSession)
		chat.POST("/message", chatHandler.PostMessage)

		// 管理端
		chat.GET("/conversation/:sessionId", adminAuth, adminHandler.GetConversation)
		chat.GET("/sessions", adminAuth, adminHandler.ListSessions)
		chat.POST("/session/:sessionId/close", adminAuth, adminHandler.CloseSession)
	}

	// 实时消息
	wsHandler.RegisterRoutes(router, adminAuth)
}
