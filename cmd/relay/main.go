package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pairchat/config"
	"pairchat/pkg/logger"
	"pairchat/pkg/realtime"
	redisPkg "pairchat/pkg/redis"
	"pairchat/pkg/response"
	"pairchat/pkg/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 变更推送中继
// 订阅 Redis 上的全部变更频道，经 WebSocket 扇出给客户端，
// 让不能直连 Redis 的会话也能走同一条订阅路径
func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer log.Sync()

	log.Info("=== 变更推送中继启动 ===")
	log.Info("中继配置信息",
		zap.String("port", cfg.Relay.Port),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
		zap.Duration("ping_interval", cfg.Relay.PingInterval),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 连接Redis
	rds, err := redisPkg.New(cfg.Redis)
	if err != nil {
		log.Fatal("redis连接失败", zap.Error(err))
	}
	defer func() {
		if err := rds.Close(); err != nil {
			log.Error("关闭redis连接失败", zap.Error(err))
		}
	}()
	log.Info("redis连接成功")

	// 4. 订阅所有变更频道并桥接到扇出中心
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := realtime.NewHub()
	go bridgeFeed(ctx, rds, hub)

	// 5. 设置Gin模式
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 6. 创建Gin路由
	router := gin.New()
	router.Use(logger.GinMiddleware())
	router.Use(logger.GinRecovery())

	tokens := token.New(cfg.Relay)
	wsHandler := realtime.NewHandler(hub, tokens, cfg.Relay.PingInterval)

	// 健康检查
	// 完整url为：http://localhost:8090/health
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		if err := rds.HealthCheck(c.Request.Context()); err != nil {
			status = "redis-down"
		}
		response.Success(c, gin.H{
			"status":  status,
			"clients": hub.ClientCount(),
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	// WebSocket接入
	router.GET("/ws", wsHandler.ServeWS)

	// 7. 创建HTTP服务器
	server := &http.Server{
		Addr:         ":" + cfg.Relay.Port,
		Handler:      router,
		ReadTimeout:  cfg.Relay.ReadTimeout,
		WriteTimeout: cfg.Relay.WriteTimeout,
	}

	// 8. 启动HTTP服务器
	go func() {
		log.Info("中继HTTP服务器启动", zap.String("port", cfg.Relay.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("中继HTTP服务器启动失败", zap.Error(err))
		}
	}()

	// 9. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭中继...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("中继HTTP服务器关闭失败", zap.Error(err))
	}

	log.Info("中继已安全关闭")
}

// bridgeFeed 把Redis变更流搬运到扇出中心
// 订阅断开后退避重连，直到上下文取消
func bridgeFeed(ctx context.Context, rds *redisPkg.Client, hub *realtime.Hub) {
	backoff := time.Second

	for {
		sub, err := rds.SubscribeAll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("订阅变更频道失败，稍后重试", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}

		logger.Info("变更频道订阅就绪")
		backoff = time.Second

		for env := range sub.Envelopes() {
			hub.Publish(env)
		}
		sub.Close()

		if ctx.Err() != nil {
			return
		}
		if err := sub.Err(); err != nil {
			logger.Warn("变更频道订阅中断", zap.Error(err))
		}
	}
}
