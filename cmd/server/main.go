package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"leadhub/api"
	"leadhub/internal/config"
	"leadhub/internal/infra"
	"leadhub/internal/logger"

	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, os.Getenv("APP_CONFIG"))
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
		zap.String("queue_driver", cfg.Queue.Driver),
	)

	if err := run(cfg); err != nil {
		logger.Fatal("服务异常退出", zap.Error(err))
	}
	logger.Info("服务器已安全关闭")
}

func run(cfg *config.Config) error {
	// 3. 初始化数据库
	db, err := infra.InitDatabase(&cfg.Database, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("初始化数据库失败: %w", err)
	}
	defer func() {
		if err := infra.CloseDatabase(); err != nil {
			logger.Error("数据库关闭异常", zap.Error(err))
		}
	}()

	// 4. 初始化 Redis，asynq 驱动下必须可用
	var redisClient redis.UniversalClient
	if rdb, err := infra.InitRedis(&cfg.Redis); err != nil {
		if cfg.Queue.Driver == config.QueueDriverAsynq {
			return err
		}
		logger.Warn("Redis 不可用，令牌黑名单已停用", zap.Error(err))
	} else {
		redisClient = rdb
		defer rdb.Close()
	}

	// 5. 组装依赖与路由
	container, err := api.InitContainer(db, redisClient, cfg, clock.New(), logger.Get())
	if err != nil {
		return fmt.Errorf("初始化应用容器失败: %w", err)
	}
	defer container.Close()
	router := api.SetupRouter(container, container.InitHandlers())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// 6. 后台任务与营销活动调度
	g.Go(func() error { return container.Run(ctx) })

	// 7. HTTP 服务器
	g.Go(func() error {
		logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP 服务器启动失败: %w", err)
		}
		return nil
	})

	// 8. 优雅关闭
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("正在关闭服务器...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		}
	}
}

// resolveEnvPath 从当前工作目录向上查找 .env
func resolveEnvPath() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	dir := filepath.Clean(wd)
	for i := 0; i < 8; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
