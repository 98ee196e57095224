package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	campaignHandlers "leadhub/api/handlers/campaigns"
	"leadhub/api/handlers/health"
	jobHandlers "leadhub/api/handlers/jobs"
	leadHandlers "leadhub/api/handlers/leads"
	mailboxHandlers "leadhub/api/handlers/mailbox"
	webhookHandlers "leadhub/api/handlers/webhook"
	widgetHandlers "leadhub/api/handlers/widget"
	"leadhub/internal/auth"
	"leadhub/internal/campaign"
	"leadhub/internal/config"
	"leadhub/internal/infra"
	"leadhub/internal/infra/queue"
	"leadhub/internal/jobs"
	"leadhub/internal/lead"
	"leadhub/internal/mailbox"
	"leadhub/internal/middleware"
	"leadhub/internal/notification"
	"leadhub/internal/resolver"
	"leadhub/internal/security"
	"leadhub/internal/tenant"
	"leadhub/internal/whatsapp"
	"leadhub/internal/worker"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// tenantCacheTTL 租户行缓存时长，状态变更最多延迟这么久生效
const tenantCacheTTL = 30 * time.Second

// AppContainer 应用容器，集中管理所有服务依赖
type AppContainer struct {
	// 基础设施
	DB          *gorm.DB
	Config      *config.Config
	RedisClient redis.UniversalClient
	Clock       clock.Clock
	Logger      *zap.Logger

	// 租户解析
	JWTService   *auth.JWTService
	WidgetTokens *auth.WidgetTokenService
	Encryptor    *security.FieldEncryptor
	Tenants      tenant.TenantRepository
	Credentials  tenant.CredentialRepository
	Resolver     *resolver.Resolver

	// 后台任务：进程内队列（memory/database）或 asynq
	Queue      *jobs.Queue
	Enqueuer   jobs.Enqueuer
	Registrar  jobs.Registrar
	Worker     *worker.Server
	AsynqQueue *queue.Client

	// 业务服务
	Leads           *lead.Repository
	Campaigns       *campaign.Repository
	CampaignService *campaign.Service
	Scheduler       *campaign.Scheduler
	EmailService    *notification.EmailService
	Mailbox         *mailbox.Service
	WhatsApp        *whatsapp.Service

	// 公开入口限流
	RateLimiter *middleware.RateLimiter
}

// Handlers HTTP 处理器集合
type Handlers struct {
	Health    *health.Handler
	Leads     *leadHandlers.Handler
	Webhook   *webhookHandlers.Handler
	Widget    *widgetHandlers.Handler
	Jobs      *jobHandlers.Handler
	Mailbox   *mailboxHandlers.Handler
	Campaigns *campaignHandlers.Handler
}

// shouldAutoMigrate 检查是否应该执行自动迁移
func (c *AppContainer) shouldAutoMigrate() bool {
	return c.Config != nil && c.Config.Database.AutoMigrate
}

// autoMigrate 条件执行自动迁移
func (c *AppContainer) autoMigrate(migrator interface{ AutoMigrate() error }, name string) error {
	if !c.shouldAutoMigrate() {
		return nil
	}
	if err := migrator.AutoMigrate(); err != nil {
		return fmt.Errorf("%s表迁移失败: %w", name, err)
	}
	return nil
}

// InitContainer 初始化应用容器。redisClient 可为 nil，此时令牌黑名单不可用，
// 队列驱动也不能是 asynq
func InitContainer(db *gorm.DB, redisClient redis.UniversalClient, cfg *config.Config, clk clock.Clock, logger *zap.Logger) (*AppContainer, error) {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &AppContainer{
		DB:          db,
		Config:      cfg,
		RedisClient: redisClient,
		Clock:       clk,
		Logger:      logger,
	}

	if err := c.initAuth(cfg); err != nil {
		return nil, err
	}
	if err := c.initTenant(db); err != nil {
		return nil, err
	}
	if err := c.initQueue(db, cfg); err != nil {
		return nil, err
	}
	if err := c.initServices(db, cfg); err != nil {
		return nil, err
	}

	c.RateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), clk)
	return c, nil
}

// InitHandlers 初始化所有 Handlers
func (c *AppContainer) InitHandlers() *Handlers {
	checks := map[string]health.Checker{
		"database": func(ctx context.Context) error { return infra.PingDatabase(ctx, c.DB) },
	}
	if c.RedisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return c.RedisClient.Ping(ctx).Err() }
	}

	h := &Handlers{
		Health:    health.NewHandler(checks),
		Leads:     leadHandlers.NewHandler(c.Leads),
		Webhook:   webhookHandlers.NewHandler(c.WhatsApp, c.Logger),
		Widget:    widgetHandlers.NewHandler(c.Leads, c.WidgetTokens, c.Config.Auth.WidgetTokenTTL, c.Clock, c.Logger),
		Mailbox:   mailboxHandlers.NewHandler(c.Mailbox),
		Campaigns: campaignHandlers.NewHandler(c.Campaigns, c.Clock),
	}
	if c.Queue != nil {
		h.Jobs = jobHandlers.NewHandler(c.Queue)
	}
	return h
}

// Run 运行后台组件（任务执行、营销活动调度），直到 ctx 结束
func (c *AppContainer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.Scheduler.Run(ctx) })

	if c.Queue != nil {
		g.Go(func() error { return c.Queue.Run(ctx) })
	}
	if c.Worker != nil {
		if err := c.Worker.Start(); err != nil {
			return fmt.Errorf("启动 Worker 失败: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			c.Worker.Shutdown()
			return nil
		})
	}
	return g.Wait()
}

// Close 释放容器持有的资源
func (c *AppContainer) Close() error {
	if c.RateLimiter != nil {
		c.RateLimiter.Stop()
	}
	if c.AsynqQueue != nil {
		return c.AsynqQueue.Close()
	}
	return nil
}

// --- 内部初始化方法 ---

func (c *AppContainer) initAuth(cfg *config.Config) error {
	c.JWTService = auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, c.RedisClient, c.Clock)

	widgets, err := auth.NewWidgetTokenService(cfg.Auth.WidgetSecret, cfg.Auth.WidgetTokenTTL, c.Clock)
	if err != nil {
		return err
	}
	c.WidgetTokens = widgets

	encryptor, err := security.NewFieldEncryptor(cfg.Crypto.CredentialSecret, "tenant-credentials")
	if err != nil {
		return fmt.Errorf("初始化凭据加密失败: %w", err)
	}
	c.Encryptor = encryptor
	return nil
}

func (c *AppContainer) initTenant(db *gorm.DB) error {
	if c.shouldAutoMigrate() {
		if err := db.AutoMigrate(&tenant.Tenant{}, &tenant.WhatsAppCredential{}); err != nil {
			return fmt.Errorf("租户表迁移失败: %w", err)
		}
	}
	c.Tenants = tenant.NewCachedTenantRepository(tenant.NewTenantRepository(db), tenantCacheTTL, c.Clock)
	c.Credentials = tenant.NewCredentialRepository(db, c.Encryptor)
	c.Resolver = resolver.New(c.JWTService, c.WidgetTokens, c.Credentials, c.Logger.Named("resolver"))
	return nil
}

func (c *AppContainer) initQueue(db *gorm.DB, cfg *config.Config) error {
	qcfg := jobs.Config{
		Concurrency:  cfg.Queue.Concurrency,
		BaseDelay:    cfg.Queue.BaseDelay,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		PollInterval: cfg.Queue.PollInterval,
		Retention:    cfg.Queue.Retention,
		ReapInterval: cfg.Queue.ReapInterval,

		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	}
	opts := []jobs.Option{jobs.WithClock(c.Clock), jobs.WithLogger(c.Logger.Named("jobs"))}

	switch cfg.Queue.Driver {
	case config.QueueDriverMemory:
		c.Queue = jobs.New(jobs.NewMemoryStore(), qcfg, opts...)
	case config.QueueDriverDatabase, "":
		store := jobs.NewGormStore(db)
		if err := c.autoMigrate(store, "任务"); err != nil {
			return err
		}
		c.Queue = jobs.New(store, qcfg, opts...)
	case config.QueueDriverAsynq:
		if c.RedisClient == nil {
			return errors.New("asynq 队列需要可用的 Redis")
		}
		c.AsynqQueue = queue.NewClient(cfg.Redis, cfg.Queue, c.Clock, c.Logger.Named("queue"))
		c.Worker = worker.NewServer(cfg.Redis, cfg.Queue, c.Logger.Named("worker"))
		c.Enqueuer = c.AsynqQueue
		c.Registrar = c.Worker
		return nil
	default:
		return fmt.Errorf("不支持的队列驱动: %s", cfg.Queue.Driver)
	}
	c.Enqueuer = c.Queue
	c.Registrar = c.Queue
	return nil
}

func (c *AppContainer) initServices(db *gorm.DB, cfg *config.Config) error {
	c.Leads = lead.NewRepository(db)
	c.Campaigns = campaign.NewRepository(db)
	c.EmailService = notification.NewEmailService(db, notification.EmailServiceConfig{
		SMTPHost:    cfg.SMTP.Host,
		SMTPPort:    cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		FromAddress: cfg.SMTP.FromAddress,
		FromName:    cfg.SMTP.FromName,
		UseTLS:      cfg.SMTP.UseTLS,
	}, c.Clock, c.Logger.Named("email"))

	if c.shouldAutoMigrate() {
		if err := db.AutoMigrate(&lead.Lead{}); err != nil {
			return fmt.Errorf("线索表迁移失败: %w", err)
		}
	}
	if err := c.autoMigrate(c.Campaigns, "营销活动"); err != nil {
		return err
	}
	if err := c.autoMigrate(c.EmailService, "邮件日志"); err != nil {
		return err
	}

	c.CampaignService = campaign.NewService(c.Campaigns, c.Leads, c.EmailService, c.Clock, c.Logger.Named("campaign"))
	c.CampaignService.Register(c.Registrar)
	c.Scheduler = campaign.NewScheduler(c.Campaigns, c.Resolver, c.Enqueuer, campaign.SchedulerConfig{
		Interval:  cfg.Campaign.ScanInterval,
		BatchSize: cfg.Campaign.BatchSize,
	}, c.Clock, c.Logger.Named("scheduler"))

	c.Mailbox = mailbox.NewService(c.Tenants, c.Leads, mailbox.DisabledFetcher{}, c.Encryptor, c.Enqueuer, c.Clock, c.Logger.Named("mailbox"))
	c.Mailbox.Register(c.Registrar)

	c.WhatsApp = whatsapp.NewService(c.Credentials, c.Leads, c.Enqueuer, c.Clock, c.Logger.Named("whatsapp"))
	c.WhatsApp.Register(c.Registrar)
	return nil
}
