package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crypto   CryptoConfig   `mapstructure:"crypto"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Campaign CampaignConfig `mapstructure:"campaign"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 连接模式: standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`

	// 单节点模式配置
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// 哨兵模式配置
	MasterName       string   `mapstructure:"master_name"`       // 主节点名称
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`    // 哨兵地址列表
	SentinelPassword string   `mapstructure:"sentinel_password"` // 哨兵密码（可选）

	// 集群模式配置
	ClusterAddrs []string `mapstructure:"cluster_addrs"` // 集群节点地址列表

	// 通用配置
	PoolSize     int `mapstructure:"pool_size"`      // 连接池大小
	MinIdleConns int `mapstructure:"min_idle_conns"` // 最小空闲连接数
}

// Addr 单节点地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTIssuer      string        `mapstructure:"jwt_issuer"`
	WidgetSecret   string        `mapstructure:"widget_secret"`    // 公开组件令牌签名密钥
	WidgetTokenTTL time.Duration `mapstructure:"widget_token_ttl"` // 默认 24h
}

// CryptoConfig 字段加密配置
type CryptoConfig struct {
	CredentialSecret string `mapstructure:"credential_secret"` // 凭据加密主密钥
}

// 队列驱动
const (
	QueueDriverMemory   = "memory"
	QueueDriverDatabase = "database"
	QueueDriverAsynq    = "asynq"
)

// QueueConfig 后台任务队列配置
type QueueConfig struct {
	Driver       string        `mapstructure:"driver"` // memory, database, asynq
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Concurrency  int           `mapstructure:"concurrency"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Retention    time.Duration `mapstructure:"retention"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	// 处理中任务的租约，超时未记录结果的任务会被重新领取
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

// CampaignConfig 营销活动调度配置
type CampaignConfig struct {
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// SMTPConfig 发信配置
type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
	UseTLS      bool   `mapstructure:"use_tls"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

var globalConfig *Config

// setDefaults 默认值，配置文件与环境变量均可覆盖
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("auth.jwt_issuer", "leadhub")
	v.SetDefault("auth.widget_token_ttl", "24h")
	v.SetDefault("queue.driver", QueueDriverDatabase)
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.base_delay", "5s")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.retention", "24h")
	v.SetDefault("queue.reap_interval", "1h")
	v.SetDefault("queue.visibility_timeout", "10m")
	v.SetDefault("campaign.scan_interval", "1m")
	v.SetDefault("campaign.batch_size", 100)
	v.SetDefault("smtp.port", 587)
}

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 设置配置文件名和路径
	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Validate 校验配置，密钥缺失或队列参数非法时拒绝启动
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret 不能为空"))
	}
	if c.Auth.WidgetSecret == "" {
		errs = append(errs, errors.New("auth.widget_secret 不能为空"))
	}
	if c.Auth.WidgetTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.widget_token_ttl 必须为正"))
	}
	if c.Crypto.CredentialSecret == "" {
		errs = append(errs, errors.New("crypto.credential_secret 不能为空"))
	}

	switch c.Queue.Driver {
	case QueueDriverMemory, QueueDriverDatabase, QueueDriverAsynq:
	default:
		errs = append(errs, fmt.Errorf("queue.driver 不支持: %q", c.Queue.Driver))
	}
	if c.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("queue.poll_interval 必须为正"))
	}
	if c.Queue.Concurrency <= 0 {
		errs = append(errs, errors.New("queue.concurrency 必须为正"))
	}
	if c.Queue.BaseDelay <= 0 {
		errs = append(errs, errors.New("queue.base_delay 必须为正"))
	}
	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, errors.New("queue.max_attempts 必须为正"))
	}
	if c.Queue.Retention <= 0 || c.Queue.ReapInterval <= 0 {
		errs = append(errs, errors.New("queue.retention 与 queue.reap_interval 必须为正"))
	}
	if c.Campaign.ScanInterval <= 0 {
		errs = append(errs, errors.New("campaign.scan_interval 必须为正"))
	}
	return errors.Join(errs...)
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
