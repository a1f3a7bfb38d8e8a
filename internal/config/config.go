package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/events"
	"RiftBeacon/internal/ledger"
	"RiftBeacon/internal/protocol"
	"RiftBeacon/internal/storage/mysql"
	"RiftBeacon/internal/web3/ethereum"
	"RiftBeacon/pkg/logger"
)

// EnvPrefix 是环境变量覆盖的前缀，例如 RIFT_SERVER_ADDRESS。
const EnvPrefix = "RIFT"

// Config 描述了 RiftBeacon 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig    `mapstructure:"server"`
	Ledger  LedgerConfig    `mapstructure:"ledger"`
	Clock   ClockConfig     `mapstructure:"clock"`
	Params  protocol.Params `mapstructure:"params"`
	Queue   QueueConfig     `mapstructure:"queue"`
	Storage StorageConfig   `mapstructure:"storage"`
	Auth    AuthConfig      `mapstructure:"auth"`
	Log     LogConfig       `mapstructure:"log"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LedgerConfig 选择账本存储后端。
type LedgerConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Name    string `mapstructure:"name"`
}

// ClockConfig 选择时间来源：system 或 ethereum。
type ClockConfig struct {
	Source string `mapstructure:"source"`
	Chain  string `mapstructure:"chain"`
	RPCURL string `mapstructure:"rpc_url"`
}

// QueueConfig 描述事件队列。
type QueueConfig struct {
	Driver   string         `mapstructure:"driver"`
	Size     int            `mapstructure:"size"`
	Workers  int            `mapstructure:"workers"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type RedisConfig struct {
	Address   string        `mapstructure:"address"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Queue     string        `mapstructure:"queue"`
	BlockWait time.Duration `mapstructure:"block_wait"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Queue    string `mapstructure:"queue"`
	Prefetch int    `mapstructure:"prefetch"`
}

// StorageConfig 描述事件仓库，memory 驱动写入 DataDir 下的日志文件。
type StorageConfig struct {
	Driver  string       `mapstructure:"driver"`
	DataDir string       `mapstructure:"data_dir"`
	MySQL   mysql.Config `mapstructure:"mysql"`
}

// AuthConfig 控制 API 身份认证与角色授予。
type AuthConfig struct {
	Mode      string        `mapstructure:"mode"`
	Secret    string        `mapstructure:"secret"`
	Issuer    string        `mapstructure:"issuer"`
	Audience  string        `mapstructure:"audience"`
	AccessTTL time.Duration `mapstructure:"access_ttl"`
	Leeway    time.Duration `mapstructure:"leeway"`
	RolesFile string        `mapstructure:"roles_file"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
	Audit       struct {
		Enabled    bool   `mapstructure:"enabled"`
		Path       string `mapstructure:"path"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"audit"`
}

// Load 读取配置文件（JSON 或 YAML，按扩展名识别）并应用 RIFT_* 环境变量覆盖。
// path 为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseDir := "."
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	params := protocol.DefaultParams()
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("ledger.backend", "goleveldb")
	v.SetDefault("ledger.dir", "")
	v.SetDefault("ledger.name", "riftbeacon")
	v.SetDefault("clock.source", "system")
	v.SetDefault("clock.chain", "")
	v.SetDefault("clock.rpc_url", "")
	v.SetDefault("params.score.max_score", params.Score.MaxScore)
	v.SetDefault("params.score.decay_interval", params.Score.DecayInterval)
	v.SetDefault("params.score.decay_rate_bps", params.Score.DecayRateBPS)
	v.SetDefault("params.penalty.threshold", params.Penalty.Threshold)
	v.SetDefault("params.penalty.count_limit", params.Penalty.CountLimit)
	v.SetDefault("params.penalty.blacklist_duration", params.Penalty.BlacklistDuration)
	v.SetDefault("params.session.min_duration", params.Session.MinDuration)
	v.SetDefault("params.session.max_duration", params.Session.MaxDuration)
	v.SetDefault("params.session.reward", params.Session.Reward)
	v.SetDefault("params.session.attestation_ttl", params.Session.AttestationTTL)
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.size", 1024)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.redis.address", "")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.redis.queue", "riftbeacon:events")
	v.SetDefault("queue.redis.block_wait", 5*time.Second)
	v.SetDefault("queue.rabbitmq.url", "")
	v.SetDefault("queue.rabbitmq.queue", "riftbeacon.events")
	v.SetDefault("queue.rabbitmq.prefetch", 16)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.data_dir", "")
	v.SetDefault("storage.mysql.dsn", "")
	v.SetDefault("auth.mode", string(auth.ModeJWT))
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "riftbeacon")
	v.SetDefault("auth.audience", "riftbeacon-api")
	v.SetDefault("auth.access_ttl", time.Hour)
	v.SetDefault("auth.leeway", 30*time.Second)
	v.SetDefault("auth.roles_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})
	v.SetDefault("log.audit.enabled", false)
	v.SetDefault("log.audit.path", "")
}

// applyDefaults 补齐依赖配置文件位置的路径。
func (c *Config) applyDefaults(baseDir string) {
	dataDir := filepath.Join(baseDir, "data")
	c.Ledger.Dir = resolve(baseDir, c.Ledger.Dir, filepath.Join(dataDir, "ledger"))
	c.Storage.DataDir = resolve(baseDir, c.Storage.DataDir, filepath.Join(dataDir, "events"))
	if c.Auth.RolesFile != "" {
		c.Auth.RolesFile = resolve(baseDir, c.Auth.RolesFile, "")
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = filepath.Join(dataDir, "audit.log")
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 1
	}
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

// Validate 检查组合配置是否可用。
func (c *Config) Validate() error {
	var errs []error
	if err := c.Params.Score.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Params.Penalty.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Params.Session.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Clock.Source {
	case "system":
	case "ethereum":
		if c.Clock.RPCURL == "" {
			errs = append(errs, errors.New("clock.rpc_url is required for the ethereum clock"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown clock source %q", c.Clock.Source))
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.Redis.Address == "" {
			errs = append(errs, errors.New("queue.redis.address is required"))
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("queue.rabbitmq.url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue driver %q", c.Queue.Driver))
	}
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			errs = append(errs, errors.New("storage.mysql.dsn is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch auth.Mode(c.Auth.Mode) {
	case auth.ModeDisabled:
	case auth.ModeJWT:
		if c.Auth.Secret == "" {
			errs = append(errs, errors.New("auth.secret is required in jwt mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", c.Auth.Mode))
	}
	return errors.Join(errs...)
}

// LedgerOptions 转换为账本配置。
func (c *Config) LedgerOptions() ledger.Config {
	return ledger.Config{Backend: c.Ledger.Backend, Dir: c.Ledger.Dir, Name: c.Ledger.Name}
}

// EthereumClock 转换为区块时钟配置。
func (c *Config) EthereumClock() ethereum.Config {
	return ethereum.Config{Name: c.Clock.Chain, RPCURL: c.Clock.RPCURL}
}

// RedisQueue 转换为 Redis 队列配置。
func (c *Config) RedisQueue() events.RedisQueueConfig {
	r := c.Queue.Redis
	return events.RedisQueueConfig{
		Address:   r.Address,
		Password:  r.Password,
		DB:        r.DB,
		Queue:     r.Queue,
		BlockWait: r.BlockWait,
	}
}

// RabbitMQQueue 转换为 RabbitMQ 队列配置。
func (c *Config) RabbitMQQueue() events.RabbitMQConfig {
	r := c.Queue.RabbitMQ
	return events.RabbitMQConfig{URL: r.URL, Queue: r.Queue, Prefetch: r.Prefetch, Durable: true}
}

// JWT 转换为令牌参数。
func (c *Config) JWT() auth.JWTOptions {
	return auth.JWTOptions{
		Secret:    c.Auth.Secret,
		Issuer:    c.Auth.Issuer,
		Audience:  c.Auth.Audience,
		AccessTTL: c.Auth.AccessTTL,
		Leeway:    c.Auth.Leeway,
	}
}

// Logger 转换为日志配置。
func (c *Config) Logger() logger.Config {
	a := c.Log.Audit
	return logger.Config{
		Level:       c.Log.Level,
		Format:      c.Log.Format,
		OutputPaths: c.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    a.Enabled,
			Path:       a.Path,
			MaxSizeMB:  a.MaxSizeMB,
			MaxBackups: a.MaxBackups,
			MaxAgeDays: a.MaxAgeDays,
		},
	}
}
