// Package config 使用 viper 加载服务配置：YAML 文件 + ERP_ 前缀的环境变量 + 代码内默认值。
package config

import (
	"ERPAdmin/internal/adapter/datasource/sqlsource"
	"ERPAdmin/internal/adapter/store"
	"ERPAdmin/internal/erpmiddleware"
	"ERPAdmin/internal/service/auth"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 ERP_SERVER_PORT 覆盖 server.port
const EnvPrefix = "ERP"

// DefaultPath 未指定时尝试读取的配置文件
const DefaultPath = "configs/config.yaml"

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	GRPCHealthPort  int           `mapstructure:"grpc_health_port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	FrontendURL     string        `mapstructure:"frontend_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PprofAddr       string        `mapstructure:"pprof_addr"`
	Metrics         bool          `mapstructure:"metrics"`
}

type AuthConfig struct {
	auth.Config            `mapstructure:",squash"`
	MaxLoginFailures       int           `mapstructure:"max_login_failures"`
	Lockout                time.Duration `mapstructure:"lockout"`
	BootstrapAdminUser     string        `mapstructure:"bootstrap_admin_user"`
	BootstrapAdminPassword string        `mapstructure:"bootstrap_admin_password"`
	// GeneratedSecret 为 true 表示 jwt_secret 未配置，本次启动随机生成
	GeneratedSecret bool `mapstructure:"-"`
}

type StatusConfig struct {
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// Config 是进程的完整配置
type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Auth      AuthConfig           `mapstructure:"auth"`
	ERP       store.Config         `mapstructure:"erp"`
	Status    StatusConfig         `mapstructure:"status"`
	RateLimit erpmiddleware.Config `mapstructure:"ratelimit"`
	Breaker   BreakerConfig        `mapstructure:"breaker"`
	Sources   []sqlsource.Config   `mapstructure:"sources"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.grpc_health_port", 0)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.frontend_url", "http://localhost:5173")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.pprof_addr", "")
	v.SetDefault("server.metrics", true)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_ttl", auth.DefaultAccessTTL)
	v.SetDefault("auth.refresh_ttl", auth.DefaultRefreshTTL)
	v.SetDefault("auth.invite_ttl", auth.DefaultInviteTTL)
	v.SetDefault("auth.max_login_failures", 5)
	v.SetDefault("auth.lockout", 15*time.Minute)
	v.SetDefault("auth.bootstrap_admin_user", "")
	v.SetDefault("auth.bootstrap_admin_password", "")

	v.SetDefault("erp.driver", "sqlite")
	v.SetDefault("erp.dsn", "")
	v.SetDefault("erp.path", "instance/erp.db")
	v.SetDefault("erp.host", "")
	v.SetDefault("erp.port", 0)
	v.SetDefault("erp.user", "")
	v.SetDefault("erp.password", "")
	v.SetDefault("erp.name", "")
	v.SetDefault("erp.max_conns", store.DefaultMaxConns)

	v.SetDefault("status.probe_timeout", 5*time.Second)
	v.SetDefault("status.poll_interval", 15*time.Second)

	rl := erpmiddleware.DefaultConfig()
	v.SetDefault("ratelimit.global_rps", rl.GlobalRPS)
	v.SetDefault("ratelimit.global_burst", rl.GlobalBurst)
	v.SetDefault("ratelimit.ip_per_minute", rl.IPPerMinute)
	v.SetDefault("ratelimit.ip_burst", rl.IPBurst)
	v.SetDefault("ratelimit.user_rps", rl.UserRPS)
	v.SetDefault("ratelimit.user_burst", rl.UserBurst)
	v.SetDefault("ratelimit.source_rps", rl.SourceRPS)
	v.SetDefault("ratelimit.source_burst", rl.SourceBurst)

	v.SetDefault("breaker.max_failures", sqlsource.DefaultBreakerSettings.MaxFailures)
	v.SetDefault("breaker.open_timeout", sqlsource.DefaultBreakerSettings.OpenTimeout)
}

// ResolvePath 依次使用命令行参数、ERP_CONFIG 环境变量和默认路径，都不存在时返回空串
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// Load 读取配置。path 为空时只使用默认值和环境变量。
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
				return nil, nil, fmt.Errorf("配置文件 '%s' 不存在: %w", path, err)
			}
			return nil, nil, fmt.Errorf("读取配置文件 '%s' 失败: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置到结构体失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Auth.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.Auth.Secret = secret
		cfg.Auth.GeneratedSecret = true
	}
	return &cfg, nil
}

// Validate 检查配置的完整性
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port 无效: %d", c.Server.Port)
	}
	if c.Server.GRPCHealthPort < 0 || c.Server.GRPCHealthPort > 65535 {
		return fmt.Errorf("server.grpc_health_port 无效: %d", c.Server.GRPCHealthPort)
	}
	if d, err := sqlsource.ParseDialect(c.ERP.Driver); err != nil || d == sqlsource.MSSQL {
		return fmt.Errorf("erp.driver 只支持 sqlite 或 postgres，当前为 '%s'", c.ERP.Driver)
	}
	if c.Status.ProbeTimeout <= 0 {
		return errors.New("status.probe_timeout 必须大于 0")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("sources 配置无效: %w", err)
		}
		if src.ID == "erp" {
			return errors.New("数据源 id 'erp' 已保留给系统库")
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("数据源 id '%s' 重复", src.ID)
		}
		seen[src.ID] = struct{}{}
	}
	return nil
}

// SourceIDs 按配置顺序返回数据源标识
func (c *Config) SourceIDs() []string {
	ids := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		ids[i] = s.ID
	}
	return ids
}

// Breakers 返回熔断参数
func (c *Config) Breakers() sqlsource.BreakerSettings {
	return sqlsource.BreakerSettings{MaxFailures: c.Breaker.MaxFailures, OpenTimeout: c.Breaker.OpenTimeout}
}

// Watch 监听配置文件变化，重新解析成功后回调。解析失败时保留旧配置。
func Watch(v *viper.Viper, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("配置文件变更后解析失败，继续使用旧配置", "file", e.Name, "error", err)
			return
		}
		slog.Info("配置文件已重新加载", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("生成 JWT 密钥失败: %w", err)
	}
	return hex.EncodeToString(b), nil
}
