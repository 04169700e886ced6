// Package config 加载服务配置。
//
// 加载顺序（后者覆盖前者）：
//  1. Default() 内置默认值
//  2. YAML 配置文件（可选，--config）
//  3. 工作目录下的 .env（可选，不覆盖已存在的环境变量）
//  4. 环境变量：REMINSIGHT_<SECTION>_<FIELD>，或字段上声明的短名（如 PORT、MODEL_VERSION）
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/rushteam/reminsight/feature"
	"github.com/rushteam/reminsight/pkg/dsl"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "REMINSIGHT"

type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
	Preprocess PreprocessConfig `yaml:"preprocess"`
	Explain    ExplainConfig    `yaml:"explain"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Schema     SchemaConfig     `yaml:"schema"`
	History    HistoryConfig    `yaml:"history"`
	Feast      FeastConfig      `yaml:"feast"`
}

type AppConfig struct {
	Name     string `yaml:"name" envconfig:"APP_NAME"`
	Env      string `yaml:"env" envconfig:"APP_ENV"`
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`
}

type ServerConfig struct {
	Host           string        `yaml:"host" envconfig:"HOST"`
	Port           int           `yaml:"port" envconfig:"PORT"`
	AllowedOrigins []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	ReloadSecret   string        `yaml:"reload_secret" envconfig:"RELOAD_SECRET"`
	MaxRows        int           `yaml:"max_rows" envconfig:"MAX_ROWS"`
	ReadTimeout    time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	// MaxUploadBytes 限制 /predict_csv 上传大小
	MaxUploadBytes int64 `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES"`
}

// Addr 返回监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ArtifactsConfig struct {
	Root          string `yaml:"root" envconfig:"ARTIFACTS_DIR"`
	VersionPrefix string `yaml:"version_prefix" envconfig:"VERSION_PREFIX"`
	// PinnedVersion 请求未指定版本时使用，空表示 latest
	PinnedVersion string `yaml:"pinned_version" envconfig:"MODEL_VERSION"`
	// ProvenanceFile 版本目录内的溯源文件名；PROVENANCE_PATH 给出路径时只取文件名
	ProvenanceFile string        `yaml:"provenance_file" envconfig:"PROVENANCE_PATH"`
	Watch          bool          `yaml:"watch" envconfig:"WATCH_ARTIFACTS"`
	Debounce       time.Duration `yaml:"debounce" envconfig:"WATCH_DEBOUNCE"`
	CacheSize      int           `yaml:"cache_size" envconfig:"VERSION_CACHE_SIZE"`
}

type PreprocessConfig struct {
	Policy string `yaml:"policy" envconfig:"PREPROCESS_POLICY"`
}

type ExplainConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"SHAP_ENABLED"`
	TopK    int    `yaml:"top_k" envconfig:"SHAP_TOP_K"`
	Samples int    `yaml:"samples" envconfig:"SHAP_SAMPLES"`
	Seed    uint64 `yaml:"seed" envconfig:"SHAP_SEED"`
}

type RuntimeConfig struct {
	// ONNXLibrary onnxruntime 动态库路径，空时使用系统默认
	ONNXLibrary string `yaml:"onnx_library" envconfig:"ONNXRUNTIME_LIB"`
}

type SchemaConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"SCHEMA_GUARD"`
	// Rules 为空时使用 dsl.DefaultRules()
	Rules []dsl.Rule `yaml:"rules" ignored:"true"`
}

type HistoryConfig struct {
	Enabled    bool        `yaml:"enabled" envconfig:"HISTORY_ENABLED"`
	Backend    string      `yaml:"backend" envconfig:"HISTORY_BACKEND"`
	MaxEntries int         `yaml:"max_entries" envconfig:"HISTORY_MAX_ENTRIES"`
	TTLSeconds int         `yaml:"ttl_seconds" envconfig:"HISTORY_TTL_SECONDS"`
	KeyPrefix  string      `yaml:"key_prefix" envconfig:"HISTORY_KEY_PREFIX"`
	Redis      RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

type FeastConfig struct {
	Enabled     bool          `yaml:"enabled" envconfig:"FEAST_ENABLED"`
	Host        string        `yaml:"host" envconfig:"FEAST_HOST"`
	Port        int           `yaml:"port" envconfig:"FEAST_PORT"`
	Project     string        `yaml:"project" envconfig:"FEAST_PROJECT"`
	FeatureView string        `yaml:"feature_view" envconfig:"FEAST_FEATURE_VIEW"`
	EntityKey   string        `yaml:"entity_key" envconfig:"FEAST_ENTITY_KEY"`
	Token       string        `yaml:"token" envconfig:"FEAST_TOKEN"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"FEAST_TIMEOUT"`
}

// Default 返回内置默认配置
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:     "reminsight",
			Env:      "development",
			LogLevel: "info",
		},
		Server: ServerConfig{
			Port:           8000,
			AllowedOrigins: []string{"*"},
			MaxRows:        1000,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxUploadBytes: 10 << 20,
		},
		Artifacts: ArtifactsConfig{
			Root:           "models",
			VersionPrefix:  "v",
			ProvenanceFile: "training_provenance.json",
			Debounce:       2 * time.Second,
			CacheSize:      4,
		},
		Preprocess: PreprocessConfig{Policy: string(feature.PolicyStrict)},
		Explain: ExplainConfig{
			Enabled: true,
			TopK:    5,
			Samples: 200,
			Seed:    42,
		},
		Schema: SchemaConfig{Enabled: true},
		History: HistoryConfig{
			Backend:    "memory",
			MaxEntries: 50,
			KeyPrefix:  "reminsight:history:",
			Redis:      RedisConfig{Addr: "localhost:6379"},
		},
		Feast: FeastConfig{
			Port:      6565,
			EntityKey: "subject_id",
			Timeout:   500 * time.Millisecond,
		},
	}
}

// Load 按顺序加载配置，path 为空时跳过配置文件
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if cfg.Artifacts.ProvenanceFile != "" {
		cfg.Artifacts.ProvenanceFile = filepath.Base(cfg.Artifacts.ProvenanceFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Artifacts.Root == "" {
		return fmt.Errorf("artifacts.root is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxRows <= 0 {
		return fmt.Errorf("server.max_rows must be positive")
	}
	if _, err := feature.ParsePolicy(c.Preprocess.Policy); err != nil {
		return err
	}
	if c.Explain.TopK <= 0 {
		return fmt.Errorf("explain.top_k must be positive")
	}
	if c.Explain.Samples < 0 {
		return fmt.Errorf("explain.samples must not be negative")
	}
	if c.Artifacts.CacheSize < 0 {
		return fmt.Errorf("artifacts.cache_size must not be negative")
	}
	switch c.History.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown history backend %q (supported: memory, redis)", c.History.Backend)
	}
	if c.Feast.Enabled && (c.Feast.Host == "" || c.Feast.Project == "" || c.Feast.FeatureView == "") {
		return fmt.Errorf("feast.host, feast.project and feast.feature_view are required when feast is enabled")
	}
	return nil
}

// Policy 返回解析后的预处理策略
func (c *Config) Policy() feature.Policy {
	p, err := feature.ParsePolicy(c.Preprocess.Policy)
	if err != nil {
		return feature.PolicyStrict
	}
	return p
}

// GuardRules 返回生效的范围规则
func (c *Config) GuardRules() []dsl.Rule {
	if len(c.Schema.Rules) > 0 {
		return c.Schema.Rules
	}
	return dsl.DefaultRules()
}
