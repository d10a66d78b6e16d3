/**
 * Package config 提供配置管理功能
 *
 * 配置来源按优先级从低到高：内置默认值、~/.quickcapture/config.yaml、
 * .env 文件、环境变量。YAML 中的 ${VAR} 占位符在解析前展开。
 */
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chenyang-zz/quickcapture/internal/domain/shortcut"
	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// EnvFileVar 额外 .env 文件路径
	EnvFileVar = "QUICKCAPTURE_ENV"

	envBackendURL   = "QUICKCAPTURE_BACKEND_URL"
	envNotionAPIKey = "NOTION_API_KEY"
	envNotionPageID = "NOTION_PAGE_ID"
	envGoogleTokens = "GOOGLE_TOKENS"
)

/**
 * Config 应用配置
 */
type Config struct {
	Backend     BackendConfig     `yaml:"backend"`
	Capture     CaptureConfig     `yaml:"capture"`
	Status      StatusConfig      `yaml:"status"`
	Shortcut    ShortcutConfig    `yaml:"shortcut"`
	Storage     StorageConfig     `yaml:"storage"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Logging     LoggingConfig     `yaml:"logging"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

/**
 * BackendConfig 分析后端
 */
type BackendConfig struct {
	/** 后端地址 */
	URL string `yaml:"url"`

	/** 单次上传超时 */
	Timeout time.Duration `yaml:"timeout"`
}

/**
 * CaptureConfig 截图工具
 */
type CaptureConfig struct {
	/** 截图工具路径 */
	Tool string `yaml:"tool"`

	/** 输出路径之前的参数 */
	Args []string `yaml:"args"`

	/** 临时输出目录，为空时使用系统临时目录 */
	TempDir string `yaml:"temp_dir"`
}

/**
 * StatusConfig 状态复位
 */
type StatusConfig struct {
	/** 终态消息之后恢复 Ready 的延迟 */
	ResetDelay time.Duration `yaml:"reset_delay"`
}

/**
 * ShortcutConfig 快捷键
 */
type ShortcutConfig struct {
	/** 存储为空时使用的组合，如 Cmd+Shift+1 */
	Default string `yaml:"default"`

	/** 可选，设置后通过注册表更新路径生效 */
	Binding string `yaml:"binding"`
}

/**
 * StorageConfig 存储
 */
type StorageConfig struct {
	/** 偏好数据库路径 */
	PreferencesPath string `yaml:"preferences_path"`
}

/**
 * BridgeConfig 本地 UI 桥接
 */
type BridgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

/**
 * LoggingConfig 日志配置
 */
type LoggingConfig struct {
	/** 日志级别 */
	Level string `yaml:"level"`

	/** 是否使用 JSON 编码 */
	Production bool `yaml:"production"`

	/** 文件配置 */
	File FileConfig `yaml:"file"`
}

/**
 * FileConfig 日志文件
 */
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

/**
 * CredentialsConfig 透传给后端的凭据
 */
type CredentialsConfig struct {
	NotionAPIKey string `yaml:"notion_api_key"`
	NotionPageID string `yaml:"notion_page_id"`
	GoogleTokens string `yaml:"google_tokens"`
}

// Options 转换为日志配置
func (l LoggingConfig) Options() logger.Options {
	return logger.Options{
		Production: l.Production,
		Level:      l.Level,
		FilePath:   l.File.Path,
		MaxSizeMB:  l.File.MaxSize,
		MaxBackups: l.File.MaxBackups,
		MaxAgeDays: l.File.MaxAge,
		Compress:   l.File.Compress,
	}
}

// DefaultShortcut 解析默认快捷键，解析失败时使用内置组合
func (c *Config) DefaultShortcut() shortcut.Combination {
	if combo, err := shortcut.ParseCombination(c.Shortcut.Default); err == nil {
		return combo
	}
	return shortcut.Default()
}

// Binding 解析配置中指定的快捷键，未设置时返回 false
func (c *Config) Binding() (shortcut.Combination, bool, error) {
	if strings.TrimSpace(c.Shortcut.Binding) == "" {
		return shortcut.Combination{}, false, nil
	}
	combo, err := shortcut.ParseCombination(c.Shortcut.Binding)
	if err != nil {
		return shortcut.Combination{}, false, fmt.Errorf("shortcut.binding: %w", err)
	}
	return combo, true, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.url: invalid url %q", c.Backend.URL))
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, errors.New("backend.timeout: must be positive"))
	}
	if c.Status.ResetDelay <= 0 {
		errs = append(errs, errors.New("status.reset_delay: must be positive"))
	}
	if c.Capture.Tool == "" {
		errs = append(errs, errors.New("capture.tool: required"))
	}
	if _, err := shortcut.ParseCombination(c.Shortcut.Default); err != nil {
		errs = append(errs, fmt.Errorf("shortcut.default: %w", err))
	}
	if _, _, err := c.Binding(); err != nil {
		errs = append(errs, err)
	}
	if c.Bridge.Enabled && c.Bridge.Addr == "" {
		errs = append(errs, errors.New("bridge.addr: required when bridge is enabled"))
	}

	return errors.Join(errs...)
}

// DefaultDir 配置目录 ~/.quickcapture
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".quickcapture"), nil
}

// DefaultPath 默认配置文件路径
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

/**
 * Default 内置默认配置
 */
func Default() *Config {
	dir, err := DefaultDir()
	if err != nil {
		dir = filepath.Join(os.TempDir(), "quickcapture")
	}

	return &Config{
		Backend: BackendConfig{
			URL:     "http://127.0.0.1:8000",
			Timeout: 60 * time.Second,
		},
		Capture: CaptureConfig{
			Tool: "/usr/sbin/screencapture",
			Args: []string{"-i", "-x"},
		},
		Status: StatusConfig{
			ResetDelay: 3 * time.Second,
		},
		Shortcut: ShortcutConfig{
			Default: "Cmd+Shift+1",
		},
		Storage: StorageConfig{
			PreferencesPath: filepath.Join(dir, "preferences.db"),
		},
		Bridge: BridgeConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8765",
		},
		Logging: LoggingConfig{
			Level: "info",
			File: FileConfig{
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
	}
}

/**
 * Load 加载配置
 *
 * Parameters:
 *   - path: 配置文件路径，为空时使用 DefaultPath；文件不存在时使用默认值
 *
 * Returns:
 *   - *Config: 合并后的配置
 *   - error: 读取、解析或校验失败
 */
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		path = p
	}

	LoadEnvFiles()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// 使用默认值
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.Storage.PreferencesPath = expandHome(cfg.Storage.PreferencesPath)
	cfg.Capture.TempDir = expandHome(cfg.Capture.TempDir)
	cfg.Logging.File.Path = expandHome(cfg.Logging.File.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnvFiles 加载 .env 文件
//
// 依次加载工作目录的 .env 和 $QUICKCAPTURE_ENV 指向的文件，已存在的环境变量不会被覆盖。
func LoadEnvFiles() {
	candidates := []string{".env"}
	if alt := os.Getenv(EnvFileVar); alt != "" {
		candidates = append(candidates, alt)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// applyEnvOverrides 环境变量覆盖后端地址和凭据
func applyEnvOverrides(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Backend.URL, envBackendURL)
	override(&cfg.Credentials.NotionAPIKey, envNotionAPIKey)
	override(&cfg.Credentials.NotionPageID, envNotionPageID)
	override(&cfg.Credentials.GoogleTokens, envGoogleTokens)
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv 只替换 ${VAR} 形式，未设置的变量替换为空
func expandEnv(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
