package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PlaceholderToken is written into a freshly created config file.
const PlaceholderToken = "PUT_YOUR_NEW_TOKEN_HERE"

const bytesPerGB = 1024 * 1024 * 1024

type Config struct {
	BotToken          string   `json:"bot_token"`
	MandatoryChannels []string `json:"mandatory_channels"`
	MaxFileSizeGB     float64  `json:"max_file_size_gb"`

	DataDir       string  `json:"data_dir,omitempty"`
	WorkDir       string  `json:"work_dir,omitempty"`
	CookiesFile   string  `json:"cookies_file,omitempty"`
	LedgerBackend string  `json:"ledger_backend,omitempty"` // "json" or "sqlite"
	AdminIDs      []int64 `json:"admin_ids,omitempty"`

	MaxConcurrentDownloads int `json:"max_concurrent_downloads,omitempty"`
	RatePerMinute          int `json:"rate_per_minute,omitempty"`
	ArtifactMaxAgeMinutes  int `json:"artifact_max_age_minutes,omitempty"`

	// Empty disables the ops listener.
	MetricsAddr string `json:"metrics_addr,omitempty"`

	LogLevel string `json:"log_level,omitempty"`
	LogFile  string `json:"log_file,omitempty"`
	Debug    bool   `json:"debug,omitempty"`

	// Download the yt-dlp binary on start if it is not in PATH.
	InstallYtdlp bool `json:"install_ytdlp,omitempty"`
}

// MaxFileSizeBytes converts the configured gigabyte limit to bytes.
func (c Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeGB * bytesPerGB)
}

func (c Config) ArtifactMaxAge() time.Duration {
	return time.Duration(c.ArtifactMaxAgeMinutes) * time.Minute
}

func (c Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func DefaultConfigPath() string {
	if v := os.Getenv("MFB_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Default is the document written when the config file does not exist yet.
func Default() Config {
	return Config{
		BotToken:          PlaceholderToken,
		MandatoryChannels: []string{"@DevZone_IT"},
		MaxFileSizeGB:     2,
	}
}

// WriteDefault creates path with placeholder values. It never overwrites.
func WriteDefault(path string) error {
	b, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	var cfg Config
	// 1) Try file, self-heal if missing
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid config json: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		if err := WriteDefault(path); err != nil {
			return Config{}, fmt.Errorf("write default config: %w", err)
		}
		cfg = Default()
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	// 2) Env fallback / override
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.BotToken = v
	}
	if v := os.Getenv("MFB_BOT_TOKEN"); v != "" {
		cfg.BotToken = v
	}
	if v := os.Getenv("MFB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MFB_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("MFB_CHANNELS"); v != "" {
		cfg.MandatoryChannels = parseList(v)
	}
	if v := os.Getenv("MFB_ADMINS"); v != "" && len(cfg.AdminIDs) == 0 {
		cfg.AdminIDs = parseIDList(v)
	}
	if v := os.Getenv("MFB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MFB_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("MFB_DEBUG"); v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}

	// Defaults
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w (edit %s or set BOT_TOKEN env)", err, path)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	cfg.DataDir = filepath.Clean(cfg.DataDir)
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(cfg.DataDir, "work")
	}
	cfg.WorkDir = filepath.Clean(cfg.WorkDir)
	if cfg.CookiesFile == "" {
		cfg.CookiesFile = "cookies.txt"
	}
	if cfg.LedgerBackend == "" {
		cfg.LedgerBackend = "json"
	}
	if cfg.MaxFileSizeGB <= 0 {
		cfg.MaxFileSizeGB = 2
	}
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = 4
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 6
	}
	if cfg.ArtifactMaxAgeMinutes <= 0 {
		cfg.ArtifactMaxAgeMinutes = 60
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
		if cfg.Debug {
			cfg.LogLevel = "debug"
		}
	}
	channels := cfg.MandatoryChannels[:0]
	for _, ch := range cfg.MandatoryChannels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if !strings.HasPrefix(ch, "@") {
			ch = "@" + ch
		}
		channels = append(channels, ch)
	}
	cfg.MandatoryChannels = channels
}

func (c Config) Validate() error {
	if c.BotToken == "" || c.BotToken == PlaceholderToken {
		return errors.New("missing bot_token")
	}
	switch c.LedgerBackend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("unknown ledger_backend %q", c.LedgerBackend)
	}
	return nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDList(s string) []int64 {
	var out []int64
	for _, part := range parseList(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err == nil {
			out = append(out, id)
		}
	}
	return out
}
