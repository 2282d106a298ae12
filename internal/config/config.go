package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Service       ServiceConfig  `toml:"service"`
	Schedule      ScheduleConfig `toml:"schedule"`
	Form          FormConfig     `toml:"form"`
	Run           RunConfig      `toml:"run"`
	Browser       BrowserConfig  `toml:"browser"`
	Notifications NotifyConfig   `toml:"notifications"`
	Graph         GraphConfig    `toml:"graph"`
}

// ServiceConfig points at the shifts server that fronts the scheduling API.
type ServiceConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	CacheMinutes   int    `toml:"cache_minutes"`
}

type ScheduleConfig struct {
	Source       string `toml:"source"` // "api" | "graph" | ICS URL | file path
	Email        string `toml:"email"`
	EmailDomain  string `toml:"email_domain"`
	Timezone     string `toml:"timezone"`
	SplitEnabled bool   `toml:"split_enabled"`
	SplitHour    int    `toml:"split_hour"`
}

type FormConfig struct {
	URL                 string            `toml:"url"`
	HostSuffix          string            `toml:"host_suffix"`
	PathPrefix          string            `toml:"path_prefix"`
	DateLayout          string            `toml:"date_layout"`
	AddRowLabel         string            `toml:"add_row_label"`
	DateTitlePrefix     string            `toml:"date_title_prefix"`
	HoursTitlePrefix    string            `toml:"hours_title_prefix"`
	CategoryTitle       string            `toml:"category_title"`
	CategoryName        string            `toml:"category_name"`
	DefaultCategoryCode string            `toml:"default_category_code"`
	CategoryCodes       map[string]string `toml:"category_codes"`
}

type RunConfig struct {
	DelayMs            int `toml:"delay_ms"`
	FillDelayMs        int `toml:"fill_delay_ms"`
	RowRetries         int `toml:"row_retries"`
	FormTimeoutSeconds int `toml:"form_timeout_seconds"`
	FieldTimeoutMs     int `toml:"field_timeout_ms"`
	ReloadTimeoutSecs  int `toml:"reload_timeout_seconds"`
	LogSize            int `toml:"log_size"`
	LockLeaseSeconds   int `toml:"lock_lease_seconds"`
}

type BrowserConfig struct {
	Bin         string `toml:"bin"`
	DebuggerURL string `toml:"debugger_url"`
	Headless    bool   `toml:"headless"`
	UserDataDir string `toml:"user_data_dir"`
	LoginWaitS  int    `toml:"login_wait_seconds"`
}

type NotifyConfig struct {
	Enabled bool `toml:"enabled"`
}

// GraphConfig is only read when schedule.source = "graph". The bearer token
// is obtained elsewhere and handed in opaque.
type GraphConfig struct {
	TeamID string `toml:"team_id"`
	Token  string `toml:"token"`
}

func DefaultConfig() Config {
	return Config{
		Service: ServiceConfig{
			BaseURL:        "http://127.0.0.1:3000",
			TimeoutSeconds: 8,
			CacheMinutes:   5,
		},
		Schedule: ScheduleConfig{
			Source:       "api",
			EmailDomain:  "@mau.se",
			Timezone:     "Europe/Stockholm",
			SplitEnabled: true,
			SplitHour:    19,
		},
		Form: FormConfig{
			HostSuffix:          "mau.hr.evry.se",
			PathPrefix:          "/primula/",
			DateLayout:          "20060102",
			AddRowLabel:         "Ny rad",
			DateTitlePrefix:     "Datum",
			HoursTitlePrefix:    "Antal timmar",
			CategoryTitle:       "Utfört arbete (välj)",
			CategoryName:        "falt[7].valueString",
			DefaultCategoryCode: "MaUskrv1",
			CategoryCodes:       map[string]string{},
		},
		Run: RunConfig{
			DelayMs:            700,
			FillDelayMs:        250,
			RowRetries:         3,
			FormTimeoutSeconds: 20,
			FieldTimeoutMs:     1500,
			ReloadTimeoutSecs:  30,
			LogSize:            60,
			LockLeaseSeconds:   120,
		},
		Browser: BrowserConfig{
			Headless:   false,
			LoginWaitS: 300,
		},
		Notifications: NotifyConfig{
			Enabled: true,
		},
	}
}

// Location resolves the configured schedule timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Schedule.SplitHour < 0 || c.Schedule.SplitHour > 23 {
		return fmt.Errorf("schedule.split_hour must be between 0 and 23, got %d", c.Schedule.SplitHour)
	}
	if c.Run.RowRetries < 1 {
		return fmt.Errorf("run.row_retries must be at least 1, got %d", c.Run.RowRetries)
	}
	if c.Form.DateLayout == "" {
		return fmt.Errorf("form.date_layout is empty")
	}
	return nil
}

func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "shiftfill"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the config at path. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			applyEnvOverrides(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHIFTFILL_BASE_URL"); v != "" {
		cfg.Service.BaseURL = v
	}
	if v := os.Getenv("SHIFTFILL_API_KEY"); v != "" {
		cfg.Service.APIKey = v
	}
	if v := os.Getenv("SHIFTFILL_EMAIL"); v != "" {
		cfg.Schedule.Email = v
	}
	if v := os.Getenv("SHIFTFILL_GRAPH_TOKEN"); v != "" {
		cfg.Graph.Token = v
	}
	if v := os.Getenv("SHIFTFILL_FORM_URL"); v != "" {
		cfg.Form.URL = v
	}
	if v := os.Getenv("SHIFTFILL_BROWSER_BIN"); v != "" {
		cfg.Browser.Bin = v
	}
	if v := os.Getenv("SHIFTFILL_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
}

func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// WriteDefault writes the default configuration to path as TOML.
func WriteDefault(path string) error {
	out, err := toml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, out, 0644)
}

// SaveEmail persists the last used email to the config file using a
// read-modify-write approach to preserve other settings.
func SaveEmail(email string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	cfg := make(map[string]any)

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}
	if len(data) > 0 {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	sched, ok := cfg["schedule"].(map[string]any)
	if !ok {
		sched = make(map[string]any)
	}
	sched["email"] = email
	cfg["schedule"] = sched

	if err := EnsureConfigDir(); err != nil {
		return err
	}

	out, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, out, 0644)
}
