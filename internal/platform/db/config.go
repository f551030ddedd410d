package db

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Username string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname" validate:"required"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr         string   `yaml:"addr" validate:"required"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" validate:"required,min=16"`
	TokenTTL  time.Duration `yaml:"token_ttl" validate:"min=0"`
}

// ReminderConfig はリマインド判定と配信の設定。
type ReminderConfig struct {
	RemindBeforeDays    int           `yaml:"remind_before_days" validate:"min=1,max=30"`
	OverdueIntervalDays int           `yaml:"overdue_interval_days" validate:"min=1"`
	DeliveryTimeout     time.Duration `yaml:"delivery_timeout" validate:"min=0"`
	DedupeWindow        time.Duration `yaml:"dedupe_window" validate:"min=0"`
}

type SchedulerConfig struct {
	Disabled       bool   `yaml:"disabled"`
	Timezone       string `yaml:"timezone" validate:"required"`
	SweepHour      int    `yaml:"sweep_hour" validate:"min=0,max=23"`
	SweepMinute    int    `yaml:"sweep_minute" validate:"min=0,max=59"`
	ReportHour     int    `yaml:"report_hour" validate:"min=0,max=23"`
	ReportMinute   int    `yaml:"report_minute" validate:"min=0,max=59"`
	CatchUpOnStart bool   `yaml:"catch_up_on_start"`
}

type WeChatConfig struct {
	BaseURL           string `yaml:"base_url" validate:"required,url"`
	AppID             string `yaml:"appid"`
	Secret            string `yaml:"secret"`
	DueSoonTemplateID string `yaml:"due_soon_template_id"`
	OverdueTemplateID string `yaml:"overdue_template_id"`
	Page              string `yaml:"page"`
}

// Enabled は AppID/Secret が両方揃っている場合のみ true。
func (w WeChatConfig) Enabled() bool {
	return w.AppID != "" && w.Secret != ""
}

type InventoryConfig struct {
	ClampReleaseOverflow bool `yaml:"clamp_release_overflow"`
}

type Config struct {
	Version     string          `yaml:"version"`
	Mode        string          `yaml:"mode" validate:"oneof=dev release"`
	DB          DatabaseConfig  `yaml:"database"`
	Certificate Certs           `yaml:"certificate"`
	Server      ServerConfig    `yaml:"server"`
	Auth        AuthConfig      `yaml:"auth"`
	Reminder    ReminderConfig  `yaml:"reminder"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	WeChat      WeChatConfig    `yaml:"wechat"`
	Inventory   InventoryConfig `yaml:"inventory"`
}

func defaultConfig() Config {
	return Config{
		Mode: "dev",
		DB:   DatabaseConfig{Host: "127.0.0.1", Port: 3306},
		Server: ServerConfig{
			Addr: ":8443",
		},
		Auth: AuthConfig{TokenTTL: 24 * time.Hour},
		Reminder: ReminderConfig{
			RemindBeforeDays:    3,
			OverdueIntervalDays: 3,
			DeliveryTimeout:     10 * time.Second,
			DedupeWindow:        20 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			Timezone:     "Asia/Shanghai",
			SweepHour:    9,
			SweepMinute:  0,
			ReportHour:   9,
			ReportMinute: 30,
		},
		WeChat: WeChatConfig{
			BaseURL: "https://api.weixin.qq.com",
			Page:    "pages/borrow-list/borrow-list",
		},
	}
}

// LoadConfig は YAML を読み込み、環境変数で上書きした後に検証する。
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("環境変数の解釈失敗: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("設定値が不正: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"LIBRARY_MODE":        &cfg.Mode,
		"LIBRARY_DB_HOST":     &cfg.DB.Host,
		"LIBRARY_DB_USER":     &cfg.DB.Username,
		"LIBRARY_DB_PASSWORD": &cfg.DB.Password,
		"LIBRARY_DB_NAME":     &cfg.DB.DBName,
		"LIBRARY_ADDR":        &cfg.Server.Addr,
		"JWT_SECRET":          &cfg.Auth.JWTSecret,
		"WX_APPID":            &cfg.WeChat.AppID,
		"WX_SECRET":           &cfg.WeChat.Secret,
		"SCHEDULER_TIMEZONE":  &cfg.Scheduler.Timezone,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LIBRARY_DB_PORT":         &cfg.DB.Port,
		"REMIND_BEFORE_DAYS":      &cfg.Reminder.RemindBeforeDays,
		"OVERDUE_REMIND_INTERVAL": &cfg.Reminder.OverdueIntervalDays,
		"REMINDER_CRON_HOUR":      &cfg.Scheduler.SweepHour,
		"REMINDER_CRON_MINUTE":    &cfg.Scheduler.SweepMinute,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}
