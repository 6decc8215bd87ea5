package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath          string `json:"db_path"`
	BaseURL         string `json:"base_url"`
	ProfilePath     string `json:"profile_path"`
	AuthCookie      string `json:"auth_cookie,omitempty"`
	UserAgent       string `json:"user_agent"`
	InterUnitDelay  int    `json:"inter_unit_delay"` // seconds
	MaxErrors       int    `json:"max_errors"`
	StaleAfter      int    `json:"stale_after"` // minutes
	MonitorSchedule string `json:"monitor_schedule"`
	HideDelay       int    `json:"hide_delay"` // seconds
	ListenAddr      string `json:"listen_addr"`
	APIURL          string `json:"api_url"`
	RedisAddr       string `json:"redis_addr,omitempty"`
	RedisChannel    string `json:"redis_channel"`
	AMQPURL         string `json:"amqp_url,omitempty"`
	AMQPExchange    string `json:"amqp_exchange"`
	LogLevel        string `json:"log_level"`
	LogFormat       string `json:"log_format"`
}

func Default() *Config {
	return &Config{
		DBPath:          "blockctl.db",
		BaseURL:         "https://forum.example.com",
		ProfilePath:     "/u/",
		UserAgent:       "blockctl/1.0",
		InterUnitDelay:  3,
		MaxErrors:       5,
		StaleAfter:      60,
		MonitorSchedule: "@every 5s",
		HideDelay:       5,
		ListenAddr:      "127.0.0.1:8787",
		APIURL:          "http://127.0.0.1:8787",
		RedisChannel:    "blockctl:progress",
		AMQPExchange:    "blockctl.progress",
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Load reads the JSON config file on top of the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// ApplyEnv overlays BLOCKCTL_* environment variables, loading envFile first
// when it exists.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	for key, name := range envKeys {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			if err := c.Set(key, v); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

var envKeys = map[string]string{
	"db-path":          "BLOCKCTL_DB_PATH",
	"base-url":         "BLOCKCTL_BASE_URL",
	"profile-path":     "BLOCKCTL_PROFILE_PATH",
	"auth-cookie":      "BLOCKCTL_AUTH_COOKIE",
	"user-agent":       "BLOCKCTL_USER_AGENT",
	"inter-unit-delay": "BLOCKCTL_INTER_UNIT_DELAY",
	"max-errors":       "BLOCKCTL_MAX_ERRORS",
	"stale-after":      "BLOCKCTL_STALE_AFTER",
	"monitor-schedule": "BLOCKCTL_MONITOR_SCHEDULE",
	"hide-delay":       "BLOCKCTL_HIDE_DELAY",
	"listen-addr":      "BLOCKCTL_LISTEN_ADDR",
	"api-url":          "BLOCKCTL_API_URL",
	"redis-addr":       "BLOCKCTL_REDIS_ADDR",
	"redis-channel":    "BLOCKCTL_REDIS_CHANNEL",
	"amqp-url":         "BLOCKCTL_AMQP_URL",
	"amqp-exchange":    "BLOCKCTL_AMQP_EXCHANGE",
	"log-level":        "BLOCKCTL_LOG_LEVEL",
	"log-format":       "BLOCKCTL_LOG_FORMAT",
}

// Set assigns a single key as accepted by `blockctl config set`.
func (c *Config) Set(key, val string) error {
	atoi := func(dst *int) error {
		v, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid value %q for %s", val, key)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
		*dst = v
		return nil
	}
	switch key {
	case "db-path":
		c.DBPath = val
	case "base-url":
		c.BaseURL = val
	case "profile-path":
		c.ProfilePath = val
	case "auth-cookie":
		c.AuthCookie = val
	case "user-agent":
		c.UserAgent = val
	case "inter-unit-delay":
		return atoi(&c.InterUnitDelay)
	case "max-errors":
		return atoi(&c.MaxErrors)
	case "stale-after":
		return atoi(&c.StaleAfter)
	case "monitor-schedule":
		c.MonitorSchedule = val
	case "hide-delay":
		return atoi(&c.HideDelay)
	case "listen-addr":
		c.ListenAddr = val
	case "api-url":
		c.APIURL = val
	case "redis-addr":
		c.RedisAddr = val
	case "redis-channel":
		c.RedisChannel = val
	case "amqp-url":
		c.AMQPURL = val
	case "amqp-exchange":
		c.AMQPExchange = val
	case "log-level":
		c.LogLevel = val
	case "log-format":
		c.LogFormat = val
	default:
		return fmt.Errorf("unknown config key %s", key)
	}
	return nil
}

func (c *Config) InterUnitDelayDuration() time.Duration {
	return time.Duration(c.InterUnitDelay) * time.Second
}

func (c *Config) StaleAfterDuration() time.Duration {
	return time.Duration(c.StaleAfter) * time.Minute
}

func (c *Config) HideDelayDuration() time.Duration {
	return time.Duration(c.HideDelay) * time.Second
}
