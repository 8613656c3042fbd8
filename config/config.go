package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/dilshat/wa-broadcast/util"
	"github.com/robfig/cron/v3"
)

const (
	ChannelWhatsApp = "whatsapp"
	ChannelSmpp     = "smpp"
	ChannelLog      = "log"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Dispatch  DispatchConfig
	Scheduler SchedulerConfig
	Channel   string
	WhatsApp  WhatsAppConfig
	Smpp      SmppConfig
	Redis     RedisConfig
}

type ServerConfig struct {
	Port      string
	DbPath    string
	PhoneMask string
}

type LogConfig struct {
	Level       string
	Development bool
}

type DispatchConfig struct {
	Workers       int
	Retries       int
	Backoff       time.Duration
	ProgressEvery int
	MessageMaxLen int
}

type SchedulerConfig struct {
	Spec            string
	StatusStoreDays int
}

type WhatsAppConfig struct {
	ApiUrl      string
	PhoneId     string
	Token       string
	Tps         int
	VerifyToken string
	AppSecret   string
}

type SmppConfig struct {
	Ip            string
	Port          int
	Account       string
	Password      string
	Sender        string
	EnqLnkSec     int
	TrxPerSec     int
	SubmitTimeout time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:      util.GetEnv("HTTP_PORT", "8080"),
			DbPath:    util.GetEnv("DB_PATH", "broadcast.db"),
			PhoneMask: util.GetEnv("PHONE_MASK", `\d{10,15}`),
		},
		Log: LogConfig{
			Level:       util.GetEnv("LOG_LEVEL", "info"),
			Development: util.GetEnvAsBool("LOG_DEV", false),
		},
		Dispatch: DispatchConfig{
			Workers:       util.GetEnvAsInt("DISPATCH_WORKERS", 4),
			Retries:       util.GetEnvAsInt("DISPATCH_RETRIES", 2),
			Backoff:       util.GetEnvAsDuration("DISPATCH_BACKOFF_MS", 200, time.Millisecond),
			ProgressEvery: util.GetEnvAsInt("PROGRESS_EVERY", 10),
			MessageMaxLen: util.GetEnvAsInt("MESSAGE_MAX_LEN", 4096),
		},
		Scheduler: SchedulerConfig{
			Spec:            util.GetEnv("SCHEDULE_SPEC", "@every 30s"),
			StatusStoreDays: util.GetEnvAsInt("STATUS_STORE_DAYS", 30),
		},
		Channel: util.GetEnv("CHANNEL", ChannelLog),
		WhatsApp: WhatsAppConfig{
			ApiUrl:      util.GetEnv("WA_API_URL", "https://graph.facebook.com/v19.0"),
			PhoneId:     util.GetEnv("WA_PHONE_ID", ""),
			Token:       util.GetEnv("WA_TOKEN", ""),
			Tps:         util.GetEnvAsInt("WA_TPS", 20),
			VerifyToken: util.GetEnv("WA_VERIFY_TOKEN", ""),
			AppSecret:   util.GetEnv("WA_APP_SECRET", ""),
		},
		Smpp: SmppConfig{
			Ip:            util.GetEnv("SMS_IP", ""),
			Port:          util.GetEnvAsInt("SMS_PORT", 8018),
			Account:       util.GetEnv("SMS_ID", ""),
			Password:      util.GetEnv("SMS_PWD", ""),
			Sender:        util.GetEnv("SMS_SENDER", ""),
			EnqLnkSec:     util.GetEnvAsInt("ENQ_LNK_SEC", 30),
			TrxPerSec:     util.GetEnvAsInt("TRX_PER_SEC", 100),
			SubmitTimeout: util.GetEnvAsDuration("SMS_SUBMIT_TIMEOUT_SEC", 30, time.Second),
		},
		Redis: loadRedisConfig(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() RedisConfig {
	addr := util.GetEnv("REDIS_ADDR", "")
	if util.IsBlank(addr) {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: util.GetEnv("REDIS_PASSWORD", ""),
		DB:       util.GetEnvAsInt("REDIS_DB", 0),
		TTL:      util.GetEnvAsDuration("REDIS_TTL_SECONDS", 86400, time.Second),
	}
}

func validate(cfg *Config) error {
	if cfg.Dispatch.Workers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be > 0")
	}
	if cfg.Dispatch.Retries < 0 {
		return fmt.Errorf("DISPATCH_RETRIES must be >= 0")
	}
	if cfg.Dispatch.ProgressEvery <= 0 {
		return fmt.Errorf("PROGRESS_EVERY must be > 0")
	}
	if cfg.Dispatch.MessageMaxLen <= 0 {
		return fmt.Errorf("MESSAGE_MAX_LEN must be > 0")
	}
	if _, err := regexp.Compile(cfg.Server.PhoneMask); err != nil {
		return fmt.Errorf("invalid PHONE_MASK: %w", err)
	}
	if _, err := cron.ParseStandard(cfg.Scheduler.Spec); err != nil {
		return fmt.Errorf("invalid SCHEDULE_SPEC: %w", err)
	}

	switch cfg.Channel {
	case ChannelLog:
	case ChannelWhatsApp:
		if util.IsBlank(cfg.WhatsApp.PhoneId) || util.IsBlank(cfg.WhatsApp.Token) {
			return fmt.Errorf("missing required env var: WA_PHONE_ID and WA_TOKEN")
		}
		if cfg.WhatsApp.Tps <= 0 {
			return fmt.Errorf("WA_TPS must be > 0")
		}
		if util.IsBlank(cfg.WhatsApp.VerifyToken) || util.IsBlank(cfg.WhatsApp.AppSecret) {
			return fmt.Errorf("missing required env var: WA_VERIFY_TOKEN and WA_APP_SECRET")
		}
	case ChannelSmpp:
		if util.IsBlank(cfg.Smpp.Ip) || util.IsBlank(cfg.Smpp.Sender) {
			return fmt.Errorf("missing required env var: SMS_IP and SMS_SENDER")
		}
		if cfg.Smpp.TrxPerSec <= 0 {
			return fmt.Errorf("TRX_PER_SEC must be > 0")
		}
	default:
		return fmt.Errorf("unknown CHANNEL: %s", cfg.Channel)
	}
	return nil
}
