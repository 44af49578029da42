package internal

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	TikTokClientKey    string
	TikTokClientSecret string

	GoogleClientID     string
	GoogleClientSecret string

	InstagramClientID     string
	InstagramClientSecret string

	XConsumerKey    string
	XConsumerSecret string

	TelegramToken string

	S3Endpoint   string
	S3Region     string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	TokensPrefix string

	HTTPTimeout   time.Duration
	RefreshWindow time.Duration
	MaxConcurrent int64
	ErrorsLogPath string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		TikTokClientKey:    os.Getenv("TIKTOK_CLIENT_KEY"),
		TikTokClientSecret: os.Getenv("TIKTOK_CLIENT_SECRET"),

		GoogleClientID:     firstNonEmpty(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("YOUTUBE_CLIENT_ID")),
		GoogleClientSecret: firstNonEmpty(os.Getenv("GOOGLE_CLIENT_SECRET"), os.Getenv("YOUTUBE_CLIENT_SECRET")),

		InstagramClientID:     os.Getenv("INSTAGRAM_CLIENT_ID"),
		InstagramClientSecret: os.Getenv("INSTAGRAM_CLIENT_SECRET"),

		XConsumerKey:    os.Getenv("X_CONSUMER_KEY"),
		XConsumerSecret: os.Getenv("X_CONSUMER_SECRET"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		S3Endpoint:   os.Getenv("S3_ENDPOINT"),
		S3Region:     os.Getenv("S3_REGION"),
		S3Bucket:     os.Getenv("S3_BUCKET"),
		S3AccessKey:  firstNonEmpty(os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_ACCESS_KEY_ID")),
		S3SecretKey:  firstNonEmpty(os.Getenv("S3_SECRET_ACCESS_KEY"), os.Getenv("S3_SECRET_ACCESS_KEY_ID")),
		TokensPrefix: "tokens/",

		HTTPTimeout:   120 * time.Second,
		RefreshWindow: 72 * time.Hour,
		MaxConcurrent: 0,
		ErrorsLogPath: "errors.log",
	}

	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HTTPTimeout = d
		}
	}

	if v := os.Getenv("TOKEN_REFRESH_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RefreshWindow = d
		}
	}

	if v := os.Getenv("MAX_CONCURRENT_UPLOADS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxConcurrent = n
		}
	}

	if v := os.Getenv("ERRORS_LOG_PATH"); v != "" {
		cfg.ErrorsLogPath = v
	}

	return cfg, nil
}

// UseS3 reports whether token storage should go to S3 rather than memory.
func (c Config) UseS3() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
