package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API and supporting services.
type Config struct {
	ListenAddr string
	MySQLDSN   string
	JWTSecret  string

	KlingAPIKey  string
	KlingBaseURL string

	StartTimeout  time.Duration
	ResultTimeout time.Duration

	LemonWebhookSecret string
	VariantCredits     map[string]int

	SignupBonusCredits     int
	ReferralClickThreshold int
	ReferralRewardCredits  int
	UsageRetention         time.Duration
	MaxUploadBytes         int64

	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKlingBaseURL = "https://api.klingai.com"

	cfg := Config{
		ListenAddr:             getEnv("LISTEN_ADDR", ":8080"),
		KlingBaseURL:           normalizeBaseURL(getEnv("KLING_BASE_URL", defaultKlingBaseURL), defaultKlingBaseURL),
		StartTimeout:           time.Second * time.Duration(getInt("TRYON_START_TIMEOUT_SECONDS", 30)),
		ResultTimeout:          time.Second * time.Duration(getInt("TRYON_RESULT_TIMEOUT_SECONDS", 15)),
		SignupBonusCredits:     getInt("SIGNUP_BONUS_CREDITS", 3),
		ReferralClickThreshold: getInt("REFERRAL_CLICK_THRESHOLD", 3),
		ReferralRewardCredits:  getInt("REFERRAL_REWARD_CREDITS", 1),
		UsageRetention:         time.Hour * time.Duration(getInt("USAGE_RETENTION_HOURS", 72)),
		MaxUploadBytes:         int64(getInt("MAX_UPLOAD_BYTES", 10*1024*1024)),
		AdminListenAddr:        getEnv("ADMIN_LISTEN_ADDR", ":8081"),
		AdminUsername:          getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:          getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:             getEnv("S3_ENDPOINT", ""),
		S3Region:               os.Getenv("S3_REGION"),
		S3AccessKey:            os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:            os.Getenv("S3_SECRET_KEY"),
		S3Bucket:               os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:        os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:         getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:               getEnv("S3_PREFIX", "uploads"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.KlingAPIKey = os.Getenv("KLING_API_KEY")
	cfg.LemonWebhookSecret = os.Getenv("LEMON_WEBHOOK_SECRET")

	variants, err := parseVariantCredits(os.Getenv("LEMON_VARIANT_CREDITS"))
	if err != nil {
		return Config{}, err
	}
	cfg.VariantCredits = variants

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.KlingAPIKey == "" {
		missing = append(missing, "KLING_API_KEY")
	}
	if cfg.LemonWebhookSecret == "" {
		missing = append(missing, "LEMON_WEBHOOK_SECRET")
	}
	if len(cfg.VariantCredits) == 0 {
		missing = append(missing, "LEMON_VARIANT_CREDITS")
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// parseVariantCredits parses the deployment-configured mapping from the
// payment provider's variant ids to credit amounts, e.g. "101:8,102:25,103:60".
// The catalog must match the provider's product setup; it cannot be inferred.
func parseVariantCredits(raw string) (map[string]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		variant, value, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid LEMON_VARIANT_CREDITS entry %q", pair)
		}
		credits, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || credits <= 0 {
			return nil, fmt.Errorf("invalid credit amount in LEMON_VARIANT_CREDITS entry %q", pair)
		}
		out[strings.TrimSpace(variant)] = credits
	}
	return out, nil
}

// normalizeBaseURL ensures the vendor base URL always carries a scheme and
// host, falling back to the documented API host on garbage input.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running purely off the process environment is fine.
	return nil
}
