package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultSchoolName     = "測試學校"
	DefaultPageTitle      = "查詢系統"
	DefaultOpenIDEndpoint = "https://openid.ntpc.edu.tw/OpenId/Provider"
	DefaultDeniedMessage  = "本系統僅限本校教職員使用。"
)

// DefaultExcludedSources are control tables that never hold per-user rows.
var DefaultExcludedSources = []string{"環境設定", "Log", "Draft", "Sheet1"}

type Config struct {
	AppPort string

	// PublicBaseURL is this service's own externally reachable URL. It is
	// used as openid.return_to and openid.realm.
	PublicBaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseDSN   string
	RecordsSchema string

	Debug bool

	Site        Site
	OpenID      OpenID
	Restriction Restriction
}

// Site holds the per-school page settings.
type Site struct {
	SchoolName      string   `toml:"school_name"`
	PageTitle       string   `toml:"page_title"`
	ExcludedSources []string `toml:"excluded_sources"`
}

type OpenID struct {
	Endpoint string
	Timeout  time.Duration
	Retries  int
}

type Restriction struct {
	Enabled      bool
	Keyword      string
	ErrorMessage string
}

// siteFile is the optional TOML document named by SITE_CONFIG_FILE.
type siteFile struct {
	Site        Site `toml:"site"`
	Restriction struct {
		Enabled      *bool  `toml:"enabled"`
		Keyword      string `toml:"keyword"`
		ErrorMessage string `toml:"error_message"`
	} `toml:"restriction"`
}

func Load() (Config, error) {

	cfg := Config{

		AppPort:       getEnv("APP_PORT", "8080"),
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		DatabaseDSN:   os.Getenv("DATABASE_DSN"),
		RecordsSchema: getEnv("RECORDS_SCHEMA", "records"),

		Debug: getEnvBool("DEBUG", false),

		Site: Site{
			SchoolName:      getEnv("SCHOOL_NAME", DefaultSchoolName),
			PageTitle:       getEnv("PAGE_TITLE", DefaultPageTitle),
			ExcludedSources: append([]string(nil), DefaultExcludedSources...),
		},

		OpenID: OpenID{
			Endpoint: getEnv("OPENID_ENDPOINT", DefaultOpenIDEndpoint),
			Timeout:  getEnvDuration("OPENID_TIMEOUT", 10*time.Second),
			Retries:  getEnvInt("OPENID_RETRIES", 1),
		},
	}

	var keyword, message string
	enabled := getEnvBool("RESTRICTION_ENABLED", true)

	if path := os.Getenv("SITE_CONFIG_FILE"); path != "" {
		var f siteFile
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if f.Site.SchoolName != "" {
			cfg.Site.SchoolName = f.Site.SchoolName
		}
		if f.Site.PageTitle != "" {
			cfg.Site.PageTitle = f.Site.PageTitle
		}
		cfg.Site.ExcludedSources = MergeExcluded(cfg.Site.ExcludedSources, f.Site.ExcludedSources)
		if f.Restriction.Enabled != nil {
			enabled = *f.Restriction.Enabled
		}
		keyword = f.Restriction.Keyword
		message = f.Restriction.ErrorMessage
	}

	if extra := os.Getenv("EXCLUDED_SOURCES"); extra != "" {
		cfg.Site.ExcludedSources = MergeExcluded(cfg.Site.ExcludedSources, strings.Split(extra, ","))
	}

	// The keyword falls back to the school name, so by default only
	// accounts from this school may sign in.
	cfg.Restriction = Restriction{
		Enabled:      enabled,
		Keyword:      firstNonEmpty(os.Getenv("RESTRICTION_KEYWORD"), keyword, cfg.Site.SchoolName),
		ErrorMessage: firstNonEmpty(os.Getenv("RESTRICTION_MESSAGE"), message, DefaultDeniedMessage),
	}

	if cfg.OpenID.Endpoint == "" {
		return Config{}, fmt.Errorf("config: OPENID_ENDPOINT is required")
	}
	if cfg.OpenID.Retries < 0 {
		return Config{}, fmt.Errorf("config: OPENID_RETRIES must not be negative")
	}

	return cfg, nil

}

// MergeExcluded appends extra names to base, trimming them and dropping
// blanks and duplicates. Order of first appearance is kept.
func MergeExcluded(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, name := range list {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
