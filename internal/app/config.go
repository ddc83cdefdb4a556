package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultMaxArtifactBytes = 30 * 1024 * 1024
	defaultInvidiousMirrors = "https://inv.nadeko.net,https://invidious.nerdvpn.de,https://yewtu.be"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string
	UserAgent string

	CacheTTL        time.Duration
	CacheMaxEntries int
	CacheBackend    string
	CachePath       string
	SQLitePath      string
	RedisURL        string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	SearchTimeout    time.Duration
	SearchMaxResults int

	Providers ProvidersConfig

	MaxArtifactBytes  int64
	WorkerConcurrency int
	FetchTimeout      time.Duration
	CookiesPath       string
	TempDir           string
	AudioFormat       string
	AudioQuality      string
	FFProbePath       string
	YtdlpAutoInstall  bool

	TelegramBotToken string
	TelegramAPIURL   string
}

type ProvidersConfig struct {
	YTMusic   ProviderConfig
	Invidious ProviderConfig
	YouTube   ProviderConfig
	Ytdlp     ProviderConfig

	InvidiousEndpoints string
	YtdlpSearchPrefix  string
}

type ProviderConfig struct {
	Enabled  bool
	ProxyURL string
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent: getEnv("USER_AGENT", "songbot/1.0"),

		CacheTTL:        time.Duration(getEnvInt("CACHE_TTL_DAYS", 7)) * 24 * time.Hour,
		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 5000),
		CacheBackend:    strings.ToLower(getEnv("CACHE_BACKEND", "file")),
		CachePath:       getEnv("CACHE_PATH", "data/song_cache.json"),
		SQLitePath:      getEnv("SQLITE_PATH", "data/song_cache.db"),
		RedisURL:        getEnv("REDIS_URL", ""),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGO_DB", "songbot"),
		MongoCollection: getEnv("MONGO_COLLECTION", "song_cache"),

		SearchTimeout:    time.Duration(getEnvInt("SEARCH_TIMEOUT_SECONDS", 15)) * time.Second,
		SearchMaxResults: getEnvInt("SEARCH_MAX_RESULTS", 5),

		Providers: ProvidersConfig{
			YTMusic: ProviderConfig{
				Enabled: getEnvBool("PROVIDER_YTMUSIC_ENABLED", true),
			},
			Invidious: ProviderConfig{
				Enabled:  getEnvBool("PROVIDER_INVIDIOUS_ENABLED", true),
				ProxyURL: getEnv("PROVIDER_INVIDIOUS_PROXY", ""),
			},
			YouTube: ProviderConfig{
				Enabled:  getEnvBool("PROVIDER_YOUTUBE_ENABLED", true),
				ProxyURL: getEnv("PROVIDER_YOUTUBE_PROXY", ""),
			},
			Ytdlp: ProviderConfig{
				Enabled:  getEnvBool("PROVIDER_YTDLP_ENABLED", true),
				ProxyURL: getEnv("PROVIDER_YTDLP_PROXY", ""),
			},
			InvidiousEndpoints: getEnv("PROVIDER_INVIDIOUS_ENDPOINTS", defaultInvidiousMirrors),
			YtdlpSearchPrefix:  getEnv("YTDLP_SEARCH_PREFIX", "ytsearch"),
		},

		MaxArtifactBytes:  getEnvInt64("MAX_ARTIFACT_BYTES", defaultMaxArtifactBytes),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 3),
		FetchTimeout:      time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 300)) * time.Second,
		CookiesPath:       getEnv("COOKIES_PATH", ""),
		TempDir:           getEnv("TEMP_DIR", os.TempDir()),
		AudioFormat:       strings.ToLower(getEnv("AUDIO_FORMAT", "mp3")),
		AudioQuality:      getEnv("AUDIO_QUALITY", "192K"),
		FFProbePath:       getEnv("FFPROBE_PATH", "ffprobe"),
		YtdlpAutoInstall:  getEnvBool("YTDLP_AUTO_INSTALL", false),

		TelegramBotToken: strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		TelegramAPIURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
	}
}

// Validate reports configuration combinations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.CacheBackend {
	case "file", "sqlite", "redis", "mongo", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend))
	}
	if c.CacheBackend == "redis" && c.RedisURL == "" {
		errs = append(errs, errors.New("CACHE_BACKEND=redis requires REDIS_URL"))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.CookiesPath != "" {
		if info, err := os.Stat(c.CookiesPath); err != nil || info.IsDir() {
			errs = append(errs, fmt.Errorf("COOKIES_PATH %q is not a readable file", c.CookiesPath))
		}
	}
	if !c.Providers.YTMusic.Enabled && !c.Providers.Invidious.Enabled &&
		!c.Providers.YouTube.Enabled && !c.Providers.Ytdlp.Enabled {
		errs = append(errs, errors.New("at least one provider must be enabled"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
