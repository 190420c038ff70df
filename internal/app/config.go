package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr         string
	RequestTimeout   time.Duration
	LogLevel         string
	LogFormat        string
	UserAgent        string
	SaavnEndpoints   []string
	TidalEndpoints   []string
	TidalProxyURL    string
	RedisURL         string
	CacheTTL         time.Duration
	CacheCapacity    int
	CacheDisabled    bool
	HistoryCapacity  int
	DebounceInterval time.Duration
	FailureThreshold int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8090"),
		RequestTimeout: time.Duration(getEnvInt("SEARCH_TIMEOUT_SECONDS", 15)) * time.Second,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:      getEnv("SEARCH_USER_AGENT", "melostream-search/1.0"),
		SaavnEndpoints: splitEndpoints(getEnv("SEARCH_SOURCE_SAAVN_ENDPOINTS",
			"https://saavn.dev/api,https://jiosaavn-api.vercel.app/api")),
		TidalEndpoints: splitEndpoints(getEnv("SEARCH_SOURCE_TIDAL_ENDPOINTS",
			"https://tidal.401658.xyz,https://hifi.401658.xyz")),
		TidalProxyURL:    getEnv("SEARCH_SOURCE_TIDAL_PROXY", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		CacheTTL:         time.Duration(getEnvInt("SEARCH_CACHE_TTL_SECONDS", 300)) * time.Second,
		CacheCapacity:    getEnvInt("SEARCH_CACHE_CAPACITY", 50),
		CacheDisabled:    getEnvBool("SEARCH_CACHE_DISABLED", false),
		HistoryCapacity:  getEnvInt("SEARCH_HISTORY_CAPACITY", 20),
		DebounceInterval: time.Duration(getEnvInt("SEARCH_DEBOUNCE_MS", 300)) * time.Millisecond,
		FailureThreshold: getEnvInt("SEARCH_ENDPOINT_FAILURE_THRESHOLD", 3),
	}
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

func splitEndpoints(raw string) []string {
	parts := strings.Split(raw, ",")
	endpoints := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			value = "https://" + value
		}
		endpoints = append(endpoints, strings.TrimRight(value, "/"))
	}
	return endpoints
}
