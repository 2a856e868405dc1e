package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"campusbus/internal/tracking"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	RoutesSource         string
	RoutesReloadInterval time.Duration

	RefreshInterval   time.Duration
	VehicleStaleAfter time.Duration
	TileZoomLevel     int

	ArrivalRadiusKm       float64
	DefaultSpeedKmh       float64
	StoppedAfter          time.Duration
	EarlyThresholdMinutes int
	Location              *time.Location

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	NATSURL           string
	NATSSubjectPrefix string

	HistoryDBPath    string
	HistoryRetention time.Duration

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitWhitelist []string

	CORSAllowedOrigins []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	source := os.Getenv("ROUTES_SOURCE")
	if source == "" {
		return nil, fmt.Errorf("ROUTES_SOURCE environment variable is required")
	}

	loc := time.Local
	if tz := os.Getenv("TZ"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ %q: %w", tz, err)
		}
		loc = l
	}

	return &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		RoutesSource:         source,
		RoutesReloadInterval: getDurationEnv("ROUTES_RELOAD_INTERVAL", 5*time.Minute),

		RefreshInterval:   getDurationEnv("REFRESH_INTERVAL", 30*time.Second),
		VehicleStaleAfter: getDurationEnv("VEHICLE_STALE_AFTER", 30*time.Minute),
		TileZoomLevel:     getIntEnv("TILE_ZOOM_LEVEL", 14),

		ArrivalRadiusKm:       getFloatEnv("ARRIVAL_RADIUS_KM", 0.1),
		DefaultSpeedKmh:       getFloatEnv("DEFAULT_SPEED_KMH", 30),
		StoppedAfter:          getDurationEnv("STOPPED_AFTER", 5*time.Minute),
		EarlyThresholdMinutes: getIntEnv("EARLY_THRESHOLD_MINUTES", 2),
		Location:              loc,

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		CacheTTL:      getDurationEnv("CACHE_TTL", 12*time.Hour),

		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "campusbus.vehicles"),

		HistoryDBPath:    getEnv("HISTORY_DB_PATH", ""),
		HistoryRetention: getDurationEnv("HISTORY_RETENTION", 30*24*time.Hour),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),

		CORSAllowedOrigins: getCSVEnv("CORS_ALLOWED_ORIGINS"),
	}, nil
}

// TrackingOptions builds the estimator tunables from configuration
func (c *Config) TrackingOptions() tracking.Options {
	return tracking.Options{
		ArrivalRadiusKm:       c.ArrivalRadiusKm,
		DefaultSpeedKmh:       c.DefaultSpeedKmh,
		StoppedAfter:          c.StoppedAfter,
		EarlyThresholdMinutes: c.EarlyThresholdMinutes,
		Location:              c.Location,
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
