// Package config loads configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Client is the configuration of the field client.
type Client struct {
	DBPath     string
	GatewayURL string
	UserID     string
	TimeZone   string
	Location   *time.Location

	SyncInterval     time.Duration
	TrackingInterval time.Duration
	MinDwell         time.Duration
	CaptureTimeout   time.Duration
	ProbeInterval    time.Duration
	PhotoMaxDim      int
}

// Server is the configuration of the gateway server.
type Server struct {
	Backend     string
	Database    DatabaseConfig
	App         AppConfig
	Storage     StorageConfig
	ZonesFile   string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// AppConfig holds HTTP server settings.
type AppConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type StorageConfig struct {
	BasePath string
	BaseURL  string
}

// Gateway backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// LoadDotEnv loads the given files (default ".env") into the environment.
// Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// LoadClient reads the client configuration.
func LoadClient() (*Client, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	c := &Client{
		DBPath:     getEnv("ASISTENCIA_DB", "asistencia.db"),
		GatewayURL: getEnv("ASISTENCIA_GATEWAY_URL", "http://localhost:8080"),
		UserID:     strings.TrimSpace(getEnv("ASISTENCIA_USER_ID", "")),
		TimeZone:   getEnv("ASISTENCIA_TZ", "America/Bogota"),
	}

	var err error
	if c.SyncInterval, err = getDuration("ASISTENCIA_SYNC_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if c.TrackingInterval, err = getDuration("ASISTENCIA_TRACKING_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if c.MinDwell, err = getDuration("ASISTENCIA_MIN_DWELL", 3*time.Hour); err != nil {
		return nil, err
	}
	if c.CaptureTimeout, err = getDuration("ASISTENCIA_CAPTURE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if c.ProbeInterval, err = getDuration("ASISTENCIA_PROBE_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if c.PhotoMaxDim, err = getInt("ASISTENCIA_PHOTO_MAX_DIM", 1280); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return c, nil
}

// Validate checks the values and resolves the time zone.
func (c *Client) Validate() error {
	if c.DBPath == "" {
		return errors.New("ASISTENCIA_DB is required")
	}
	for name, d := range map[string]time.Duration{
		"ASISTENCIA_SYNC_INTERVAL":     c.SyncInterval,
		"ASISTENCIA_TRACKING_INTERVAL": c.TrackingInterval,
		"ASISTENCIA_CAPTURE_TIMEOUT":   c.CaptureTimeout,
		"ASISTENCIA_PROBE_INTERVAL":    c.ProbeInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.MinDwell < 0 {
		return errors.New("ASISTENCIA_MIN_DWELL must not be negative")
	}
	if c.PhotoMaxDim < 0 {
		return errors.New("ASISTENCIA_PHOTO_MAX_DIM must not be negative")
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid ASISTENCIA_TZ: %w", err)
	}
	c.Location = loc
	return nil
}

// LoadServer reads the gateway server configuration.
func LoadServer() (*Server, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	dbPort, err := getInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	appPort, err := getInt("APP_PORT", 8080)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Backend: getEnv("GATEWAY_BACKEND", BackendPostgres),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "asistencia"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		App: AppConfig{
			Port:     appPort,
			Env:      getEnv("APP_ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			BasePath: getEnv("STORAGE_BASE_PATH", "./uploads"),
			BaseURL:  getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%d/api/v1/blobs", appPort)),
		},
		ZonesFile:   getEnv("ZONES_FILE", ""),
		CORSOrigins: getEnvSlice("CORS_ORIGINS"),
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return s, nil
}

// Validate validates the configuration.
func (s *Server) Validate() error {
	switch s.Backend {
	case BackendPostgres:
		if s.Database.Password == "" {
			return errors.New("DB_PASSWORD is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("GATEWAY_BACKEND %q: want %s or %s", s.Backend, BackendPostgres, BackendMemory)
	}
	if s.App.Port <= 0 || s.App.Port > 65535 {
		return fmt.Errorf("APP_PORT %d out of range", s.App.Port)
	}
	if _, err := ParseLevel(s.App.LogLevel); err != nil {
		return err
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string.
func (s *Server) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.Database.User,
		s.Database.Password,
		s.Database.Host,
		s.Database.Port,
		s.Database.Name,
		s.Database.SSLMode,
	)
}

// ParseLevel maps LOG_LEVEL values to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return l, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return []string{}
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getInt(key string, fallback int) (int, error) {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
