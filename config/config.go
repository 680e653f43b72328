package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// UploadProfile is one upload context with its own ceiling and allowed types.
// Distinct ceilings per context are a product requirement; the figures here
// are defaults, not truth.
type UploadProfile struct {
	MaxSizeBytes int64
	AllowedTypes []string
}

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database for the security event log and upload records
	DatabaseEnabled bool
	DatabaseURI     string
	DBHost          string
	DBPort          string
	DBUser          string
	DBPassword      string
	DBName          string
	// Redis for token blacklist, abuse counters, and analysis cache
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Upload validation
	UploadScanEnabled      bool
	UploadAnomalyEnabled   bool
	UploadAnomalyThreshold float64
	UploadTimeoutMillis    int
	UploadScanWindowBytes  int
	UploadMaxConcurrent    int
	UploadProfiles         map[string]UploadProfile
	// Upload abuse hardening
	UploadAttemptCooldownSec      int
	UploadRejectedMaxPerIPPerHour int
	UploadTempBanMinutes          int
	// Local storage for accepted uploads
	StorageBaseDir             string
	StoragePublicBase          string
	UploadsSelfDestructEnabled bool
	UploadsSelfDestructMinutes int
	// Vision analysis collaborator
	VisionEnabled bool
	OpenAIAPIKey  string
	OpenAIBaseURL string
	VisionModel   string
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration from environment variables. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: config/config.json -> defaults -> environment variable overrides
	_ = loadJSONConfig(filepath.Join("config", "config.json"), &cfg)
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// SetForTesting replaces the cached configuration; tests only.
func SetForTesting(c AppConfig) {
	cfg = c
	loaded = true
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads JSON file into cfg if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	dec := json.NewDecoder(f)
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case float64:
				return int(t)
			case int:
				return t
			case json.Number:
				i, _ := t.Int64()
				return int(i)
			}
		}
		return 0
	}
	getFloat := func(m map[string]any, key string) float64 {
		if v, ok := m[key]; ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
		return 0
	}
	getBool := func(m map[string]any, key string, def bool) bool {
		if v, ok := m[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
		return def
	}
	getStringSlice := func(m map[string]any, key string) []string {
		if v, ok := m[key]; ok {
			if arr, ok := v.([]any); ok {
				res := make([]string, 0, len(arr))
				for _, it := range arr {
					if s, ok := it.(string); ok {
						res = append(res, s)
					}
				}
				return res
			}
		}
		return nil
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		if v := getInt(app, "RateLimitPerMinute"); v != 0 {
			out.RateLimitPerMinute = v
		}
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
	}

	if g, ok := raw["gin"].(map[string]any); ok {
		if v := getString(g, "Mode"); v != "" {
			out.GinMode = v
		}
		if v := getString(g, "LogPath"); v != "" {
			out.GinPath = v
		}
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DatabaseEnabled = getBool(dbs, "Enabled", true)
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	} else {
		out.DatabaseEnabled = true
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		if v := getInt(rds, "RedisPort"); v != 0 {
			out.RedisPort = v
		}
		if v := getInt(rds, "RedisDB"); v != 0 {
			out.RedisDB = v
		}
		out.RedisPassword = getString(rds, "RedisPassword")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		if v := getString(lg, "Level"); v != "" {
			out.LogLevel = v
		}
		if v := getString(lg, "Path"); v != "" {
			out.LogPath = v
		}
		if v := getString(lg, "GinMode"); v != "" {
			out.GinMode = v
		}
		if v := getString(lg, "GinPath"); v != "" {
			out.GinPath = v
		}
		if v := getInt(lg, "MaxSizeMB"); v != 0 {
			out.LogMaxSizeMB = v
		}
		if v := getInt(lg, "MaxBackups"); v != 0 {
			out.LogMaxBackups = v
		}
		if v := getInt(lg, "MaxAgeDays"); v != 0 {
			out.LogMaxAgeDays = v
		}
		out.LogCompress = getBool(lg, "Compress", false)
	}

	if up, ok := raw["upload"].(map[string]any); ok {
		out.UploadScanEnabled = getBool(up, "ScanEnabled", true)
		out.UploadAnomalyEnabled = getBool(up, "AnomalyEnabled", false)
		if v := getFloat(up, "AnomalyThreshold"); v != 0 {
			out.UploadAnomalyThreshold = v
		}
		if v := getInt(up, "ValidationTimeoutMillis"); v != 0 {
			out.UploadTimeoutMillis = v
		}
		if v := getInt(up, "ScanWindowBytes"); v != 0 {
			out.UploadScanWindowBytes = v
		}
		if v := getInt(up, "MaxConcurrent"); v != 0 {
			out.UploadMaxConcurrent = v
		}
		if v := getInt(up, "AttemptCooldownSec"); v != 0 {
			out.UploadAttemptCooldownSec = v
		}
		if v := getInt(up, "RejectedMaxPerIPPerHour"); v != 0 {
			out.UploadRejectedMaxPerIPPerHour = v
		}
		if v := getInt(up, "TempBanMinutes"); v != 0 {
			out.UploadTempBanMinutes = v
		}
		if profiles, ok := up["Profiles"].(map[string]any); ok {
			out.UploadProfiles = map[string]UploadProfile{}
			for name, pv := range profiles {
				pm, ok := pv.(map[string]any)
				if !ok {
					continue
				}
				out.UploadProfiles[name] = UploadProfile{
					MaxSizeBytes: int64(getInt(pm, "MaxSizeBytes")),
					AllowedTypes: getStringSlice(pm, "AllowedTypes"),
				}
			}
		}
	} else {
		out.UploadScanEnabled = true
	}

	if st, ok := raw["storage"].(map[string]any); ok {
		out.StorageBaseDir = getString(st, "BaseDir")
		out.StoragePublicBase = getString(st, "PublicBase")
		out.UploadsSelfDestructEnabled = getBool(st, "SelfDestructEnabled", false)
		if v := getInt(st, "SelfDestructMinutes"); v != 0 {
			out.UploadsSelfDestructMinutes = v
		}
	}

	if vs, ok := raw["vision"].(map[string]any); ok {
		out.VisionEnabled = getBool(vs, "Enabled", false)
		out.OpenAIAPIKey = getString(vs, "OpenAIAPIKey")
		out.OpenAIBaseURL = getString(vs, "OpenAIBaseURL")
		out.VisionModel = getString(vs, "Model")
	}

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "chartgate"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.UploadAnomalyThreshold == 0 {
		c.UploadAnomalyThreshold = 0.7
	}
	if c.UploadTimeoutMillis == 0 {
		c.UploadTimeoutMillis = 500
	}
	if c.UploadAttemptCooldownSec == 0 {
		c.UploadAttemptCooldownSec = 2
	}
	if c.UploadRejectedMaxPerIPPerHour == 0 {
		c.UploadRejectedMaxPerIPPerHour = 30
	}
	if c.UploadTempBanMinutes == 0 {
		c.UploadTempBanMinutes = 60
	}
	if c.UploadProfiles == nil {
		c.UploadProfiles = map[string]UploadProfile{}
	}
	// The product material disagreed on the chart ceiling (5MB vs 10MB);
	// these are defaults only, every figure is overridable per profile.
	if _, ok := c.UploadProfiles["chart"]; !ok {
		c.UploadProfiles["chart"] = UploadProfile{
			MaxSizeBytes: 5 * 1024 * 1024,
			AllowedTypes: []string{"image/png", "image/jpeg", "image/webp"},
		}
	}
	if _, ok := c.UploadProfiles["avatar"]; !ok {
		c.UploadProfiles["avatar"] = UploadProfile{
			MaxSizeBytes: 2 * 1024 * 1024,
			AllowedTypes: []string{"image/png", "image/jpeg", "image/webp", "image/gif"},
		}
	}
	if _, ok := c.UploadProfiles["document"]; !ok {
		c.UploadProfiles["document"] = UploadProfile{
			MaxSizeBytes: 10 * 1024 * 1024,
			AllowedTypes: []string{"image/png", "image/jpeg"},
		}
	}
	if c.StorageBaseDir == "" {
		c.StorageBaseDir = filepath.Join(".", "static", "uploads")
	}
	if c.StoragePublicBase == "" {
		c.StoragePublicBase = "/static/uploads"
	}
	if c.UploadsSelfDestructMinutes == 0 {
		c.UploadsSelfDestructMinutes = 60
	}
	if c.VisionModel == "" {
		c.VisionModel = "gpt-4o-mini"
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("DB_ENABLED", ""); v != "" {
		c.DatabaseEnabled = v == "true"
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("UPLOAD_SCAN_ENABLED", ""); v != "" {
		c.UploadScanEnabled = v == "true"
	}
	if v := getEnv("UPLOAD_ANOMALY_ENABLED", ""); v != "" {
		c.UploadAnomalyEnabled = v == "true"
	}
	if v := getEnv("UPLOAD_ANOMALY_THRESHOLD", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.UploadAnomalyThreshold = f
		}
	}
	if v := getEnv("UPLOAD_VALIDATION_TIMEOUT_MS", ""); v != "" {
		c.UploadTimeoutMillis = mustParseInt(v)
	}
	if v := getEnv("UPLOAD_SCAN_WINDOW_BYTES", ""); v != "" {
		c.UploadScanWindowBytes = mustParseInt(v)
	}
	if v := getEnv("UPLOAD_MAX_CONCURRENT", ""); v != "" {
		c.UploadMaxConcurrent = mustParseInt(v)
	}
	if v := getEnv("UPLOAD_CHART_MAX_SIZE_BYTES", ""); v != "" {
		p := c.UploadProfiles["chart"]
		p.MaxSizeBytes = int64(mustParseInt(v))
		c.UploadProfiles["chart"] = p
	}
	if v := getEnv("STORAGE_BASE_DIR", ""); v != "" {
		c.StorageBaseDir = v
	}
	if v := getEnv("STORAGE_PUBLIC_BASE", ""); v != "" {
		c.StoragePublicBase = v
	}
	if v := getEnv("UPLOADS_SELF_DESTRUCT_ENABLED", ""); v != "" {
		c.UploadsSelfDestructEnabled = v == "true"
	}
	if v := getEnv("UPLOADS_SELF_DESTRUCT_MINUTES", ""); v != "" {
		c.UploadsSelfDestructMinutes = mustParseInt(v)
	}
	if v := getEnv("VISION_ENABLED", ""); v != "" {
		c.VisionEnabled = v == "true"
	}
	if v := getEnv("OPENAI_API_KEY", ""); v != "" {
		c.OpenAIAPIKey = v
	}
	if v := getEnv("OPENAI_BASE_URL", ""); v != "" {
		c.OpenAIBaseURL = v
	}
	if v := getEnv("VISION_MODEL", ""); v != "" {
		c.VisionModel = v
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
