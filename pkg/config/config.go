package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Log      LogConfig
	Schedule ScheduleConfig
	Scales   ScalesConfig
	SITS     SITSConfig
	Jobs     JobsConfig
	Reports  ReportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ScheduleConfig holds the institutional date arithmetic settings. All
// interval values are calendar weeks added to the normalized due date.
type ScheduleConfig struct {
	Timezone                 string
	SubmissionHour           int
	CutoffWeeks              int
	CutoffWeeksReattempt     int
	GradingDueWeeks          int
	GradingDueWeeksReattempt int
}

// ScalesConfig selects the grading scales used during conversion. Definitions
// maps a scale identifier to either the "points" marker or an ordered band
// list such as "0:N,30:F,40:D,50:C,60:B,70:A".
type ScalesConfig struct {
	DefaultScaleID string
	ExemptScaleID  string
	Definitions    map[string]string
}

// SITSConfig configures the grade upload client.
type SITSConfig struct {
	BaseURL        string
	APIKey         string
	ExportEndpoint string
	UnitLeader     string
}

// JobsConfig bounds the periodic batch jobs.
type JobsConfig struct {
	MaterializeLimit     int
	MaterializeInterval  time.Duration
	IngestInterval       time.Duration
	IngestOverlap        time.Duration
	ExportMaxAssignments int
	ExportInterval       time.Duration
	AcademicYears        []string
	ReadinessCacheTTL    time.Duration
}

// ReportsConfig configures asynchronous warning-report generation.
type ReportsConfig struct {
	Enabled           bool
	StorageDir        string
	WorkerConcurrency int
	WorkerRetries     int
	WindowWeeks       int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Auth = AuthConfig{
		Secret:     v.GetString("AUTH_SECRET"),
		Expiration: parseDuration(v.GetString("AUTH_TOKEN_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Schedule = ScheduleConfig{
		Timezone:                 v.GetString("SCHEDULE_TIMEZONE"),
		SubmissionHour:           v.GetInt("SCHEDULE_SUBMISSION_HOUR"),
		CutoffWeeks:              v.GetInt("SCHEDULE_CUTOFF_WEEKS"),
		CutoffWeeksReattempt:     v.GetInt("SCHEDULE_CUTOFF_WEEKS_REATTEMPT"),
		GradingDueWeeks:          v.GetInt("SCHEDULE_GRADING_DUE_WEEKS"),
		GradingDueWeeksReattempt: v.GetInt("SCHEDULE_GRADING_DUE_WEEKS_REATTEMPT"),
	}

	cfg.Scales = ScalesConfig{
		DefaultScaleID: v.GetString("SCALE_DEFAULT_ID"),
		ExemptScaleID:  v.GetString("SCALE_EXEMPT_ID"),
		Definitions:    parseScaleDefs(v.GetString("SCALE_DEFINITIONS")),
	}

	cfg.SITS = SITSConfig{
		BaseURL:        v.GetString("SITS_BASE_URL"),
		APIKey:         v.GetString("SITS_API_KEY"),
		ExportEndpoint: v.GetString("SITS_EXPORT_ENDPOINT"),
		UnitLeader:     v.GetString("SITS_UNIT_LEADER"),
	}

	cfg.Jobs = JobsConfig{
		MaterializeLimit:     v.GetInt("JOBS_MATERIALIZE_LIMIT"),
		MaterializeInterval:  parseDuration(v.GetString("JOBS_MATERIALIZE_INTERVAL"), 15*time.Minute),
		IngestInterval:       parseDuration(v.GetString("JOBS_INGEST_INTERVAL"), 5*time.Minute),
		IngestOverlap:        parseDuration(v.GetString("JOBS_INGEST_OVERLAP"), time.Minute),
		ExportMaxAssignments: v.GetInt("JOBS_EXPORT_MAX_ASSIGNMENTS"),
		ExportInterval:       parseDuration(v.GetString("JOBS_EXPORT_INTERVAL"), 5*time.Minute),
		AcademicYears:        splitAndTrim(v.GetString("JOBS_ACADEMIC_YEARS")),
		ReadinessCacheTTL:    parseDuration(v.GetString("JOBS_READINESS_CACHE_TTL"), time.Minute),
	}

	cfg.Reports = ReportsConfig{
		Enabled:           v.GetBool("ENABLE_REPORTS"),
		StorageDir:        v.GetString("REPORTS_STORAGE_DIR"),
		WorkerConcurrency: v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("REPORTS_WORKER_RETRIES"),
		WindowWeeks:       v.GetInt("REPORTS_WINDOW_WEEKS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "sits_bridge")
	v.SetDefault("DB_NAME", "sits_bridge")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULE_TIMEZONE", "Europe/London")
	v.SetDefault("SCHEDULE_SUBMISSION_HOUR", 16)
	v.SetDefault("SCHEDULE_CUTOFF_WEEKS", 2)
	v.SetDefault("SCHEDULE_CUTOFF_WEEKS_REATTEMPT", 1)
	v.SetDefault("SCHEDULE_GRADING_DUE_WEEKS", 3)
	v.SetDefault("SCHEDULE_GRADING_DUE_WEEKS_REATTEMPT", 2)

	v.SetDefault("SCALE_DEFAULT_ID", "grademarkscale")
	v.SetDefault("SCALE_EXEMPT_ID", "grademarkexemptscale")
	v.SetDefault("SCALE_DEFINITIONS",
		"points=points;grademarkscale=0:N,30:F,40:D,50:C,60:B,70:A;grademarkexemptscale=0:N,40:P,70:M")

	v.SetDefault("SITS_EXPORT_ENDPOINT", "/api/ExportGrades")

	v.SetDefault("JOBS_MATERIALIZE_LIMIT", 50)
	v.SetDefault("JOBS_EXPORT_MAX_ASSIGNMENTS", 5)

	v.SetDefault("ENABLE_REPORTS", true)
	v.SetDefault("REPORTS_STORAGE_DIR", "/tmp/sits-bridge-reports")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)
	v.SetDefault("REPORTS_WINDOW_WEEKS", 4)
}

// parseScaleDefs splits "id=spec;id2=spec2" definitions into a map. Malformed
// entries are dropped; the gradescale package validates the specs themselves.
func parseScaleDefs(raw string) map[string]string {
	defs := make(map[string]string)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		defs[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return defs
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
