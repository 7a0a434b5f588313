package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sellerlab/wb-search-sync/internal/models"
)

// Defaults mirror the WB seller-analytics limits: at most 100 nmIds per
// call and a request budget of a few calls per minute.
const (
	DefaultBaseURL   = "https://seller-analytics-api.wildberries.ru"
	DefaultBatchSize = 100
	DefaultLimit     = 100
	DefaultPause     = 21 * time.Second
)

// Config is built once in main and passed into every constructor.
type Config struct {
	APIKey  string
	BaseURL string

	Conninfo     string
	CatalogTable string
	PgMaxConns   int

	// Non-empty NmIDs bypasses the catalog query.
	NmIDs []int64

	Period   models.Period
	Location *time.Location

	Variants      []string
	BatchSize     int
	Limit         int
	FallbackLimit int
	Pause         time.Duration

	HTTPTimeout time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// RetentionDays 0 disables pruning.
	RetentionDays int
	StoreRaw      bool

	MetricsAddr string
	LogLevel    slog.Level
}

// FromEnv reads and validates the whole run configuration. Any missing
// credential or malformed value is a startup error; nothing external is
// touched yet.
func FromEnv() (Config, error) {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		// Moscow has no DST.
		loc = time.FixedZone("MSK", 3*60*60)
	}

	cfg := Config{
		APIKey:        envString("WB_API_KEY", ""),
		BaseURL:       envString("WB_BASE_URL", DefaultBaseURL),
		CatalogTable:  envString("CATALOG_TABLE", "public.wb_products_catalog"),
		PgMaxConns:    envInt("PG_MAX_CONNS", 2),
		Location:      loc,
		BatchSize:     envInt("BATCH_SIZE", DefaultBatchSize),
		Limit:         envInt("LIMIT", DefaultLimit),
		FallbackLimit: envInt("FALLBACK_LIMIT", 0),
		Pause:         envDuration("WB_PAUSE_SEC", DefaultPause),
		HTTPTimeout:   envDuration("HTTP_TIMEOUT_SEC", 60*time.Second),
		MaxAttempts:   envInt("WB_MAX_ATTEMPTS", 6),
		BackoffBase:   envDuration("WB_BACKOFF_BASE_SEC", 2*time.Second),
		BackoffMax:    envDuration("WB_BACKOFF_MAX_SEC", 60*time.Second),
		RetentionDays: envInt("RETENTION_DAYS", 0),
		StoreRaw:      envBool("STORE_RAW", false),
		MetricsAddr:   envString("METRICS_ADDR", ""),
		LogLevel:      logLevel(envString("LOG_LEVEL", "info")),
	}

	if cfg.APIKey == "" {
		return Config{}, errors.New("WB_API_KEY is required")
	}
	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Limit <= 0 {
		return Config{}, fmt.Errorf("LIMIT must be positive, got %d", cfg.Limit)
	}
	if cfg.MaxAttempts <= 0 {
		return Config{}, fmt.Errorf("WB_MAX_ATTEMPTS must be positive, got %d", cfg.MaxAttempts)
	}

	cfg.Conninfo, err = conninfoFromEnv()
	if err != nil {
		return Config{}, err
	}

	cfg.Period, err = periodFromEnv(loc)
	if err != nil {
		return Config{}, err
	}

	cfg.Variants = splitCSV(envString("TOP_ORDER_BY", "orders"))
	if len(cfg.Variants) == 0 {
		return Config{}, errors.New("TOP_ORDER_BY must name at least one ranking variant")
	}

	cfg.NmIDs, err = parseNmIDs(envString("NM_IDS", ""))
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// conninfoFromEnv accepts either a full PG_CONNINFO string or the
// individual SUPABASE_* parts the deployment historically used.
func conninfoFromEnv() (string, error) {
	if ci := envString("PG_CONNINFO", ""); ci != "" {
		return ci, nil
	}
	host := envString("SUPABASE_HOST", "")
	password := envString("SUPABASE_PASSWORD", "")
	if host == "" || password == "" {
		return "", errors.New("set PG_CONNINFO, or SUPABASE_HOST plus SUPABASE_PASSWORD")
	}
	parts := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", envInt("SUPABASE_PORT", 6543)),
		"user=" + envString("SUPABASE_USER", "postgres"),
		"dbname=" + envString("SUPABASE_DBNAME", "postgres"),
		"sslmode=" + envString("SUPABASE_SSLMODE", "require"),
		"password=" + password,
	}
	if opts := envString("SUPABASE_OPTIONS", ""); opts != "" {
		parts = append(parts, "options="+opts)
	}
	return strings.Join(parts, " "), nil
}

// periodFromEnv returns the explicit PERIOD_START/PERIOD_END pair, or
// yesterday in the reference zone when neither is set.
func periodFromEnv(loc *time.Location) (models.Period, error) {
	startS := envString("PERIOD_START", "")
	endS := envString("PERIOD_END", "")
	if startS == "" && endS == "" {
		y := time.Now().In(loc).AddDate(0, 0, -1)
		d := time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, time.UTC)
		return models.Period{Start: d, End: d}, nil
	}
	if startS == "" || endS == "" {
		return models.Period{}, errors.New("PERIOD_START and PERIOD_END must be set together")
	}
	start, err := time.ParseInLocation(models.DateLayout, startS, time.UTC)
	if err != nil {
		return models.Period{}, fmt.Errorf("PERIOD_START: %w", err)
	}
	end, err := time.ParseInLocation(models.DateLayout, endS, time.UTC)
	if err != nil {
		return models.Period{}, fmt.Errorf("PERIOD_END: %w", err)
	}
	if end.Before(start) {
		return models.Period{}, fmt.Errorf("period end %s precedes start %s", endS, startS)
	}
	return models.Period{Start: start, End: end}, nil
}

// parseNmIDs parses the NM_IDS CSV override: deduplicated, ascending.
func parseNmIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	seen := make(map[int64]struct{})
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("NM_IDS: bad identifier %q", part)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, errors.New("NM_IDS is set but holds no identifiers")
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func logLevel(s string) slog.Level {
	if strings.EqualFold(s, "debug") {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

// envDuration reads a float number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return time.Duration(f * float64(time.Second))
}
