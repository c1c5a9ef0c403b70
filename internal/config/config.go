package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

// Default feed locations.
const (
	DefaultAbbreviationsURL = "reference/united_states_abbreviations.csv"
	DefaultPopulationURL    = "https://www2.census.gov/programs-surveys/popest/datasets/2010-2019/national/totals/nst-est2019-alldata.csv"
	DefaultCasesURL         = "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/csse_covid_19_time_series/time_series_covid19_confirmed_US.csv"
	DefaultDeathsURL        = "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/csse_covid_19_time_series/time_series_covid19_deaths_US.csv"
	DefaultHospitalURL      = "https://healthdata.gov/resource/g62h-syeh.csv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	RefreshInterval     time.Duration
	RefreshRetryBackoff time.Duration
	FetchTimeout        time.Duration
	DataDir             string
	CacheDir            string

	// Feed locations: http(s) URLs or local paths.
	AbbreviationsURL string
	PopulationURL    string
	CasesURL         string
	DeathsURL        string
	LineListURL      string // when set, replaces the cases and deaths feeds
	LineListMember   string
	HospitalURL      string
	HospitalPageSize int

	Precedence domain.Precedence

	SnapshotDB string

	// Optional adapters; empty disables them.
	PostgresDSN    string
	RedisURL       string
	QueryCacheTTL  time.Duration
	QueryCacheSize int
	KafkaBrokers   []string
	KafkaTopic     string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	refreshInterval, err := parseDuration("REFRESH_INTERVAL", "24h")
	if err != nil {
		return nil, err
	}
	retryBackoff, err := parseDuration("REFRESH_RETRY_BACKOFF", "1m")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("QUERY_CACHE_TTL", "5m")
	if err != nil {
		return nil, err
	}
	pageSize, err := parsePositiveInt("HOSPITAL_PAGE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("QUERY_CACHE_SIZE", 256)
	if err != nil {
		return nil, err
	}
	precedence, err := domain.ParsePrecedence(os.Getenv("NORMALIZE_PRECEDENCE"))
	if err != nil {
		return nil, fmt.Errorf("invalid NORMALIZE_PRECEDENCE: %w", err)
	}

	dataDir := sharedcfg.EnvOrDefault("DATA_DIR", "data")

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		RefreshInterval:     refreshInterval,
		RefreshRetryBackoff: retryBackoff,
		FetchTimeout:        fetchTimeout,
		DataDir:             dataDir,
		CacheDir:            sharedcfg.EnvOrDefault("CACHE_DIR", dataDir+"/raw"),

		AbbreviationsURL: sharedcfg.EnvOrDefault("REFERENCE_ABBREVIATIONS_URL", DefaultAbbreviationsURL),
		PopulationURL:    sharedcfg.EnvOrDefault("REFERENCE_POPULATION_URL", DefaultPopulationURL),
		CasesURL:         sharedcfg.EnvOrDefault("CASES_URL", DefaultCasesURL),
		DeathsURL:        sharedcfg.EnvOrDefault("DEATHS_URL", DefaultDeathsURL),
		LineListURL:      os.Getenv("LINE_LIST_URL"),
		LineListMember:   sharedcfg.EnvOrDefault("LINE_LIST_MEMBER", "covid_19_data.csv"),
		HospitalURL:      sharedcfg.EnvOrDefault("HOSPITAL_URL", DefaultHospitalURL),
		HospitalPageSize: pageSize,

		Precedence: precedence,

		SnapshotDB: sharedcfg.EnvOrDefault("SNAPSHOT_DB", dataDir+"/STATE_SNAPSHOT.db"),

		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		RedisURL:       os.Getenv("REDIS_URL"),
		QueryCacheTTL:  cacheTTL,
		QueryCacheSize: cacheSize,
		KafkaBrokers:   sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     sharedcfg.EnvOrDefault("KAFKA_TOPIC", "state-refresh-events"),
	}

	return cfg, nil
}

// NotificationsEnabled reports whether refresh events should be published.
func (c *Config) NotificationsEnabled() bool { return len(c.KafkaBrokers) > 0 }

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}
