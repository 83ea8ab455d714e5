// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	App      AppConfig
	Ingest   IngestConfig
	Analysis AnalysisConfig
	Cache    CacheConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	// Driver is one of "postgres", "pgx" or "sqlite3". Empty disables persistence.
	Driver   string
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Enabled reports whether a database was configured.
func (c DatabaseConfig) Enabled() bool {
	return c.Driver != ""
}

// DSN builds the connection string for the configured driver.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Driver == "sqlite3" {
		return c.DBName
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// WarehouseSource maps a warehouse name to the directory holding its snapshots.
type WarehouseSource struct {
	Name string
	Dir  string
	// Prefix is the object storage prefix used by `recon fetch`.
	Prefix string
}

type AppConfig struct {
	Warehouses []WarehouseSource
	OutputDir  string
	Formats    []string
}

type IngestConfig struct {
	Workers     int
	CSVEncoding string
	DateCell    string
	FirstRow    int
	// Column letters for the snapshot sheet layout.
	DescriptionCol  string
	QuantityCol     string
	PriceCol        string
	ManufacturerCol string
	ItemCol         string
}

type AnalysisConfig struct {
	SpikeWindow         int
	SpikeFactor         float64
	SpikeMinPeriods     int
	StatMultiplier      float64
	StatMinSamples      int
	TopN                int
	DashboardTopN       int
	DashboardSpikeLimit int
}

type CacheConfig struct {
	Enabled             bool
	RedisURL            string
	RedisHost           string
	RedisPort           string
	RedisPassword       string
	RedisDB             int
	DashboardTTLSeconds int
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

type LogConfig struct {
	Level string
	JSON  bool
}

var (
	once     sync.Once
	instance *Config
)

// Load reads .env and the process environment once and returns the shared config.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		v := viper.New()
		v.AutomaticEnv()
		instance = FromViper(v)
	})

	return instance
}

// FromViper builds a Config from v after applying defaults.
func FromViper(v *viper.Viper) *Config {
	setDefaults(v)

	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Driver:   v.GetString("DB_DRIVER"),
			URL:      v.GetString("DATABASE_URL"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		App: AppConfig{
			Warehouses: ParseWarehouses(v.GetString("WAREHOUSES")),
			OutputDir:  v.GetString("APP_OUTPUT_DIR"),
			Formats:    splitList(v.GetString("APP_REPORT_FORMATS")),
		},
		Ingest: IngestConfig{
			Workers:         v.GetInt("INGEST_WORKERS"),
			CSVEncoding:     v.GetString("INGEST_CSV_ENCODING"),
			DateCell:        v.GetString("INGEST_DATE_CELL"),
			FirstRow:        v.GetInt("INGEST_FIRST_ROW"),
			DescriptionCol:  v.GetString("INGEST_DESCRIPTION_COL"),
			QuantityCol:     v.GetString("INGEST_QUANTITY_COL"),
			PriceCol:        v.GetString("INGEST_PRICE_COL"),
			ManufacturerCol: v.GetString("INGEST_MANUFACTURER_COL"),
			ItemCol:         v.GetString("INGEST_ITEM_COL"),
		},
		Analysis: AnalysisConfig{
			SpikeWindow:         v.GetInt("ANALYSIS_SPIKE_WINDOW"),
			SpikeFactor:         v.GetFloat64("ANALYSIS_SPIKE_FACTOR"),
			SpikeMinPeriods:     v.GetInt("ANALYSIS_SPIKE_MIN_PERIODS"),
			StatMultiplier:      v.GetFloat64("ANALYSIS_STAT_MULTIPLIER"),
			StatMinSamples:      v.GetInt("ANALYSIS_STAT_MIN_SAMPLES"),
			TopN:                v.GetInt("ANALYSIS_TOP_N"),
			DashboardTopN:       v.GetInt("DASHBOARD_TOP_N"),
			DashboardSpikeLimit: v.GetInt("DASHBOARD_SPIKE_LIMIT"),
		},
		Cache: CacheConfig{
			Enabled:             v.GetBool("CACHE_ENABLED"),
			RedisURL:            v.GetString("REDIS_URL"),
			RedisHost:           v.GetString("REDIS_HOST"),
			RedisPort:           v.GetString("REDIS_PORT"),
			RedisPassword:       v.GetString("REDIS_PASSWORD"),
			RedisDB:             v.GetInt("REDIS_DB"),
			DashboardTTLSeconds: v.GetInt("CACHE_DASHBOARD_TTL_SECONDS"),
		},
		Storage: StorageConfig{
			Enabled:   v.GetBool("STORAGE_ENABLED"),
			Endpoint:  v.GetString("STORAGE_ENDPOINT"),
			AccessKey: v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: v.GetString("STORAGE_SECRET_KEY"),
			Bucket:    v.GetString("STORAGE_BUCKET"),
			Region:    v.GetString("STORAGE_REGION"),
			UseSSL:    v.GetBool("STORAGE_USE_SSL"),
			Prefix:    v.GetString("STORAGE_PREFIX"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			JSON:  v.GetBool("LOG_JSON"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 15)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("DB_DRIVER", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "stockrecon")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("WAREHOUSES", "Москва=./data/moscow;Хабаровск=./data/khabarovsk")
	v.SetDefault("APP_OUTPUT_DIR", "./data/reports")
	v.SetDefault("APP_REPORT_FORMATS", "xlsx")
	v.SetDefault("INGEST_WORKERS", 4)
	v.SetDefault("INGEST_CSV_ENCODING", "utf-8")
	v.SetDefault("INGEST_DATE_CELL", "A2")
	v.SetDefault("INGEST_FIRST_ROW", 5)
	v.SetDefault("INGEST_DESCRIPTION_COL", "B")
	v.SetDefault("INGEST_QUANTITY_COL", "C")
	v.SetDefault("INGEST_PRICE_COL", "D")
	v.SetDefault("INGEST_MANUFACTURER_COL", "E")
	v.SetDefault("INGEST_ITEM_COL", "F")
	v.SetDefault("ANALYSIS_SPIKE_WINDOW", 3)
	v.SetDefault("ANALYSIS_SPIKE_FACTOR", 1.5)
	v.SetDefault("ANALYSIS_SPIKE_MIN_PERIODS", 0)
	v.SetDefault("ANALYSIS_STAT_MULTIPLIER", 2.0)
	v.SetDefault("ANALYSIS_STAT_MIN_SAMPLES", 3)
	v.SetDefault("ANALYSIS_TOP_N", 1000)
	v.SetDefault("DASHBOARD_TOP_N", 100)
	v.SetDefault("DASHBOARD_SPIKE_LIMIT", 200)
	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_DASHBOARD_TTL_SECONDS", 60)
	v.SetDefault("STORAGE_ENABLED", false)
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_USE_SSL", true)
	v.SetDefault("STORAGE_PREFIX", "stockrecon")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)
}

// ParseWarehouses parses "Name=dir;Name=dir[@prefix]" into warehouse sources.
// Entries without a name are skipped.
func ParseWarehouses(raw string) []WarehouseSource {
	var out []WarehouseSource
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, dir, _ := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		dir, prefix, _ := strings.Cut(strings.TrimSpace(dir), "@")
		out = append(out, WarehouseSource{
			Name:   name,
			Dir:    strings.TrimSpace(dir),
			Prefix: strings.TrimSpace(prefix),
		})
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
