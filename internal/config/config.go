package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "gisserver.cfg.json"

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr            string        `json:"addr" mapstructure:"addr"`
	CORSOrigins     []string      `json:"corsOrigins" mapstructure:"corsOrigins"`
	UploadRateLimit int           `json:"uploadRateLimit" mapstructure:"uploadRateLimit"` // uploads per IP per minute, 0 disables
	ReadTimeout     time.Duration `json:"readTimeout" mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `json:"writeTimeout" mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" mapstructure:"shutdownTimeout"`
}

// IngestConfig holds upload pipeline limits
type IngestConfig struct {
	MaxUploadBytes       int64         `json:"maxUploadBytes" mapstructure:"maxUploadBytes"`
	Timeout              time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxKMLDepth          int           `json:"maxKmlDepth" mapstructure:"maxKmlDepth"`
	MaxDecompressedBytes int64         `json:"maxDecompressedBytes" mapstructure:"maxDecompressedBytes"`
	ReprojectWebMercator bool          `json:"reprojectWebMercator" mapstructure:"reprojectWebMercator"`
	TempDir              string        `json:"tempDir" mapstructure:"tempDir"`
}

// SQLiteConfig holds SQLite backend settings
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// StorageConfig selects the database backend
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"` // "postgres" or "sqlite"
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string `json:"jwtSecret" mapstructure:"jwtSecret"`
	Issuer    string `json:"issuer" mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds the upload statistics sink settings
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// GraylogConfig holds the GELF log shipping settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./gislogs")

	viper.SetDefault("server.addr", ":8000")
	viper.SetDefault("server.corsOrigins", []string{"*"})
	viper.SetDefault("server.uploadRateLimit", 30)
	viper.SetDefault("server.readTimeout", "60s")
	viper.SetDefault("server.writeTimeout", "3m")
	viper.SetDefault("server.shutdownTimeout", "15s")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "webgis")

	viper.SetDefault("storage.type", "postgres")
	viper.SetDefault("storage.sqlite.path", "./webgis.db")

	viper.SetDefault("auth.jwtSecret", "")
	viper.SetDefault("auth.issuer", "")

	viper.SetDefault("ingest.maxUploadBytes", 100<<20)
	viper.SetDefault("ingest.timeout", "2m")
	viper.SetDefault("ingest.maxKmlDepth", 64)
	viper.SetDefault("ingest.maxDecompressedBytes", 512<<20)
	viper.SetDefault("ingest.reprojectWebMercator", false)
	viper.SetDefault("ingest.tempDir", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "gisserver")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "webgis")
	viper.SetDefault("influx.bucket", "ingest")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file is
// not an error; defaults and GIS_* environment variables apply.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix("GIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetServerConfig returns the HTTP listener settings.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            viper.GetString("server.addr"),
		CORSOrigins:     viper.GetStringSlice("server.corsOrigins"),
		UploadRateLimit: viper.GetInt("server.uploadRateLimit"),
		ReadTimeout:     viper.GetDuration("server.readTimeout"),
		WriteTimeout:    viper.GetDuration("server.writeTimeout"),
		ShutdownTimeout: viper.GetDuration("server.shutdownTimeout"),
	}
}

// GetIngestConfig returns the upload pipeline limits.
func GetIngestConfig() IngestConfig {
	return IngestConfig{
		MaxUploadBytes:       viper.GetInt64("ingest.maxUploadBytes"),
		Timeout:              viper.GetDuration("ingest.timeout"),
		MaxKMLDepth:          viper.GetInt("ingest.maxKmlDepth"),
		MaxDecompressedBytes: viper.GetInt64("ingest.maxDecompressedBytes"),
		ReprojectWebMercator: viper.GetBool("ingest.reprojectWebMercator"),
		TempDir:              viper.GetString("ingest.tempDir"),
	}
}

// GetStorageConfig returns the database backend selection.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			Path: viper.GetString("storage.sqlite.path"),
		},
	}
}

// GetAuthConfig returns bearer token settings.
func GetAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret: viper.GetString("auth.jwtSecret"),
		Issuer:    viper.GetString("auth.issuer"),
	}
}

// GetOTelConfig returns OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the upload statistics sink settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF log shipping settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}
