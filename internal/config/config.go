// Package config loads configuration for both binaries: a .env file (as the
// teacher does with godotenv), environment variables, and for the Gate a
// config.json file, merged with viper the way MarkoPoloResearchLab/ledger
// layers its demo backend config.
package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// CloudConfig holds everything cmd/cloud needs to boot.
type CloudConfig struct {
	ListenAddr   string
	PostgresHost string
	PostgresPort int
	PostgresDB   string
	PostgresUser string
	PostgresPass string
	RedisURL     string
	SecretToken  string
	ImageRoot    string
}

// GateConfig holds everything cmd/gate needs to boot. CloudAPI resolves in
// the same priority order as original_source/gate-node/config.py: env var,
// then config.json, then a compiled-in default.
type GateConfig struct {
	ListenAddr  string
	GateID      string
	CloudAPI    string
	SecretToken string
	DBPath      string
	ImageRoot   string
}

const defaultCloudAPI = "http://localhost:8010"

// LoadDotenv loads a .env file if present; a missing file is not an error,
// matching the teacher's godotenv.Load() handling.
func LoadDotenv(path string) {
	_ = godotenv.Load(path)
}

// LoadCloud builds a CloudConfig from environment variables, with the
// defaults the original Python Cloud used.
func LoadCloud() CloudConfig {
	v := newEnvViper()
	v.SetDefault("listen_addr", ":8010")
	v.SetDefault("postgres_host", "postgres")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_db", "parking")
	v.SetDefault("postgres_user", "admin")
	v.SetDefault("postgres_pass", "admin")
	v.SetDefault("redis_url", "")
	v.SetDefault("secret_token", "secret-key")
	v.SetDefault("image_root", "images")

	return CloudConfig{
		ListenAddr:   v.GetString("listen_addr"),
		PostgresHost: v.GetString("postgres_host"),
		PostgresPort: v.GetInt("postgres_port"),
		PostgresDB:   v.GetString("postgres_db"),
		PostgresUser: v.GetString("postgres_user"),
		PostgresPass: v.GetString("postgres_pass"),
		RedisURL:     v.GetString("redis_url"),
		SecretToken:  v.GetString("secret_token"),
		ImageRoot:    v.GetString("image_root"),
	}
}

// LoadGate builds a GateConfig, merging config.json (if present) underneath
// environment variables.
func LoadGate(configJSONPath string) GateConfig {
	v := newEnvViper()
	v.SetDefault("listen_addr", ":9000")
	v.SetDefault("gate_id", "G_N")
	v.SetDefault("secret_token", "secret-key")
	v.SetDefault("db_path", "gate_local.db")
	v.SetDefault("image_root", "local_images")
	v.SetDefault("cloud_api", "")

	if configJSONPath != "" {
		v.SetConfigFile(configJSONPath)
		v.SetConfigType("json")
		_ = v.MergeInConfig() // absent file is fine, env/defaults still apply
	}

	cloudAPI := v.GetString("cloud_api")
	if strings.TrimSpace(cloudAPI) == "" {
		cloudAPI = defaultCloudAPI
	}

	return GateConfig{
		ListenAddr:  v.GetString("listen_addr"),
		GateID:      strings.ToUpper(v.GetString("gate_id")),
		CloudAPI:    cloudAPI,
		SecretToken: v.GetString("secret_token"),
		DBPath:      v.GetString("db_path"),
		ImageRoot:   v.GetString("image_root"),
	}
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// direct aliases to the env var names named in spec.md §6
	_ = v.BindEnv("postgres_host", "POSTGRES_HOST")
	_ = v.BindEnv("postgres_port", "POSTGRES_PORT")
	_ = v.BindEnv("postgres_db", "POSTGRES_DB")
	_ = v.BindEnv("postgres_user", "POSTGRES_USER")
	_ = v.BindEnv("postgres_pass", "POSTGRES_PASSWORD")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("secret_token", "SECRET_TOKEN")
	_ = v.BindEnv("gate_id", "GATE_ID")
	_ = v.BindEnv("cloud_api", "CLOUD_API")
	_ = v.BindEnv("listen_addr", "LISTEN_ADDR")
	return v
}
