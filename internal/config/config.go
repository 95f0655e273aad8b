package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	S3      S3Config      `yaml:"s3"`
	Upload  UploadConfig  `yaml:"upload"`
}

type HTTPConfig struct {
	Address      string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8000"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env-default:"5s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env-default:"10s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type StorageConfig struct {
	// Driver is one of mongodb, sqlite, postgres, redis or memory.
	Driver   string         `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Mongo    MongoConfig    `yaml:"mongodb"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" env:"SQLITE_PATH" env-default:"./storage/authsvc.db"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"authsvc"`
}

type PostgresConfig struct {
	URL             string        `yaml:"url" env:"POSTGRES_URL"`
	MaxConns        int32         `yaml:"max_conns" env-default:"10"`
	MinConns        int32         `yaml:"min_conns" env-default:"1"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env-default:"1h"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env-default:"3s"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Prefix   string `yaml:"prefix" env-default:"authsvc"`
}

type AuthConfig struct {
	AccessSecret  string        `yaml:"access_secret" env:"ACCESS_TOKEN_SECRET" env-required:"true"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	RefreshSecret string        `yaml:"refresh_secret" env:"REFRESH_TOKEN_SECRET" env-required:"true"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"REFRESH_TOKEN_EXPIRY" env-default:"168h"`
	Issuer        string        `yaml:"issuer" env-default:"authsvc"`
	CookieSecure  bool          `yaml:"cookie_secure" env:"COOKIE_SECURE"`
	CookieDomain  string        `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`
}

type S3Config struct {
	Region       string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	Endpoint     string `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKey    string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"S3_SECRET_KEY"`
	Bucket       string `yaml:"bucket" env:"S3_BUCKET" env-required:"true"`
	PublicURL    string `yaml:"public_url" env:"S3_PUBLIC_URL"`
	UsePathStyle bool   `yaml:"use_path_style" env:"S3_USE_PATH_STYLE"`
	KeyPrefix    string `yaml:"key_prefix" env-default:"avatars"`
}

type UploadConfig struct {
	Dir     string `yaml:"dir" env:"UPLOAD_DIR" env-default:"./public/temp"`
	MaxSize int64  `yaml:"max_size" env-default:"5242880"`
}

// MustLoad reads the config file named by the -config flag or CONFIG_PATH
// and panics when it is missing or invalid.
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}

	return MustLoadPath(path)
}

func MustLoadPath(path string) *Config {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file not found: " + path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}

// fetchConfigPath gives the flag priority over the env variable.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
