package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath — путь к конфигу, если не задан ни флаг, ни CONFIG_PATH
const DefaultPath = "config/config.yaml"

// Config определяет структуру конфигурации всего приложения целиком
// orderapi использует HTTPServer, Postgres, Kafka и Auth, агент курьера — Rider
type Config struct {
	HTTPServer `yaml:"http_server"`
	Postgres   `yaml:"postgres"`
	Kafka      `yaml:"kafka"`
	Logger     `yaml:"logger"`
	Auth       `yaml:"auth"`
	Rider      `yaml:"rider"`
}

// HTTPServer содержит конфигурацию для HTTP-сервера
type HTTPServer struct {
	Port    string        `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

// Postgres содержит конфигурацию для подключения к базе данных
type Postgres struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	DBName   string `yaml:"db_name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// Kafka содержит конфигурацию для подключения к кафке
type Kafka struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	StatusTopic string   `yaml:"status_topic"`
	GroupID     string   `yaml:"group_id"`
}

// Logger содержит конфигурацию для логгера
type Logger struct {
	Level string `yaml:"level"`
}

// Auth содержит секрет для проверки подписи JWT на стороне orderapi
type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Rider содержит конфигурацию агента курьера
type Rider struct {
	Port           string        `yaml:"port"`
	APIBaseURL     string        `yaml:"api_base_url"`
	OriginURL      string        `yaml:"origin_url"`
	DBPath         string        `yaml:"db_path"`
	CacheName      string        `yaml:"cache_name"`
	OfflineURL     string        `yaml:"offline_url"`
	Precache       []string      `yaml:"precache"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Load читает и разбирает конфигурацию из файла, подставляя значения по умолчанию
func Load(configPath string) (*Config, error) {
	const op = "config.Load"

	if configPath == "" {
		return nil, fmt.Errorf("%s: CONFIG_PATH is not set", op)
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: config file does not exist: %s", op, configPath)
		}
		return nil, fmt.Errorf("%s: failed to read config file: %w", op, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("%s: failed to unmarshal config: %w", op, err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// MustLoad загружает конфигурацию из файла по указанному пути
// в случае ошибки программа завершается с фатальной ошибкой
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Path возвращает путь к конфигу: явный аргумент, затем CONFIG_PATH, затем DefaultPath
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return DefaultPath
}

func (c *Config) applyDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "INFO"
	}
	if c.Kafka.StatusTopic == "" {
		c.Kafka.StatusTopic = "order-status"
	}

	r := &c.Rider
	if r.Port == "" {
		r.Port = ":8090"
	}
	if r.DBPath == "" {
		r.DBPath = "zuvees.db"
	}
	if r.CacheName == "" {
		r.CacheName = "zuvees-cache-v1"
	}
	if r.OfflineURL == "" {
		r.OfflineURL = "/offline.html"
	}
	if r.ProbeInterval <= 0 {
		r.ProbeInterval = 30 * time.Second
	}
	if r.RequestTimeout <= 0 {
		r.RequestTimeout = 10 * time.Second
	}
}
