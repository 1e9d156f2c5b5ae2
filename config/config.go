package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/archive"
	"github.com/developeragencia/conselhoscursor-sub003/internal/mongo"
	"github.com/developeragencia/conselhoscursor-sub003/internal/postgres"
	"github.com/developeragencia/conselhoscursor-sub003/internal/redis"
	"github.com/developeragencia/conselhoscursor-sub003/internal/relay"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendNone     = "none"
)

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	InternalToken   string        `yaml:"internalToken"` // X-Internal-Token для /internal/*
}

type GRPC struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // consultation-relay
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type JWT struct {
	Alg            string        `yaml:"alg"` // RS256|HS256
	PublicKeyPath  string        `yaml:"publicKeyPath"`
	PrivateKeyPath string        `yaml:"privateKeyPath"` // только для `relay token`
	Secret         string        `yaml:"secret"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	ClockSkew      time.Duration `yaml:"clockSkew"`
	DevTokenTTL    time.Duration `yaml:"devTokenTTL"`
}

func (j *JWT) Validate() error {
	j.Alg = strings.ToUpper(strings.TrimSpace(j.Alg))
	if j.Alg == "" {
		j.Alg = "RS256"
	}
	switch j.Alg {
	case "RS256":
		if j.PublicKeyPath == "" && j.PrivateKeyPath == "" {
			return errors.New("security.jwt.publicKeyPath is required for RS256")
		}
	case "HS256":
		if j.Secret == "" {
			return errors.New("security.jwt.secret is required for HS256")
		}
	default:
		return fmt.Errorf("security.jwt.alg %q is not supported", j.Alg)
	}
	if j.ClockSkew < 0 || j.ClockSkew > time.Minute {
		return errors.New("security.jwt.clockSkew must be in [0..1m]")
	}
	if j.DevTokenTTL <= 0 {
		j.DevTokenTTL = time.Hour
	}
	return nil
}

type Security struct {
	JWT JWT `yaml:"jwt"`
}

type RateLimit struct {
	PerSecond float64 `yaml:"perSecond"`
	Burst     int     `yaml:"burst"`
}

type Relay struct {
	PingInterval     time.Duration `yaml:"pingInterval"`
	PongTimeout      time.Duration `yaml:"pongTimeout"`
	MaxMessageLength int           `yaml:"maxMessageLength"`
	RateLimit        RateLimit     `yaml:"rateLimit"`
	RoomIdleTTL      time.Duration `yaml:"roomIdleTTL"` // 0: комнаты не истекают
	SendBuffer       int           `yaml:"sendBuffer"`
}

func (r *Relay) Validate() error {
	if r.PingInterval == 0 {
		r.PingInterval = 30 * time.Second
	}
	if r.PongTimeout == 0 {
		r.PongTimeout = 5 * time.Second
	}
	if r.MaxMessageLength == 0 {
		r.MaxMessageLength = 4000
	}
	if r.PingInterval < 0 || r.PongTimeout < 0 || r.RoomIdleTTL < 0 {
		return errors.New("relay durations must not be negative")
	}
	if r.PongTimeout >= r.PingInterval {
		return errors.New("relay.pongTimeout must be shorter than relay.pingInterval")
	}
	if r.MaxMessageLength < 0 {
		return errors.New("relay.maxMessageLength must be > 0")
	}
	if r.RateLimit.PerSecond < 0 || r.RateLimit.Burst < 0 {
		return errors.New("relay.rateLimit must not be negative")
	}
	return nil
}

func (r Relay) ToRelayConfig() relay.Config {
	return relay.Config{
		PingInterval:     r.PingInterval,
		PongTimeout:      r.PongTimeout,
		MaxMessageLength: r.MaxMessageLength,
		RatePerSecond:    r.RateLimit.PerSecond,
		RateBurst:        r.RateLimit.Burst,
		RoomIdleTTL:      r.RoomIdleTTL,
	}
}

type Archive struct {
	Buffer  int           `yaml:"buffer"`
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

func (a Archive) ToArchiveConfig() archive.Config {
	return archive.Config{Buffer: a.Buffer, Workers: a.Workers, Timeout: a.Timeout}
}

type MessageLog struct {
	Backend string `yaml:"backend"` // postgres|mongo|none
	Migrate bool   `yaml:"migrate"` // применять миграции при старте
}

type Postgres struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ApplicationName   string        `yaml:"applicationName"`
}

func (p Postgres) ToPGConfig() postgres.Config {
	return postgres.Config{
		DSN:               p.DSN,
		MaxConns:          p.MaxConns,
		MinConns:          p.MinConns,
		MaxConnLifetime:   p.MaxConnLifetime,
		MaxConnIdleTime:   p.MaxConnIdleTime,
		HealthCheckPeriod: p.HealthCheckPeriod,
		ApplicationName:   p.ApplicationName,
	}
}

type Mongo struct {
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (m Mongo) ToMongoConfig() mongo.Config {
	return mongo.Config{URI: m.URI, Database: m.Database, Timeout: m.Timeout}
}

type Redis struct {
	Addr        string        `yaml:"addr"` // пусто: presence в redis выключен
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PresenceTTL time.Duration `yaml:"presenceTTL"`
}

func (r Redis) Enabled() bool { return r.Addr != "" }

func (r Redis) ToRedisConfig() redis.Config {
	return redis.Config{Addr: r.Addr, Password: r.Password, DB: r.DB, PresenceTTL: r.PresenceTTL}
}

type Config struct {
	HTTP       HTTP       `yaml:"http"`
	GRPC       GRPC       `yaml:"grpc"`
	Logging    Logging    `yaml:"logging"`
	Security   Security   `yaml:"security"`
	Relay      Relay      `yaml:"relay"`
	Archive    Archive    `yaml:"archive"`
	MessageLog MessageLog `yaml:"messageLog"`
	Postgres   Postgres   `yaml:"postgres"`
	Mongo      Mongo      `yaml:"mongo"`
	Redis      Redis      `yaml:"redis"`
}

// LoadConfig читает .env (если есть), затем YAML из CONFIG_PATH.
// ${VAR} в YAML подставляются из окружения.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if err := c.Security.JWT.Validate(); err != nil {
		return err
	}
	if err := c.Relay.Validate(); err != nil {
		return err
	}

	c.MessageLog.Backend = strings.ToLower(strings.TrimSpace(c.MessageLog.Backend))
	switch c.MessageLog.Backend {
	case "", BackendNone:
		c.MessageLog.Backend = BackendNone
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for messageLog.backend=postgres")
		}
	case BackendMongo:
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri is required for messageLog.backend=mongo")
		}
		if c.Mongo.Database == "" {
			c.Mongo.Database = "conselhos"
		}
	default:
		return fmt.Errorf("messageLog.backend %q is not supported", c.MessageLog.Backend)
	}

	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "consultation-relay"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.Postgres.ApplicationName == "" {
		c.Postgres.ApplicationName = c.Logging.Service
	}
	return nil
}
