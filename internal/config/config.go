package config

import (
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	gateway "github.com/territorios-app/territorios/internal/gateways"
	"github.com/territorios-app/territorios/internal/permission"
	"github.com/territorios-app/territorios/internal/queue"
	"github.com/territorios-app/territorios/pkg/logger"
	"github.com/territorios-app/territorios/pkg/pg"
)

var config *Config

// Config holds every setting of the service. Nothing else reads the
// environment directly.
type Config struct {
	AppEnv  string `env:"APP_ENV,default=dev"`
	AppName string `env:"APP_NAME,default=territorios"`

	LogEnv   string `env:"LOG_ENV,default=development"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	HttpListenAddr            string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpBaseRequestUrl        string        `env:"HTTP_BASE_REQUEST_URI,default=/api/v1"`
	HttpServerReadTimeout     time.Duration `env:"HTTP_SERVER_READ_TIMEOUT,default=5s"`
	HttpServerWriteTimeout    time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT,default=30s"`
	HttpServerReadBufferSize  int           `env:"HTTP_SERVER_READ_BUFFER_SIZE,default=16384"`
	HttpServerWriteBufferSize int           `env:"HTTP_SERVER_WRITE_BUFFER_SIZE,default=16384"`
	HttpRequestTimeout        time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=30s"`
	HttpCorsOrigin            string        `env:"HTTP_CORS_ORIGIN,default=*"`

	// StoreDriver is "postgres" or "sqlite". With sqlite only the write
	// database name is used, as the file path.
	StoreDriver string `env:"STORE_DRIVER,default=postgres"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=territorios:"`

	PromNamespace   string `env:"PROM_NAMESPACE,default=territorios"`
	PromListenAddr  string `env:"PROM_LISTEN_ADDR,default=:9100"`
	PromMetricsPath string `env:"PROM_METRICS_PATH,default=/metrics"`

	PhoneCooldown   time.Duration `env:"PHONE_COOLDOWN,default=360h"`
	PhoneBatchSize  int           `env:"PHONE_BATCH_SIZE,default=50"`
	PhoneExportSize int           `env:"PHONE_EXPORT_SIZE,default=30"`
	PhonePoolLock   bool          `env:"PHONE_POOL_LOCK,default=true"`
	PhoneLockTTL    time.Duration `env:"PHONE_LOCK_TTL,default=30s"`

	SuperAdminPhone string `env:"SUPER_ADMIN_PHONE"`
	SuperAdminUID   string `env:"SUPER_ADMIN_UID"`
	SuperAdminEmail string `env:"SUPER_ADMIN_EMAIL"`

	JwtSecret string        `env:"JWT_SECRET"`
	JwtIssuer string        `env:"JWT_ISSUER,default=territorios"`
	JwtTTL    time.Duration `env:"JWT_TTL,default=12h"`

	IdentityPrimaryUrl   string        `env:"IDENTITY_PRIMARY_URL"`
	IdentitySecondaryUrl string        `env:"IDENTITY_SECONDARY_URL"`
	IdentityTimeout      time.Duration `env:"IDENTITY_TIMEOUT,default=5s"`
	IdentityHealthCheck  time.Duration `env:"IDENTITY_HEALTH_CHECK_INTERVAL,default=30s"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION,default=us-east-1"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3PathStyle bool   `env:"S3_PATH_STYLE"`

	PoolStatsCron string `env:"POOL_STATS_CRON,default=@every 5m"`

	QueueName              string        `env:"QUEUE_NAME,default=phones:import"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=importers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME,default=processor"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=15m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=5"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=10000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	ProcessorConsumers int           `env:"PROCESSOR_CONSUMERS,default=1"`
	ProcessorWorkers   int           `env:"PROCESSOR_WORKERS,default=2"`
	ProcessorTimeout   time.Duration `env:"PROCESSOR_TIMEOUT,default=10m"`
	ImportJobTTL       time.Duration `env:"IMPORT_JOB_TTL,default=24h"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	config = c
	return nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case pg.DriverPostgres, pg.DriverSqlite:
	default:
		return errors.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.QueueVisibilityTimeout <= c.ProcessorTimeout {
		return errors.New("QUEUE_VISIBILITY_TIMEOUT must exceed PROCESSOR_TIMEOUT")
	}
	if c.PhoneExportSize <= 0 || c.PhoneBatchSize <= 0 {
		return errors.New("PHONE_BATCH_SIZE and PHONE_EXPORT_SIZE must be positive")
	}
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

func (c *Config) PostgresRead() pg.Config {
	if c.StoreDriver == pg.DriverSqlite {
		return c.PostgresWrite()
	}
	return pg.Config{
		Driver:   c.StoreDriver,
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		Driver:   c.StoreDriver,
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
	}
}

func (c *Config) Queue() queue.QueueConfig {
	return queue.QueueConfig{
		Name:              c.QueueName,
		ConsumerGroup:     c.QueueConsumerGroup,
		ConsumerName:      c.QueueConsumerName,
		MaxRetries:        c.QueueMaxRetries,
		VisibilityTimeout: c.QueueVisibilityTimeout,
		PollInterval:      c.QueuePollInterval,
		BatchSize:         c.QueueBatchSize,
		MaxLen:            c.QueueMaxLen,
		EnableDLQ:         c.QueueEnableDLQ,
	}
}

func (c *Config) SuperAdmin() permission.SuperAdmin {
	return permission.SuperAdmin{
		Phone: c.SuperAdminPhone,
		UID:   c.SuperAdminUID,
		Email: c.SuperAdminEmail,
	}
}

// IdentityProviders lists the configured providers, primary first.
func (c *Config) IdentityProviders() []gateway.ProviderConfig {
	var out []gateway.ProviderConfig
	for i, u := range []string{c.IdentityPrimaryUrl, c.IdentitySecondaryUrl} {
		if u = strings.TrimSpace(u); u == "" {
			continue
		}
		name := "primary"
		if i > 0 {
			name = "secondary"
		}
		out = append(out, gateway.ProviderConfig{Name: name, URL: strings.TrimRight(u, "/"), Priority: 100 - i*20})
	}
	return out
}
