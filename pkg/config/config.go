package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// Broker drivers.
const (
	DriverRabbitMQ = "rabbitmq"
	DriverKafka    = "kafka"
)

// Metadata is the runtime configuration of the metadata service, which
// serves catalog queries and runs the ingestion consumer.
type Metadata struct {
	App       AppConfig
	HTTP      HTTPConfig
	DB        DBConfig
	Broker    BrokerConfig
	Ingestion IngestionConfig
	Tracing   TracingConfig
	Metrics   MetricsConfig
}

// Gateway is the runtime configuration of the composition gateway.
type Gateway struct {
	App      AppConfig
	HTTP     HTTPConfig
	Backends BackendsConfig
	Stream   StreamConfig
	Tracing  TracingConfig
	Metrics  MetricsConfig
}

// Upload is the runtime configuration of the video-upload backend.
type Upload struct {
	App     AppConfig
	HTTP    HTTPConfig
	Broker  BrokerConfig
	Storage StorageConfig
	Limits  UploadLimits
	Tracing TracingConfig
	Metrics MetricsConfig
}

// Streaming is the runtime configuration of the video-streaming backend.
type Streaming struct {
	App     AppConfig
	HTTP    HTTPConfig
	Storage StorageConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

type AppConfig struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"APP_LOG_FORMAT" envDefault:"json"`
}

type HTTPConfig struct {
	Port         int           `env:"PORT,required,notEmpty"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

// Addr is the listen address derived from Port.
func (c HTTPConfig) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

type DBConfig struct {
	Host           string        `env:"DBHOST,required,notEmpty"`
	Name           string        `env:"DBNAME,required,notEmpty"`
	Collection     string        `env:"DB_COLLECTION" envDefault:"videos"`
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"10s"`
}

type BrokerConfig struct {
	Driver string `env:"BROKER_DRIVER" envDefault:"rabbitmq"`

	RabbitURL string `env:"RABBIT"`
	Prefetch  int    `env:"RABBIT_PREFETCH" envDefault:"1"`

	KafkaBrokers     []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaGroupPrefix string        `env:"KAFKA_GROUP_PREFIX" envDefault:"metadata"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"1"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"10ms"`
}

func (c BrokerConfig) validate() error {
	switch c.Driver {
	case DriverRabbitMQ:
		if c.RabbitURL == "" {
			return errors.New(`required environment variable "RABBIT" is not set`)
		}
	case DriverKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New(`required environment variable "KAFKA_BROKERS" is not set`)
		}
	default:
		return fmt.Errorf("unsupported broker driver: %s", c.Driver)
	}
	return nil
}

type IngestionConfig struct {
	RetryInitialInterval time.Duration `env:"INGESTION_RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	RetryMaxInterval     time.Duration `env:"INGESTION_RETRY_MAX_INTERVAL" envDefault:"30s"`
}

// BackendsConfig is the gateway's static routing table.
type BackendsConfig struct {
	Metadata  string `env:"METADATA_URL" envDefault:"http://metadata"`
	History   string `env:"HISTORY_URL" envDefault:"http://history"`
	Streaming string `env:"VIDEO_STREAMING_URL" envDefault:"http://video-streaming"`
	Upload    string `env:"VIDEO_UPLOAD_URL" envDefault:"http://video-upload"`
	Advertise string `env:"ADVERTISE_URL" envDefault:"http://advertise"`
}

type StreamConfig struct {
	IdleTimeout           time.Duration `env:"GATEWAY_STREAM_IDLE_TIMEOUT" envDefault:"60s"`
	ResponseHeaderTimeout time.Duration `env:"GATEWAY_RESPONSE_HEADER_TIMEOUT" envDefault:"30s"`
	AggregateTimeout      time.Duration `env:"GATEWAY_AGGREGATE_TIMEOUT" envDefault:"15s"`
	BufferBytes           int           `env:"GATEWAY_STREAM_BUFFER_BYTES" envDefault:"32768"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"videos"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type UploadLimits struct {
	MaxSizeBytes int64 `env:"UPLOAD_MAX_SIZE_BYTES" envDefault:"10737418240"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=flixtube"`
}

type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR" envDefault:":9102"`
}

// LoadMetadata parses the metadata service configuration.
func LoadMetadata() (*Metadata, error) {
	cfg, err := parse[Metadata]()
	if err != nil {
		return nil, err
	}
	if err := cfg.Broker.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadGateway parses the gateway configuration.
func LoadGateway() (*Gateway, error) {
	return parse[Gateway]()
}

// LoadUpload parses the video-upload backend configuration.
func LoadUpload() (*Upload, error) {
	cfg, err := parse[Upload]()
	if err != nil {
		return nil, err
	}
	if err := cfg.Broker.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStreaming parses the video-streaming backend configuration.
func LoadStreaming() (*Streaming, error) {
	return parse[Streaming]()
}

func parse[T any]() (*T, error) {
	cfg := new(T)
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
