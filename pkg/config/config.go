package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server       Server      `mapstructure:"server"`
	Postgres     Postgres    `mapstructure:"postgres"`
	Broker       Broker      `mapstructure:"broker"`
	Coordinator  Coordinator `mapstructure:"coordinator"`
	Registry     Registry    `mapstructure:"registry"`
	Publisher    Publisher   `mapstructure:"publisher"`
	Maintenance  Maintenance `mapstructure:"maintenance"`
	HTTPClient   HTTPClient  `mapstructure:"httpClient"`
	LoggingLevel string      `mapstructure:"logging-level"`
}

type Server struct {
	Port string `mapstructure:"port" validate:"required"`
}

type Postgres struct {
	ConnString     string `mapstructure:"conn_string" validate:"required"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

type Broker struct {
	Kafka Kafka `mapstructure:"kafka"`
}

type Kafka struct {
	Brokers      string `mapstructure:"brokers" validate:"required"`
	ReaderTopic  string `mapstructure:"readerTopic"`
	ReaderUsr    string `mapstructure:"readerUsr"`
	ReaderUsrPwd string `mapstructure:"readerUsrPwd"`
	WriterTopic  string `mapstructure:"writerTopic"`
	WriterUsr    string `mapstructure:"writerUsr"`
	WriterUsrPwd string `mapstructure:"writerUsrPwd"`
	MaxAttempts  int    `mapstructure:"maxAttempts"`
}

// Coordinator - параметры claim-протокола.
type Coordinator struct {
	Lease       time.Duration `mapstructure:"lease"`       // срок lease; должен превышать ожидаемое время обработки потока
	ClaimLimit  int           `mapstructure:"claimLimit"`  // максимум кандидатов за один claim
	MaxAttempts int           `mapstructure:"maxAttempts"` // потолок повторов до парковки (poison)
}

// Registry - жизненный цикл записи инстанса.
type Registry struct {
	HeartbeatPeriod time.Duration `mapstructure:"heartbeatPeriod"`
	StaleAfter      time.Duration `mapstructure:"staleAfter"` // без heartbeat дольше этого окна инстанс мёртв
}

// Publisher - частота interval-стратегии исходящего воркера.
type Publisher struct {
	FlushInterval time.Duration `mapstructure:"flushInterval"` // по умолчанию 100ms
}

type Maintenance struct {
	PurgeAfterDays int    `mapstructure:"purgeAfterDays"` // хранение терминальных записей
	Schedule       string `mapstructure:"schedule"`       // cron-формат, например "0 0 3 * * *"
	Interval       string `mapstructure:"interval"`       // "@every 1h"; Schedule приоритетнее
}

type HTTPClient struct {
	ConnectTimeout        time.Duration `mapstructure:"connectTimeout"`
	TLSHandshakeTimeout   time.Duration `mapstructure:"TLSHandshakeTimeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"responseHeaderTimeout"`
	ExpectContinueTimeout time.Duration `mapstructure:"expectContinueTimeout"`

	// Пул соединений
	IdleConnTimeout     time.Duration `mapstructure:"idleConnTimeout"`
	MaxIdleConns        int           `mapstructure:"maxIdleConns"`
	MaxIdleConnsPerHost int           `mapstructure:"maxIdleConnsPerHost"`
	MaxConnsPerHost     int           `mapstructure:"maxConnsPerHost"`
	KeepAlives          bool          `mapstructure:"keepAlives"`

	// Общий таймаут клиента. 0 - контролируем дедлайном через context.
	ClientTimeout time.Duration `mapstructure:"clientTimeout"`

	UserAgent  string `mapstructure:"userAgent"`
	MaxRetries int    `mapstructure:"maxRetries"`

	InsecureSkipVerify bool `mapstructure:"insecureSkipVerify"`
}

func NewConfig() (Config, error) {
	viper.AutomaticEnv()
	// Точки и дефисы в ключах -> подчеркивания в переменных окружения
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	var conf Config
	err := viper.ReadInConfig()
	// Файл не обязателен - работаем от переменных окружения
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return conf, err
		}
	}

	if err = viper.Unmarshal(&conf); err != nil {
		return conf, err
	}

	conf.applyDefaults()

	if err := validator.New().Struct(conf); err != nil {
		return conf, fmt.Errorf("config validation: %w", err)
	}

	return conf, nil
}

func (c *Config) applyDefaults() {
	if c.Coordinator.Lease <= 0 {
		c.Coordinator.Lease = 30 * time.Second
	}
	if c.Coordinator.ClaimLimit <= 0 {
		c.Coordinator.ClaimLimit = 100
	}
	if c.Coordinator.MaxAttempts <= 0 {
		c.Coordinator.MaxAttempts = 10
	}
	if c.Registry.HeartbeatPeriod <= 0 {
		c.Registry.HeartbeatPeriod = 5 * time.Second
	}
	if c.Registry.StaleAfter <= 0 {
		c.Registry.StaleAfter = 30 * time.Second
	}
	if c.Publisher.FlushInterval <= 0 {
		c.Publisher.FlushInterval = 100 * time.Millisecond
	}
	if c.Maintenance.PurgeAfterDays <= 0 {
		c.Maintenance.PurgeAfterDays = 30
	}
}
