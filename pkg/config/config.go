package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrMissingToken = errors.New("AWAIR_TOKEN is required")

type Config struct {
	Awair    AwairConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	MQTT     MQTTConfig
	HTTP     HTTPConfig
	SMTP     SMTPConfig
}

// AwairConfig holds the bridge options. Fields carry yaml tags for the
// optional AWAIR_CONFIG_FILE overlay.
type AwairConfig struct {
	Token              string        `yaml:"token"`
	UserType           string        `yaml:"userType"`
	CloudBaseURL       string        `yaml:"cloudBaseURL"`
	RequestTimeout     time.Duration `yaml:"requestTimeout"`
	Endpoint           string        `yaml:"endpoint"`
	Method             string        `yaml:"method"`
	Limit              int           `yaml:"limit"`
	ScoreTable         string        `yaml:"scoreTable"` // legacy, revised or auto
	CO2On              float64       `yaml:"carbonDioxideThreshold"`
	CO2Off             float64       `yaml:"carbonDioxideThresholdOff"`
	VOCOn              float64       `yaml:"vocThreshold"`
	VOCOff             float64       `yaml:"vocThresholdOff"`
	PM25On             float64       `yaml:"pm25Threshold"`
	PM25Off            float64       `yaml:"pm25ThresholdOff"`
	VOCAlerts          bool          `yaml:"vocAlerts"`
	PM25Alerts         bool          `yaml:"pm25Alerts"`
	VOCMolecularWeight float64       `yaml:"vocMw"`
	OccupancyDetection bool          `yaml:"occupancyDetection"`
	OccupancyOffset    float64       `yaml:"occupancyOffset"`
	OccupancyRestart   bool          `yaml:"occupancyRestart"`
	OccupancyInterval  time.Duration `yaml:"occupancyInterval"`
	EnableModes        bool          `yaml:"enableModes"`
	Logging            bool          `yaml:"logging"`
	Verbose            bool          `yaml:"verbose"`
	Development        bool          `yaml:"development"`
	IgnoredDevices     []string      `yaml:"ignoredDevices"`
	MaxDevices         int           `yaml:"maxDevices"`
	Workers            int           `yaml:"workers"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled              bool
	Brokers              []string
	TopicCharacteristics string
	TopicAlerts          string
	NumPartitions        int
}

type MQTTConfig struct {
	Enabled      bool
	Broker       string
	ClientID     string
	Username     string
	Password     string
	TopicPattern string
	QoS          int
	Retain       bool
}

type HTTPConfig struct {
	Enabled bool
	Port    int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Awair: AwairConfig{
			Token:              getEnv("AWAIR_TOKEN", ""),
			UserType:           getEnv("AWAIR_USER_TYPE", "users/self"),
			CloudBaseURL:       getEnv("AWAIR_CLOUD_URL", "https://developer-apis.awair.is/v1"),
			RequestTimeout:     getEnvAsDuration("AWAIR_REQUEST_TIMEOUT", 10*time.Second),
			Endpoint:           getEnv("AWAIR_ENDPOINT", "15-min-avg"),
			Method:             getEnv("AWAIR_METHOD", "awair-aqi"),
			Limit:              getEnvAsInt("AWAIR_LIMIT", 1),
			ScoreTable:         getEnv("AWAIR_SCORE_TABLE", "auto"),
			CO2On:              getEnvAsFloat("AWAIR_CO2_THRESHOLD", 1000),
			CO2Off:             getEnvAsFloat("AWAIR_CO2_THRESHOLD_OFF", 800),
			VOCOn:              getEnvAsFloat("AWAIR_VOC_THRESHOLD", 1000),
			VOCOff:             getEnvAsFloat("AWAIR_VOC_THRESHOLD_OFF", 800),
			PM25On:             getEnvAsFloat("AWAIR_PM25_THRESHOLD", 35),
			PM25Off:            getEnvAsFloat("AWAIR_PM25_THRESHOLD_OFF", 20),
			VOCAlerts:          getEnvAsBool("AWAIR_VOC_ALERTS", false),
			PM25Alerts:         getEnvAsBool("AWAIR_PM25_ALERTS", false),
			VOCMolecularWeight: getEnvAsFloat("AWAIR_VOC_MW", 72.66578273019740),
			OccupancyDetection: getEnvAsBool("AWAIR_OCCUPANCY_DETECTION", false),
			OccupancyOffset:    getEnvAsFloat("AWAIR_OCCUPANCY_OFFSET", 2.0),
			OccupancyRestart:   getEnvAsBool("AWAIR_OCCUPANCY_RESTART", false),
			OccupancyInterval:  getEnvAsDuration("AWAIR_OCCUPANCY_INTERVAL", 30*time.Second),
			EnableModes:        getEnvAsBool("AWAIR_ENABLE_MODES", false),
			Logging:            getEnvAsBool("AWAIR_LOGGING", true),
			Verbose:            getEnvAsBool("AWAIR_VERBOSE", false),
			Development:        getEnvAsBool("AWAIR_DEVELOPMENT", false),
			IgnoredDevices:     getEnvAsList("AWAIR_IGNORED_DEVICES"),
			MaxDevices:         getEnvAsInt("AWAIR_MAX_DEVICES", 0),
			Workers:            getEnvAsInt("AWAIR_WORKERS", 4),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "awair_user"),
			Password: getEnv("DB_PASSWORD", "awair_pass"),
			DBName:   getEnv("DB_NAME", "awair_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled:              getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:              strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicCharacteristics: getEnv("KAFKA_TOPIC_CHARACTERISTICS", "awair.characteristics"),
			TopicAlerts:          getEnv("KAFKA_TOPIC_ALERTS", "awair.alerts"),
			NumPartitions:        getEnvAsInt("KAFKA_NUM_PARTITIONS", 3),
		},
		MQTT: MQTTConfig{
			Enabled:      getEnvAsBool("MQTT_ENABLED", false),
			Broker:       getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID:     getEnv("MQTT_CLIENT_ID", "awair-bridge"),
			Username:     getEnv("MQTT_USERNAME", ""),
			Password:     getEnv("MQTT_PASSWORD", ""),
			TopicPattern: getEnv("MQTT_TOPIC_PATTERN", "awair/{device_id}/{characteristic}"),
			QoS:          getEnvAsInt("MQTT_QOS", 1),
			Retain:       getEnvAsBool("MQTT_RETAIN", true),
		},
		HTTP: HTTPConfig{
			Enabled: getEnvAsBool("HTTP_ENABLED", true),
			Port:    getEnvAsInt("HTTP_PORT", 8080),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "awair-bridge@example.com"),
			To:       getEnv("SMTP_TO", "admin@example.com"),
		},
	}

	if path := getEnv("AWAIR_CONFIG_FILE", ""); path != "" {
		if err := config.Awair.overlay(path); err != nil {
			log.Printf("Warning: ignoring config file %s: %v", path, err)
		}
	}

	if config.Awair.Token == "" {
		return nil, ErrMissingToken
	}

	return config, nil
}

// overlay replaces the fields present in a YAML file
func (a *AwairConfig) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseAwair(data, a)
}

// ParseAwair decodes YAML onto an existing configuration. Keys not present in
// the document keep their current values.
func ParseAwair(data []byte, a *AwairConfig) error {
	if err := yaml.Unmarshal(data, a); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string) []string {
	var list []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
