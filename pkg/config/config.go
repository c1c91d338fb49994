package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// MQTT Configuration
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// MQTT topics
	MQTTTopicSensor    string
	MQTTTopicHeater    string
	MQTTTopicAlert     string
	MQTTTopicTelemetry string
	MQTTTopicStatus    string

	// ClickHouse Configuration
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// Kafka Configuration (empty brokers disables the sink)
	KafkaBrokers []string
	KafkaTopic   string

	// Alert email Configuration (empty host disables email)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	AlertFrom    string
	AlertTo      []string
	AlertWindow  time.Duration
	AlertTimeout time.Duration

	// Files
	ExperimentFile   string
	ProfileFile      string
	ProfileShiftDays float64
	DataDir          string
	LogFile          string
	HTTPAddr         string

	// Sensors
	SensorSource     string // "w1" or "mqtt"
	W1Dir            string
	SensorMaxAge     time.Duration
	SensorRetries    int
	SensorBackoff    time.Duration
	RepeatCount      int
	InterSampleDelay time.Duration
	InterRepeatDelay time.Duration
	ConcurrentReads  bool

	// Control loop
	TickInterval     time.Duration
	PollInterval     time.Duration
	MaxGroupFailures int

	// Heaters
	GPIOEnabled   bool
	GPIOActiveLow bool
	MQTTHeaters   bool
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		// MQTT Configuration
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "mhw-controller"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		// MQTT topics
		MQTTTopicSensor:    getEnv("MQTT_TOPIC_SENSOR", "sensor/+/temperature"),
		MQTTTopicHeater:    getEnv("MQTT_TOPIC_HEATER", "heater/{device_id}/set"),
		MQTTTopicAlert:     getEnv("MQTT_TOPIC_ALERT", "mhw/alerts"),
		MQTTTopicTelemetry: getEnv("MQTT_TOPIC_TELEMETRY", ""),
		MQTTTopicStatus:    getEnv("MQTT_TOPIC_STATUS", "mhw/controller/status"),

		// ClickHouse Configuration
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "mhw"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		// Kafka Configuration
		KafkaBrokers: getEnvList("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "mhw.ticks"),

		// Alert email Configuration
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		AlertFrom:    getEnv("ALERT_FROM", ""),
		AlertTo:      getEnvList("ALERT_TO", nil),
		AlertWindow:  getEnvDuration("ALERT_WINDOW", 5*time.Minute),
		AlertTimeout: getEnvDuration("ALERT_TIMEOUT", 10*time.Second),

		// Files
		ExperimentFile:   getEnv("EXPERIMENT_FILE", "./configs/experiment.yaml"),
		ProfileFile:      getEnv("PROFILE_FILE", "./mhw_profile.csv"),
		ProfileShiftDays: getEnvFloat("PROFILE_SHIFT_DAYS", 0),
		DataDir:          getEnv("DATA_DIR", "./data"),
		LogFile:          getEnv("LOG_FILE", ""),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),

		// Sensors
		SensorSource:     getEnv("SENSOR_SOURCE", "w1"),
		W1Dir:            getEnv("W1_DIR", "/sys/bus/w1/devices"),
		SensorMaxAge:     getEnvDuration("SENSOR_MAX_AGE", 2*time.Minute),
		SensorRetries:    getEnvInt("SENSOR_RETRIES", 3),
		SensorBackoff:    getEnvDuration("SENSOR_BACKOFF", 200*time.Millisecond),
		RepeatCount:      getEnvInt("REPEAT_COUNT", 3),
		InterSampleDelay: getEnvDuration("INTER_SAMPLE_DELAY", 100*time.Millisecond),
		InterRepeatDelay: getEnvDuration("INTER_REPEAT_DELAY", 100*time.Millisecond),
		ConcurrentReads:  getEnvBool("CONCURRENT_READS", false),

		// Control loop
		TickInterval:     getEnvDuration("TICK_INTERVAL", 30*time.Second),
		PollInterval:     getEnvDuration("POLL_INTERVAL", 100*time.Millisecond),
		MaxGroupFailures: getEnvInt("MAX_GROUP_FAILURES", 0),

		// Heaters
		GPIOEnabled:   getEnvBool("GPIO_ENABLED", true),
		GPIOActiveLow: getEnvBool("GPIO_ACTIVE_LOW", false),
		MQTTHeaters:   getEnvBool("MQTT_HEATERS", false),
	}
}

// MQTTEnabled reports whether any component needs the broker
func (c *Config) MQTTEnabled() bool {
	return c.SensorSource == "mqtt" || c.MQTTHeaters || c.MQTTTopicTelemetry != ""
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return d
}

// getEnvList splits a comma separated value, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
