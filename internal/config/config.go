package config

import (
	"bufio"
	"can-telemetry-bridge/internal/models"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// CAN adapter
	CANAdapter   string
	CANInterface string
	CANFilters   []uint32
	CANBatchSize int
	SLCANPort    string
	SLCANBaud    int
	SLCANBitrate int

	// Signals
	SignalsFile    string
	SignalsInline  string
	TrackedSignals []string

	// Throttle
	PauseThreshold int
	PauseDuration  time.Duration

	// Health
	HealthInterval time.Duration
	HealthTimeout  time.Duration

	// Telemetry
	TelemetryEnabled  bool
	TelemetryBackends []string

	// Cayenne MQTT
	MQTTUser   string
	MQTTPass   string
	MQTTClient string
	MQTTHost   string

	// InfluxDB
	InfluxDBURL      string
	InfluxDBToken    string
	InfluxDBDatabase string

	// ClickHouse
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
	ClickHouseTable    string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// General
	BatchSize int
	LogLevel  string
	LogFormat string
	LogFile   string
	APIPort   int

	// EnvFile is the file the configuration was read from, empty when none was found
	EnvFile string
}

// Keys lists every configuration key, in the order they are documented
var Keys = []string{
	"CAN_ADAPTER", "CAN_INTERFACE", "CAN_FILTERS", "CAN_BATCH_SIZE",
	"SLCAN_PORT", "SLCAN_BAUD", "SLCAN_BITRATE",
	"SIGNALS_FILE", "SIGNALS", "TRACKED_SIGNALS",
	"THROTTLE_PAUSE_THRESHOLD", "THROTTLE_PAUSE_DURATION",
	"HEALTH_INTERVAL", "HEALTH_TIMEOUT",
	"TELEMETRY_ENABLED", "WIFI_ENABLED", "TELEMETRY_BACKEND",
	"MQTT_USER", "MQTT_PASS", "MQTT_CLIENT", "MQTT_HOST",
	"INFLUXDB_URL", "INFLUXDB_TOKEN", "INFLUXDB_DATABASE",
	"CLICKHOUSE_HOST", "CLICKHOUSE_PORT", "CLICKHOUSE_DATABASE", "CLICKHOUSE_USERNAME", "CLICKHOUSE_PASSWORD", "CLICKHOUSE_TABLE",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"BATCH_SIZE", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE", "API_PORT",
}

// Adapter and backend names
const (
	AdapterSocketCAN = "socketcan"
	AdapterSLCAN     = "slcan"

	BackendCayenne    = "cayenne"
	BackendInfluxDB   = "influxdb"
	BackendClickHouse = "clickhouse"
	BackendRedis      = "redis"
)

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		CANAdapter:         AdapterSocketCAN,
		CANInterface:       "can0",
		CANBatchSize:       64,
		SLCANPort:          "/dev/ttyACM0",
		SLCANBaud:          115200,
		SLCANBitrate:       500000,
		TrackedSignals:     []string{"speed"},
		PauseThreshold:     1,
		PauseDuration:      time.Second,
		HealthInterval:     5 * time.Minute,
		HealthTimeout:      10 * time.Second,
		TelemetryEnabled:   true,
		TelemetryBackends:  []string{BackendCayenne},
		MQTTHost:           "mqtt.mydevices.com:1883",
		InfluxDBURL:        "http://localhost:8181",
		InfluxDBDatabase:   "can_telemetry",
		ClickHouseHost:     "localhost",
		ClickHousePort:     9000,
		ClickHouseDatabase: "default",
		ClickHouseUsername: "default",
		ClickHouseTable:    "telemetry_readings",
		RedisAddr:          "localhost:6379",
		BatchSize:          100,
		LogLevel:           "error",
		LogFormat:          "text",
	}
}

// LoadConfig loads configuration from a .env file, then applies overrides
// from the process environment. A missing file leaves the defaults.
func LoadConfig(envFile string) (*Config, error) {
	config := Default()

	if envFile == "" {
		envFile = ".env"
	}

	if err := config.loadFile(envFile); err != nil {
		return nil, err
	}

	for _, key := range Keys {
		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := config.set(key, value); err != nil {
			return nil, fmt.Errorf("environment: %w", err)
		}
	}

	return config, nil
}

func (c *Config) loadFile(envFile string) error {
	file, err := os.Open(envFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error opening .env file: %w", err)
	}
	defer file.Close()
	c.EnvFile = envFile

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		value = strings.Trim(value, `"'`)

		if err := c.set(key, value); err != nil {
			return fmt.Errorf("%s:%d: %w", envFile, lineNo, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}
	return nil
}

// set applies one KEY=VALUE pair. Unknown keys are ignored.
func (c *Config) set(key, value string) error {
	var err error

	switch key {
	case "CAN_ADAPTER":
		c.CANAdapter = strings.ToLower(value)
	case "CAN_INTERFACE":
		c.CANInterface = value
	case "CAN_FILTERS":
		c.CANFilters, err = parseFilters(value)
	case "CAN_BATCH_SIZE":
		c.CANBatchSize, err = strconv.Atoi(value)
	case "SLCAN_PORT":
		c.SLCANPort = value
	case "SLCAN_BAUD":
		c.SLCANBaud, err = strconv.Atoi(value)
	case "SLCAN_BITRATE":
		c.SLCANBitrate, err = strconv.Atoi(value)
	case "SIGNALS_FILE":
		c.SignalsFile = value
	case "SIGNALS":
		c.SignalsInline = value
	case "TRACKED_SIGNALS":
		c.TrackedSignals = parseList(value)
	case "THROTTLE_PAUSE_THRESHOLD":
		c.PauseThreshold, err = strconv.Atoi(value)
	case "THROTTLE_PAUSE_DURATION":
		c.PauseDuration, err = parseDuration(value)
	case "HEALTH_INTERVAL":
		c.HealthInterval, err = parseDuration(value)
	case "HEALTH_TIMEOUT":
		c.HealthTimeout, err = parseDuration(value)
	case "TELEMETRY_ENABLED", "WIFI_ENABLED":
		c.TelemetryEnabled, err = strconv.ParseBool(value)
	case "TELEMETRY_BACKEND":
		c.TelemetryBackends = parseList(strings.ToLower(value))
	case "MQTT_USER":
		c.MQTTUser = value
	case "MQTT_PASS":
		c.MQTTPass = value
	case "MQTT_CLIENT":
		c.MQTTClient = value
	case "MQTT_HOST":
		c.MQTTHost = value
	case "INFLUXDB_URL":
		c.InfluxDBURL = value
	case "INFLUXDB_TOKEN":
		c.InfluxDBToken = value
	case "INFLUXDB_DATABASE":
		c.InfluxDBDatabase = value
	case "CLICKHOUSE_HOST":
		c.ClickHouseHost = value
	case "CLICKHOUSE_PORT":
		c.ClickHousePort, err = strconv.Atoi(value)
	case "CLICKHOUSE_DATABASE":
		c.ClickHouseDatabase = value
	case "CLICKHOUSE_USERNAME":
		c.ClickHouseUsername = value
	case "CLICKHOUSE_PASSWORD":
		c.ClickHousePassword = value
	case "CLICKHOUSE_TABLE":
		c.ClickHouseTable = value
	case "REDIS_ADDR":
		c.RedisAddr = value
	case "REDIS_PASSWORD":
		c.RedisPassword = value
	case "REDIS_DB":
		c.RedisDB, err = strconv.Atoi(value)
	case "BATCH_SIZE":
		c.BatchSize, err = strconv.Atoi(value)
	case "LOG_LEVEL":
		c.LogLevel = value
	case "LOG_FORMAT":
		c.LogFormat = value
	case "LOG_FILE":
		c.LogFile = value
	case "API_PORT":
		c.APIPort, err = strconv.Atoi(value)
	}

	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

// Validate checks the settings that do not depend on the signal set
func (c *Config) Validate() error {
	var errs []error

	switch c.CANAdapter {
	case AdapterSocketCAN:
		if c.CANInterface == "" {
			errs = append(errs, errors.New("CAN_INTERFACE is required for the socketcan adapter"))
		}
	case AdapterSLCAN:
		if c.SLCANPort == "" {
			errs = append(errs, errors.New("SLCAN_PORT is required for the slcan adapter"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CAN_ADAPTER '%s' (expected socketcan or slcan)", c.CANAdapter))
	}

	if c.CANBatchSize < 1 {
		errs = append(errs, fmt.Errorf("CAN_BATCH_SIZE must be at least 1, got %d", c.CANBatchSize))
	}
	if c.PauseThreshold < 1 {
		errs = append(errs, fmt.Errorf("THROTTLE_PAUSE_THRESHOLD must be at least 1, got %d", c.PauseThreshold))
	}
	if c.PauseDuration <= 0 {
		errs = append(errs, fmt.Errorf("THROTTLE_PAUSE_DURATION must be positive, got %s", c.PauseDuration))
	}
	if c.HealthInterval <= 0 {
		errs = append(errs, fmt.Errorf("HEALTH_INTERVAL must be positive, got %s", c.HealthInterval))
	}
	if c.HealthTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HEALTH_TIMEOUT must be positive, got %s", c.HealthTimeout))
	}
	if len(c.TrackedSignals) == 0 {
		errs = append(errs, errors.New("TRACKED_SIGNALS must name at least one signal"))
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("API_PORT out of range: %d", c.APIPort))
	}

	if c.TelemetryEnabled {
		if len(c.TelemetryBackends) == 0 {
			errs = append(errs, errors.New("TELEMETRY_BACKEND must name at least one backend"))
		}
		for _, backend := range c.TelemetryBackends {
			switch backend {
			case BackendCayenne:
				if c.MQTTUser == "" || c.MQTTClient == "" {
					errs = append(errs, errors.New("MQTT_USER and MQTT_CLIENT are required for the cayenne backend"))
				}
			case BackendInfluxDB, BackendClickHouse, BackendRedis:
			default:
				errs = append(errs, fmt.Errorf("unknown telemetry backend '%s'", backend))
			}
		}
	}

	return errors.Join(errs...)
}

// TrackedSpecs loads the signal set and returns the tracked signals
func (c *Config) TrackedSpecs() (models.SignalSet, []models.SignalSpec, error) {
	set, err := c.Signals()
	if err != nil {
		return nil, nil, err
	}
	specs, err := set.Select(c.TrackedSignals)
	if err != nil {
		return nil, nil, fmt.Errorf("TRACKED_SIGNALS: %w", err)
	}
	return set, specs, nil
}

// parseFilters parses comma-separated hex CAN IDs
func parseFilters(filterStr string) ([]uint32, error) {
	if filterStr == "" {
		return nil, nil
	}

	parts := strings.Split(filterStr, ",")
	filters := make([]uint32, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(strings.TrimPrefix(part, "0x"), "0X")
		if part == "" {
			continue
		}

		id, err := strconv.ParseUint(part, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid CAN id '%s'", part)
		}

		filters = append(filters, uint32(id))
	}

	return filters, nil
}

func parseList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseDuration accepts a Go duration ("1500ms", "5m") or whole seconds ("300")
func parseDuration(value string) (time.Duration, error) {
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(value)
}
