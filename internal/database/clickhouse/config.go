package clickhouse

// DefaultTable is the readings table created on connect
const DefaultTable = "telemetry_readings"

// Config holds ClickHouse connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Table    string
}
