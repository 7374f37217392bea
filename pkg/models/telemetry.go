package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceMetrics is one device-telemetry sample from a node. Multiple rows
// per node are expected over time; dedup happens at the raw packet layer.
type DeviceMetrics struct {
	ID                 uuid.UUID `db:"id"`
	NodeInternalID     uuid.UUID `db:"node_internal_id"`
	LoggedTime         time.Time `db:"logged_time"`
	ReportedTime       time.Time `db:"reported_time"`
	BatteryLevel       *float64  `db:"battery_level"`
	Voltage            *float64  `db:"voltage"`
	ChannelUtilization *float64  `db:"channel_utilization"`
	AirUtilTx          *float64  `db:"air_util_tx"`
	UptimeSeconds      *int64    `db:"uptime_seconds"`
}

// EnvironmentMetrics is one environmental-sensor sample from a node.
type EnvironmentMetrics struct {
	ID                 uuid.UUID `db:"id"`
	NodeInternalID     uuid.UUID `db:"node_internal_id"`
	LoggedTime         time.Time `db:"logged_time"`
	ReportedTime       time.Time `db:"reported_time"`
	Temperature        *float64  `db:"temperature"`
	RelativeHumidity   *float64  `db:"relative_humidity"`
	BarometricPressure *float64  `db:"barometric_pressure"`
	GasResistance      *float64  `db:"gas_resistance"`
	Iaq                *float64  `db:"iaq"`
}
