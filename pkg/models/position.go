package models

import (
	"time"

	"github.com/google/uuid"
)

// LocationSource mirrors the Meshtastic position source enum.
type LocationSource int16

const (
	LocUnset LocationSource = iota
	LocManual
	LocInternal
	LocExternal
)

var locationSourceNames = map[string]LocationSource{
	"UNSET":        LocUnset,
	"LOC_MANUAL":   LocManual,
	"LOC_INTERNAL": LocInternal,
	"LOC_EXTERNAL": LocExternal,
}

// ParseLocationSource maps the string form used on the wire to its enum
// value. Unknown strings fall back to LocUnset.
func ParseLocationSource(s string) LocationSource {
	if v, ok := locationSourceNames[s]; ok {
		return v
	}
	return LocUnset
}

// Position is one position report from a node.
type Position struct {
	ID             uuid.UUID      `db:"id"`
	NodeInternalID uuid.UUID      `db:"node_internal_id"`
	LoggedTime     time.Time      `db:"logged_time"`
	ReportedTime   time.Time      `db:"reported_time"`
	Latitude       *float64       `db:"latitude"`
	Longitude      *float64       `db:"longitude"`
	Altitude       *float64       `db:"altitude"`
	Heading        *float64       `db:"heading"`
	LocationSource LocationSource `db:"location_source"`
	PrecisionBits  *int16         `db:"precision_bits"`
	GroundSpeed    *float64       `db:"ground_speed"`
	GroundTrack    *float64       `db:"ground_track"`
	SatsInView     *int16         `db:"sats_in_view"`
	Pdop           *float64       `db:"pdop"`
}
