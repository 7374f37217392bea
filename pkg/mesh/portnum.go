package mesh

// Port numbers arrive as the string names produced by the Meshtastic
// software stack (e.g. "TELEMETRY_APP"). The set handled here is closed;
// anything else is accepted but produces no typed projection.
const (
	PortNodeInfo    = "NODEINFO_APP"
	PortPosition    = "POSITION_APP"
	PortTelemetry   = "TELEMETRY_APP"
	PortTextMessage = "TEXT_MESSAGE_APP"
)
