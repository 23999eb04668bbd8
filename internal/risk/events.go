package risk

// Outbound event names produced by evaluation.
const (
	EventPresence       = "presence"
	EventPedCritical    = "ped_critical"
	EventDriverCritical = "driver_critical"
	EventAlertEnd       = "alert_end"
)

// Event is one notification to deliver: an event name, its payload, and the
// session ids it targets. Delivery is best-effort and per-recipient.
type Event struct {
	Name    string
	SIDs    []string
	Payload map[string]any
}

func presencePayload(id string, pedCount, driverCount int, ts int64) map[string]any {
	return map[string]any{
		"crosswalk_id": id,
		"ped_count":    pedCount,
		"driver_count": driverCount,
		"ts":           ts,
	}
}

// PedCriticalPayload builds the aggregate pedestrian alert payload. Exported
// because the socket layer replays it to pedestrians joining while the alert
// is active.
func PedCriticalPayload(id string, minDistance float64, ts int64) map[string]any {
	return map[string]any{
		"crosswalk_id": id,
		"min_distance": minDistance,
		"ts":           ts,
	}
}

func alertPayload(id string, ts int64) map[string]any {
	return map[string]any{
		"crosswalk_id": id,
		"ts":           ts,
	}
}
