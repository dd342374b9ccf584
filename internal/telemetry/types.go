package telemetry

import "time"

// Event is one playback metric sample reported by a screen frontend.
type Event struct {
	MetricName string    `json:"metric_name"`
	Value      float64   `json:"value"`
	IDValue    string    `json:"id_value"`
	Path       string    `json:"path"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MetricRebuffer is the playback-stall metric the storm detector watches.
const MetricRebuffer = "rebuffer"
