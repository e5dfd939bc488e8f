package models

// AlertPath is a sampled start/end alert pair with its context and answer
// entities. ShortestAlertPath lists the alerts along Path; Path is the full
// alternating alert/entity node sequence.
type AlertPath struct {
	StartAlert        int64   `json:"start_alert"`
	EndAlert          int64   `json:"end_alert"`
	StartEntities     []int64 `json:"start_entities"`
	EndEntities       []int64 `json:"end_entities"`
	ShortestAlertPath []int64 `json:"shortest_alert_path"`
	Path              []int64 `json:"path,omitempty"`
}

// Difficulty is the number of alerts on the shortest path.
func (p AlertPath) Difficulty() int {
	return len(p.ShortestAlertPath)
}
