package store

import "time"

// Robot is the persisted robot identity.
type Robot struct {
	ID        string    `json:"id"`
	Serial    string    `json:"serial"`
	Name      string    `json:"name"`
	Vendor    string    `json:"vendor"`
	ModelName string    `json:"model_name"`
	Timezone  string    `json:"timezone"`
	Firmware  string    `json:"firmware"`
	AddedAt   time.Time `json:"added_at"`
	LastSeen  time.Time `json:"last_seen"`
}
