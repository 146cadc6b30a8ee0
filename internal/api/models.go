package api

import "github.com/google/uuid"

// RegisterDeviceRequest registers this bridge as a mobile device so the
// cloud accepts its sessions.
type RegisterDeviceRequest struct {
	AppVersion        string `json:"app_version"`
	DeviceID          string `json:"device_id"`
	Locale            string `json:"locale"`
	NotificationToken string `json:"notification_token"`
	Platform          string `json:"platform"`
	Version           string `json:"version"`
}

// NewRegisterDeviceRequest builds a registration with a fresh device id.
func NewRegisterDeviceRequest(locale string) RegisterDeviceRequest {
	return RegisterDeviceRequest{
		AppVersion: "3.9.0",
		DeviceID:   uuid.NewString(),
		Locale:     locale,
		Platform:   "android",
		Version:    "11",
	}
}

// RegisterDeviceResponse is the cloud's registration record.
type RegisterDeviceResponse struct {
	AppVersion        string `json:"app_version"`
	DeviceID          string `json:"device_id"`
	ID                string `json:"id"`
	InsertedAt        string `json:"inserted_at"`
	Locale            string `json:"locale"`
	NotificationToken string `json:"notification_token"`
	Platform          string `json:"platform"`
	UpdatedAt         string `json:"updated_at"`
	UserID            string `json:"user_id"`
	Version           string `json:"version"`
}

// Robot is the immutable robot identity owned by the cloud registry.
type Robot struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Serial     string `json:"serial"`
	UserID     string `json:"user_id"`
	Timezone   string `json:"timezone"`
	Vendor     string `json:"vendor"`
	Firmware   string `json:"firmware"`
	ModelName  string `json:"model_name"`
	BirthDate  string `json:"birth_date"`
	MACAddress string `json:"mac_address,omitempty"`
}

// CleaningModes describes the feature set of a robot.
type CleaningModes struct {
	MaxFloorplans       int      `json:"max_floorplans"`
	MaxCleaningZones    int      `json:"max_cleaning_zones"`
	MaxCleanableZones   int      `json:"max_cleanable_zones"`
	MaxNoGoZones        int      `json:"max_no_go_zones"`
	ExtraCareNavigation bool     `json:"extra_care_navigation"`
	VacuumingModes      []string `json:"vacuuming_modes"`
	RemindersEnabled    bool     `json:"reminders_enabled"`
	ObjectAvoidance     bool     `json:"object_avoidance"`
	BackupAndRestore    bool     `json:"backup_and_restore"`
	AreaConfiguration   bool     `json:"area_configuration"`
	OverhangDetection   bool     `json:"overhang_detection"`
}

// RobotMap is a stored floor plan. Only the fields the bridge needs are
// decoded; the map imagery stays opaque.
type RobotMap struct {
	Default       bool   `json:"default"`
	Name          string `json:"name"`
	FloorplanUUID string `json:"floorplan_uuid"`
	RankUUID      string `json:"rank_uuid"`
	Promotable    bool   `json:"promotable"`
	PromotedAt    string `json:"promoted_at,omitempty"`
	StartedBy     string `json:"started_by"`
	InsertedAt    string `json:"inserted_at"`
	UpdatedAt     string `json:"updated_at"`
}

// CleaningTrack is a named cleaning zone within a floor plan.
type CleaningTrack struct {
	TrackUUID    string `json:"track_uuid"`
	Name         string `json:"name"`
	IconID       string `json:"icon_id"`
	Type         string `json:"type"`
	CleaningMode string `json:"cleaning_mode"`
	InsertedAt   string `json:"inserted_at"`
	UpdatedAt    string `json:"updated_at"`
}

// MapDetails selects the floor plan (and optionally a zone) for a run.
type MapDetails struct {
	FloorplanUUID string  `json:"floorplan_uuid"`
	ZoneUUID      *string `json:"zone_uuid"`
	NogoEnabled   bool    `json:"nogo_enabled"`
}

// RunSettings are the requested cleaning parameters; mode is one of
// auto/eco/turbo.
type RunSettings struct {
	Mode           string `json:"mode"`
	NavigationMode string `json:"navigation_mode"`
}

// CleaningRun is one run inside a start request. Map is null for robots
// without floor plans.
type CleaningRun struct {
	Settings RunSettings `json:"settings"`
	Map      *MapDetails `json:"map"`
}

// CleaningStartRequest starts a cleaning session.
type CleaningStartRequest struct {
	Runs    []CleaningRun `json:"runs"`
	Ability string        `json:"ability"`
}

// CleaningTiming mirrors the per-run timing block of cleaning.show.
type CleaningTiming struct {
	Charging int    `json:"charging"`
	End      string `json:"end"`
	Error    int    `json:"error"`
	Paused   int    `json:"paused"`
	Start    string `json:"start"`
}

// CleaningShowRun is one run inside a cleaning.show response.
type CleaningShowRun struct {
	Settings  RunSettings    `json:"settings"`
	State     string         `json:"state"`
	Stats     CleaningStats  `json:"stats"`
	Timing    CleaningTiming `json:"timing"`
	TrackName string         `json:"track_name"`
	TrackUUID string         `json:"track_uuid"`
}

// CleaningStats are the per-run results.
type CleaningStats struct {
	Area        float64 `json:"area"`
	PickupCount int     `json:"pickup_count"`
}

// CleaningShowResponse is the current cleaning session as reported by the
// cleaning.show ability.
type CleaningShowResponse struct {
	Ability       string            `json:"ability"`
	CleaningType  string            `json:"cleaning_type"`
	FloorplanUUID string            `json:"floorplan_uuid"`
	Runs          []CleaningShowRun `json:"runs"`
	StartedBy     string            `json:"started_by"`
	Timing        CleaningTiming    `json:"timing"`
}
