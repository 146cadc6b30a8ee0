// Package state normalizes the raw robot status payloads into a canonical
// device state and maps them to a coarse activity.
package state

// Activity is the canonical coarse-grained robot status. The zero value is
// idle so that a fresh reconciler starts from a sane prior.
type Activity int

const (
	ActivityIdle Activity = iota
	ActivityCleaning
	ActivityDocked
	ActivityPaused
	ActivityReturning
	ActivityError
)

func (a Activity) String() string {
	switch a {
	case ActivityCleaning:
		return "cleaning"
	case ActivityDocked:
		return "docked"
	case ActivityPaused:
		return "paused"
	case ActivityReturning:
		return "returning"
	case ActivityError:
		return "error"
	default:
		return "idle"
	}
}

// AvailableCommands is the set of commands the robot currently accepts.
// Everything defaults to false when the cloud omits the field.
type AvailableCommands struct {
	Cancel       bool `json:"cancel"`
	Extract      bool `json:"extract"`
	Pause        bool `json:"pause"`
	Resume       bool `json:"resume"`
	ReturnToBase bool `json:"return_to_base"`
	Start        bool `json:"start"`
}

// CleaningCenter carries the dust-bag station status. Empty strings stand in
// for the nulls the cloud sends.
type CleaningCenter struct {
	BagStatus string `json:"bag_status"`
	BaseError string `json:"base_error"`
	State     string `json:"state"`
}

// Details holds battery and docking information. Charge is -1 when the cloud
// did not report it.
type Details struct {
	BaseType           string `json:"base_type"`
	Charge             int    `json:"charge"`
	IsCharging         bool   `json:"is_charging"`
	IsDocked           bool   `json:"is_docked"`
	IsQuickboost       bool   `json:"is_quickboost"`
	QuickboostEstimate int    `json:"quickboost_estimate"`
}

// RobotError is a cloud-reported robot fault.
type RobotError struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
}

// DeviceState is the fully-defaulted normalization of a status payload.
// Errors is never nil.
type DeviceState struct {
	Action            string            `json:"action"`     // normalized lowercase
	RawAction         string            `json:"raw_action"` // as received, for display
	RawState          string            `json:"raw_state"`  // busy/idle/paused/error/charging
	AvailableCommands AvailableCommands `json:"available_commands"`
	CleaningCenter    CleaningCenter    `json:"cleaning_center"`
	Details           Details           `json:"details"`
	Errors            []RobotError      `json:"errors"`
}

// RunSettings are the per-run cleaning parameters.
type RunSettings struct {
	Mode           string `json:"mode"`
	NavigationMode string `json:"navigation_mode"`
}

// RunStats are the per-run cleaning results.
type RunStats struct {
	Area        float64 `json:"area"`
	PickupCount int     `json:"pickup_count"`
}

// RunTiming are the per-run timestamps and durations.
type RunTiming struct {
	Charging int    `json:"charging"`
	End      string `json:"end"`
	Error    int    `json:"error"`
	Paused   int    `json:"paused"`
	Start    string `json:"start"`
}

// Run is a single cleaning run within a session.
type Run struct {
	Settings  RunSettings `json:"settings"`
	State     string      `json:"state"`
	Stats     RunStats    `json:"stats"`
	Timing    RunTiming   `json:"timing"`
	TrackName string      `json:"track_name"`
	TrackUUID string      `json:"track_uuid"`
}

// CleaningState is the normalized cleaning_state payload.
type CleaningState struct {
	Code          int       `json:"code"`
	Ability       string    `json:"ability"`
	CleaningType  string    `json:"cleaning_type"`
	FloorplanUUID string    `json:"floorplan_uuid"`
	Runs          []Run     `json:"runs"`
	StartedBy     string    `json:"started_by"`
	Timing        RunTiming `json:"timing"`
}

var cleaningActions = map[string]bool{
	"cleaning":      true,
	"fast_mapping":  true,
	"mapping":       true,
	"map_creation":  true,
	"spot_cleaning": true,
}

var returningActions = map[string]bool{
	"docking":    true,
	"returning":  true,
	"going_home": true,
}

// MapActivity maps a normalized status to an Activity. The precedence order
// matters; in particular rule 6 keeps the previous activity when the cloud
// reports "busy" with an empty or stale action, because it frequently does so
// mid-cycle and without the hysteresis the visible state would flap.
func MapActivity(rawState, action string, errs []RobotError, isDocked bool, prev Activity) Activity {
	switch {
	case len(errs) > 0:
		return ActivityError
	case cleaningActions[action]:
		return ActivityCleaning
	case returningActions[action]:
		return ActivityReturning
	case rawState == "idle" && isDocked:
		return ActivityDocked
	case rawState == "paused":
		return ActivityPaused
	case rawState == "busy":
		if prev == ActivityCleaning || prev == ActivityReturning {
			return prev
		}
		if action != "" {
			return ActivityCleaning
		}
		return prev
	case rawState == "idle":
		return ActivityIdle
	default:
		return prev
	}
}
