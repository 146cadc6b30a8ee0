package state

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizationError reports a status payload whose shape could not be
// decoded. The previous device state stays in effect.
type NormalizationError struct {
	Err error
}

func (e *NormalizationError) Error() string { return fmt.Sprintf("normalize payload: %v", e.Err) }

func (e *NormalizationError) Unwrap() error { return e.Err }

// raw shapes use pointers so that absent fields are distinguishable from
// zero values and can take their documented defaults. Unknown extra fields
// are ignored.
type rawStatusBody struct {
	Action            *string            `json:"action"`
	State             *string            `json:"state"`
	AvailableCommands map[string]bool    `json:"available_commands"`
	CleaningCenter    *rawCleaningCenter `json:"cleaning_center"`
	Details           *rawDetails        `json:"details"`
	Errors            []rawError         `json:"errors"`
}

type rawCleaningCenter struct {
	BagStatus *string `json:"bag_status"`
	BaseError *string `json:"base_error"`
	State     *string `json:"state"`
}

type rawDetails struct {
	BaseType           *string `json:"base_type"`
	Charge             *int    `json:"charge"`
	IsCharging         *bool   `json:"is_charging"`
	IsDocked           *bool   `json:"is_docked"`
	IsQuickboost       *bool   `json:"is_quickboost"`
	QuickboostEstimate *int    `json:"quickboost_estimate"`
}

type rawError struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
}

// Normalize converts a raw status body into a fully-populated DeviceState.
// Every sub-object may be absent; the result always carries the documented
// defaults instead of partial data.
func Normalize(raw []byte) (*DeviceState, error) {
	var body rawStatusBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &NormalizationError{Err: err}
	}

	ds := &DeviceState{
		Details: Details{Charge: -1},
		Errors:  []RobotError{},
	}

	if body.Action != nil {
		ds.RawAction = *body.Action
	}
	ds.Action = NormalizeAction(ds.RawAction)
	if body.State != nil {
		ds.RawState = *body.State
	}

	// Received command keys win over the all-false defaults; unknown keys
	// are ignored.
	for name, v := range body.AvailableCommands {
		switch name {
		case "cancel":
			ds.AvailableCommands.Cancel = v
		case "extract":
			ds.AvailableCommands.Extract = v
		case "pause":
			ds.AvailableCommands.Pause = v
		case "resume":
			ds.AvailableCommands.Resume = v
		case "return_to_base":
			ds.AvailableCommands.ReturnToBase = v
		case "start":
			ds.AvailableCommands.Start = v
		}
	}

	if cc := body.CleaningCenter; cc != nil {
		if cc.BagStatus != nil {
			ds.CleaningCenter.BagStatus = *cc.BagStatus
		}
		if cc.BaseError != nil {
			ds.CleaningCenter.BaseError = *cc.BaseError
		}
		if cc.State != nil {
			ds.CleaningCenter.State = *cc.State
		}
	}

	if d := body.Details; d != nil {
		if d.BaseType != nil {
			ds.Details.BaseType = *d.BaseType
		}
		if d.Charge != nil {
			ds.Details.Charge = *d.Charge
		}
		if d.IsCharging != nil {
			ds.Details.IsCharging = *d.IsCharging
		}
		if d.IsDocked != nil {
			ds.Details.IsDocked = *d.IsDocked
		}
		if d.IsQuickboost != nil {
			ds.Details.IsQuickboost = *d.IsQuickboost
		}
		if d.QuickboostEstimate != nil {
			ds.Details.QuickboostEstimate = *d.QuickboostEstimate
		}
	}

	for _, e := range body.Errors {
		ds.Errors = append(ds.Errors, RobotError{Code: e.Code, Severity: e.Severity})
	}

	return ds, nil
}

// NormalizeAction lowercases and trims an action token. The literal value
// "invalid" counts as empty.
func NormalizeAction(action string) string {
	normalized := strings.ToLower(strings.TrimSpace(action))
	if normalized == "invalid" {
		return ""
	}
	return normalized
}

type rawCleaningPayload struct {
	Code  *int            `json:"code"`
	Body  json.RawMessage `json:"body"`
	State json.RawMessage `json:"state"`
}

type rawCleaningBody struct {
	Ability       string          `json:"ability"`
	CleaningType  string          `json:"cleaning_type"`
	FloorplanUUID string          `json:"floorplan_uuid"`
	Runs          []rawRun        `json:"runs"`
	StartedBy     string          `json:"started_by"`
	Timing        json.RawMessage `json:"timing"`
}

type rawRun struct {
	Settings  *RunSettings    `json:"settings"`
	State     string          `json:"state"`
	Stats     *RunStats       `json:"stats"`
	Timing    json.RawMessage `json:"timing"`
	TrackName string          `json:"track_name"`
	TrackUUID string          `json:"track_uuid"`
}

// NormalizeCleaning converts a cleaning_state payload into a CleaningState.
// Phoenix frames carry the data in "body" next to a status code; flat events
// put it in "state". Either may be missing entirely, which yields an empty
// session with code 200.
func NormalizeCleaning(payload []byte) (*CleaningState, error) {
	var env rawCleaningPayload
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &NormalizationError{Err: err}
	}

	source := env.Body
	if len(source) == 0 || string(source) == "null" {
		source = env.State
	}
	if len(source) == 0 || string(source) == "null" {
		source = json.RawMessage("{}")
	}

	var body rawCleaningBody
	if err := json.Unmarshal(source, &body); err != nil {
		return nil, &NormalizationError{Err: err}
	}

	cs := &CleaningState{
		Code:          200,
		Ability:       body.Ability,
		CleaningType:  body.CleaningType,
		FloorplanUUID: body.FloorplanUUID,
		Runs:          []Run{},
		StartedBy:     body.StartedBy,
		Timing:        normalizeTiming(body.Timing),
	}
	if env.Code != nil {
		cs.Code = *env.Code
	}

	for _, r := range body.Runs {
		run := Run{
			State:     r.State,
			Timing:    normalizeTiming(r.Timing),
			TrackName: r.TrackName,
			TrackUUID: r.TrackUUID,
		}
		if r.Settings != nil {
			run.Settings = *r.Settings
		}
		if r.Stats != nil {
			run.Stats = *r.Stats
		}
		cs.Runs = append(cs.Runs, run)
	}

	return cs, nil
}

// normalizeTiming merges received timing fields over the defaults
// {charging:0, end:"", error:0, paused:0, start:""}. A malformed timing
// object degrades to the defaults rather than failing the whole payload.
func normalizeTiming(raw json.RawMessage) RunTiming {
	var t RunTiming
	if len(raw) == 0 || string(raw) == "null" {
		return t
	}
	_ = json.Unmarshal(raw, &t)
	return t
}
