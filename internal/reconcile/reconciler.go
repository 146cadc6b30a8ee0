// Package reconcile merges normalized device states into a last-known-good
// snapshot and notifies the rest of the bridge about changes.
package reconcile

import (
	"slices"
	"sync"
	"time"

	"kobold-bridge/internal/state"
)

// ErrorDetail is a cloud-reported robot fault with its readable description.
type ErrorDetail struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
}

// Snapshot is the externally-visible device state. It is replaced atomically
// on every apply; readers never observe a half-updated mix of old and new
// fields.
type Snapshot struct {
	RobotID           string                  `json:"robot_id"`
	Activity          state.Activity          `json:"-"`
	ActivityName      string                  `json:"activity"`
	Action            string                  `json:"action"`
	ActionDisplay     string                  `json:"action_display"`
	RawState          string                  `json:"raw_state"`
	Status            string                  `json:"status"`
	BatteryCharge     int                     `json:"battery_charge"` // -1 when unknown
	IsCharging        bool                    `json:"is_charging"`
	IsDocked          bool                    `json:"is_docked"`
	BagStatus         string                  `json:"bag_status,omitempty"`
	AvailableCommands state.AvailableCommands `json:"available_commands"`
	Errors            []ErrorDetail           `json:"errors"`
	LastError         string                  `json:"last_error,omitempty"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// Notifier receives reconciliation results. Implementations must not call
// back into the reconciler.
type Notifier interface {
	// StateUpdated fires on every successful apply with the new snapshot.
	StateUpdated(snap Snapshot, changed bool)
	// BatteryReported fires unconditionally on every successful apply; the
	// consumer side coalesces.
	BatteryReported(robotID string, charge int, charging bool)
}

// Reconciler holds the last-known-good state for one robot. The carried
// last-non-empty action survives payloads with empty or "invalid" actions
// until a genuinely new action arrives or Reset is called.
type Reconciler struct {
	robotID  string
	notifier Notifier

	mu            sync.RWMutex
	snap          Snapshot
	lastAction    string
	lastActionRaw string
}

// New creates a reconciler with an idle, battery-unknown initial snapshot.
func New(robotID string, notifier Notifier) *Reconciler {
	return &Reconciler{
		robotID:  robotID,
		notifier: notifier,
		snap: Snapshot{
			RobotID:       robotID,
			ActivityName:  state.ActivityIdle.String(),
			BatteryCharge: -1,
			Errors:        []ErrorDetail{},
		},
	}
}

// Restore seeds the reconciler from a persisted snapshot, typically across a
// process restart. The carried action is taken from the snapshot.
func (r *Reconciler) Restore(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap.RobotID = r.robotID
	if snap.Errors == nil {
		snap.Errors = []ErrorDetail{}
	}
	r.snap = snap
	r.lastAction = snap.Action
	r.lastActionRaw = snap.ActionDisplay
}

// Apply merges a normalized device state into the snapshot and notifies.
// Returns whether the externally-visible state changed.
func (r *Reconciler) Apply(ds *state.DeviceState) bool {
	r.mu.Lock()

	action := ds.Action
	display := ds.RawAction
	if action != "" {
		r.lastAction = action
		r.lastActionRaw = ds.RawAction
	} else {
		// The cloud frequently sends empty or "invalid" actions mid-cycle;
		// reuse the last valid one instead of surfacing "unknown".
		action = r.lastAction
		if display == "" {
			display = r.lastActionRaw
		}
	}

	prev := r.snap.Activity
	activity := state.MapActivity(ds.RawState, action, ds.Errors, ds.Details.IsDocked, prev)
	status := state.StatusText(display, action, ds.RawState)

	details := make([]ErrorDetail, 0, len(ds.Errors))
	lastError := ""
	for _, e := range ds.Errors {
		details = append(details, ErrorDetail{
			Code:        e.Code,
			Description: state.DescribeError(e),
			Severity:    state.SeverityText(e.Severity),
		})
	}
	if len(details) > 0 {
		status = details[0].Description
		lastError = details[0].Description
	}

	next := Snapshot{
		RobotID:           r.robotID,
		Activity:          activity,
		ActivityName:      activity.String(),
		Action:            action,
		ActionDisplay:     display,
		RawState:          ds.RawState,
		Status:            status,
		BatteryCharge:     ds.Details.Charge,
		IsCharging:        ds.Details.IsCharging,
		IsDocked:          ds.Details.IsDocked,
		BagStatus:         ds.CleaningCenter.BagStatus,
		AvailableCommands: ds.AvailableCommands,
		Errors:            details,
		LastError:         lastError,
		UpdatedAt:         time.Now().UTC(),
	}
	// The bag status is only reported occasionally; keep the last one.
	if next.BagStatus == "" {
		next.BagStatus = r.snap.BagStatus
	}

	changed := !snapshotEqual(r.snap, next)
	r.snap = next
	charge, charging := next.BatteryCharge, next.IsCharging
	r.mu.Unlock()

	r.notifier.BatteryReported(r.robotID, charge, charging)
	r.notifier.StateUpdated(next, changed)
	return changed
}

// Snapshot returns a copy of the current snapshot.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := r.snap
	snap.Errors = slices.Clone(snap.Errors)
	return snap
}

// Reset clears the carried action memory. Called on explicit disconnect; the
// last snapshot itself stays visible as stale state.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastAction = ""
	r.lastActionRaw = ""
}

// snapshotEqual compares everything except UpdatedAt.
func snapshotEqual(a, b Snapshot) bool {
	return a.Activity == b.Activity &&
		a.Action == b.Action &&
		a.ActionDisplay == b.ActionDisplay &&
		a.RawState == b.RawState &&
		a.Status == b.Status &&
		a.BatteryCharge == b.BatteryCharge &&
		a.IsCharging == b.IsCharging &&
		a.IsDocked == b.IsDocked &&
		a.BagStatus == b.BagStatus &&
		a.AvailableCommands == b.AvailableCommands &&
		a.LastError == b.LastError &&
		slices.Equal(a.Errors, b.Errors)
}
