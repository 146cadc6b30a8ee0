package reconcile

import (
	"sync"
	"testing"

	"kobold-bridge/internal/state"
)

type recordingNotifier struct {
	mu        sync.Mutex
	states    []Snapshot
	changed   []bool
	batteries []batteryReport
}

type batteryReport struct {
	robotID  string
	charge   int
	charging bool
}

func (n *recordingNotifier) StateUpdated(snap Snapshot, changed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, snap)
	n.changed = append(n.changed, changed)
}

func (n *recordingNotifier) BatteryReported(robotID string, charge int, charging bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batteries = append(n.batteries, batteryReport{robotID, charge, charging})
}

func mustNormalize(t *testing.T, raw string) *state.DeviceState {
	t.Helper()
	ds, err := state.Normalize([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestApplyLastStateScenario(t *testing.T) {
	n := &recordingNotifier{}
	r := New("robot-1", n)

	ds := mustNormalize(t, `{"action": "cleaning", "state": "busy", "details": {"charge": 73, "is_charging": false}}`)
	changed := r.Apply(ds)
	if !changed {
		t.Error("first apply should report a change")
	}

	snap := r.Snapshot()
	if snap.Activity != state.ActivityCleaning {
		t.Errorf("activity = %v, want cleaning", snap.Activity)
	}
	if snap.BatteryCharge != 73 || snap.IsCharging {
		t.Errorf("battery = %d/%v", snap.BatteryCharge, snap.IsCharging)
	}
	if snap.Status != "Limpiando" {
		t.Errorf("status = %q", snap.Status)
	}
}

func TestApplyIdempotent(t *testing.T) {
	n := &recordingNotifier{}
	r := New("robot-1", n)

	raw := `{"action": "cleaning", "state": "busy", "details": {"charge": 50}}`
	if changed := r.Apply(mustNormalize(t, raw)); !changed {
		t.Error("first apply should change")
	}
	if changed := r.Apply(mustNormalize(t, raw)); changed {
		t.Error("second identical apply must be a no-op")
	}

	// The battery notification still fires on every apply.
	if len(n.batteries) != 2 {
		t.Errorf("battery notifications = %d, want 2", len(n.batteries))
	}
	for _, b := range n.batteries {
		if b.robotID != "robot-1" || b.charge != 50 {
			t.Errorf("battery report = %+v", b)
		}
	}
}

func TestActionCarryForward(t *testing.T) {
	n := &recordingNotifier{}
	r := New("robot-1", n)

	r.Apply(mustNormalize(t, `{"action": "cleaning", "state": "busy"}`))
	r.Apply(mustNormalize(t, `{"action": "", "state": "busy"}`))
	r.Apply(mustNormalize(t, `{"action": "invalid", "state": "busy"}`))

	snap := r.Snapshot()
	if snap.Action != "cleaning" {
		t.Errorf("carried action = %q, want cleaning", snap.Action)
	}
	if snap.Status != "Limpiando" {
		t.Errorf("status = %q, want Limpiando throughout", snap.Status)
	}
	if snap.Activity != state.ActivityCleaning {
		t.Errorf("activity = %v, want cleaning via hysteresis", snap.Activity)
	}

	// A genuinely new action replaces the carried one.
	r.Apply(mustNormalize(t, `{"action": "docking", "state": "busy"}`))
	snap = r.Snapshot()
	if snap.Action != "docking" {
		t.Errorf("action = %q, want docking", snap.Action)
	}
	if snap.Status != "Regresando a la base" {
		t.Errorf("status = %q", snap.Status)
	}
}

func TestDockedOverridesCarriedAction(t *testing.T) {
	n := &recordingNotifier{}
	r := New("robot-1", n)

	r.Apply(mustNormalize(t, `{"action": "cleaning", "state": "busy"}`))
	r.Apply(mustNormalize(t, `{"action": "", "state": "idle", "details": {"is_docked": true}}`))

	snap := r.Snapshot()
	if snap.Activity != state.ActivityDocked {
		t.Errorf("activity = %v, want docked regardless of carried action", snap.Activity)
	}
	// The carried action is still remembered for display.
	if snap.Action != "cleaning" {
		t.Errorf("carried action = %q, want cleaning", snap.Action)
	}
}

func TestErrorsDriveStatus(t *testing.T) {
	n := &recordingNotifier{}
	r := New("robot-1", n)

	r.Apply(mustNormalize(t, `{"state": "busy", "errors": [{"code": "bin_full", "severity": "warning"}]}`))
	snap := r.Snapshot()
	if snap.Activity != state.ActivityError {
		t.Errorf("activity = %v, want error", snap.Activity)
	}
	if snap.Status != "Depósito de polvo lleno (severidad: advertencia)" {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.LastError == "" || len(snap.Errors) != 1 {
		t.Errorf("errors = %+v, last = %q", snap.Errors, snap.LastError)
	}

	// Clearing the error list clears the error state.
	r.Apply(mustNormalize(t, `{"state": "idle", "details": {"is_docked": true}}`))
	snap = r.Snapshot()
	if snap.Activity != state.ActivityDocked || snap.LastError != "" {
		t.Errorf("after clear: activity = %v, last = %q", snap.Activity, snap.LastError)
	}
	if len(snap.Errors) != 0 {
		t.Errorf("errors = %+v", snap.Errors)
	}
}

func TestResetClearsCarriedAction(t *testing.T) {
	n := &recordingNotifier{}
	r := New("robot-1", n)

	r.Apply(mustNormalize(t, `{"action": "cleaning", "state": "busy"}`))
	r.Reset()
	r.Apply(mustNormalize(t, `{"action": "", "state": "idle"}`))

	snap := r.Snapshot()
	if snap.Action != "" {
		t.Errorf("action = %q, want empty after reset", snap.Action)
	}
	if snap.Status != "Inactivo" {
		t.Errorf("status = %q", snap.Status)
	}
}

func TestBagStatusRetained(t *testing.T) {
	n := &recordingNotifier{}
	r := New("robot-1", n)

	r.Apply(mustNormalize(t, `{"state": "idle", "cleaning_center": {"bag_status": "full"}}`))
	r.Apply(mustNormalize(t, `{"state": "idle"}`))

	if snap := r.Snapshot(); snap.BagStatus != "full" {
		t.Errorf("bag status = %q, want retained", snap.BagStatus)
	}
}

func TestRestoreSeedsCarriedAction(t *testing.T) {
	n := &recordingNotifier{}
	r := New("robot-1", n)
	r.Restore(Snapshot{Action: "cleaning", ActionDisplay: "Cleaning", BatteryCharge: 40})

	r.Apply(mustNormalize(t, `{"action": "", "state": "busy"}`))
	snap := r.Snapshot()
	if snap.Action != "cleaning" {
		t.Errorf("action = %q, want restored carry-forward", snap.Action)
	}
	if snap.RobotID != "robot-1" {
		t.Errorf("robot id = %q", snap.RobotID)
	}
}
