package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"kobold-bridge/internal/reconcile"
	"kobold-bridge/internal/state"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetRobot(t *testing.T) {
	s := newTestStore(t)

	r := &Robot{
		ID:        "robot-1",
		Serial:    "VR7-0001",
		Name:      "Kitchen",
		Vendor:    "vorwerk",
		ModelName: "VR7",
		Timezone:  "Europe/Madrid",
		Firmware:  "4.5.3",
		AddedAt:   time.Now().Truncate(time.Millisecond),
		LastSeen:  time.Now().Truncate(time.Millisecond),
	}

	if err := s.SaveRobot(r); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRobot(r.ID)
	if err != nil {
		t.Fatal(err)
	}

	if got.ID != r.ID {
		t.Errorf("id = %q, want %q", got.ID, r.ID)
	}
	if got.Serial != r.Serial {
		t.Errorf("serial = %q, want %q", got.Serial, r.Serial)
	}
	if got.Name != r.Name {
		t.Errorf("name = %q, want %q", got.Name, r.Name)
	}
	if got.ModelName != r.ModelName {
		t.Errorf("model = %q, want %q", got.ModelName, r.ModelName)
	}
}

func TestDeleteRobotRemovesSnapshot(t *testing.T) {
	s := newTestStore(t)

	r := &Robot{ID: "robot-1", Serial: "VR7-0001"}
	if err := s.SaveRobot(r); err != nil {
		t.Fatal(err)
	}
	snap := &reconcile.Snapshot{RobotID: "robot-1", Activity: state.ActivityDocked}
	if err := s.SaveSnapshot("robot-1", snap); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteRobot(r.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetRobot(r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRobot err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetSnapshot(r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSnapshot err = %v, want ErrNotFound", err)
	}
}

func TestListRobots(t *testing.T) {
	s := newTestStore(t)

	robots := []*Robot{
		{ID: "robot-1", Serial: "VR7-0001"},
		{ID: "robot-2", Serial: "VR7-0002"},
		{ID: "robot-3", Serial: "VR7-0003"},
	}
	for _, r := range robots {
		if err := s.SaveRobot(r); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListRobots()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("list count = %d, want 3", len(list))
	}

	found := make(map[string]bool)
	for _, r := range list {
		found[r.ID] = true
	}
	for _, r := range robots {
		if !found[r.ID] {
			t.Errorf("robot %s not in list", r.ID)
		}
	}
}

func TestGetRobotNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRobot("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveAndGetSnapshot(t *testing.T) {
	s := newTestStore(t)

	snap := &reconcile.Snapshot{
		RobotID:       "robot-1",
		Activity:      state.ActivityCleaning,
		ActivityName:  state.ActivityCleaning.String(),
		Action:        "cleaning.start",
		ActionDisplay: "Limpiando",
		Status:        "Limpiando",
		BatteryCharge: 73,
		IsCharging:    false,
		IsDocked:      false,
		UpdatedAt:     time.Now().Truncate(time.Millisecond),
	}

	if err := s.SaveSnapshot("robot-1", snap); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSnapshot("robot-1")
	if err != nil {
		t.Fatal(err)
	}

	if got.Activity != state.ActivityCleaning {
		t.Errorf("activity = %v, want %v", got.Activity, state.ActivityCleaning)
	}
	if got.Action != snap.Action {
		t.Errorf("action = %q, want %q", got.Action, snap.Action)
	}
	if got.BatteryCharge != 73 {
		t.Errorf("charge = %d, want 73", got.BatteryCharge)
	}
	if got.Status != "Limpiando" {
		t.Errorf("status = %q", got.Status)
	}
}
