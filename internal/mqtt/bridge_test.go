//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"testing"

	"kobold-bridge/internal/api"
	"kobold-bridge/internal/state"
)

func TestDiscoveryVacuumEntity(t *testing.T) {
	info := api.Robot{
		ID:        "r1",
		Name:      "Kitchen Robot",
		Serial:    "VR7-0001",
		ModelName: "VR7",
		Firmware:  "4.5.3",
	}

	msgs := buildDiscovery(info, "kobold")
	if len(msgs) != 3 {
		t.Fatalf("discovery messages = %d, want 3", len(msgs))
	}

	var vacMsg *discoveryMsg
	for i := range msgs {
		if msgs[i].Topic == "homeassistant/vacuum/kobold_r1/vacuum/config" {
			vacMsg = &msgs[i]
			break
		}
	}
	if vacMsg == nil {
		t.Fatal("vacuum discovery not found")
	}

	var payload haVacuum
	if err := json.Unmarshal(vacMsg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if payload.Name != "Kitchen Robot" {
		t.Errorf("name = %q", payload.Name)
	}
	if payload.UniqueID != "kobold_r1_vacuum" {
		t.Errorf("unique_id = %q", payload.UniqueID)
	}
	if payload.Schema != "state" {
		t.Errorf("schema = %q", payload.Schema)
	}
	if payload.StateTopic != "kobold/kitchen_robot/state" {
		t.Errorf("state_topic = %q", payload.StateTopic)
	}
	if payload.CommandTopic != "kobold/kitchen_robot/command" {
		t.Errorf("command_topic = %q", payload.CommandTopic)
	}
	if payload.AvailabilityTopic != "kobold/kitchen_robot/availability" {
		t.Errorf("availability_topic = %q", payload.AvailabilityTopic)
	}
	if len(payload.FanSpeedList) != 3 {
		t.Errorf("fan_speed_list = %v", payload.FanSpeedList)
	}
	if payload.Device.Model != "VR7" || payload.Device.SWVersion != "4.5.3" {
		t.Errorf("device = %+v", payload.Device)
	}
}

func TestDiscoveryBatterySensor(t *testing.T) {
	info := api.Robot{ID: "r1", Name: "Kitchen Robot"}

	msgs := buildDiscovery(info, "kobold")
	var found bool
	for _, m := range msgs {
		if m.Topic != "homeassistant/sensor/kobold_r1/battery/config" {
			continue
		}
		found = true
		var payload haSensor
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.DeviceClass != "battery" || payload.UnitOfMeasurement != "%" {
			t.Errorf("payload = %+v", payload)
		}
		if payload.ValueTemplate != "{{ value_json.battery_level }}" {
			t.Errorf("value_template = %q", payload.ValueTemplate)
		}
	}
	if !found {
		t.Fatal("battery discovery not found")
	}
}

func TestRemoveDiscovery(t *testing.T) {
	msgs := buildRemoveDiscovery(api.Robot{ID: "r1"})
	if len(msgs) != 3 {
		t.Fatalf("removal messages = %d, want 3", len(msgs))
	}
	for _, m := range msgs {
		if m.Payload != nil {
			t.Errorf("removal message should have nil payload, got %q for %s", m.Payload, m.Topic)
		}
	}
}

func TestRobotTopicName(t *testing.T) {
	tests := []struct {
		name string
		info api.Robot
		want string
	}{
		{"name with spaces", api.Robot{ID: "r1", Name: "Living Room"}, "living_room"},
		{"id fallback", api.Robot{ID: "r1"}, "r1"},
		{"special chars", api.Robot{ID: "r1", Name: "Étage 2!"}, "_tage_2_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := robotTopicName(tt.info); got != tt.want {
				t.Errorf("robotTopicName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRobotDisplayName(t *testing.T) {
	tests := []struct {
		name string
		info api.Robot
		want string
	}{
		{"name", api.Robot{ID: "r1", Name: "Kitchen", ModelName: "VR7"}, "Kitchen"},
		{"model fallback", api.Robot{ID: "r1", ModelName: "VR7"}, "VR7"},
		{"id fallback", api.Robot{ID: "r1"}, "r1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := robotDisplayName(tt.info); got != tt.want {
				t.Errorf("robotDisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHAState(t *testing.T) {
	tests := []struct {
		activity state.Activity
		want     string
	}{
		{state.ActivityCleaning, "cleaning"},
		{state.ActivityDocked, "docked"},
		{state.ActivityPaused, "paused"},
		{state.ActivityReturning, "returning"},
		{state.ActivityError, "error"},
		{state.ActivityIdle, "idle"},
	}
	for _, tt := range tests {
		if got := haState(tt.activity); got != tt.want {
			t.Errorf("haState(%v) = %q, want %q", tt.activity, got, tt.want)
		}
	}
}

func TestMustJSON(t *testing.T) {
	result := mustJSON(map[string]string{"hello": "world"})
	var parsed map[string]string
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("mustJSON output not valid JSON: %v", err)
	}
	if parsed["hello"] != "world" {
		t.Errorf("parsed value = %q", parsed["hello"])
	}
}
