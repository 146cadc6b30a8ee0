//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"kobold-bridge/internal/api"
	"kobold-bridge/internal/robot"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/vacuum/kobold_r1/vacuum/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// haVacuum is the HA MQTT vacuum (state schema) discovery payload.
type haVacuum struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	Schema            string   `json:"schema"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic"`
	SendCommandTopic  string   `json:"send_command_topic"`
	SetFanSpeedTopic  string   `json:"set_fan_speed_topic"`
	FanSpeedList      []string `json:"fan_speed_list"`
	SupportedFeatures []string `json:"supported_features"`
	AvailabilityTopic string   `json:"availability_topic"`
	Device            haDevice `json:"device"`
}

// haSensor is a generic HA sensor discovery payload.
type haSensor struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	Device            haDevice `json:"device"`
}

var vacuumFeatures = []string{
	"start", "pause", "stop", "return_home", "battery", "status",
	"locate", "fan_speed", "send_command",
}

// robotDisplayName returns a display name for a robot.
func robotDisplayName(info api.Robot) string {
	if info.Name != "" {
		return info.Name
	}
	if info.ModelName != "" {
		return info.ModelName
	}
	return info.ID
}

// robotIdentifier returns the unique identifier for the HA device registry.
func robotIdentifier(info api.Robot) string {
	return "kobold_" + info.ID
}

// robotTopicName returns the topic name for a robot (sanitized name or id).
func robotTopicName(info api.Robot) string {
	if info.Name != "" {
		name := strings.ToLower(info.Name)
		name = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
				return r
			}
			return '_'
		}, name)
		return name
	}
	return info.ID
}

// buildDiscovery generates HA discovery messages for one robot: the vacuum
// entity plus battery and status sensors.
func buildDiscovery(info api.Robot, prefix string) []discoveryMsg {
	nodeID := robotIdentifier(info)
	displayName := robotDisplayName(info)
	base := prefix + "/" + robotTopicName(info)
	avail := base + "/availability"

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "Vorwerk",
		Model:        info.ModelName,
		Name:         displayName,
		SWVersion:    info.Firmware,
	}

	vacuum := haVacuum{
		Name:              displayName,
		UniqueID:          nodeID + "_vacuum",
		Schema:            "state",
		StateTopic:        base + "/state",
		CommandTopic:      base + "/command",
		SendCommandTopic:  base + "/send_command",
		SetFanSpeedTopic:  base + "/set_fan_speed",
		FanSpeedList:      robot.FanSpeeds,
		SupportedFeatures: vacuumFeatures,
		AvailabilityTopic: avail,
		Device:            haDev,
	}

	battery := haSensor{
		Name:              displayName + " Battery",
		UniqueID:          nodeID + "_battery",
		StateTopic:        base + "/state",
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ value_json.battery_level }}",
		UnitOfMeasurement: "%",
		DeviceClass:       "battery",
		StateClass:        "measurement",
		Device:            haDev,
	}

	status := haSensor{
		Name:              displayName + " Status",
		UniqueID:          nodeID + "_status",
		StateTopic:        base + "/state",
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ value_json.status }}",
		Device:            haDev,
	}

	return []discoveryMsg{
		{Topic: fmt.Sprintf("homeassistant/vacuum/%s/vacuum/config", nodeID), Payload: mustJSON(vacuum)},
		{Topic: fmt.Sprintf("homeassistant/sensor/%s/battery/config", nodeID), Payload: mustJSON(battery)},
		{Topic: fmt.Sprintf("homeassistant/sensor/%s/status/config", nodeID), Payload: mustJSON(status)},
	}
}

// buildRemoveDiscovery generates empty retained messages to remove a robot
// from HA.
func buildRemoveDiscovery(info api.Robot) []discoveryMsg {
	nodeID := robotIdentifier(info)
	return []discoveryMsg{
		{Topic: fmt.Sprintf("homeassistant/vacuum/%s/vacuum/config", nodeID)},
		{Topic: fmt.Sprintf("homeassistant/sensor/%s/battery/config", nodeID)},
		{Topic: fmt.Sprintf("homeassistant/sensor/%s/status/config", nodeID)},
	}
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
