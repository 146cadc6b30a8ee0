package wire

import (
	"encoding/json"

	"github.com/google/uuid"
)

// RobotTopic returns the channel topic for a robot.
func RobotTopic(robotID string) string {
	return "robots:" + robotID
}

// JoinFrame builds the phx_join frame for a robot channel.
func JoinFrame(joinRef, ref, robotID string) ([]byte, error) {
	return channelFrame(&joinRef, ref, RobotTopic(robotID), EventPhxJoin, map[string]any{})
}

// LastStateFrame builds the request for a full state snapshot. Each request
// carries a fresh request_id so replies can be correlated in logs.
func LastStateFrame(joinRef, ref, robotID string) ([]byte, error) {
	payload := map[string]any{"request_id": uuid.NewString()}
	return channelFrame(&joinRef, ref, RobotTopic(robotID), EventLastState, payload)
}

// HeartbeatFrame builds a Phoenix keepalive frame. Heartbeats carry a null
// join_ref and go to the "phoenix" control topic.
func HeartbeatFrame(ref string) ([]byte, error) {
	return channelFrame(nil, ref, TopicPhoenix, EventHeartbeat, map[string]any{})
}

func channelFrame(joinRef *string, ref, topic, event string, payload any) ([]byte, error) {
	var jr any
	if joinRef != nil {
		jr = *joinRef
	}
	return json.Marshal([]any{jr, ref, topic, event, payload})
}
