//go:build !no_mqtt

// Package mqtt mirrors the robot fleet into an MQTT broker with Home
// Assistant autodiscovery and accepts vacuum commands back.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"kobold-bridge/internal/api"
	"kobold-bridge/internal/reconcile"
	"kobold-bridge/internal/robot"
	"kobold-bridge/internal/state"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge connects the robot manager to MQTT with HA autodiscovery.
type Bridge struct {
	client pahomqtt.Client
	mgr    *robot.Manager
	prefix string
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(mgr *robot.Manager, cfg Config, logger *slog.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		mgr:    mgr,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
		ctx:    ctx,
		cancel: cancel,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("kobold-bridge").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllDiscovery()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to manager events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.mgr.Bus().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event robot.Event) {
	switch event.Type {
	case robot.EventStateUpdate:
		if se, ok := event.Data.(robot.StateEvent); ok {
			b.publishRobotState(event.RobotID, se.Snapshot)
		}
	case robot.EventConnection:
		if ce, ok := event.Data.(robot.ConnectionEvent); ok {
			b.publishAvailability(event.RobotID, ce.Live)
		}
	case robot.EventRobotAdded:
		if info, ok := event.Data.(api.Robot); ok {
			b.publishRobotDiscovery(info)
			b.subscribeRobotCommands(info)
		}
	case robot.EventRobotRemoved:
		if info, ok := event.Data.(api.Robot); ok {
			for _, msg := range buildRemoveDiscovery(info) {
				b.publish(msg.Topic, msg.Payload, true)
			}
		}
	}
}

func (b *Bridge) publishRobotState(robotID string, snap reconcile.Snapshot) {
	info, err := b.mgr.Robot(robotID)
	if err != nil {
		return
	}
	fanSpeed, _ := b.mgr.FanSpeed(robotID)

	payload := map[string]any{
		"state":     haState(snap.Activity),
		"status":    snap.Status,
		"fan_speed": fanSpeed,
	}
	if snap.BatteryCharge >= 0 {
		payload["battery_level"] = snap.BatteryCharge
	}
	if snap.LastError != "" {
		payload["error"] = snap.LastError
	}

	topic := b.prefix + "/" + robotTopicName(info) + "/state"
	b.publish(topic, mustJSON(payload), true)
}

func (b *Bridge) publishAvailability(robotID string, live bool) {
	info, err := b.mgr.Robot(robotID)
	if err != nil {
		return
	}
	payload := "offline"
	if live {
		payload = "online"
	}
	topic := b.prefix + "/" + robotTopicName(info) + "/availability"
	b.publish(topic, []byte(payload), true)
}

func (b *Bridge) publishBridgeState(st string) {
	b.publish(b.prefix+"/bridge/state", []byte(st), true)
}

func (b *Bridge) publishAllDiscovery() {
	for _, info := range b.mgr.Robots() {
		b.publishRobotDiscovery(info)
	}
}

func (b *Bridge) publishRobotDiscovery(info api.Robot) {
	for _, msg := range buildDiscovery(info, b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "robot_id", info.ID, "name", robotDisplayName(info))
}

func (b *Bridge) subscribeCommands() {
	for _, info := range b.mgr.Robots() {
		b.subscribeRobotCommands(info)
	}
}

func (b *Bridge) subscribeRobotCommands(info api.Robot) {
	base := b.prefix + "/" + robotTopicName(info)
	robotID := info.ID

	b.client.Subscribe(base+"/command", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.dispatch(robotID, string(msg.Payload()), "")
	})
	b.client.Subscribe(base+"/set_fan_speed", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.dispatch(robotID, "fan_speed", string(msg.Payload()))
	})
	b.client.Subscribe(base+"/send_command", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleSendCommand(robotID, msg.Payload())
	})
}

// handleSendCommand accepts HA's send_command JSON, e.g.
// {"command":"clean_zone","zone":"Kitchen"}.
func (b *Bridge) handleSendCommand(robotID string, payload []byte) {
	var cmd struct {
		Command   string `json:"command"`
		Zone      string `json:"zone"`
		Floorplan string `json:"floorplan"`
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid send_command JSON", "robot_id", robotID, "err", err)
		return
	}
	arg := cmd.Zone
	if arg == "" {
		arg = cmd.Floorplan
	}
	b.dispatch(robotID, cmd.Command, arg)
}

func (b *Bridge) dispatch(robotID, name, arg string) {
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()
	if err := b.mgr.Command(ctx, robotID, name, arg); err != nil {
		b.logger.Warn("command failed", "robot_id", robotID, "command", name, "err", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// haState maps an activity onto the states the HA vacuum entity knows.
func haState(a state.Activity) string {
	switch a {
	case state.ActivityCleaning:
		return "cleaning"
	case state.ActivityDocked:
		return "docked"
	case state.ActivityPaused:
		return "paused"
	case state.ActivityReturning:
		return "returning"
	case state.ActivityError:
		return "error"
	default:
		return "idle"
	}
}
