// Package robot owns the fleet: discovery through the cloud registry, one
// streaming session plus reconciler per robot, command dispatch, and the
// event bus the rest of the bridge subscribes to.
package robot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kobold-bridge/internal/api"
	"kobold-bridge/internal/reconcile"
	"kobold-bridge/internal/state"
	"kobold-bridge/internal/store"
	"kobold-bridge/internal/stream"
)

// ErrUnknownRobot is returned for commands addressed to a robot the manager
// does not track.
var ErrUnknownRobot = errors.New("unknown robot")

// CloudAPI is the slice of the REST client the manager uses.
type CloudAPI interface {
	GetUserRobots(ctx context.Context) ([]api.Robot, error)
	GetCleaningModes(ctx context.Context, robotID string) (*api.CleaningModes, error)
	GetRobotMaps(ctx context.Context, robotID string) ([]api.RobotMap, error)
	GetZonesByFloorPlan(ctx context.Context, floorplanUUID string) ([]api.CleaningTrack, error)
	StartCleaning(ctx context.Context, robotID string, req api.CleaningStartRequest) error
	SendToBase(ctx context.Context, serial string) error
	PauseCleaning(ctx context.Context, serial string) error
	ResumeClean(ctx context.Context, serial string) error
	FindMe(ctx context.Context, serial string) error
	ShowCleaning(ctx context.Context, serial string) (*api.CleaningShowResponse, error)
}

// BatteryEvent is the payload of EventBattery.
type BatteryEvent struct {
	RobotID  string `json:"robot_id"`
	Charge   int    `json:"charge"`
	Charging bool   `json:"charging"`
}

// ConnectionEvent is the payload of EventConnection.
type ConnectionEvent struct {
	RobotID string `json:"robot_id"`
	State   string `json:"state"`
	Live    bool   `json:"live"`
}

// StateEvent is the payload of EventStateUpdate.
type StateEvent struct {
	Snapshot reconcile.Snapshot `json:"snapshot"`
	Changed  bool               `json:"changed"`
}

// managedRobot bundles everything the manager tracks per robot.
type managedRobot struct {
	info api.Robot

	conn *stream.Conn
	rec  *reconcile.Reconciler

	mu        sync.RWMutex
	features  *api.CleaningModes
	maps      []api.RobotMap
	zones     map[string][]api.CleaningTrack // floorplan uuid -> tracks
	fanSpeed  string
	connState stream.ConnState
	cleaning  *state.CleaningState
}

// Config wires a Manager.
type Config struct {
	// SocketURL is the realtime endpoint shared by all robots; each robot
	// joins its own channel on it.
	SocketURL string
	// Login produces the websocket session bearer.
	Login func(ctx context.Context) (string, error)

	HeartbeatInterval time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

// Manager supervises all robots of one account.
type Manager struct {
	cfg    Config
	api    CloudAPI
	store  store.Store
	bus    *EventBus
	logger *slog.Logger

	mu     sync.RWMutex
	robots map[string]*managedRobot
}

// NewManager creates a manager. Start does the actual discovery.
func NewManager(cfg Config, cloud CloudAPI, st store.Store, bus *EventBus, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		api:    cloud,
		store:  st,
		bus:    bus,
		logger: logger.With("component", "robot_manager"),
		robots: make(map[string]*managedRobot),
	}
}

// Bus returns the manager's event bus.
func (m *Manager) Bus() *EventBus { return m.bus }

// Start discovers the account's robots, restores their persisted snapshots
// and opens a streaming session for each. Discovery failures abort; per-robot
// metadata failures (features, maps) only log.
func (m *Manager) Start(ctx context.Context) error {
	robots, err := m.api.GetUserRobots(ctx)
	if err != nil {
		return fmt.Errorf("list robots: %w", err)
	}
	if len(robots) == 0 {
		m.logger.Warn("account has no robots")
	}

	for _, info := range robots {
		if err := m.adopt(ctx, info); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) adopt(ctx context.Context, info api.Robot) error {
	m.mu.Lock()
	if _, ok := m.robots[info.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	mr := &managedRobot{
		info:     info,
		zones:    make(map[string][]api.CleaningTrack),
		fanSpeed: "auto",
	}
	m.robots[info.ID] = mr
	m.mu.Unlock()

	if err := m.persistRobot(info); err != nil {
		return fmt.Errorf("persist robot %s: %w", info.ID, err)
	}

	mr.rec = reconcile.New(info.ID, m)
	if snap, err := m.store.GetSnapshot(info.ID); err == nil {
		mr.rec.Restore(*snap)
		m.logger.Info("restored snapshot", "robot_id", info.ID, "activity", snap.ActivityName)
	} else if !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("load snapshot", "robot_id", info.ID, "error", err)
	}

	m.loadMetadata(ctx, mr)

	mr.conn = stream.NewConn(stream.Config{
		URL:               m.cfg.SocketURL,
		RobotID:           info.ID,
		Login:             m.cfg.Login,
		HeartbeatInterval: m.cfg.HeartbeatInterval,
		InitialBackoff:    m.cfg.InitialBackoff,
		MaxBackoff:        m.cfg.MaxBackoff,
	}, m, m.logger)
	// The caller's ctx bounds discovery only. Sessions live until Stop; a
	// deadline on the Start context must not tear them down behind our back.
	mr.conn.Connect(context.WithoutCancel(ctx))

	m.logger.Info("robot adopted", "robot_id", info.ID, "name", info.Name, "serial", info.Serial)
	m.bus.Emit(Event{Type: EventRobotAdded, RobotID: info.ID, Data: info})
	return nil
}

// loadMetadata fetches features, floor plans and zones. All of it is
// best-effort; the robot works without it.
func (m *Manager) loadMetadata(ctx context.Context, mr *managedRobot) {
	id := mr.info.ID

	features, err := m.api.GetCleaningModes(ctx, id)
	if err != nil {
		m.logger.Warn("fetch features", "robot_id", id, "error", err)
	}

	maps, err := m.api.GetRobotMaps(ctx, id)
	if err != nil {
		m.logger.Warn("fetch floor plans", "robot_id", id, "error", err)
	}

	zones := make(map[string][]api.CleaningTrack)
	for _, fp := range maps {
		tracks, err := m.api.GetZonesByFloorPlan(ctx, fp.FloorplanUUID)
		if err != nil {
			m.logger.Warn("fetch zones", "robot_id", id, "floorplan", fp.FloorplanUUID, "error", err)
			continue
		}
		zones[fp.FloorplanUUID] = tracks
	}

	mr.mu.Lock()
	mr.features = features
	mr.maps = maps
	mr.zones = zones
	mr.mu.Unlock()
}

func (m *Manager) persistRobot(info api.Robot) error {
	now := time.Now().UTC()
	rec := &store.Robot{
		ID:        info.ID,
		Serial:    info.Serial,
		Name:      info.Name,
		Vendor:    info.Vendor,
		ModelName: info.ModelName,
		Timezone:  info.Timezone,
		Firmware:  info.Firmware,
		AddedAt:   now,
		LastSeen:  now,
	}
	if prev, err := m.store.GetRobot(info.ID); err == nil {
		rec.AddedAt = prev.AddedAt
	}
	return m.store.SaveRobot(rec)
}

// Stop closes all streaming sessions and waits for them.
func (m *Manager) Stop() {
	m.mu.RLock()
	robots := make([]*managedRobot, 0, len(m.robots))
	for _, mr := range m.robots {
		robots = append(robots, mr)
	}
	m.mu.RUnlock()

	for _, mr := range robots {
		mr.conn.Disconnect()
		mr.rec.Reset()
	}
}

// Robots lists the tracked robot identities.
func (m *Manager) Robots() []api.Robot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]api.Robot, 0, len(m.robots))
	for _, mr := range m.robots {
		out = append(out, mr.info)
	}
	return out
}

// Robot returns one tracked robot identity.
func (m *Manager) Robot(robotID string) (api.Robot, error) {
	mr, err := m.get(robotID)
	if err != nil {
		return api.Robot{}, err
	}
	return mr.info, nil
}

// Snapshot returns the current reconciled state of a robot.
func (m *Manager) Snapshot(robotID string) (reconcile.Snapshot, error) {
	mr, err := m.get(robotID)
	if err != nil {
		return reconcile.Snapshot{}, err
	}
	return mr.rec.Snapshot(), nil
}

// ConnectionState returns the streaming session state of a robot.
func (m *Manager) ConnectionState(robotID string) (stream.ConnState, error) {
	mr, err := m.get(robotID)
	if err != nil {
		return stream.StateDisconnected, err
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.connState, nil
}

// Maps returns the robot's floor plans.
func (m *Manager) Maps(robotID string) ([]api.RobotMap, error) {
	mr, err := m.get(robotID)
	if err != nil {
		return nil, err
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return append([]api.RobotMap(nil), mr.maps...), nil
}

// Zones returns the cleaning zones of one floor plan.
func (m *Manager) Zones(robotID, floorplanUUID string) ([]api.CleaningTrack, error) {
	mr, err := m.get(robotID)
	if err != nil {
		return nil, err
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return append([]api.CleaningTrack(nil), mr.zones[floorplanUUID]...), nil
}

// CleaningSession returns the last observed cleaning session, if any.
func (m *Manager) CleaningSession(robotID string) (*state.CleaningState, error) {
	mr, err := m.get(robotID)
	if err != nil {
		return nil, err
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.cleaning, nil
}

func (m *Manager) get(robotID string) (*managedRobot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mr, ok := m.robots[robotID]
	if !ok {
		return nil, fmt.Errorf("robot %s: %w", robotID, ErrUnknownRobot)
	}
	return mr, nil
}

// HandleState implements stream.Sink.
func (m *Manager) HandleState(robotID string, ds *state.DeviceState) {
	mr, err := m.get(robotID)
	if err != nil {
		return
	}
	mr.rec.Apply(ds)
}

// HandleCleaning implements stream.Sink.
func (m *Manager) HandleCleaning(robotID string, cs *state.CleaningState) {
	mr, err := m.get(robotID)
	if err != nil {
		return
	}
	mr.mu.Lock()
	mr.cleaning = cs
	mr.mu.Unlock()
	m.bus.Emit(Event{Type: EventCleaningState, RobotID: robotID, Data: cs})
}

// ConnectionChanged implements stream.Sink.
func (m *Manager) ConnectionChanged(robotID string, st stream.ConnState) {
	mr, err := m.get(robotID)
	if err != nil {
		return
	}
	mr.mu.Lock()
	mr.connState = st
	mr.mu.Unlock()
	m.bus.Emit(Event{Type: EventConnection, RobotID: robotID, Data: ConnectionEvent{
		RobotID: robotID,
		State:   st.String(),
		Live:    st == stream.StateLive,
	}})
}

// StateUpdated implements reconcile.Notifier.
func (m *Manager) StateUpdated(snap reconcile.Snapshot, changed bool) {
	if changed {
		if err := m.store.SaveSnapshot(snap.RobotID, &snap); err != nil {
			m.logger.Warn("persist snapshot", "robot_id", snap.RobotID, "error", err)
		}
	}
	m.bus.Emit(Event{Type: EventStateUpdate, RobotID: snap.RobotID, Data: StateEvent{
		Snapshot: snap,
		Changed:  changed,
	}})
}

// BatteryReported implements reconcile.Notifier.
func (m *Manager) BatteryReported(robotID string, charge int, charging bool) {
	m.bus.Emit(Event{Type: EventBattery, RobotID: robotID, Data: BatteryEvent{
		RobotID:  robotID,
		Charge:   charge,
		Charging: charging,
	}})
}
