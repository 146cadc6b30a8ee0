package robot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kobold-bridge/internal/api"
	"kobold-bridge/internal/state"
)

// ErrUnknownCommand is returned by Command for names the dispatcher does not
// know.
var ErrUnknownCommand = errors.New("unknown command")

// ErrUnknownZone is returned when a zone clean names a zone that is not on
// any known floor plan.
var ErrUnknownZone = errors.New("unknown zone")

// FanSpeeds are the supported cleaning modes, in display order.
var FanSpeeds = []string{"auto", "eco", "turbo"}

// StartCleaning begins a cleaning run. A paused robot is resumed instead,
// matching what the official app does.
func (m *Manager) StartCleaning(ctx context.Context, robotID string) error {
	mr, err := m.get(robotID)
	if err != nil {
		return err
	}

	if mr.rec.Snapshot().Activity == state.ActivityPaused {
		m.logger.Info("start on paused robot, resuming", "robot_id", robotID)
		return m.commandDone(robotID, "resume", m.api.ResumeClean(ctx, mr.info.Serial))
	}

	req := api.CleaningStartRequest{
		Runs:    []api.CleaningRun{{Settings: m.runSettings(mr), Map: m.defaultMap(mr)}},
		Ability: "cleaning.start",
	}
	return m.commandDone(robotID, "start", m.api.StartCleaning(ctx, mr.info.ID, req))
}

// Pause pauses the current run.
func (m *Manager) Pause(ctx context.Context, robotID string) error {
	mr, err := m.get(robotID)
	if err != nil {
		return err
	}
	return m.commandDone(robotID, "pause", m.api.PauseCleaning(ctx, mr.info.Serial))
}

// Resume resumes a paused run.
func (m *Manager) Resume(ctx context.Context, robotID string) error {
	mr, err := m.get(robotID)
	if err != nil {
		return err
	}
	return m.commandDone(robotID, "resume", m.api.ResumeClean(ctx, mr.info.Serial))
}

// StopCleaning halts the current run. The cloud has no dedicated stop ability, so a
// pause is the closest equivalent.
func (m *Manager) StopCleaning(ctx context.Context, robotID string) error {
	return m.Pause(ctx, robotID)
}

// ReturnToBase sends the robot home. A robot that is actively cleaning
// rejects the command, so the fallback pauses first, gives the robot a
// moment, then sends it home.
func (m *Manager) ReturnToBase(ctx context.Context, robotID string) error {
	mr, err := m.get(robotID)
	if err != nil {
		return err
	}

	err = m.api.SendToBase(ctx, mr.info.Serial)
	var re *api.RequestError
	if errors.As(err, &re) {
		m.logger.Info("return_to_base rejected, pausing first", "robot_id", robotID, "status", re.Status)
		if perr := m.api.PauseCleaning(ctx, mr.info.Serial); perr != nil {
			return fmt.Errorf("pause before return: %w", perr)
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
		err = m.api.SendToBase(ctx, mr.info.Serial)
	}
	return m.commandDone(robotID, "return_to_base", err)
}

// FindMe makes the robot play its locate chime.
func (m *Manager) FindMe(ctx context.Context, robotID string) error {
	mr, err := m.get(robotID)
	if err != nil {
		return err
	}
	return m.commandDone(robotID, "find_me", m.api.FindMe(ctx, mr.info.Serial))
}

// SetFanSpeed selects the cleaning mode used by subsequent starts.
func (m *Manager) SetFanSpeed(robotID, speed string) error {
	mr, err := m.get(robotID)
	if err != nil {
		return err
	}
	speed = strings.ToLower(strings.TrimSpace(speed))
	valid := false
	for _, s := range FanSpeeds {
		if s == speed {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("fan speed %q: must be one of %s", speed, strings.Join(FanSpeeds, "/"))
	}
	mr.mu.Lock()
	mr.fanSpeed = speed
	mr.mu.Unlock()
	m.logger.Info("fan speed set", "robot_id", robotID, "speed", speed)
	return nil
}

// FanSpeed returns the cleaning mode used by subsequent starts.
func (m *Manager) FanSpeed(robotID string) (string, error) {
	mr, err := m.get(robotID)
	if err != nil {
		return "", err
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.fanSpeed, nil
}

// CleanZone starts a run limited to one named zone. The zone may be given by
// its name or its track uuid.
func (m *Manager) CleanZone(ctx context.Context, robotID, zone string) error {
	mr, err := m.get(robotID)
	if err != nil {
		return err
	}

	floorplan, track, ok := m.findZone(mr, zone)
	if !ok {
		return fmt.Errorf("zone %q on robot %s: %w", zone, robotID, ErrUnknownZone)
	}

	uuid := track.TrackUUID
	req := api.CleaningStartRequest{
		Runs: []api.CleaningRun{{
			Settings: m.runSettings(mr),
			Map:      &api.MapDetails{FloorplanUUID: floorplan, ZoneUUID: &uuid, NogoEnabled: true},
		}},
		Ability: "cleaning.start",
	}
	return m.commandDone(robotID, "clean_zone", m.api.StartCleaning(ctx, mr.info.ID, req))
}

// CleanMap starts a whole-plan run on a specific floor plan.
func (m *Manager) CleanMap(ctx context.Context, robotID, floorplanUUID string) error {
	mr, err := m.get(robotID)
	if err != nil {
		return err
	}

	req := api.CleaningStartRequest{
		Runs: []api.CleaningRun{{
			Settings: m.runSettings(mr),
			Map:      &api.MapDetails{FloorplanUUID: floorplanUUID, NogoEnabled: true},
		}},
		Ability: "cleaning.start",
	}
	return m.commandDone(robotID, "clean_map", m.api.StartCleaning(ctx, mr.info.ID, req))
}

// SessionStatus fetches the live cleaning session from the cloud.
func (m *Manager) SessionStatus(ctx context.Context, robotID string) (*api.CleaningShowResponse, error) {
	mr, err := m.get(robotID)
	if err != nil {
		return nil, err
	}
	return m.api.ShowCleaning(ctx, mr.info.Serial)
}

// Command dispatches a command by name. This is the entry point for MQTT,
// automations and the HTTP API; arg carries the zone, floor plan or fan
// speed for the commands that take one.
func (m *Manager) Command(ctx context.Context, robotID, name, arg string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "start", "clean":
		return m.StartCleaning(ctx, robotID)
	case "pause":
		return m.Pause(ctx, robotID)
	case "resume":
		return m.Resume(ctx, robotID)
	case "stop":
		return m.StopCleaning(ctx, robotID)
	case "return_to_base", "dock":
		return m.ReturnToBase(ctx, robotID)
	case "find_me", "locate":
		return m.FindMe(ctx, robotID)
	case "fan_speed":
		return m.SetFanSpeed(robotID, arg)
	case "clean_zone":
		return m.CleanZone(ctx, robotID, arg)
	case "clean_map":
		return m.CleanMap(ctx, robotID, arg)
	default:
		return fmt.Errorf("command %q: %w", name, ErrUnknownCommand)
	}
}

func (m *Manager) runSettings(mr *managedRobot) api.RunSettings {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return api.RunSettings{Mode: mr.fanSpeed, NavigationMode: "normal"}
}

// defaultMap picks the promoted floor plan, or nil for robots that clean
// without one.
func (m *Manager) defaultMap(mr *managedRobot) *api.MapDetails {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if len(mr.maps) == 0 {
		return nil
	}
	chosen := mr.maps[0]
	for _, fp := range mr.maps {
		if fp.Default {
			chosen = fp
			break
		}
	}
	return &api.MapDetails{FloorplanUUID: chosen.FloorplanUUID, NogoEnabled: true}
}

func (m *Manager) findZone(mr *managedRobot, zone string) (string, api.CleaningTrack, bool) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	for floorplan, tracks := range mr.zones {
		for _, track := range tracks {
			if track.TrackUUID == zone || strings.EqualFold(track.Name, zone) {
				return floorplan, track, true
			}
		}
	}
	return "", api.CleaningTrack{}, false
}

func (m *Manager) commandDone(robotID, name string, err error) error {
	if err != nil {
		m.logger.Error("command failed", "robot_id", robotID, "command", name, "error", err)
		return err
	}
	m.logger.Info("command sent", "robot_id", robotID, "command", name)
	m.bus.Emit(Event{Type: EventCommandSent, RobotID: robotID, Data: name})
	return nil
}
