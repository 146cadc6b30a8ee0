//go:build !no_automation

package automation

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"kobold-bridge/internal/api"
	"kobold-bridge/internal/reconcile"
	"kobold-bridge/internal/robot"
	"kobold-bridge/internal/store"

	lua "github.com/yuin/gopher-lua"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCloud struct {
	mu       sync.Mutex
	robots   []api.Robot
	commands []string
}

func (f *fakeCloud) note(name string) {
	f.mu.Lock()
	f.commands = append(f.commands, name)
	f.mu.Unlock()
}

func (f *fakeCloud) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

func (f *fakeCloud) GetUserRobots(ctx context.Context) ([]api.Robot, error) {
	return f.robots, nil
}

func (f *fakeCloud) GetCleaningModes(ctx context.Context, robotID string) (*api.CleaningModes, error) {
	return &api.CleaningModes{}, nil
}

func (f *fakeCloud) GetRobotMaps(ctx context.Context, robotID string) ([]api.RobotMap, error) {
	return []api.RobotMap{{FloorplanUUID: "fp-main", Default: true, Name: "Home"}}, nil
}

func (f *fakeCloud) GetZonesByFloorPlan(ctx context.Context, floorplanUUID string) ([]api.CleaningTrack, error) {
	return []api.CleaningTrack{{TrackUUID: "track-1", Name: "Kitchen"}}, nil
}

func (f *fakeCloud) StartCleaning(ctx context.Context, robotID string, req api.CleaningStartRequest) error {
	f.note("start")
	return nil
}

func (f *fakeCloud) SendToBase(ctx context.Context, serial string) error {
	f.note("send_to_base")
	return nil
}

func (f *fakeCloud) PauseCleaning(ctx context.Context, serial string) error {
	f.note("pause")
	return nil
}

func (f *fakeCloud) ResumeClean(ctx context.Context, serial string) error {
	f.note("resume")
	return nil
}

func (f *fakeCloud) FindMe(ctx context.Context, serial string) error {
	f.note("find_me")
	return nil
}

func (f *fakeCloud) ShowCleaning(ctx context.Context, serial string) (*api.CleaningShowResponse, error) {
	return &api.CleaningShowResponse{}, nil
}

// newTestEngine builds an engine over a manager with one adopted robot,
// backed by a websocket endpoint that accepts sessions and discards frames.
func newTestEngine(t *testing.T, cloud *fakeCloud) *Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(wsSrv.Close)

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	mgr := robot.NewManager(robot.Config{
		SocketURL: "ws" + strings.TrimPrefix(wsSrv.URL, "http"),
		Login:     func(ctx context.Context) (string, error) { return "Bearer tok", nil },
	}, cloud, st, robot.NewEventBus(testLogger()), testLogger())

	if err := mgr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Stop)

	scripts, err := NewManager(filepath.Join(t.TempDir(), "scripts"))
	if err != nil {
		t.Fatal(err)
	}

	e := NewEngine(mgr, scripts, testLogger())
	t.Cleanup(e.Stop)
	return e
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  interface{}
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool true", true, lua.LTBool},
		{"bool false", false, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"int64", int64(99), lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"map", map[string]interface{}{"a": 1}, lua.LTTable},
		{"slice", []interface{}{1, 2, 3}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := goToLua(L, tt.val)
			if result.Type() != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, result.Type(), tt.want)
			}
		})
	}
}

func TestEventFields(t *testing.T) {
	fields := eventFields(robot.BatteryEvent{RobotID: "r1", Charge: 88, Charging: true})
	if fields["robot_id"] != "r1" {
		t.Errorf("robot_id = %v", fields["robot_id"])
	}
	if charge, ok := fields["charge"].(float64); !ok || charge != 88 {
		t.Errorf("charge = %v", fields["charge"])
	}
	if fields["charging"] != true {
		t.Errorf("charging = %v", fields["charging"])
	}
	if eventFields(nil) != nil {
		t.Error("eventFields(nil) should be nil")
	}
}

func TestMatchesHandler(t *testing.T) {
	cloud := &fakeCloud{robots: []api.Robot{{ID: "r1", Name: "Kitchen", Serial: "VR7-0001"}}}
	e := newTestEngine(t, cloud)

	stateEvent := robot.Event{
		Type:    robot.EventStateUpdate,
		RobotID: "r1",
		Data: robot.StateEvent{
			Snapshot: reconcile.Snapshot{RobotID: "r1", ActivityName: "cleaning"},
		},
	}

	tests := []struct {
		name    string
		handler luaEventHandler
		event   robot.Event
		want    bool
	}{
		{
			"type match, no filter",
			luaEventHandler{eventType: robot.EventStateUpdate},
			stateEvent,
			true,
		},
		{
			"wrong event type",
			luaEventHandler{eventType: robot.EventBattery},
			stateEvent,
			false,
		},
		{
			"robot id filter match",
			luaEventHandler{eventType: robot.EventStateUpdate, robot: "r1"},
			stateEvent,
			true,
		},
		{
			"robot name filter resolves",
			luaEventHandler{eventType: robot.EventStateUpdate, robot: "kitchen"},
			stateEvent,
			true,
		},
		{
			"robot filter mismatch",
			luaEventHandler{eventType: robot.EventStateUpdate, robot: "r2"},
			stateEvent,
			false,
		},
		{
			"activity filter match",
			luaEventHandler{eventType: robot.EventStateUpdate, activity: "cleaning"},
			stateEvent,
			true,
		},
		{
			"activity filter mismatch",
			luaEventHandler{eventType: robot.EventStateUpdate, activity: "docked"},
			stateEvent,
			false,
		},
		{
			"activity filter on non-state event",
			luaEventHandler{eventType: robot.EventBattery, activity: "cleaning"},
			robot.Event{Type: robot.EventBattery, RobotID: "r1", Data: robot.BatteryEvent{RobotID: "r1"}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.matchesHandler(tt.handler, tt.event)
			if got != tt.want {
				t.Errorf("matchesHandler() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunLuaCodeCapturesLogs(t *testing.T) {
	e := newTestEngine(t, &fakeCloud{})

	res := e.RunLuaCode(`robot.log("hello")`)
	if !res.OK {
		t.Fatalf("error = %q", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "hello" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestRunLuaCodeSyntaxError(t *testing.T) {
	e := newTestEngine(t, &fakeCloud{})

	res := e.RunLuaCode(`this is not lua`)
	if res.OK {
		t.Fatal("expected failure")
	}
	if res.Error == "" {
		t.Error("expected non-empty error")
	}
}

func TestRunLuaCodeSandbox(t *testing.T) {
	e := newTestEngine(t, &fakeCloud{})

	for _, code := range []string{`os.time()`, `io.open("x")`, `require("socket")`} {
		res := e.RunLuaCode(code)
		if res.OK {
			t.Errorf("code %q: expected sandbox error", code)
		}
	}
}

func TestRunLuaCodeInvokesHandlers(t *testing.T) {
	e := newTestEngine(t, &fakeCloud{})

	res := e.RunLuaCode(`
robot.on("state_update", {robot="r1"}, function(event)
    robot.log("saw " .. event.type)
end)
`)
	if !res.OK {
		t.Fatalf("error = %q", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "saw state_update" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestScriptCommandByRobotName(t *testing.T) {
	cloud := &fakeCloud{robots: []api.Robot{{ID: "r1", Name: "Kitchen", Serial: "VR7-0001"}}}
	e := newTestEngine(t, cloud)

	res := e.RunLuaCode(`robot.pause("Kitchen")`)
	if !res.OK {
		t.Fatalf("error = %q", res.Error)
	}

	if got := cloud.recorded(); len(got) != 1 || got[0] != "pause" {
		t.Errorf("commands = %v", got)
	}
}

func TestEventDispatchToRunningScript(t *testing.T) {
	cloud := &fakeCloud{robots: []api.Robot{{ID: "r1", Name: "Kitchen", Serial: "VR7-0001"}}}
	e := newTestEngine(t, cloud)

	_, err := e.manager.Save(&Script{
		ID:   "dock_on_low_battery",
		Meta: ScriptMeta{Name: "Dock on low battery", Enabled: true},
		LuaCode: `
robot.on("battery", {robot="r1"}, function(event)
    if event.charge < 10 then
        robot.return_to_base(event.robot_id)
    end
end)
`,
	})
	if err != nil {
		t.Fatal(err)
	}

	e.Start()

	e.mgr.Bus().Emit(robot.Event{Type: robot.EventBattery, RobotID: "r1", Data: robot.BatteryEvent{
		RobotID: "r1", Charge: 5,
	}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, cmd := range cloud.recorded() {
			if cmd == "send_to_base" {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("send_to_base never dispatched, commands = %v", cloud.recorded())
}

func TestReloadScriptDisabledStops(t *testing.T) {
	e := newTestEngine(t, &fakeCloud{})

	if _, err := e.manager.Save(&Script{
		ID:      "noop",
		Meta:    ScriptMeta{Name: "Noop", Enabled: true},
		LuaCode: `robot.log("loaded")`,
	}); err != nil {
		t.Fatal(err)
	}

	if err := e.ReloadScript("noop"); err != nil {
		t.Fatal(err)
	}
	e.mu.Lock()
	running := len(e.vms)
	e.mu.Unlock()
	if running != 1 {
		t.Fatalf("running vms = %d, want 1", running)
	}

	if _, err := e.manager.Save(&Script{
		ID:      "noop",
		Meta:    ScriptMeta{Name: "Noop", Enabled: false},
		LuaCode: `robot.log("loaded")`,
	}); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript("noop"); err != nil {
		t.Fatal(err)
	}
	e.mu.Lock()
	running = len(e.vms)
	e.mu.Unlock()
	if running != 0 {
		t.Errorf("running vms = %d, want 0", running)
	}
}
