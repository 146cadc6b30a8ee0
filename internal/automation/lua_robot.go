//go:build !no_automation

package automation

import (
	"context"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// registerRobotModule registers the `robot` global table in a Lua state.
func registerRobotModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return robotOn(L, vm)
	}))

	mod.RawSetString("command", L.NewFunction(func(L *lua.LState) int {
		return robotCommand(L, e)
	}))

	// Shortcuts for the common commands.
	for _, name := range []string{"start", "pause", "resume", "stop", "return_to_base", "find_me", "clean_map"} {
		cmd := name
		mod.RawSetString(cmd, L.NewFunction(func(L *lua.LState) int {
			target := L.CheckString(1)
			e.runCommand(target, cmd, "")
			return 0
		}))
	}

	mod.RawSetString("set_fan_speed", L.NewFunction(func(L *lua.LState) int {
		target := L.CheckString(1)
		speed := L.CheckString(2)
		e.runCommand(target, "fan_speed", speed)
		return 0
	}))

	mod.RawSetString("clean_zone", L.NewFunction(func(L *lua.LState) int {
		target := L.CheckString(1)
		zone := L.CheckString(2)
		e.runCommand(target, "clean_zone", zone)
		return 0
	}))

	mod.RawSetString("state", L.NewFunction(func(L *lua.LState) int {
		return robotState(L, e)
	}))

	mod.RawSetString("robots", L.NewFunction(func(L *lua.LState) int {
		return robotList(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return robotAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		e.logger.Info("script log", "msg", msg)
		return 0
	}))

	L.SetGlobal("robot", mod)
}

const maxHandlersPerScript = 100

// robot.on(type, filter, callback)
func robotOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}

	if v := filterTable.RawGetString("robot"); v != lua.LNil {
		h.robot = v.String()
	}
	if v := filterTable.RawGetString("activity"); v != lua.LNil {
		h.activity = v.String()
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// robot.command(robot_id_or_name, command, arg)
func robotCommand(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	name := L.CheckString(2)
	arg := ""
	if L.GetTop() >= 3 {
		arg = L.CheckString(3)
	}
	e.runCommand(target, name, arg)
	return 0
}

// robot.state(robot_id_or_name) returns the current snapshot as a table.
func robotState(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)

	id, ok := resolveRobotID(e, target)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}

	snap, err := e.mgr.Snapshot(id)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}

	tbl := L.NewTable()
	for k, v := range eventFields(snap) {
		tbl.RawSetString(k, goToLua(L, v))
	}
	if speed, err := e.mgr.FanSpeed(id); err == nil {
		tbl.RawSetString("fan_speed", lua.LString(speed))
	}
	L.Push(tbl)
	return 1
}

// robot.robots() returns a table of all known robots.
func robotList(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, info := range e.mgr.Robots() {
		r := L.NewTable()
		r.RawSetString("id", lua.LString(info.ID))
		r.RawSetString("name", lua.LString(info.Name))
		r.RawSetString("serial", lua.LString(info.Serial))
		r.RawSetString("model", lua.LString(info.ModelName))
		tbl.RawSetInt(i+1, r)
	}
	L.Push(tbl)
	return 1
}

// robot.after(seconds, callback) runs the callback after a delay.
func robotAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		// Send callback execution to the VM's command channel
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// runCommand resolves the target robot and dispatches a command to the cloud.
func (e *Engine) runCommand(target, name, arg string) {
	id, ok := resolveRobotID(e, target)
	if !ok {
		e.logger.Warn("robot not found", "target", target)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.mgr.Command(ctx, id, name, arg); err != nil {
		e.logger.Error("script command", "err", err, "robot_id", id, "command", name)
	}
}

// resolveRobotID finds a robot by ID, name, or serial.
func resolveRobotID(e *Engine, target string) (string, bool) {
	if _, err := e.mgr.Robot(target); err == nil {
		return target, true
	}

	for _, info := range e.mgr.Robots() {
		if strings.EqualFold(info.Name, target) || strings.EqualFold(info.Serial, target) {
			return info.ID, true
		}
	}
	return "", false
}
