package robot

import "testing"

func TestEventBusOnAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(testLogger())

	var got []Event
	off := bus.On(EventBattery, func(e Event) { got = append(got, e) })

	bus.Emit(Event{Type: EventBattery, RobotID: "r1"})
	bus.Emit(Event{Type: EventConnection, RobotID: "r1"})
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}

	off()
	bus.Emit(Event{Type: EventBattery, RobotID: "r1"})
	if len(got) != 1 {
		t.Errorf("events after unsubscribe = %d, want 1", len(got))
	}
}

func TestEventBusOnAll(t *testing.T) {
	bus := NewEventBus(testLogger())

	var got []string
	bus.OnAll(func(e Event) { got = append(got, e.Type) })

	bus.Emit(Event{Type: EventBattery})
	bus.Emit(Event{Type: EventStateUpdate})
	if len(got) != 2 {
		t.Fatalf("events = %v", got)
	}
}

func TestEventBusRecoversPanickingHandler(t *testing.T) {
	bus := NewEventBus(testLogger())

	bus.On(EventBattery, func(e Event) { panic("boom") })
	var called bool
	bus.On(EventBattery, func(e Event) { called = true })

	bus.Emit(Event{Type: EventBattery})
	if !called {
		t.Error("second handler not called after panic")
	}
}
