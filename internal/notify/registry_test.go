// internal/notify/registry_test.go
package notify

import (
	"errors"
	"testing"
)

func TestRegistryPublish(t *testing.T) {
	reg := NewRegistry()

	var got Event
	reg.Subscribe("step.", func(e Event) error {
		got = e
		return nil
	})

	err := reg.Publish(Event{Kind: KindStepClick, CanvasID: "canvas-1", StepID: "s-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != KindStepClick || got.StepID != "s-1" {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.At.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestRegistryNoSubscriber(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Publish(Event{Kind: KindSessionSwitch}); err != nil {
		t.Fatalf("expected unsubscribed event to be dropped, got %v", err)
	}
}

func TestRegistryMultiplePrefixes(t *testing.T) {
	reg := NewRegistry()

	var all, steps, errs int
	reg.Subscribe("", func(Event) error { all++; return nil })
	reg.Subscribe("step.", func(Event) error { steps++; return nil })
	reg.Subscribe(KindDispatchError, func(Event) error { errs++; return nil })

	reg.Publish(Event{Kind: KindStepClick})
	reg.Publish(Event{Kind: KindStepDispatched})
	reg.Publish(Event{Kind: KindDispatchError})
	reg.Publish(Event{Kind: KindSessionSwitch})

	if all != 4 {
		t.Errorf("expected 4 catch-all calls, got %d", all)
	}
	if steps != 2 {
		t.Errorf("expected 2 step calls, got %d", steps)
	}
	if errs != 1 {
		t.Errorf("expected 1 dispatch error call, got %d", errs)
	}
}

func TestRegistryJoinsErrors(t *testing.T) {
	reg := NewRegistry()

	first := errors.New("telegram down")
	second := errors.New("webhook down")
	var calls int
	reg.Subscribe("", func(Event) error { calls++; return first })
	reg.Subscribe("", func(Event) error { calls++; return second })

	err := reg.Publish(Event{Kind: KindDispatchError})
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Errorf("expected both errors, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected every handler to run, got %d calls", calls)
	}
}

func TestLogHandler(t *testing.T) {
	if err := LogHandler(Event{Kind: KindFetchError, CanvasID: "canvas-1", Message: "boom"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
