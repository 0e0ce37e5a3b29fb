package events

import (
	"testing"

	"vkvm/internal/message"
)

func TestDefaultFactoryNeverFails(t *testing.T) {
	var f DefaultFactory

	if _, ok := f.CreateKeyEvent(); !ok {
		t.Fatalf("CreateKeyEvent should not fail")
	}
	if _, ok := f.CreateMotionEvent(); !ok {
		t.Fatalf("CreateMotionEvent should not fail")
	}
	if _, ok := f.CreateFocusEvent(); !ok {
		t.Fatalf("CreateFocusEvent should not fail")
	}
	if _, ok := f.CreateCaptureEvent(); !ok {
		t.Fatalf("CreateCaptureEvent should not fail")
	}
	if _, ok := f.CreateDragEvent(); !ok {
		t.Fatalf("CreateDragEvent should not fail")
	}
	if _, ok := f.CreateTouchModeEvent(); !ok {
		t.Fatalf("CreateTouchModeEvent should not fail")
	}
}

func TestMotionEventInitializeAndAddSample(t *testing.T) {
	var f DefaultFactory
	e, ok := f.CreateMotionEvent()
	if !ok {
		t.Fatalf("CreateMotionEvent failed")
	}

	props := []message.PointerProperties{{ID: 0, ToolType: message.ToolFinger}}
	var c0 message.PointerCoords
	c0.SetAxisValue(message.AxisX, 1)
	c0.SetAxisValue(message.AxisY, 2)

	e.Initialize(
		1, 9, message.SourceClassPointer, 0, [32]byte{},
		message.ActionMove, 0, 0, 0, 0, 0, 0,
		message.Transform{}, message.Transform{},
		0, 0, 0, 0,
		500, 1000,
		props, []message.PointerCoords{c0},
	)

	if e.DeviceID() != 9 || e.Source() != message.SourceClassPointer {
		t.Fatalf("Initialize did not set device/source correctly")
	}
	if e.PointerCount() != 1 || e.PointerID(0) != 0 {
		t.Fatalf("unexpected pointer identity after Initialize")
	}
	if len(e.History) != 1 || e.History[0].EventTime != 1000 {
		t.Fatalf("expected a single initial sample, got %+v", e.History)
	}

	var c1 message.PointerCoords
	c1.SetAxisValue(message.AxisX, 3)
	c1.SetAxisValue(message.AxisY, 4)
	e.AddSample(2000, []message.PointerCoords{c1})

	if len(e.History) != 2 {
		t.Fatalf("expected 2 samples after AddSample, got %d", len(e.History))
	}
	latest := e.LatestSample()
	if latest.EventTime != 2000 || latest.Pointers[0].X() != 3 {
		t.Fatalf("unexpected latest sample: %+v", latest)
	}
}

func TestMotionEventSetMetaState(t *testing.T) {
	var f DefaultFactory
	e, _ := f.CreateMotionEvent()
	e.SetMetaState(7)
	if e.MetaState() != 7 {
		t.Fatalf("MetaState = %d, want 7", e.MetaState())
	}
}

// limitedFactory fails every call after the given budget is exhausted,
// exercising the NO_MEMORY path a real consumer must handle.
type limitedFactory struct {
	remaining int
}

func (f *limitedFactory) take() bool {
	if f.remaining <= 0 {
		return false
	}
	f.remaining--
	return true
}

func (f *limitedFactory) CreateKeyEvent() (*KeyEvent, bool) {
	if !f.take() {
		return nil, false
	}
	return &KeyEvent{}, true
}
func (f *limitedFactory) CreateMotionEvent() (*MotionEvent, bool) {
	if !f.take() {
		return nil, false
	}
	return &MotionEvent{}, true
}
func (f *limitedFactory) CreateFocusEvent() (*FocusEvent, bool) {
	if !f.take() {
		return nil, false
	}
	return &FocusEvent{}, true
}
func (f *limitedFactory) CreateCaptureEvent() (*CaptureEvent, bool) {
	if !f.take() {
		return nil, false
	}
	return &CaptureEvent{}, true
}
func (f *limitedFactory) CreateDragEvent() (*DragEvent, bool) {
	if !f.take() {
		return nil, false
	}
	return &DragEvent{}, true
}
func (f *limitedFactory) CreateTouchModeEvent() (*TouchModeEvent, bool) {
	if !f.take() {
		return nil, false
	}
	return &TouchModeEvent{}, true
}

func TestLimitedFactoryReportsExhaustion(t *testing.T) {
	var f Factory = &limitedFactory{remaining: 1}
	if _, ok := f.CreateKeyEvent(); !ok {
		t.Fatalf("first allocation should succeed")
	}
	if _, ok := f.CreateMotionEvent(); ok {
		t.Fatalf("second allocation should fail once budget is exhausted")
	}
}
