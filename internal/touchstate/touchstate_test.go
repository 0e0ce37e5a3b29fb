package touchstate

import (
	"testing"

	"vkvm/internal/message"
)

// fakeEvent is a minimal ResampledEvent for exercising Resample without
// depending on the events package.
type fakeEvent struct {
	action       int32
	ids          []uint32
	toolTypes    []message.ToolType
	addedTime    int64
	addedCoords  []message.PointerCoords
	addSampleHit int
}

func (f *fakeEvent) Action() int32         { return f.action }
func (f *fakeEvent) PointerCount() int     { return len(f.ids) }
func (f *fakeEvent) PointerID(i int) uint32 { return f.ids[i] }
func (f *fakeEvent) ToolType(i int) message.ToolType {
	return f.toolTypes[i]
}
func (f *fakeEvent) AddSample(eventTime int64, coords []message.PointerCoords) {
	f.addSampleHit++
	f.addedTime = eventTime
	f.addedCoords = coords
}

func pointerAt(id uint32, x, y float32) message.Pointer {
	var c message.PointerCoords
	c.SetAxisValue(message.AxisX, x)
	c.SetAxisValue(message.AxisY, y)
	return message.Pointer{Properties: message.PointerProperties{ID: id, ToolType: message.ToolFinger}, Coords: c}
}

func newStoreWithHistory(key Key, samples ...Sample) *Store {
	st := NewStore()
	s := st.reset(key)
	for _, samp := range samples {
		s.append(samp)
	}
	return st
}

func TestResampleInterpolatesBetweenCurrentAndNext(t *testing.T) {
	key := Key{DeviceID: 1, Source: message.SourceClassPointer}
	st := newStoreWithHistory(key, Sample{EventTime: 0, Pointers: []message.Pointer{pointerAt(0, 0, 0)}})

	state, _ := st.Get(key)
	next := &Sample{EventTime: 5_000_000, Pointers: []message.Pointer{pointerAt(0, 5, 0)}}

	evt := &fakeEvent{action: message.ActionMove, ids: []uint32{0}, toolTypes: []message.ToolType{message.ToolFinger}}

	ok := Resample(state, true, message.SourceClassPointer, 3_000_000, evt, next)
	if !ok {
		t.Fatalf("expected Resample to succeed")
	}
	if evt.addSampleHit != 1 {
		t.Fatalf("expected AddSample to be called once, got %d", evt.addSampleHit)
	}
	if evt.addedTime != 3_000_000 {
		t.Fatalf("addedTime = %d, want 3000000", evt.addedTime)
	}
	x := evt.addedCoords[0].X()
	if x != 3 {
		t.Fatalf("interpolated x = %v, want 3", x)
	}
}

func TestResampleExtrapolationIsClampedToMaxPrediction(t *testing.T) {
	key := Key{DeviceID: 1, Source: message.SourceClassPointer}
	st := newStoreWithHistory(key,
		Sample{EventTime: 0, Pointers: []message.Pointer{pointerAt(0, 0, 0)}},
		Sample{EventTime: 5_000_000, Pointers: []message.Pointer{pointerAt(0, 5, 0)}},
	)
	state, _ := st.Get(key)

	evt := &fakeEvent{action: message.ActionMove, ids: []uint32{0}, toolTypes: []message.ToolType{message.ToolFinger}}

	// frameTime - RESAMPLE_LATENCY = 20ms in the scenario this mirrors;
	// delta=5ms so min(delta/2, MAX_PREDICTION) = 2.5ms, clamped target
	// is 5ms + 2.5ms = 7.5ms, not 20ms.
	ok := Resample(state, true, message.SourceClassPointer, 20_000_000, evt, nil)
	if !ok {
		t.Fatalf("expected Resample to succeed")
	}
	wantTime := int64(7_500_000)
	if evt.addedTime != wantTime {
		t.Fatalf("addedTime = %d, want %d", evt.addedTime, wantTime)
	}
}

func TestResampleAbortsOnTooSmallDelta(t *testing.T) {
	key := Key{DeviceID: 1, Source: message.SourceClassPointer}
	st := newStoreWithHistory(key, Sample{EventTime: 0, Pointers: []message.Pointer{pointerAt(0, 0, 0)}})
	state, _ := st.Get(key)

	next := &Sample{EventTime: 1_000_000, Pointers: []message.Pointer{pointerAt(0, 5, 0)}} // 1ms < RESAMPLE_MIN_DELTA
	evt := &fakeEvent{action: message.ActionMove, ids: []uint32{0}, toolTypes: []message.ToolType{message.ToolFinger}}

	if Resample(state, true, message.SourceClassPointer, 500_000, evt, next) {
		t.Fatalf("expected Resample to abort on sub-minimum delta")
	}
}

func TestResamplePreservesFlagWhenHistoryIdentical(t *testing.T) {
	key := Key{DeviceID: 1, Source: message.SourceClassPointer}
	// Two identical samples: the pointer has not moved.
	st := newStoreWithHistory(key,
		Sample{EventTime: 0, Pointers: []message.Pointer{pointerAt(0, 7, 7)}},
		Sample{EventTime: 5_000_000, Pointers: []message.Pointer{pointerAt(0, 7, 7)}},
	)
	state, _ := st.Get(key)

	evt1 := &fakeEvent{action: message.ActionMove, ids: []uint32{0}, toolTypes: []message.ToolType{message.ToolFinger}}
	if !Resample(state, true, message.SourceClassPointer, 6_000_000, evt1, nil) {
		t.Fatalf("expected first Resample to succeed")
	}
	if !evt1.addedCoords[0].IsResampled {
		t.Fatalf("expected first resampled sample to carry isResampled=true")
	}

	// A second resample against the same unchanged history must keep the
	// previously produced coordinates (no new jitter) while still
	// reporting isResampled=true.
	evt2 := &fakeEvent{action: message.ActionMove, ids: []uint32{0}, toolTypes: []message.ToolType{message.ToolFinger}}
	if !Resample(state, true, message.SourceClassPointer, 6_100_000, evt2, nil) {
		t.Fatalf("expected second Resample to succeed")
	}
	if !evt2.addedCoords[0].IsResampled {
		t.Fatalf("expected retained resample to still report isResampled=true")
	}
	if evt2.addedCoords[0].X() != evt1.addedCoords[0].X() || evt2.addedCoords[0].Y() != evt1.addedCoords[0].Y() {
		t.Fatalf("expected retained resample coordinates to be unchanged")
	}
}

func TestRewriteClearsStaleResampleAndMarksPastSamples(t *testing.T) {
	st := NewStore()
	key := Key{DeviceID: 1, Source: message.SourceClassPointer}
	state := st.reset(key)
	state.append(Sample{EventTime: 0, Pointers: []message.Pointer{pointerAt(0, 0, 0)}})
	state.last = &lastResample{
		eventTime: 10_000_000,
		idBits:    1 << 0,
		coords:    map[uint32]message.PointerCoords{0: func() message.PointerCoords { var c message.PointerCoords; c.SetAxisValue(message.AxisX, 99); c.SetAxisValue(message.AxisY, 99); return c }()},
	}

	// A message from before the resample should be rewritten.
	msg := &message.MotionBody{Action: message.ActionMove, EventTime: 5_000_000, PointerCount: 1}
	msg.Pointers[0] = pointerAt(0, 1, 1)
	st.Update(1, message.SourceClassPointer, msg)
	if msg.Pointers[0].Coords.X() != 99 {
		t.Fatalf("expected past message to be rewritten to resampled x=99, got %v", msg.Pointers[0].Coords.X())
	}
	if !state.last.hasID(0) {
		t.Fatalf("lastResample id should still be set after rewriting a past sample")
	}

	// A message at or after the resample's event time marks it stale.
	msg2 := &message.MotionBody{Action: message.ActionMove, EventTime: 20_000_000, PointerCount: 1}
	msg2.Pointers[0] = pointerAt(0, 2, 2)
	st.Update(1, message.SourceClassPointer, msg2)
	if state.last.hasID(0) {
		t.Fatalf("lastResample id should be cleared once a message catches up")
	}
	if msg2.Pointers[0].Coords.X() != 2 {
		t.Fatalf("stale message should not be rewritten, got x=%v", msg2.Pointers[0].Coords.X())
	}
}

func TestRewriteKeepsResamplingStationaryPointer(t *testing.T) {
	st := NewStore()
	key := Key{DeviceID: 1, Source: message.SourceClassPointer}
	state := st.reset(key)
	state.append(Sample{EventTime: 0, Pointers: []message.Pointer{pointerAt(0, 7, 7)}})
	state.last = &lastResample{
		eventTime: 10_000_000,
		idBits:    1 << 0,
		coords:    map[uint32]message.PointerCoords{0: func() message.PointerCoords { var c message.PointerCoords; c.SetAxisValue(message.AxisX, 99); c.SetAxisValue(message.AxisY, 99); return c }()},
	}

	// Pointer stalls at (7,7) for a real sample past the resample's event
	// time: since the two most recent samples carry identical
	// coordinates, the id must stay rewritten rather than clear and let
	// the raw (7,7) leak through as a backward jump.
	msg := &message.MotionBody{Action: message.ActionMove, EventTime: 20_000_000, PointerCount: 1}
	msg.Pointers[0] = pointerAt(0, 7, 7)
	st.Update(1, message.SourceClassPointer, msg)

	if msg.Pointers[0].Coords.X() != 99 {
		t.Fatalf("expected stationary past-due sample to stay rewritten to x=99, got %v", msg.Pointers[0].Coords.X())
	}
	if !state.last.hasID(0) {
		t.Fatalf("lastResample id should be retained while the pointer is stationary")
	}

	// Once a genuinely different coordinate arrives, the id clears.
	msg2 := &message.MotionBody{Action: message.ActionMove, EventTime: 30_000_000, PointerCount: 1}
	msg2.Pointers[0] = pointerAt(0, 11, 11)
	st.Update(1, message.SourceClassPointer, msg2)

	if state.last.hasID(0) {
		t.Fatalf("lastResample id should clear once the pointer actually moves")
	}
	if msg2.Pointers[0].Coords.X() != 11 {
		t.Fatalf("moved sample should not be rewritten, got x=%v", msg2.Pointers[0].Coords.X())
	}
}

func TestUpdateDownResetsState(t *testing.T) {
	st := NewStore()
	key := Key{DeviceID: 1, Source: message.SourceClassPointer}

	msg1 := &message.MotionBody{Action: message.ActionDown, EventTime: 0, PointerCount: 1}
	msg1.Pointers[0] = pointerAt(0, 0, 0)
	st.Update(1, message.SourceClassPointer, msg1)

	state, ok := st.Get(key)
	if !ok || len(state.history) != 1 {
		t.Fatalf("expected DOWN to create state with 1 history sample")
	}

	msg2 := &message.MotionBody{Action: message.ActionDown, EventTime: 1, PointerCount: 1}
	msg2.Pointers[0] = pointerAt(0, 10, 10)
	st.Update(1, message.SourceClassPointer, msg2)

	state2, _ := st.Get(key)
	if state2 == state {
		t.Fatalf("expected DOWN to replace the previous state object")
	}
	if len(state2.history) != 1 {
		t.Fatalf("expected reset state to start with exactly 1 history sample")
	}
}

func TestUpdateCancelDestroysState(t *testing.T) {
	st := NewStore()
	key := Key{DeviceID: 1, Source: message.SourceClassPointer}

	msg1 := &message.MotionBody{Action: message.ActionDown, EventTime: 0, PointerCount: 1}
	msg1.Pointers[0] = pointerAt(0, 0, 0)
	st.Update(1, message.SourceClassPointer, msg1)

	msg2 := &message.MotionBody{Action: message.ActionCancel, EventTime: 1, PointerCount: 1}
	msg2.Pointers[0] = pointerAt(0, 0, 0)
	st.Update(1, message.SourceClassPointer, msg2)

	if _, ok := st.Get(key); ok {
		t.Fatalf("expected CANCEL to destroy touch state")
	}
}

func TestIgnoresNonPointerSources(t *testing.T) {
	st := NewStore()
	msg := &message.MotionBody{Action: message.ActionMove, EventTime: 0, PointerCount: 1}
	msg.Pointers[0] = pointerAt(0, 0, 0)
	st.Update(1, message.SourceClassNone, msg)

	if len(st.states) != 0 {
		t.Fatalf("non-pointer source should never create touch state")
	}
}
