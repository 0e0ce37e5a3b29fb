// Package touchstate tracks per-{deviceId,source} motion history and
// implements the resampling algorithm: short-horizon linear
// interpolation when a future sample is already known, or bounded
// extrapolation when it is not, plus the "rewrite" rule that keeps
// previously-resampled coordinates from regressing once a real sample
// catches up with or repeats them.
package touchstate

import "vkvm/internal/message"

// Resampling tunables, all in nanoseconds (5 / 2 / 20 / 8 milliseconds
// respectively).
const (
	ResampleLatency      = 5 * 1_000_000
	ResampleMinDelta     = 2 * 1_000_000
	ResampleMaxDelta     = 20 * 1_000_000
	ResampleMaxPrediction = 8 * 1_000_000
)

// maxHistory bounds the per-device sample window. The algorithm only
// ever looks at the most recent sample and the one before it, so 2 is
// sufficient; kept as a named constant so a future caller who wants a
// longer diagnostic trail has one place to widen it.
const maxHistory = 2

// Sample is one motion message's pointer set, as tracked in history.
type Sample struct {
	EventTime int64
	Pointers  []message.Pointer
}

func (s Sample) find(id uint32) (message.Pointer, bool) {
	for _, p := range s.Pointers {
		if p.Properties.ID == id {
			return p, true
		}
	}
	return message.Pointer{}, false
}

// lastResample records the most recently delivered synthetic sample, so
// that later real samples can be checked against it for staleness or
// repetition.
type lastResample struct {
	eventTime int64
	idBits    uint64
	coords    map[uint32]message.PointerCoords
}

func (lr *lastResample) hasID(id uint32) bool {
	return lr != nil && lr.idBits&(uint64(1)<<uint(id)) != 0
}

func (lr *lastResample) clearID(id uint32) {
	if lr == nil {
		return
	}
	lr.idBits &^= uint64(1) << uint(id)
}

// State is the tracked history and last-resample record for one
// {deviceId, source} pair.
type State struct {
	DeviceID int32
	Source   int32

	history []Sample
	last    *lastResample
}

func newState(deviceID, source int32) *State {
	return &State{DeviceID: deviceID, Source: source}
}

func (s *State) append(sample Sample) {
	s.history = append(s.history, sample)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

// Current returns the most recent historical sample, if any.
func (s *State) Current() (Sample, bool) {
	if len(s.history) == 0 {
		return Sample{}, false
	}
	return s.history[len(s.history)-1], true
}

func (s *State) previous() (Sample, bool) {
	if len(s.history) < 2 {
		return Sample{}, false
	}
	return s.history[len(s.history)-2], true
}

// recentCoordinatesIdentical reports whether the two most recent
// historical samples carry identical x/y for id (the pointer did not
// move between them).
func (s *State) recentCoordinatesIdentical(id uint32) bool {
	cur, ok := s.Current()
	if !ok {
		return false
	}
	prev, ok := s.previous()
	if !ok {
		return false
	}
	a, ok := cur.find(id)
	if !ok {
		return false
	}
	b, ok := prev.find(id)
	if !ok {
		return false
	}
	return a.Coords.X() == b.Coords.X() && a.Coords.Y() == b.Coords.Y()
}

// Key identifies a tracked touch state.
type Key struct {
	DeviceID int32
	Source   int32
}

// Store holds one State per {deviceId, source}, created lazily.
type Store struct {
	states map[Key]*State
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{states: make(map[Key]*State)}
}

// Get returns the tracked state for key, if any.
func (st *Store) Get(key Key) (*State, bool) {
	s, ok := st.states[key]
	return s, ok
}

func (st *Store) getOrCreate(key Key) *State {
	s, ok := st.states[key]
	if !ok {
		s = newState(key.DeviceID, key.Source)
		st.states[key] = s
	}
	return s
}

func (st *Store) reset(key Key) *State {
	s := newState(key.DeviceID, key.Source)
	st.states[key] = s
	return s
}

func (st *Store) destroy(key Key) {
	delete(st.states, key)
}

func sampleFromMotion(msg *message.MotionBody) Sample {
	pointers := make([]message.Pointer, msg.PointerCount)
	copy(pointers, msg.Pointers[:msg.PointerCount])
	return Sample{EventTime: msg.EventTime, Pointers: pointers}
}

// rewrite applies the rewrite rule to every pointer in msg: if
// lastResample still carries a pointer's id, and the message predates
// the resample or the pointer has been sitting still since, its
// coordinates are overwritten with the resampled ones so the app never
// observes motion regress behind what it was already shown. Only once
// a message both catches up with the resample and carries a genuinely
// different coordinate is the id cleared for future messages.
func (s *State) rewrite(msg *message.MotionBody) {
	if s.last == nil {
		return
	}
	for i := 0; i < int(msg.PointerCount); i++ {
		id := msg.Pointers[i].Properties.ID
		if !s.last.hasID(id) {
			continue
		}
		if msg.EventTime >= s.last.eventTime && !s.recentCoordinatesIdentical(id) {
			s.last.clearID(id)
			continue
		}
		coords, ok := s.last.coords[id]
		if !ok {
			continue
		}
		msg.Pointers[i].Coords.SetAxisValue(message.AxisX, coords.X())
		msg.Pointers[i].Coords.SetAxisValue(message.AxisY, coords.Y())
		msg.Pointers[i].Coords.IsResampled = true
	}
}

// Update advances touch state for one motion message before it is
// folded into a batch or event, applying per-action rules for when
// history resets, accumulates, or a pointer id is retired. msg's
// pointer coordinates may be rewritten in place.
func (st *Store) Update(deviceID, source int32, msg *message.MotionBody) {
	if !message.IsPointerSource(source) {
		return
	}
	key := Key{DeviceID: deviceID, Source: source}
	action := msg.Action & message.ActionMask

	switch action {
	case message.ActionDown:
		s := st.reset(key)
		s.append(sampleFromMotion(msg))

	case message.ActionMove:
		s := st.getOrCreate(key)
		s.append(sampleFromMotion(msg))
		s.rewrite(msg)

	case message.ActionPointerDown:
		if s, ok := st.states[key]; ok {
			id := message.ActionID(msg.Action, pointerProps(msg))
			s.last.clearID(id)
			s.rewrite(msg)
		}

	case message.ActionPointerUp:
		if s, ok := st.states[key]; ok {
			s.rewrite(msg)
			id := message.ActionID(msg.Action, pointerProps(msg))
			s.last.clearID(id)
		}

	case message.ActionScroll:
		if s, ok := st.states[key]; ok {
			s.rewrite(msg)
		}

	case message.ActionUp, message.ActionCancel:
		if s, ok := st.states[key]; ok {
			s.rewrite(msg)
		}
		st.destroy(key)
	}
}

func pointerProps(msg *message.MotionBody) []message.PointerProperties {
	props := make([]message.PointerProperties, msg.PointerCount)
	for i := range props {
		props[i] = msg.Pointers[i].Properties
	}
	return props
}

func lerp(a, b, alpha float32) float32 {
	return a + alpha*(b-a)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// ResampledEvent is the narrow interface touchstate needs from an
// events.MotionEvent: enough to read the delivered pointer shape and
// attach the synthetic sample, without importing the events package
// (which would create an import cycle with consumer code that imports
// both).
type ResampledEvent interface {
	Action() int32
	PointerCount() int
	PointerID(i int) uint32
	ToolType(i int) message.ToolType
	AddSample(eventTime int64, pointers []message.PointerCoords)
}

// Resample produces a synthetic pointer sample at sampleTime, interpolated
// or extrapolated from tracked history. It checks its own preconditions and
// is a no-op (returning false) if any fail: resampling must be enabled by
// the caller, the event must be a MOVE on a pointer source, state must
// carry at least one historical sample, and every pointer id the event
// delivers must already be present in the most recent historical sample.
func Resample(state *State, enabled bool, source int32, sampleTime int64, event ResampledEvent, next *Sample) bool {
	if !enabled || state == nil {
		return false
	}
	if event.Action()&message.ActionMask != message.ActionMove {
		return false
	}
	if !message.IsPointerSource(source) {
		return false
	}
	current, ok := state.Current()
	if !ok {
		return false
	}

	ids := make([]uint32, event.PointerCount())
	for i := range ids {
		ids[i] = event.PointerID(i)
		if _, ok := current.find(ids[i]); !ok {
			return false
		}
	}

	var other Sample
	var haveOther bool
	var alpha float32

	if next != nil {
		delta := next.EventTime - current.EventTime
		if delta < ResampleMinDelta {
			return false
		}
		alpha = float32(sampleTime-current.EventTime) / float32(delta)
		other, haveOther = *next, true
	} else {
		prev, ok := state.previous()
		if !ok {
			return false
		}
		delta := current.EventTime - prev.EventTime
		if delta < ResampleMinDelta || delta > ResampleMaxDelta {
			return false
		}
		maxPredict := current.EventTime + min64(delta/2, ResampleMaxPrediction)
		if sampleTime > maxPredict {
			sampleTime = maxPredict
		}
		alpha = float32(current.EventTime-sampleTime) / float32(delta)
		other, haveOther = prev, true
	}

	if current.EventTime == sampleTime {
		return false
	}

	resampled := make([]message.PointerCoords, len(ids))
	newLast := &lastResample{eventTime: sampleTime, coords: make(map[uint32]message.PointerCoords)}

	for i, id := range ids {
		if state.last.hasID(id) && state.recentCoordinatesIdentical(id) {
			coords := state.last.coords[id]
			resampled[i] = coords
			newLast.idBits |= uint64(1) << uint(id)
			newLast.coords[id] = coords
			continue
		}

		cp, _ := current.find(id)
		coords := cp.Coords
		coords.IsResampled = true

		if haveOther && event.ToolType(i).ShouldResample() {
			if op, ok := other.find(id); ok {
				x := lerp(cp.Coords.X(), op.Coords.X(), alpha)
				y := lerp(cp.Coords.Y(), op.Coords.Y(), alpha)
				coords.SetAxisValue(message.AxisX, x)
				coords.SetAxisValue(message.AxisY, y)
			}
		}

		resampled[i] = coords
		newLast.idBits |= uint64(1) << uint(id)
		newLast.coords[id] = coords
	}

	state.last = newLast
	event.AddSample(sampleTime, resampled)
	return true
}
