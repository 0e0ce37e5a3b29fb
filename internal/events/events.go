// Package events defines the InputEvent value family the consumer
// constructs from wire messages, and the EventFactory interface used to
// allocate them. This is intentionally the thinnest layer in the
// module: event construction is an external collaborator per the
// transport's scope, but something concrete is needed to exercise and
// test the consumer end to end.
package events

import "vkvm/internal/message"

// InputEvent is the variant family every consumed event belongs to,
// replacing the virtual event hierarchy a C++ implementation would use
// with a closed Go interface.
type InputEvent interface {
	inputEvent()
}

// KeyEvent mirrors message.KeyBody.
type KeyEvent struct {
	EventID     int32
	DeviceID    int32
	Source      int32
	DisplayID   int32
	HMAC        [32]byte
	Action      int32
	Flags       int32
	KeyCode     int32
	ScanCode    int32
	MetaState   int32
	RepeatCount int32
	DownTime    int64
	EventTime   int64
}

func (*KeyEvent) inputEvent() {}

// HistoricalSample is one set of per-pointer coordinates attached to a
// MotionEvent, either a directly-received sample folded in by
// consumeSamples or a synthetic one produced by the resampler.
type HistoricalSample struct {
	EventTime int64
	Pointers  []message.PointerCoords
}

// MotionEvent accumulates one or more coalesced MOTION samples sharing
// the same device/source/action/pointer shape. The first sample
// initializes it; subsequent ones are folded in as History entries.
type MotionEvent struct {
	EventID         int32
	deviceID        int32
	source          int32
	DisplayID       int32
	HMAC            [32]byte
	action          int32
	ActionButton    int32
	Flags           int32
	EdgeFlags       int32
	metaState       int32
	ButtonState     int32
	Classification  int32
	Transform       message.Transform
	RawTransform    message.Transform
	XPrecision      float32
	YPrecision      float32
	XCursorPosition float32
	YCursorPosition float32
	DownTime        int64

	pointerProps []message.PointerProperties
	History      []HistoricalSample
}

func (*MotionEvent) inputEvent() {}

// Initialize resets the event to a single initial sample. Called once
// per event, with the first message folded into a batch.
func (e *MotionEvent) Initialize(
	eventID, deviceID, source, displayID int32, hmac [32]byte,
	action, actionButton, flags, edgeFlags, metaState, buttonState, classification int32,
	transform, rawTransform message.Transform,
	xPrecision, yPrecision, xCursorPosition, yCursorPosition float32,
	downTime, eventTime int64,
	pointerProps []message.PointerProperties, coords []message.PointerCoords,
) {
	e.EventID = eventID
	e.deviceID = deviceID
	e.source = source
	e.DisplayID = displayID
	e.HMAC = hmac
	e.action = action
	e.ActionButton = actionButton
	e.Flags = flags
	e.EdgeFlags = edgeFlags
	e.metaState = metaState
	e.ButtonState = buttonState
	e.Classification = classification
	e.Transform = transform
	e.RawTransform = rawTransform
	e.XPrecision = xPrecision
	e.YPrecision = yPrecision
	e.XCursorPosition = xCursorPosition
	e.YCursorPosition = yCursorPosition
	e.DownTime = downTime

	e.pointerProps = append([]message.PointerProperties(nil), pointerProps...)
	e.History = []HistoricalSample{{EventTime: eventTime, Pointers: append([]message.PointerCoords(nil), coords...)}}
}

// AddSample appends an additional historical sample point (a later real
// sample folded in by consumeSamples, or a resampled one).
func (e *MotionEvent) AddSample(eventTime int64, coords []message.PointerCoords) {
	e.History = append(e.History, HistoricalSample{
		EventTime: eventTime,
		Pointers:  append([]message.PointerCoords(nil), coords...),
	})
}

// SetMetaState replaces the event's meta state. The consumer ORs this
// across every sample folded into a batch.
func (e *MotionEvent) SetMetaState(v int32) { e.metaState = v }

// MetaState returns the current meta state.
func (e *MotionEvent) MetaState() int32 { return e.metaState }

// Source returns the input source class flags.
func (e *MotionEvent) Source() int32 { return e.source }

// DeviceID returns the originating device id.
func (e *MotionEvent) DeviceID() int32 { return e.deviceID }

// Action returns the action (including any embedded pointer index for
// POINTER_DOWN/POINTER_UP).
func (e *MotionEvent) Action() int32 { return e.action }

// PointerCount returns the number of pointers carried by this event.
func (e *MotionEvent) PointerCount() int { return len(e.pointerProps) }

// PointerID returns the id of the i'th pointer.
func (e *MotionEvent) PointerID(i int) uint32 { return e.pointerProps[i].ID }

// ToolType returns the tool type of the i'th pointer.
func (e *MotionEvent) ToolType(i int) message.ToolType { return e.pointerProps[i].ToolType }

// PointerProperties returns the (ordered) pointer identity list this
// event was initialized with.
func (e *MotionEvent) PointerProperties() []message.PointerProperties { return e.pointerProps }

// LatestSample returns the most recently added history entry.
func (e *MotionEvent) LatestSample() HistoricalSample {
	return e.History[len(e.History)-1]
}

// FocusEvent mirrors message.FocusBody.
type FocusEvent struct {
	EventID  int32
	HasFocus bool
}

func (*FocusEvent) inputEvent() {}

// CaptureEvent mirrors message.CaptureBody.
type CaptureEvent struct {
	EventID               int32
	PointerCaptureEnabled bool
}

func (*CaptureEvent) inputEvent() {}

// DragEvent mirrors message.DragBody.
type DragEvent struct {
	EventID   int32
	X, Y      float32
	IsExiting bool
}

func (*DragEvent) inputEvent() {}

// TouchModeEvent mirrors message.TouchModeBody.
type TouchModeEvent struct {
	EventID     int32
	InTouchMode bool
}

func (*TouchModeEvent) inputEvent() {}

// Factory is the consumed allocator interface. Each Create method
// returns ok=false on allocation failure. The consumer calls only
// CreateMotionEvent, and maps its failure to message.ErrNoMemory; the
// other event kinds it builds directly.
type Factory interface {
	CreateKeyEvent() (*KeyEvent, bool)
	CreateMotionEvent() (*MotionEvent, bool)
	CreateFocusEvent() (*FocusEvent, bool)
	CreateCaptureEvent() (*CaptureEvent, bool)
	CreateDragEvent() (*DragEvent, bool)
	CreateTouchModeEvent() (*TouchModeEvent, bool)
}

// DefaultFactory allocates plainly and never fails. It is what a real
// embedding application would use in production.
type DefaultFactory struct{}

func (DefaultFactory) CreateKeyEvent() (*KeyEvent, bool)             { return &KeyEvent{}, true }
func (DefaultFactory) CreateMotionEvent() (*MotionEvent, bool)       { return &MotionEvent{}, true }
func (DefaultFactory) CreateFocusEvent() (*FocusEvent, bool)         { return &FocusEvent{}, true }
func (DefaultFactory) CreateCaptureEvent() (*CaptureEvent, bool)     { return &CaptureEvent{}, true }
func (DefaultFactory) CreateDragEvent() (*DragEvent, bool)           { return &DragEvent{}, true }
func (DefaultFactory) CreateTouchModeEvent() (*TouchModeEvent, bool) { return &TouchModeEvent{}, true }
