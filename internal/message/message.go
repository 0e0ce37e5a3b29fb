// Package message implements the fixed-layout wire record shared by the
// producer (publisher) and consumer sides of the input transport: a
// tagged-union datagram with a small header and a body whose active
// variant is selected by Type. Every datagram on the wire is exactly
// Size() bytes; there is no length prefix because the underlying socket
// is datagram-preserving (see internal/channel).
package message

import "math/bits"

// Type identifies the active body variant of a Message.
type Type uint8

const (
	TypeKey Type = iota + 1
	TypeMotion
	TypeFinished
	TypeFocus
	TypeCapture
	TypeDrag
	TypeTouchMode
	TypeTimeline
)

func (t Type) String() string {
	switch t {
	case TypeKey:
		return "KEY"
	case TypeMotion:
		return "MOTION"
	case TypeFinished:
		return "FINISHED"
	case TypeFocus:
		return "FOCUS"
	case TypeCapture:
		return "CAPTURE"
	case TypeDrag:
		return "DRAG"
	case TypeTouchMode:
		return "TOUCH_MODE"
	case TypeTimeline:
		return "TIMELINE"
	default:
		return "UNKNOWN"
	}
}

// MaxPointers bounds the number of simultaneous pointers a single MOTION
// message can carry.
const MaxPointers = 16

// MaxAxes bounds the axis ids a PointerCoords can address. Real touch
// input rarely uses more than a handful (x, y, pressure, size, touch
// major/minor, tool major/minor, orientation, tilt, distance) so 16 is
// ample headroom while keeping the wire message small.
const MaxAxes = 16

// Well-known axis ids, enough to drive the resampler (only X/Y are
// resampled) and exercise the sparse bitmap machinery.
const (
	AxisX = iota
	AxisY
	AxisPressure
	AxisSize
)

// ToolType classifies the physical pointer that produced a sample. Only
// FINGER and UNKNOWN are resampled; STYLUS and MOUSE report with enough
// precision/latency that resampling would make them worse.
type ToolType int32

const (
	ToolUnknown ToolType = iota
	ToolFinger
	ToolStylus
	ToolMouse
)

// ShouldResample reports whether samples from this tool type are
// eligible for interpolation/extrapolation.
func (t ToolType) ShouldResample() bool {
	return t == ToolFinger || t == ToolUnknown
}

// Action values a MOTION message can carry. The low byte is the action
// mask; POINTER_DOWN/POINTER_UP additionally encode the index of the
// pointer that changed state in the high bits, mirroring the platform
// input stack this protocol is modeled on.
const (
	ActionMask             = 0xff
	ActionPointerIndexMask = 0xff00
	ActionPointerIndexShift = 8

	ActionDown        = 0
	ActionUp          = 1
	ActionMove        = 2
	ActionCancel      = 3
	ActionPointerDown = 5
	ActionPointerUp   = 6
	ActionHoverMove   = 7
	ActionScroll      = 8
)

// ActionID extracts the id of the pointer referenced by a
// POINTER_DOWN/POINTER_UP action, given the properties of the pointers
// present in the message.
func ActionID(action int32, pointers []PointerProperties) uint32 {
	index := (action & ActionPointerIndexMask) >> ActionPointerIndexShift
	if int(index) < 0 || int(index) >= len(pointers) {
		return 0
	}
	return pointers[index].ID
}

// Source class flags. Only the POINTER bit matters to this transport:
// it decides whether a source participates in batching and resampling.
const (
	SourceClassNone    = 0
	SourceClassPointer = 1 << 0
)

// IsPointerSource reports whether source carries events eligible for
// batching, touch state tracking, and resampling (touch, stylus, mouse).
func IsPointerSource(source int32) bool {
	return source&SourceClassPointer == SourceClassPointer
}

// PointerProperties identifies a pointer within a MOTION message,
// independent of its current coordinates.
type PointerProperties struct {
	ID       uint32
	ToolType ToolType
}

// Equal reports whether two PointerProperties describe the same
// pointer. Batches only coalesce samples whose per-pointer properties
// match in order.
func (p PointerProperties) Equal(o PointerProperties) bool {
	return p.ID == o.ID && p.ToolType == o.ToolType
}

// PointerCoords is a sparse set of axis values. Bits marks which axis
// ids are populated; only those entries in Values are meaningful, and
// only those entries are ever read off or written onto the wire -
// SanitizedCopy never leaks the rest of the backing array.
type PointerCoords struct {
	Bits        uint64
	Values      [MaxAxes]float32
	IsResampled bool
}

// HasAxis reports whether axis is present in this sample.
func (c *PointerCoords) HasAxis(axis int) bool {
	if axis < 0 || axis >= MaxAxes {
		return false
	}
	return c.Bits&(1<<uint(axis)) != 0
}

// AxisValue returns the value at axis and whether it was present.
func (c *PointerCoords) AxisValue(axis int) (float32, bool) {
	if !c.HasAxis(axis) {
		return 0, false
	}
	return c.Values[axis], true
}

// SetAxisValue marks axis present and stores value.
func (c *PointerCoords) SetAxisValue(axis int, value float32) {
	if axis < 0 || axis >= MaxAxes {
		return
	}
	c.Bits |= 1 << uint(axis)
	c.Values[axis] = value
}

// X and Y are convenience accessors: every pointer sample that reaches
// the resampler is expected to carry both.
func (c *PointerCoords) X() float32 { v, _ := c.AxisValue(AxisX); return v }
func (c *PointerCoords) Y() float32 { v, _ := c.AxisValue(AxisY); return v }

// PopCount returns the number of populated axis values, i.e. the length
// of the packed axis array this sample would serialize to.
func (c *PointerCoords) PopCount() int {
	return bits.OnesCount64(c.Bits)
}

// Pointer is one pointer's identity plus its coordinates within a single
// MOTION sample.
type Pointer struct {
	Properties PointerProperties
	Coords     PointerCoords
}

// Transform is a 3x3 affine transform in the compact form the platform
// input stack uses: [dsdx dtdx tx; dtdy dsdy ty; 0 0 1].
type Transform struct {
	DSDX, DTDX, TX float32
	DTDY, DSDY, TY float32
}

// GraphicsTimeline indexes into a TIMELINE message's timing array.
const (
	GPUCompletedTime = iota
	PresentTime
	GraphicsTimelineSize
)

// Header is the fixed portion present on every message.
type Header struct {
	Type Type
	Seq  uint32
}

// KeyBody is the payload of a KEY message.
type KeyBody struct {
	EventID      int32
	EventTime    int64
	DeviceID     int32
	Source       int32
	DisplayID    int32
	HMAC         [32]byte
	Action       int32
	Flags        int32
	KeyCode      int32
	ScanCode     int32
	MetaState    int32
	RepeatCount  int32
	DownTime     int64
}

// MotionBody is the payload of a MOTION message.
type MotionBody struct {
	EventID         int32
	PointerCount    uint32
	EventTime       int64
	DeviceID        int32
	Source          int32
	DisplayID       int32
	HMAC            [32]byte
	Action          int32
	ActionButton    int32
	Flags           int32
	MetaState       int32
	ButtonState     int32
	Classification  int32
	EdgeFlags       int32
	DownTime        int64
	Transform       Transform
	RawTransform    Transform
	XPrecision      float32
	YPrecision      float32
	XCursorPosition float32
	YCursorPosition float32
	Pointers        [MaxPointers]Pointer
}

// FinishedBody is the payload of a FINISHED message (consumer -> producer).
type FinishedBody struct {
	Handled     bool
	ConsumeTime int64
}

// FocusBody is the payload of a FOCUS message.
type FocusBody struct {
	EventID  int32
	HasFocus bool
}

// CaptureBody is the payload of a CAPTURE message.
type CaptureBody struct {
	EventID                 int32
	PointerCaptureEnabled   bool
}

// DragBody is the payload of a DRAG message.
type DragBody struct {
	EventID   int32
	X, Y      float32
	IsExiting bool
}

// TouchModeBody is the payload of a TOUCH_MODE message.
type TouchModeBody struct {
	EventID     int32
	InTouchMode bool
}

// TimelineBody is the payload of a TIMELINE message (consumer -> producer).
type TimelineBody struct {
	EventID          int32
	GraphicsTimeline [GraphicsTimelineSize]int64
}

// Message is the in-process representation of one wire record. Exactly
// one of the body fields is meaningful at a time, selected by
// Header.Type; the others are ignored by Size/IsValid/SanitizedCopy and
// must never be inspected directly by callers.
type Message struct {
	Header   Header
	Key      KeyBody
	Motion   MotionBody
	Finished FinishedBody
	Focus    FocusBody
	Capture  CaptureBody
	Drag     DragBody
	TouchMode TouchModeBody
	Timeline TimelineBody
}

// fixed body byte sizes, independent of field order or struct padding:
// computed once from each body's wire field widths so that
// Size/IsValid/SanitizedCopy and the encoder in encode.go all agree.
const (
	headerSize = 1 + 4 // Type + Seq

	keyBodySize = 4 + 8 + 4 + 4 + 4 + 32 + 4 + 4 + 4 + 4 + 4 + 4 + 8

	pointerPropsSize = 4 + 4                     // id + toolType
	pointerCoordsSize = 8 + MaxAxes*4 + 1        // bits + values + isResampled
	pointerSize       = pointerPropsSize + pointerCoordsSize

	motionFixedSize = 4 + 4 + 8 + 4 + 4 + 4 + 32 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 8 +
		6*4 + 6*4 + // transform + rawTransform
		4 + 4 + 4 + 4 // xPrecision yPrecision xCursorPosition yCursorPosition

	finishedBodySize = 1 + 8
	focusBodySize    = 4 + 1
	captureBodySize  = 4 + 1
	dragBodySize     = 4 + 4 + 4 + 1
	touchModeBodySize = 4 + 1
	timelineBodySize = 4 + GraphicsTimelineSize*8
)

// Size returns the exact number of bytes this message occupies on the
// wire. It depends only on Header.Type, and for MOTION additionally on
// Motion.PointerCount.
func (m *Message) Size() int {
	switch m.Header.Type {
	case TypeKey:
		return headerSize + keyBodySize
	case TypeMotion:
		return headerSize + motionFixedSize + int(m.Motion.PointerCount)*pointerSize
	case TypeFinished:
		return headerSize + finishedBodySize
	case TypeFocus:
		return headerSize + focusBodySize
	case TypeCapture:
		return headerSize + captureBodySize
	case TypeDrag:
		return headerSize + dragBodySize
	case TypeTouchMode:
		return headerSize + touchModeBodySize
	case TypeTimeline:
		return headerSize + timelineBodySize
	default:
		return headerSize
	}
}

// IsValid checks that actualSize matches Size() and that any
// variant-specific invariants hold. An unrecognized Type is always
// invalid.
func (m *Message) IsValid(actualSize int) bool {
	if m.Size() != actualSize {
		return false
	}
	switch m.Header.Type {
	case TypeKey, TypeFinished, TypeFocus, TypeCapture, TypeDrag, TypeTouchMode:
		return true
	case TypeMotion:
		return m.Motion.PointerCount > 0 && m.Motion.PointerCount <= MaxPointers
	case TypeTimeline:
		gpu := m.Timeline.GraphicsTimeline[GPUCompletedTime]
		present := m.Timeline.GraphicsTimeline[PresentTime]
		return present > gpu
	default:
		return false
	}
}
