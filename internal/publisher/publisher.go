// Package publisher implements the producer side of the transport:
// typed encoders that populate a message.Message and hand it to a
// Channel, plus the read side for the consumer's acknowledgements.
package publisher

import (
	"log"

	"vkvm/internal/channel"
	"vkvm/internal/message"
)

// InputVerifier is an opaque collaborator that may reject a motion
// stream as malformed before it is sent. A verifier is optional; a nil
// verifier disables the check entirely.
type InputVerifier interface {
	ProcessMovement(deviceID, source, action int32, pointerProps []message.PointerProperties, coords []message.PointerCoords, eventTime int64) error
}

// NoopVerifier never rejects a stream. Useful for tests and for
// deployments that trust their input source.
type NoopVerifier struct{}

func (NoopVerifier) ProcessMovement(int32, int32, int32, []message.PointerProperties, []message.PointerCoords, int64) error {
	return nil
}

// Publisher encodes events onto a Channel and reads back consumer
// acknowledgements.
type Publisher struct {
	ch       *channel.Channel
	verifier InputVerifier
}

// New returns a Publisher writing to ch. A nil verifier is equivalent
// to NoopVerifier.
func New(ch *channel.Channel, verifier InputVerifier) *Publisher {
	if verifier == nil {
		verifier = NoopVerifier{}
	}
	return &Publisher{ch: ch, verifier: verifier}
}

func assertNonZeroSeq(seq uint32, who string) {
	if seq == 0 {
		log.Fatalf("publisher: %s requires a non-zero seq", who)
	}
}

// PublishKeyEvent encodes and sends a KEY message.
func (p *Publisher) PublishKeyEvent(
	seq uint32,
	eventID, deviceID, source, displayID int32,
	hmac [32]byte,
	action, flags, keyCode, scanCode, metaState, repeatCount int32,
	downTime, eventTime int64,
) error {
	assertNonZeroSeq(seq, "PublishKeyEvent")
	msg := &message.Message{Header: message.Header{Type: message.TypeKey, Seq: seq}}
	msg.Key = message.KeyBody{
		EventID:     eventID,
		EventTime:   eventTime,
		DeviceID:    deviceID,
		Source:      source,
		DisplayID:   displayID,
		HMAC:        hmac,
		Action:      action,
		Flags:       flags,
		KeyCode:     keyCode,
		ScanCode:    scanCode,
		MetaState:   metaState,
		RepeatCount: repeatCount,
		DownTime:    downTime,
	}
	return p.ch.Send(msg)
}

// PublishMotionEvent runs the stream through the configured
// InputVerifier, then encodes and sends a MOTION message. A verifier
// rejection is fatal: it means the dispatcher handed the publisher an
// inconsistent pointer stream, which is a bug in the layer above, not a
// recoverable transport condition.
func (p *Publisher) PublishMotionEvent(
	seq uint32,
	eventID, deviceID, source, displayID int32,
	hmac [32]byte,
	action, actionButton, flags, metaState, buttonState, classification, edgeFlags int32,
	downTime, eventTime int64,
	transform, rawTransform message.Transform,
	xPrecision, yPrecision, xCursorPosition, yCursorPosition float32,
	pointerProps []message.PointerProperties,
	coords []message.PointerCoords,
) error {
	assertNonZeroSeq(seq, "PublishMotionEvent")

	if len(pointerProps) == 0 || len(pointerProps) > message.MaxPointers || len(pointerProps) != len(coords) {
		return message.ErrBadValue
	}

	if err := p.verifier.ProcessMovement(deviceID, source, action, pointerProps, coords, eventTime); err != nil {
		log.Fatalf("publisher: input verifier rejected movement stream: %v", err)
	}

	msg := &message.Message{Header: message.Header{Type: message.TypeMotion, Seq: seq}}
	msg.Motion = message.MotionBody{
		EventID:         eventID,
		PointerCount:    uint32(len(pointerProps)),
		EventTime:       eventTime,
		DeviceID:        deviceID,
		Source:          source,
		DisplayID:       displayID,
		HMAC:            hmac,
		Action:          action,
		ActionButton:    actionButton,
		Flags:           flags,
		MetaState:       metaState,
		ButtonState:     buttonState,
		Classification:  classification,
		EdgeFlags:       edgeFlags,
		DownTime:        downTime,
		Transform:       transform,
		RawTransform:    rawTransform,
		XPrecision:      xPrecision,
		YPrecision:      yPrecision,
		XCursorPosition: xCursorPosition,
		YCursorPosition: yCursorPosition,
	}
	for i := range pointerProps {
		msg.Motion.Pointers[i] = message.Pointer{Properties: pointerProps[i], Coords: coords[i]}
	}
	return p.ch.Send(msg)
}

// PublishFocusEvent encodes and sends a FOCUS message.
func (p *Publisher) PublishFocusEvent(seq uint32, eventID int32, hasFocus bool) error {
	assertNonZeroSeq(seq, "PublishFocusEvent")
	msg := &message.Message{Header: message.Header{Type: message.TypeFocus, Seq: seq}}
	msg.Focus = message.FocusBody{EventID: eventID, HasFocus: hasFocus}
	return p.ch.Send(msg)
}

// PublishCaptureEvent encodes and sends a CAPTURE message.
func (p *Publisher) PublishCaptureEvent(seq uint32, eventID int32, pointerCaptureEnabled bool) error {
	assertNonZeroSeq(seq, "PublishCaptureEvent")
	msg := &message.Message{Header: message.Header{Type: message.TypeCapture, Seq: seq}}
	msg.Capture = message.CaptureBody{EventID: eventID, PointerCaptureEnabled: pointerCaptureEnabled}
	return p.ch.Send(msg)
}

// PublishDragEvent encodes and sends a DRAG message.
func (p *Publisher) PublishDragEvent(seq uint32, eventID int32, x, y float32, isExiting bool) error {
	assertNonZeroSeq(seq, "PublishDragEvent")
	msg := &message.Message{Header: message.Header{Type: message.TypeDrag, Seq: seq}}
	msg.Drag = message.DragBody{EventID: eventID, X: x, Y: y, IsExiting: isExiting}
	return p.ch.Send(msg)
}

// PublishTouchModeEvent encodes and sends a TOUCH_MODE message.
func (p *Publisher) PublishTouchModeEvent(seq uint32, eventID int32, inTouchMode bool) error {
	assertNonZeroSeq(seq, "PublishTouchModeEvent")
	msg := &message.Message{Header: message.Header{Type: message.TypeTouchMode, Seq: seq}}
	msg.TouchMode = message.TouchModeBody{EventID: eventID, InTouchMode: inTouchMode}
	return p.ch.Send(msg)
}

// ConsumerResponse is the variant family ReceiveConsumerResponse can
// return: either a Finished ack or a Timeline report.
type ConsumerResponse interface {
	consumerResponse()
}

// Finished is the consumer's acknowledgement of one or more coalesced
// samples terminating at Seq.
type Finished struct {
	Seq         uint32
	Handled     bool
	ConsumeTime int64
}

func (Finished) consumerResponse() {}

// Timeline carries later-known frame timing for eventID.
type Timeline struct {
	EventID          int32
	GraphicsTimeline [message.GraphicsTimelineSize]int64
}

func (Timeline) consumerResponse() {}

// ReceiveConsumerResponse reads one message from the channel and
// interprets it as a Finished or Timeline reply. Any other message type
// arriving on this direction is a protocol violation.
func (p *Publisher) ReceiveConsumerResponse() (ConsumerResponse, error) {
	msg, err := p.ch.Receive()
	if err != nil {
		return nil, err
	}
	switch msg.Header.Type {
	case message.TypeFinished:
		return Finished{
			Seq:         msg.Header.Seq,
			Handled:     msg.Finished.Handled,
			ConsumeTime: msg.Finished.ConsumeTime,
		}, nil
	case message.TypeTimeline:
		return Timeline{
			EventID:          msg.Timeline.EventID,
			GraphicsTimeline: msg.Timeline.GraphicsTimeline,
		}, nil
	default:
		return nil, message.ErrUnknown
	}
}
