package message

import "testing"

func TestKeyRoundTrip(t *testing.T) {
	m := &Message{Header: Header{Type: TypeKey, Seq: 1}}
	m.Key = KeyBody{
		EventID:   7,
		EventTime: 1000,
		DeviceID:  1,
		Source:    SourceClassNone,
		DisplayID: 0,
		Action:    ActionDown,
		KeyCode:   'A',
		DownTime:  900,
	}
	m.Key.HMAC[0] = 0xAB

	wire := m.SanitizedCopy()
	if len(wire) != m.Size() {
		t.Fatalf("wire length %d != Size() %d", len(wire), m.Size())
	}

	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.IsValid(len(wire)) {
		t.Fatalf("decoded message reported invalid")
	}
	if got.Key != m.Key {
		t.Fatalf("round trip mismatch: got %+v want %+v", got.Key, m.Key)
	}
}

func TestMotionRoundTripSparseCoords(t *testing.T) {
	m := &Message{Header: Header{Type: TypeMotion, Seq: 42}}
	m.Motion.PointerCount = 2
	m.Motion.EventTime = 5_000_000
	m.Motion.Action = ActionMove
	m.Motion.Source = SourceClassPointer
	m.Motion.Pointers[0].Properties = PointerProperties{ID: 0, ToolType: ToolFinger}
	m.Motion.Pointers[0].Coords.SetAxisValue(AxisX, 1.5)
	m.Motion.Pointers[0].Coords.SetAxisValue(AxisY, 2.5)
	m.Motion.Pointers[1].Properties = PointerProperties{ID: 1, ToolType: ToolFinger}
	m.Motion.Pointers[1].Coords.SetAxisValue(AxisX, 10)
	m.Motion.Pointers[1].Coords.SetAxisValue(AxisY, 20)
	m.Motion.Pointers[1].Coords.SetAxisValue(AxisPressure, 0.8)

	wire := m.SanitizedCopy()
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Motion.Pointers[0].Coords.PopCount() != 2 {
		t.Fatalf("expected 2 axes on pointer 0, got %d", got.Motion.Pointers[0].Coords.PopCount())
	}
	if got.Motion.Pointers[1].Coords.PopCount() != 3 {
		t.Fatalf("expected 3 axes on pointer 1, got %d", got.Motion.Pointers[1].Coords.PopCount())
	}
	if x, _ := got.Motion.Pointers[1].Coords.AxisValue(AxisX); x != 10 {
		t.Fatalf("pointer 1 x = %v, want 10", x)
	}
}

func TestSanitizationZerosUnpopulatedTail(t *testing.T) {
	m := &Message{Header: Header{Type: TypeMotion, Seq: 1}}
	m.Motion.PointerCount = 1
	m.Motion.Action = ActionMove
	m.Motion.Pointers[0].Properties = PointerProperties{ID: 0, ToolType: ToolFinger}
	m.Motion.Pointers[0].Coords.SetAxisValue(AxisX, 3)
	// Only one axis set; the rest of the fixed axis array on the wire
	// must be zero even though Values has MaxAxes slots backing it.

	wire := m.SanitizedCopy()
	// pointer payload starts right after the fixed motion header.
	pointerOff := headerSize + motionFixedSize
	valuesOff := pointerOff + pointerPropsSize + 8 // past id, toolType, bits
	for axis := 1; axis < MaxAxes; axis++ {
		o := valuesOff + axis*4
		for _, b := range wire[o : o+4] {
			if b != 0 {
				t.Fatalf("expected axis %d bytes to be zero, found %v", axis, wire[o:o+4])
			}
		}
	}
}

func TestIsValidRejectsBadPointerCount(t *testing.T) {
	m := &Message{Header: Header{Type: TypeMotion, Seq: 1}}
	m.Motion.PointerCount = 0
	if m.IsValid(m.Size()) {
		t.Fatalf("pointerCount=0 should be invalid")
	}
	m.Motion.PointerCount = MaxPointers + 1
	if m.IsValid(m.Size()) {
		t.Fatalf("pointerCount > MaxPointers should be invalid")
	}
}

func TestIsValidRejectsBadTimeline(t *testing.T) {
	m := &Message{Header: Header{Type: TypeTimeline, Seq: 0}}
	m.Timeline.GraphicsTimeline[GPUCompletedTime] = 100
	m.Timeline.GraphicsTimeline[PresentTime] = 100
	if m.IsValid(m.Size()) {
		t.Fatalf("presentTime == gpuCompletedTime should be invalid")
	}
	m.Timeline.GraphicsTimeline[PresentTime] = 101
	if !m.IsValid(m.Size()) {
		t.Fatalf("presentTime > gpuCompletedTime should be valid")
	}
}

func TestIsValidRejectsWrongSize(t *testing.T) {
	m := &Message{Header: Header{Type: TypeKey, Seq: 1}}
	if m.IsValid(m.Size() - 1) {
		t.Fatalf("wrong actual size should be invalid")
	}
}

func TestIsValidRejectsUnknownType(t *testing.T) {
	m := &Message{Header: Header{Type: Type(255), Seq: 1}}
	if m.IsValid(headerSize) {
		t.Fatalf("unknown type should be invalid")
	}
}
