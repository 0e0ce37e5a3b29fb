package message

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SanitizedCopy serializes m to its wire form. The buffer is built by
// zero-filling Size() bytes and then writing only the fields that
// belong to the active variant - unused body fields, and unpopulated
// pointer axis slots, are never copied, so nothing outside the active
// variant can leak stale memory across the process boundary.
func (m *Message) SanitizedCopy() []byte {
	buf := make([]byte, m.Size())
	buf[0] = byte(m.Header.Type)
	binary.LittleEndian.PutUint32(buf[1:5], m.Header.Seq)
	body := buf[headerSize:]

	switch m.Header.Type {
	case TypeKey:
		writeKeyBody(body, &m.Key)
	case TypeMotion:
		writeMotionBody(body, &m.Motion)
	case TypeFinished:
		writeFinishedBody(body, &m.Finished)
	case TypeFocus:
		writeFocusBody(body, &m.Focus)
	case TypeCapture:
		writeCaptureBody(body, &m.Capture)
	case TypeDrag:
		writeDragBody(body, &m.Drag)
	case TypeTouchMode:
		writeTouchModeBody(body, &m.TouchMode)
	case TypeTimeline:
		writeTimelineBody(body, &m.Timeline)
	}
	return buf
}

// Decode parses a received datagram into a Message. It does not by
// itself validate the result - callers should call IsValid(len(data))
// (or rely on Channel.Receive, which does so before returning).
func Decode(data []byte) (*Message, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("message: datagram too short for header: %d bytes", len(data))
	}
	m := &Message{}
	m.Header.Type = Type(data[0])
	m.Header.Seq = binary.LittleEndian.Uint32(data[1:5])
	body := data[headerSize:]

	switch m.Header.Type {
	case TypeKey:
		if len(body) < keyBodySize {
			return nil, fmt.Errorf("message: KEY body truncated")
		}
		readKeyBody(body, &m.Key)
	case TypeMotion:
		if len(body) < motionFixedSize {
			return nil, fmt.Errorf("message: MOTION body truncated")
		}
		pointerCount := binary.LittleEndian.Uint32(body[4:8])
		want := motionFixedSize + int(pointerCount)*pointerSize
		if pointerCount > MaxPointers || len(body) < want {
			// Leave PointerCount set so IsValid() can reject out-of-range
			// counts uniformly instead of every caller special-casing decode.
			m.Motion.PointerCount = pointerCount
			return m, nil
		}
		readMotionBody(body, &m.Motion)
	case TypeFinished:
		if len(body) < finishedBodySize {
			return nil, fmt.Errorf("message: FINISHED body truncated")
		}
		readFinishedBody(body, &m.Finished)
	case TypeFocus:
		if len(body) < focusBodySize {
			return nil, fmt.Errorf("message: FOCUS body truncated")
		}
		readFocusBody(body, &m.Focus)
	case TypeCapture:
		if len(body) < captureBodySize {
			return nil, fmt.Errorf("message: CAPTURE body truncated")
		}
		readCaptureBody(body, &m.Capture)
	case TypeDrag:
		if len(body) < dragBodySize {
			return nil, fmt.Errorf("message: DRAG body truncated")
		}
		readDragBody(body, &m.Drag)
	case TypeTouchMode:
		if len(body) < touchModeBodySize {
			return nil, fmt.Errorf("message: TOUCH_MODE body truncated")
		}
		readTouchModeBody(body, &m.TouchMode)
	case TypeTimeline:
		if len(body) < timelineBodySize {
			return nil, fmt.Errorf("message: TIMELINE body truncated")
		}
		readTimelineBody(body, &m.Timeline)
	default:
		return m, nil // unknown type; IsValid() will reject it
	}
	return m, nil
}

func putFloat32(b []byte, v float32) { binary.LittleEndian.PutUint32(b, math.Float32bits(v)) }
func getFloat32(b []byte) float32     { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
func putBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}
func getBool(b []byte) bool { return b[0] != 0 }

func writeKeyBody(b []byte, k *KeyBody) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(k.EventID))
	binary.LittleEndian.PutUint64(b[4:12], uint64(k.EventTime))
	binary.LittleEndian.PutUint32(b[12:16], uint32(k.DeviceID))
	binary.LittleEndian.PutUint32(b[16:20], uint32(k.Source))
	binary.LittleEndian.PutUint32(b[20:24], uint32(k.DisplayID))
	copy(b[24:56], k.HMAC[:])
	binary.LittleEndian.PutUint32(b[56:60], uint32(k.Action))
	binary.LittleEndian.PutUint32(b[60:64], uint32(k.Flags))
	binary.LittleEndian.PutUint32(b[64:68], uint32(k.KeyCode))
	binary.LittleEndian.PutUint32(b[68:72], uint32(k.ScanCode))
	binary.LittleEndian.PutUint32(b[72:76], uint32(k.MetaState))
	binary.LittleEndian.PutUint32(b[76:80], uint32(k.RepeatCount))
	binary.LittleEndian.PutUint64(b[80:88], uint64(k.DownTime))
}

func readKeyBody(b []byte, k *KeyBody) {
	k.EventID = int32(binary.LittleEndian.Uint32(b[0:4]))
	k.EventTime = int64(binary.LittleEndian.Uint64(b[4:12]))
	k.DeviceID = int32(binary.LittleEndian.Uint32(b[12:16]))
	k.Source = int32(binary.LittleEndian.Uint32(b[16:20]))
	k.DisplayID = int32(binary.LittleEndian.Uint32(b[20:24]))
	copy(k.HMAC[:], b[24:56])
	k.Action = int32(binary.LittleEndian.Uint32(b[56:60]))
	k.Flags = int32(binary.LittleEndian.Uint32(b[60:64]))
	k.KeyCode = int32(binary.LittleEndian.Uint32(b[64:68]))
	k.ScanCode = int32(binary.LittleEndian.Uint32(b[68:72]))
	k.MetaState = int32(binary.LittleEndian.Uint32(b[72:76]))
	k.RepeatCount = int32(binary.LittleEndian.Uint32(b[76:80]))
	k.DownTime = int64(binary.LittleEndian.Uint64(b[80:88]))
}

func writeTransform(b []byte, t Transform) {
	putFloat32(b[0:4], t.DSDX)
	putFloat32(b[4:8], t.DTDX)
	putFloat32(b[8:12], t.DTDY)
	putFloat32(b[12:16], t.DSDY)
	putFloat32(b[16:20], t.TX)
	putFloat32(b[20:24], t.TY)
}

func readTransform(b []byte) Transform {
	return Transform{
		DSDX: getFloat32(b[0:4]),
		DTDX: getFloat32(b[4:8]),
		DTDY: getFloat32(b[8:12]),
		DSDY: getFloat32(b[12:16]),
		TX:   getFloat32(b[16:20]),
		TY:   getFloat32(b[20:24]),
	}
}

func writeMotionBody(b []byte, m *MotionBody) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.EventID))
	binary.LittleEndian.PutUint32(b[4:8], m.PointerCount)
	binary.LittleEndian.PutUint64(b[8:16], uint64(m.EventTime))
	binary.LittleEndian.PutUint32(b[16:20], uint32(m.DeviceID))
	binary.LittleEndian.PutUint32(b[20:24], uint32(m.Source))
	binary.LittleEndian.PutUint32(b[24:28], uint32(m.DisplayID))
	copy(b[28:60], m.HMAC[:])
	binary.LittleEndian.PutUint32(b[60:64], uint32(m.Action))
	binary.LittleEndian.PutUint32(b[64:68], uint32(m.ActionButton))
	binary.LittleEndian.PutUint32(b[68:72], uint32(m.Flags))
	binary.LittleEndian.PutUint32(b[72:76], uint32(m.MetaState))
	binary.LittleEndian.PutUint32(b[76:80], uint32(m.ButtonState))
	binary.LittleEndian.PutUint32(b[80:84], uint32(m.Classification))
	binary.LittleEndian.PutUint32(b[84:88], uint32(m.EdgeFlags))
	binary.LittleEndian.PutUint64(b[88:96], uint64(m.DownTime))
	writeTransform(b[96:120], m.Transform)
	writeTransform(b[120:144], m.RawTransform)
	putFloat32(b[144:148], m.XPrecision)
	putFloat32(b[148:152], m.YPrecision)
	putFloat32(b[152:156], m.XCursorPosition)
	putFloat32(b[156:160], m.YCursorPosition)

	off := motionFixedSize
	for i := 0; i < int(m.PointerCount); i++ {
		p := &m.Pointers[i]
		binary.LittleEndian.PutUint32(b[off:off+4], p.Properties.ID)
		binary.LittleEndian.PutUint32(b[off+4:off+8], uint32(p.Properties.ToolType))
		binary.LittleEndian.PutUint64(b[off+8:off+16], p.Coords.Bits)
		valOff := off + 16
		for axis := 0; axis < MaxAxes; axis++ {
			if p.Coords.HasAxis(axis) {
				putFloat32(b[valOff:valOff+4], p.Coords.Values[axis])
			}
			valOff += 4
		}
		putBool(b[valOff:valOff+1], p.Coords.IsResampled)
		off += pointerSize
	}
}

func readMotionBody(b []byte, m *MotionBody) {
	m.EventID = int32(binary.LittleEndian.Uint32(b[0:4]))
	m.PointerCount = binary.LittleEndian.Uint32(b[4:8])
	m.EventTime = int64(binary.LittleEndian.Uint64(b[8:16]))
	m.DeviceID = int32(binary.LittleEndian.Uint32(b[16:20]))
	m.Source = int32(binary.LittleEndian.Uint32(b[20:24]))
	m.DisplayID = int32(binary.LittleEndian.Uint32(b[24:28]))
	copy(m.HMAC[:], b[28:60])
	m.Action = int32(binary.LittleEndian.Uint32(b[60:64]))
	m.ActionButton = int32(binary.LittleEndian.Uint32(b[64:68]))
	m.Flags = int32(binary.LittleEndian.Uint32(b[68:72]))
	m.MetaState = int32(binary.LittleEndian.Uint32(b[72:76]))
	m.ButtonState = int32(binary.LittleEndian.Uint32(b[76:80]))
	m.Classification = int32(binary.LittleEndian.Uint32(b[80:84]))
	m.EdgeFlags = int32(binary.LittleEndian.Uint32(b[84:88]))
	m.DownTime = int64(binary.LittleEndian.Uint64(b[88:96]))
	m.Transform = readTransform(b[96:120])
	m.RawTransform = readTransform(b[120:144])
	m.XPrecision = getFloat32(b[144:148])
	m.YPrecision = getFloat32(b[148:152])
	m.XCursorPosition = getFloat32(b[152:156])
	m.YCursorPosition = getFloat32(b[156:160])

	off := motionFixedSize
	for i := 0; i < int(m.PointerCount) && i < MaxPointers; i++ {
		p := &m.Pointers[i]
		p.Properties.ID = binary.LittleEndian.Uint32(b[off : off+4])
		p.Properties.ToolType = ToolType(int32(binary.LittleEndian.Uint32(b[off+4 : off+8])))
		p.Coords.Bits = binary.LittleEndian.Uint64(b[off+8 : off+16])
		valOff := off + 16
		for axis := 0; axis < MaxAxes; axis++ {
			if p.Coords.HasAxis(axis) {
				p.Coords.Values[axis] = getFloat32(b[valOff : valOff+4])
			}
			valOff += 4
		}
		p.Coords.IsResampled = getBool(b[valOff : valOff+1])
		off += pointerSize
	}
}

func writeFinishedBody(b []byte, f *FinishedBody) {
	putBool(b[0:1], f.Handled)
	binary.LittleEndian.PutUint64(b[1:9], uint64(f.ConsumeTime))
}

func readFinishedBody(b []byte, f *FinishedBody) {
	f.Handled = getBool(b[0:1])
	f.ConsumeTime = int64(binary.LittleEndian.Uint64(b[1:9]))
}

func writeFocusBody(b []byte, f *FocusBody) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(f.EventID))
	putBool(b[4:5], f.HasFocus)
}

func readFocusBody(b []byte, f *FocusBody) {
	f.EventID = int32(binary.LittleEndian.Uint32(b[0:4]))
	f.HasFocus = getBool(b[4:5])
}

func writeCaptureBody(b []byte, c *CaptureBody) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(c.EventID))
	putBool(b[4:5], c.PointerCaptureEnabled)
}

func readCaptureBody(b []byte, c *CaptureBody) {
	c.EventID = int32(binary.LittleEndian.Uint32(b[0:4]))
	c.PointerCaptureEnabled = getBool(b[4:5])
}

func writeDragBody(b []byte, d *DragBody) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(d.EventID))
	putFloat32(b[4:8], d.X)
	putFloat32(b[8:12], d.Y)
	putBool(b[12:13], d.IsExiting)
}

func readDragBody(b []byte, d *DragBody) {
	d.EventID = int32(binary.LittleEndian.Uint32(b[0:4]))
	d.X = getFloat32(b[4:8])
	d.Y = getFloat32(b[8:12])
	d.IsExiting = getBool(b[12:13])
}

func writeTouchModeBody(b []byte, t *TouchModeBody) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(t.EventID))
	putBool(b[4:5], t.InTouchMode)
}

func readTouchModeBody(b []byte, t *TouchModeBody) {
	t.EventID = int32(binary.LittleEndian.Uint32(b[0:4]))
	t.InTouchMode = getBool(b[4:5])
}

func writeTimelineBody(b []byte, t *TimelineBody) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(t.EventID))
	off := 4
	for _, v := range t.GraphicsTimeline {
		binary.LittleEndian.PutUint64(b[off:off+8], uint64(v))
		off += 8
	}
}

func readTimelineBody(b []byte, t *TimelineBody) {
	t.EventID = int32(binary.LittleEndian.Uint32(b[0:4]))
	off := 4
	for i := range t.GraphicsTimeline {
		t.GraphicsTimeline[i] = int64(binary.LittleEndian.Uint64(b[off : off+8]))
		off += 8
	}
}
