// Package consumer implements the receiving side of the transport: the
// batching/deferring dispatch loop, the touch-resampling hookup, chain
// tracking for coalesced acknowledgements, and the finished/timeline
// reply path back to the publisher.
package consumer

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"vkvm/internal/channel"
	"vkvm/internal/events"
	"vkvm/internal/message"
	"vkvm/internal/touchstate"
)

type deviceSource struct {
	DeviceID int32
	Source   int32
}

// batch is an in-progress coalescible run of MOVE/HOVER_MOVE samples
// sharing device/source/action/pointer-shape.
type batch struct {
	key     deviceSource
	samples []*message.Message
}

func (b *batch) reference() *message.MotionBody {
	return &b.samples[0].Motion
}

func compatible(ref *message.MotionBody, m *message.MotionBody) bool {
	if ref.PointerCount != m.PointerCount || ref.Action != m.Action {
		return false
	}
	for i := 0; i < int(ref.PointerCount); i++ {
		if !ref.Pointers[i].Properties.Equal(m.Pointers[i].Properties) {
			return false
		}
	}
	return true
}

// chainEdge records "Seq was coalesced into the event whose terminal
// acknowledgement will carry sequence Chain". Kept as an append-only
// slice and walked in reverse: seqs are dense in time and a chain is
// bounded by the longest batch, so a vector beats a map here.
type chainEdge struct {
	Seq   uint32
	Chain uint32
}

// Consumer drives the receive/dispatch/batch/resample/acknowledge state
// machine for one Channel. It is single-threaded: all per-channel state
// is owned by whichever goroutine calls Consume/Finish/SendTimeline.
type Consumer struct {
	ch              *channel.Channel
	factory         events.Factory
	resampleEnabled bool
	now             func() int64

	batches    map[deviceSource]*batch
	batchOrder []deviceSource

	touchStates *touchstate.Store

	seqChains    []chainEdge
	consumeTimes map[uint32]int64

	deferred *message.Message
}

// New returns a Consumer reading from ch. Motion events are allocated
// through factory (a failed allocation is reported as ErrNoMemory); key,
// focus, capture, drag and touch-mode events are built directly and do
// not go through factory. Resampling can be disabled entirely (e.g. for
// a mouse-only deployment that has no use for touch interpolation).
func New(ch *channel.Channel, factory events.Factory, resampleEnabled bool) *Consumer {
	return &Consumer{
		ch:              ch,
		factory:         factory,
		resampleEnabled: resampleEnabled,
		now:             func() int64 { return time.Now().UnixNano() },
		batches:         make(map[deviceSource]*batch),
		touchStates:     touchstate.NewStore(),
		consumeTimes:    make(map[uint32]int64),
	}
}

// Consume drives one logical step of the state machine: it may block
// internally on nothing (all I/O is non-blocking) but loops over
// several receives when intermediate steps (batch append, cancel
// swallow) produce no deliverable event on their own.
func (c *Consumer) Consume(consumeBatches bool, frameTime int64) (uint32, events.InputEvent, error) {
	for {
		var msg *message.Message
		var err error
		var fromDeferred bool
		if c.deferred != nil {
			msg, c.deferred = c.deferred, nil
			fromDeferred = true
		} else {
			msg, err = c.ch.Receive()
		}

		if err != nil {
			if errors.Is(err, message.ErrWouldBlock) {
				if !consumeBatches {
					return 0, nil, message.ErrWouldBlock
				}
				if seq, ev, ferr, found := c.consumeBatch(frameTime); found {
					if ferr != nil {
						return 0, nil, ferr
					}
					return seq, ev, nil
				}
				return 0, nil, message.ErrWouldBlock
			}
			if consumeBatches {
				c.consumeBatch(frameTime)
			}
			return 0, nil, err
		}

		seq := msg.Header.Seq
		// A deferred message was already recorded the moment it was first
		// read off the wire; only a fresh receive needs the duplicate
		// check and consumeTimes bookkeeping.
		if !fromDeferred {
			if _, dup := c.consumeTimes[seq]; dup {
				log.Fatalf("consumer: duplicate seq %d received - producer violated the protocol", seq)
			}
			c.consumeTimes[seq] = c.now()
		}

		switch msg.Header.Type {
		case message.TypeFinished, message.TypeTimeline:
			log.Fatalf("consumer: received a %s message, which is a consumer->producer reply and must never arrive here", msg.Header.Type)

		case message.TypeKey:
			ev := &events.KeyEvent{
				EventID:     msg.Key.EventID,
				DeviceID:    msg.Key.DeviceID,
				Source:      msg.Key.Source,
				DisplayID:   msg.Key.DisplayID,
				HMAC:        msg.Key.HMAC,
				Action:      msg.Key.Action,
				Flags:       msg.Key.Flags,
				KeyCode:     msg.Key.KeyCode,
				ScanCode:    msg.Key.ScanCode,
				MetaState:   msg.Key.MetaState,
				RepeatCount: msg.Key.RepeatCount,
				DownTime:    msg.Key.DownTime,
				EventTime:   msg.Key.EventTime,
			}
			return seq, ev, nil

		case message.TypeFocus:
			return seq, &events.FocusEvent{EventID: msg.Focus.EventID, HasFocus: msg.Focus.HasFocus}, nil

		case message.TypeCapture:
			return seq, &events.CaptureEvent{EventID: msg.Capture.EventID, PointerCaptureEnabled: msg.Capture.PointerCaptureEnabled}, nil

		case message.TypeDrag:
			return seq, &events.DragEvent{EventID: msg.Drag.EventID, X: msg.Drag.X, Y: msg.Drag.Y, IsExiting: msg.Drag.IsExiting}, nil

		case message.TypeTouchMode:
			return seq, &events.TouchModeEvent{EventID: msg.TouchMode.EventID, InTouchMode: msg.TouchMode.InTouchMode}, nil

		case message.TypeMotion:
			done, rseq, ev, merr := c.handleMotion(msg)
			if merr != nil {
				return 0, nil, merr
			}
			if done {
				return rseq, ev, nil
			}
			// no event yet (batch append/start, or cancel swallowed) - loop for more input
		}
	}
}

func (c *Consumer) handleMotion(msg *message.Message) (done bool, seq uint32, ev events.InputEvent, err error) {
	key := deviceSource{DeviceID: msg.Motion.DeviceID, Source: msg.Motion.Source}
	action := msg.Motion.Action & message.ActionMask

	if b, ok := c.batches[key]; ok {
		if compatible(b.reference(), &msg.Motion) {
			b.samples = append(b.samples, msg)
			return false, 0, nil, nil
		}

		if action == message.ActionCancel && message.IsPointerSource(msg.Motion.Source) {
			for _, s := range b.samples {
				if err := c.sendFinishedSignal(s.Header.Seq, false); err != nil {
					return false, 0, nil, err
				}
			}
			c.destroyBatch(key)
			return false, 0, nil, nil
		}

		// Incompatible shape/action: flush the whole batch as one event
		// and defer the new message so the next Consume starts fresh.
		flushSeq, flushEv, ferr := c.consumeSamples(b.samples)
		if ferr != nil {
			return false, 0, nil, ferr
		}
		c.destroyBatch(key)
		c.deferred = msg
		return true, flushSeq, flushEv, nil
	}

	if action == message.ActionMove || action == message.ActionHoverMove {
		c.batches[key] = &batch{key: key, samples: []*message.Message{msg}}
		c.batchOrder = append(c.batchOrder, key)
		return false, 0, nil, nil
	}

	c.touchStates.Update(msg.Motion.DeviceID, msg.Motion.Source, &msg.Motion)
	mev, ok := c.factory.CreateMotionEvent()
	if !ok {
		return false, 0, nil, message.ErrNoMemory
	}
	initializeMotionEvent(mev, &msg.Motion)
	return true, msg.Header.Seq, mev, nil
}

func (c *Consumer) destroyBatch(key deviceSource) {
	delete(c.batches, key)
	for i, k := range c.batchOrder {
		if k == key {
			c.batchOrder = append(c.batchOrder[:i], c.batchOrder[i+1:]...)
			break
		}
	}
}

func initializeMotionEvent(ev *events.MotionEvent, m *message.MotionBody) {
	props := make([]message.PointerProperties, m.PointerCount)
	coords := make([]message.PointerCoords, m.PointerCount)
	for i := range props {
		props[i] = m.Pointers[i].Properties
		coords[i] = m.Pointers[i].Coords
	}
	ev.Initialize(
		m.EventID, m.DeviceID, m.Source, m.DisplayID, m.HMAC,
		m.Action, m.ActionButton, m.Flags, m.EdgeFlags, m.MetaState, m.ButtonState, m.Classification,
		m.Transform, m.RawTransform,
		m.XPrecision, m.YPrecision, m.XCursorPosition, m.YCursorPosition,
		m.DownTime, m.EventTime,
		props, coords,
	)
}

// consumeSamples folds an ordered run of compatible motion messages
// into a single MotionEvent: the first sample initializes it, each
// later sample is appended as history and registers a chain edge to
// the sample immediately before it. Every sample passes through touch
// state tracking (and so may have its coordinates rewritten) before
// being folded in.
func (c *Consumer) consumeSamples(samples []*message.Message) (uint32, *events.MotionEvent, error) {
	ev, ok := c.factory.CreateMotionEvent()
	if !ok {
		return 0, nil, message.ErrNoMemory
	}

	var lastSeq uint32
	for i, s := range samples {
		c.touchStates.Update(s.Motion.DeviceID, s.Motion.Source, &s.Motion)
		if i == 0 {
			initializeMotionEvent(ev, &s.Motion)
		} else {
			coords := make([]message.PointerCoords, s.Motion.PointerCount)
			for j := range coords {
				coords[j] = s.Motion.Pointers[j].Coords
			}
			ev.AddSample(s.Motion.EventTime, coords)
			ev.SetMetaState(ev.MetaState() | s.Motion.MetaState)
			c.seqChains = append(c.seqChains, chainEdge{Seq: s.Header.Seq, Chain: samples[i-1].Header.Seq})
		}
		lastSeq = s.Header.Seq
	}
	return lastSeq, ev, nil
}

// consumeBatch implements draining in most-recent-first batch order. It
// reports found=false when no batch currently has a deliverable split.
func (c *Consumer) consumeBatch(frameTime int64) (seq uint32, ev events.InputEvent, err error, found bool) {
	for i := len(c.batchOrder) - 1; i >= 0; i-- {
		key := c.batchOrder[i]
		b := c.batches[key]
		if b == nil {
			continue
		}

		if frameTime < 0 {
			s, e, ferr := c.consumeSamples(b.samples)
			if ferr != nil {
				return 0, nil, ferr, true
			}
			c.destroyBatch(key)
			return s, e, nil, true
		}

		sampleTime := frameTime
		if c.resampleEnabled {
			sampleTime = frameTime - touchstate.ResampleLatency
		}

		split := -1
		for idx, s := range b.samples {
			if s.Motion.EventTime <= sampleTime {
				split = idx
			} else {
				break
			}
		}
		if split == -1 {
			continue
		}

		delivered := b.samples[:split+1]
		remaining := b.samples[split+1:]

		var next *touchstate.Sample
		if len(remaining) > 0 {
			m := &remaining[0].Motion
			ns := touchstate.Sample{EventTime: m.EventTime, Pointers: append([]message.Pointer(nil), m.Pointers[:m.PointerCount]...)}
			next = &ns
		}

		s, e, ferr := c.consumeSamples(delivered)
		if ferr != nil {
			// Allocation failed before any touch-state mutation or chain
			// registration happened; leave the batch intact for a retry.
			return 0, nil, ferr, true
		}
		b.samples = remaining
		if len(remaining) == 0 {
			c.destroyBatch(key)
		}
		if c.resampleEnabled {
			state, _ := c.touchStates.Get(touchstate.Key{DeviceID: key.DeviceID, Source: key.Source})
			touchstate.Resample(state, true, key.Source, sampleTime, e, next)
		}
		return s, e, nil, true
	}
	return 0, nil, nil, false
}

// Finish acknowledges seq and every sample chained to it. It walks
// seqChains in reverse, collecting every edge whose Seq matches the
// current terminal and removing it; this yields every original seq the
// final delivered event subsumed. Acks are sent oldest-submitted first,
// with the terminal seq's own ack sent last. If a send fails partway,
// the removed edges are restored (and no consumeTimes entries removed)
// so a retry with the same arguments reproduces the identical send
// sequence.
func (c *Consumer) Finish(seq uint32, handled bool) error {
	original := append([]chainEdge(nil), c.seqChains...)

	var collected []uint32
	cur := seq
	for {
		found := false
		for i := len(c.seqChains) - 1; i >= 0; i-- {
			if c.seqChains[i].Seq == cur {
				collected = append(collected, c.seqChains[i].Chain)
				cur = c.seqChains[i].Chain
				c.seqChains = append(c.seqChains[:i:i], c.seqChains[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			break
		}
	}

	toSend := make([]uint32, 0, len(collected)+1)
	for i := len(collected) - 1; i >= 0; i-- {
		toSend = append(toSend, collected[i])
	}
	toSend = append(toSend, seq)

	var sent []uint32
	for _, s := range toSend {
		ct, ok := c.consumeTimes[s]
		if !ok {
			log.Fatalf("consumer: Finish: no recorded consume time for seq %d", s)
		}
		msg := &message.Message{Header: message.Header{Type: message.TypeFinished, Seq: s}}
		msg.Finished = message.FinishedBody{Handled: handled, ConsumeTime: ct}
		if err := c.ch.Send(msg); err != nil {
			c.seqChains = original
			return err
		}
		sent = append(sent, s)
	}
	for _, s := range sent {
		delete(c.consumeTimes, s)
	}
	return nil
}

func (c *Consumer) sendFinishedSignal(seq uint32, handled bool) error {
	return c.Finish(seq, handled)
}

// SendTimeline reports later-known frame timing for inputEventID. It is
// sent with seq=0: no acknowledgement is expected.
func (c *Consumer) SendTimeline(inputEventID int32, timeline [message.GraphicsTimelineSize]int64) error {
	if timeline[message.PresentTime] <= timeline[message.GPUCompletedTime] {
		return message.ErrBadValue
	}
	msg := &message.Message{Header: message.Header{Type: message.TypeTimeline, Seq: 0}}
	msg.Timeline = message.TimelineBody{EventID: inputEventID, GraphicsTimeline: timeline}
	return c.ch.Send(msg)
}

// HasPendingBatch reports whether {deviceID, source} currently has an
// accumulating, undelivered batch.
func (c *Consumer) HasPendingBatch(deviceID, source int32) bool {
	_, ok := c.batches[deviceSource{DeviceID: deviceID, Source: source}]
	return ok
}

// PendingBatchSources returns the sources with a currently pending
// batch, most-recently-started last.
func (c *Consumer) PendingBatchSources() []int32 {
	out := make([]int32, 0, len(c.batchOrder))
	for _, key := range c.batchOrder {
		out = append(out, key.Source)
	}
	return out
}

// BatchStats describes one in-flight batch for diagnostics.
type BatchStats struct {
	DeviceID    int32
	Source      int32
	SampleCount int
}

// Stats is a point-in-time structured snapshot of consumer state,
// meant for a diagnostics dashboard rather than protocol logic.
type Stats struct {
	PendingBatches    []BatchStats
	ChainEdges        int
	UnackedConsumeMsg int
}

// Stats returns a structured snapshot of in-flight state.
func (c *Consumer) Stats() Stats {
	s := Stats{ChainEdges: len(c.seqChains), UnackedConsumeMsg: len(c.consumeTimes)}
	for _, key := range c.batchOrder {
		b := c.batches[key]
		s.PendingBatches = append(s.PendingBatches, BatchStats{DeviceID: key.DeviceID, Source: key.Source, SampleCount: len(b.samples)})
	}
	return s
}

// String renders a short diagnostic dump of in-flight state: pending
// batches, outstanding chain edges, and unacknowledged consume times.
func (c *Consumer) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "consumer: %d pending batch(es), %d chain edge(s), %d unacked consume time(s)\n",
		len(c.batches), len(c.seqChains), len(c.consumeTimes))
	for _, key := range c.batchOrder {
		batch := c.batches[key]
		fmt.Fprintf(&b, "  batch[device=%d source=%d]: %d sample(s)\n", key.DeviceID, key.Source, len(batch.samples))
	}
	return b.String()
}
