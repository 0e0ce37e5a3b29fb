package publisher

import (
	"errors"
	"testing"

	"vkvm/internal/channel"
	"vkvm/internal/message"
)

func TestPublishKeyEventRoundTrip(t *testing.T) {
	server, client, err := channel.OpenPair("test")
	if err != nil {
		t.Fatalf("OpenPair: %v", err)
	}
	defer server.Close()
	defer client.Close()

	p := New(server, nil)
	if err := p.PublishKeyEvent(1, 7, 1, message.SourceClassNone, 0, [32]byte{}, message.ActionDown, 0, 'A', 0, 0, 0, 900, 1000); err != nil {
		t.Fatalf("PublishKeyEvent: %v", err)
	}

	got, err := client.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Header.Type != message.TypeKey || got.Key.KeyCode != 'A' || got.Header.Seq != 1 {
		t.Fatalf("unexpected decoded message: %+v", got)
	}
}

func TestPublishMotionEventRoundTrip(t *testing.T) {
	server, client, err := channel.OpenPair("test")
	if err != nil {
		t.Fatalf("OpenPair: %v", err)
	}
	defer server.Close()
	defer client.Close()

	p := New(server, NoopVerifier{})

	props := []message.PointerProperties{{ID: 0, ToolType: message.ToolFinger}}
	var c message.PointerCoords
	c.SetAxisValue(message.AxisX, 1)
	c.SetAxisValue(message.AxisY, 2)
	coords := []message.PointerCoords{c}

	err = p.PublishMotionEvent(
		5, 1, 9, message.SourceClassPointer, 0, [32]byte{},
		message.ActionMove, 0, 0, 0, 0, 0, 0,
		0, 1000,
		message.Transform{}, message.Transform{},
		0, 0, 0, 0,
		props, coords,
	)
	if err != nil {
		t.Fatalf("PublishMotionEvent: %v", err)
	}

	got, err := client.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Header.Type != message.TypeMotion || got.Motion.PointerCount != 1 {
		t.Fatalf("unexpected decoded message: %+v", got.Motion)
	}
	if x, _ := got.Motion.Pointers[0].Coords.AxisValue(message.AxisX); x != 1 {
		t.Fatalf("pointer x = %v, want 1", x)
	}
}

func TestPublishMotionEventRejectsMismatchedLengths(t *testing.T) {
	server, client, err := channel.OpenPair("test")
	if err != nil {
		t.Fatalf("OpenPair: %v", err)
	}
	defer server.Close()
	defer client.Close()

	p := New(server, nil)
	props := []message.PointerProperties{{ID: 0}, {ID: 1}}
	coords := []message.PointerCoords{{}}

	err = p.PublishMotionEvent(
		1, 0, 0, message.SourceClassPointer, 0, [32]byte{},
		message.ActionMove, 0, 0, 0, 0, 0, 0,
		0, 0,
		message.Transform{}, message.Transform{},
		0, 0, 0, 0,
		props, coords,
	)
	if !errors.Is(err, message.ErrBadValue) {
		t.Fatalf("expected ErrBadValue, got %v", err)
	}
}

func TestReceiveConsumerResponseFinished(t *testing.T) {
	server, client, err := channel.OpenPair("test")
	if err != nil {
		t.Fatalf("OpenPair: %v", err)
	}
	defer server.Close()
	defer client.Close()

	reply := &message.Message{Header: message.Header{Type: message.TypeFinished, Seq: 3}}
	reply.Finished = message.FinishedBody{Handled: true, ConsumeTime: 42}
	if err := client.Send(reply); err != nil {
		t.Fatalf("Send: %v", err)
	}

	p := New(server, nil)
	resp, err := p.ReceiveConsumerResponse()
	if err != nil {
		t.Fatalf("ReceiveConsumerResponse: %v", err)
	}
	fin, ok := resp.(Finished)
	if !ok {
		t.Fatalf("expected Finished, got %T", resp)
	}
	if fin.Seq != 3 || !fin.Handled || fin.ConsumeTime != 42 {
		t.Fatalf("unexpected Finished: %+v", fin)
	}
}

func TestReceiveConsumerResponseTimeline(t *testing.T) {
	server, client, err := channel.OpenPair("test")
	if err != nil {
		t.Fatalf("OpenPair: %v", err)
	}
	defer server.Close()
	defer client.Close()

	reply := &message.Message{Header: message.Header{Type: message.TypeTimeline, Seq: 0}}
	reply.Timeline.GraphicsTimeline[message.GPUCompletedTime] = 100
	reply.Timeline.GraphicsTimeline[message.PresentTime] = 150
	if err := client.Send(reply); err != nil {
		t.Fatalf("Send: %v", err)
	}

	p := New(server, nil)
	resp, err := p.ReceiveConsumerResponse()
	if err != nil {
		t.Fatalf("ReceiveConsumerResponse: %v", err)
	}
	tl, ok := resp.(Timeline)
	if !ok {
		t.Fatalf("expected Timeline, got %T", resp)
	}
	if tl.GraphicsTimeline[message.PresentTime] != 150 {
		t.Fatalf("unexpected Timeline: %+v", tl)
	}
}

func TestReceiveConsumerResponseRejectsWrongDirection(t *testing.T) {
	server, client, err := channel.OpenPair("test")
	if err != nil {
		t.Fatalf("OpenPair: %v", err)
	}
	defer server.Close()
	defer client.Close()

	wrongWay := &message.Message{Header: message.Header{Type: message.TypeKey, Seq: 1}}
	if err := client.Send(wrongWay); err != nil {
		t.Fatalf("Send: %v", err)
	}

	p := New(server, nil)
	if _, err := p.ReceiveConsumerResponse(); !errors.Is(err, message.ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}
