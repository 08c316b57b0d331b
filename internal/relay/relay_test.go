package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"citadel/pkg/logger"
)

type captureSender struct {
	ch chan []byte
}

func (c *captureSender) Send(data []byte) error {
	cp := append([]byte(nil), data...)
	c.ch <- cp
	return nil
}

func TestRelay_LocalToRemote(t *testing.T) {
	appSide, localSide := net.Pipe()
	defer appSide.Close()

	sender := &captureSender{ch: make(chan []byte, 4)}
	r := NewRelay(localSide, sender, logger.NewDefaultLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go r.RunLocalToRemote(ctx)

	if _, err := appSide.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-sender.ch:
		if string(got) != "hello" {
			t.Fatalf("got %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed data")
	}
}

func TestRelay_Deliver(t *testing.T) {
	appSide, localSide := net.Pipe()
	defer appSide.Close()

	r := NewRelay(localSide, &captureSender{ch: make(chan []byte, 1)}, logger.NewDefaultLogger())

	go func() {
		if err := r.Deliver([]byte("world")); err != nil {
			t.Errorf("deliver: %v", err)
		}
	}()

	buf := make([]byte, 16)
	appSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := appSide.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "world" {
		t.Fatalf("got %q, want %q", buf[:n], "world")
	}
}
