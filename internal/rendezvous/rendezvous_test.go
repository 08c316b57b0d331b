package rendezvous

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"citadel/pkg/logger"
)

func TestPostThenWaitForPeer(t *testing.T) {
	srv := NewServer(logger.NewDefaultLogger())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewClient(ts.URL)
	defer client.Close()

	serverPosting := Posting{Candidates: []string{"203.0.113.4:9000"}, NATType: "full_cone"}
	if err := client.Post("room-1", "server", serverPosting); err != nil {
		t.Fatalf("post: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := client.WaitForPeer(ctx, "room-1", "client")
	if err != nil {
		t.Fatalf("wait for peer: %v", err)
	}
	if len(got.Candidates) != 1 || got.Candidates[0] != "203.0.113.4:9000" {
		t.Fatalf("unexpected posting: %+v", got)
	}
	if got.NATType != "full_cone" {
		t.Fatalf("unexpected nat type: %q", got.NATType)
	}
}

func TestWaitForPeerTimesOutWhenNothingPosted(t *testing.T) {
	srv := NewServer(logger.NewDefaultLogger())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewClient(ts.URL)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()

	if _, err := client.WaitForPeer(ctx, "room-empty", "client"); err == nil {
		t.Fatalf("expected a timeout error")
	}
}
