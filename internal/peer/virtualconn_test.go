package peer

import (
	"sync"
	"testing"
)

func TestInsertPair_BothHalvesVisibleTogether(t *testing.T) {
	first := NewStateContainer()
	second := NewStateContainer()

	firstVC := &VirtualConnection{OwnerCID: 1, PeerCID: 2}
	secondVC := &VirtualConnection{OwnerCID: 2, PeerCID: 1}

	InsertPair(first, second, firstVC, secondVC)

	if got, ok := first.Get(2); !ok || got != firstVC {
		t.Fatalf("first.Get(2) = %v, %v; want firstVC, true", got, ok)
	}
	if got, ok := second.Get(1); !ok || got != secondVC {
		t.Fatalf("second.Get(1) = %v, %v; want secondVC, true", got, ok)
	}
}

// TestInsertPair_NeverObservedPartially hammers InsertPair concurrently
// with a reader of both containers and asserts the two containers'
// entry counts are always equal — each round adds exactly one entry to
// each container, so any observed gap would mean a reader caught one
// container mid-update without the other, violating the atomicity
// guarantee that replaced two independently-locked Insert calls.
func TestInsertPair_NeverObservedPartially(t *testing.T) {
	first := NewStateContainer()
	second := NewStateContainer()

	const rounds = 200
	var wg sync.WaitGroup
	wg.Add(2)

	stop := make(chan struct{})
	violations := make(chan string, 1)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if len(first.Peers()) != len(second.Peers()) {
				select {
				case violations <- "container entry counts diverged mid-insert":
				default:
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			peerCID := CID(1000 + i)
			InsertPair(first, second,
				&VirtualConnection{OwnerCID: 1, PeerCID: peerCID},
				&VirtualConnection{OwnerCID: 2, PeerCID: peerCID},
			)
		}
		close(stop)
	}()

	wg.Wait()
	select {
	case msg := <-violations:
		t.Fatal(msg)
	default:
	}
}
