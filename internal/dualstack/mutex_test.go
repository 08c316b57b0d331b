package dualstack

import "testing"

func TestDistributedMutex_ExactlyOneAcquirerWins(t *testing.T) {
	const racers = 8
	m := NewDistributedMutex()

	wins := make(chan int, racers)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		go func(i int) {
			<-start
			guard, ok := m.Acquire()
			if !ok {
				return
			}
			guard.Set(i)
			wins <- i
		}(i)
	}
	close(start)

	winner := <-wins
	select {
	case extra := <-wins:
		t.Fatalf("more than one racer acquired the mutex: %d and %d", winner, extra)
	default:
	}

	value, ok := m.Value()
	if !ok || value != winner {
		t.Fatalf("Value() = %v, %v; want %v, true", value, ok, winner)
	}
}

func TestDistributedMutex_LoserNeverAcquires(t *testing.T) {
	m := NewDistributedMutex()

	g1, ok1 := m.Acquire()
	if !ok1 {
		t.Fatalf("first Acquire should succeed")
	}
	g1.Set("first")

	if _, ok2 := m.Acquire(); ok2 {
		t.Fatalf("second Acquire should fail once the mutex is held")
	}

	value, ok := m.Value()
	if !ok || value != "first" {
		t.Fatalf("Value() = %v, %v; want \"first\", true", value, ok)
	}
}
