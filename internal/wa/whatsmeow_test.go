package wa

import (
	"sync"
	"testing"
	"time"
)

func TestSessionCloseIdempotent(t *testing.T) {
	s := &meowSession{
		instanceID: "acme",
		events:     make(chan Event, 1),
		done:       make(chan struct{}),
	}

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Concurrent closes must not panic either.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
}

func TestEmitAfterCloseDoesNotBlock(t *testing.T) {
	s := &meowSession{
		events: make(chan Event), // unbuffered, no consumer
		done:   make(chan struct{}),
	}
	s.Close()

	done := make(chan struct{})
	go func() {
		s.emit(Event{Kind: EventOpened})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked after close")
	}
}
