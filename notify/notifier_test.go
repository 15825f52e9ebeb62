package notify

import (
	"sync"
	"testing"
	"time"
)

type dbMatcher []string

func (m dbMatcher) Match(database, table string) bool {
	for _, db := range m {
		if db == database {
			return true
		}
	}
	return false
}

func TestHub_BasicSubscribeSignal(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(nil)
	defer cancel()

	hub.Signal("testdb", "users", 1)

	select {
	case sig := <-signals:
		if sig.Database != "testdb" || sig.Table != "users" || sig.Seq != 1 {
			t.Errorf("expected (testdb, users, 1), got %+v", sig)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for signal")
	}
}

func TestHub_Filter(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(dbMatcher{"db1"})
	defer cancel()

	hub.Signal("db1", "t", 1)
	select {
	case sig := <-signals:
		if sig.Database != "db1" || sig.Seq != 1 {
			t.Errorf("expected (db1, 1), got %+v", sig)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for signal")
	}

	hub.Signal("db2", "t", 2)
	select {
	case sig := <-signals:
		t.Errorf("should not receive signal for db2, got %+v", sig)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_MultipleSubscribers(t *testing.T) {
	hub := NewHub()

	all, cancelAll := hub.Subscribe(nil)
	defer cancelAll()
	only, cancelOnly := hub.Subscribe(dbMatcher{"db2"})
	defer cancelOnly()

	hub.Signal("db1", "t", 1)
	hub.Signal("db2", "t", 2)

	if len(all) != 2 {
		t.Errorf("expected 2 signals for catch-all subscriber, got %d", len(all))
	}
	if len(only) != 1 {
		t.Errorf("expected 1 signal for filtered subscriber, got %d", len(only))
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(nil)
	cancel()
	cancel() // idempotent

	if _, ok := <-signals; ok {
		t.Error("expected closed channel after cancel")
	}
	if hub.Len() != 0 {
		t.Errorf("expected no subscriptions, got %d", hub.Len())
	}

	// Signalling after cancel must not panic
	hub.Signal("testdb", "t", 1)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe(nil)
	b, _ := hub.Subscribe(nil)

	hub.Close()
	cancelA() // cancel after Close must not panic

	for _, ch := range []<-chan Signal{a, b} {
		if _, ok := <-ch; ok {
			t.Error("expected closed channel after Close")
		}
	}
}

func TestHub_BufferOverflowNonBlocking(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(nil)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Signal("testdb", "t", uint64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Signal blocked on a full subscriber")
	}
	if len(signals) != defaultSignalBufferSize {
		t.Errorf("expected a full buffer of %d, got %d", defaultSignalBufferSize, len(signals))
	}
}

func TestHub_ConcurrentSignalSubscribe(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			signals, cancel := hub.Subscribe(nil)
			defer cancel()
			timeout := time.After(200 * time.Millisecond)
			for {
				select {
				case <-signals:
				case <-timeout:
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			hub.Signal("testdb", "t", uint64(i))
		}
	}()

	wg.Wait()
}
