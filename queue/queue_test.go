package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"debuglog/event"
)

func logItem(msg string) event.Item {
	return event.ItemFrom(event.New(event.KindLog, msg, nil, nil))
}

func TestQueueFIFO(t *testing.T) {
	q := New(0, nil)
	for i := 0; i < 1000; i++ {
		q.Push(logItem(fmt.Sprintf("m%d", i)))
	}
	if q.Len() != 1000 {
		t.Fatalf("expected 1000 items, got %d", q.Len())
	}
	for i := 0; i < 1000; i++ {
		it, ok := q.TryGet()
		if !ok {
			t.Fatalf("expected item %d", i)
		}
		if want := fmt.Sprintf("m%d", i); it.Payload.Message != want {
			t.Fatalf("expected %q, got %q", want, it.Payload.Message)
		}
	}
	if _, ok := q.TryGet(); ok {
		t.Fatalf("expected empty queue")
	}
	if q.Dropped() != 0 {
		t.Fatalf("unbounded queue must not drop, got %d", q.Dropped())
	}
}

func TestQueueClearItem(t *testing.T) {
	q := New(0, nil)
	q.Push(event.ItemFrom(event.Clear()))
	it, ok := q.Get(time.Second)
	if !ok {
		t.Fatalf("expected clear item")
	}
	if diff := cmp.Diff(event.Item{Kind: event.KindClear}, it); diff != "" {
		t.Fatalf("unexpected clear item (-want +got):\n%s", diff)
	}
}

func TestQueueBoundedDropsOldest(t *testing.T) {
	var logged []string
	q := New(3, func(format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	})
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		q.Push(logItem(msg))
	}
	if q.Dropped() != 2 {
		t.Fatalf("expected 2 drops, got %d", q.Dropped())
	}
	var got []string
	for {
		it, ok := q.TryGet()
		if !ok {
			break
		}
		got = append(got, it.Payload.Message)
	}
	if diff := cmp.Diff([]string{"c", "d", "e"}, got); diff != "" {
		t.Fatalf("unexpected survivors (-want +got):\n%s", diff)
	}
	if len(logged) != 1 {
		t.Fatalf("expected exactly one throttled drop log, got %d", len(logged))
	}
}

func TestQueueGetTimesOutWhenEmpty(t *testing.T) {
	q := New(0, nil)
	start := time.Now()
	if _, ok := q.Get(50 * time.Millisecond); ok {
		t.Fatalf("expected timeout on empty queue")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected Get to wait for the timeout, returned after %s", elapsed)
	}
}

func TestQueueGetWakesOnPush(t *testing.T) {
	q := New(0, nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(logItem("late"))
	}()
	it, ok := q.Get(2 * time.Second)
	if !ok || it.Payload.Message != "late" {
		t.Fatalf("expected late item, got ok=%v item=%+v", ok, it)
	}
}

func TestQueueGetContextCancelled(t *testing.T) {
	q := New(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.GetContext(ctx)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetContext did not observe cancellation")
	}
}

func TestQueueConcurrentProducersPreservePerProducerOrder(t *testing.T) {
	q := New(0, nil)
	const producers = 8
	const perProducer = 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				tie := int64(i)
				q.Push(event.ItemFrom(event.New(event.KindLog, fmt.Sprintf("p%d", p), nil, &tie)))
			}
		}(p)
	}
	wg.Wait()

	next := make(map[string]int64)
	total := 0
	for {
		it, ok := q.TryGet()
		if !ok {
			break
		}
		total++
		producer := it.Payload.Message
		if *it.Payload.TieBreaker != next[producer] {
			t.Fatalf("producer %s out of order: expected %d, got %d", producer, next[producer], *it.Payload.TieBreaker)
		}
		next[producer]++
	}
	if total != producers*perProducer {
		t.Fatalf("expected %d items, got %d", producers*perProducer, total)
	}
	if q.Pushed() != uint64(total) {
		t.Fatalf("expected pushed=%d, got %d", total, q.Pushed())
	}
}
