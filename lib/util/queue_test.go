package util

import (
	"sync"
	"testing"
	"time"
)

// TestBasicOperations tests basic push and pop functionality
func TestBasicOperations(t *testing.T) {
	q := NewQueue[int]()

	// Push 10 items
	for i := 0; i < 10; i++ {
		v := i
		if !q.Push(&v) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	if q.Len() != 10 {
		t.Errorf("Expected length 10, got %d", q.Len())
	}

	// Pop 10 items
	for i := 0; i < 10; i++ {
		val, ok := q.Pop()
		if !ok || *val != i {
			t.Errorf("Expected %d, got %v (ok=%v)", i, val, ok)
		}
	}

	// Make sure queue is empty
	if val, ok := q.TryPop(); ok {
		t.Errorf("Queue should be empty, but got %v", *val)
	}
}

// TestPushNil makes sure nil items are rejected
func TestPushNil(t *testing.T) {
	q := NewQueue[int]()
	if q.Push(nil) {
		t.Errorf("nil push should be rejected")
	}
}

// TestConcurrentProducers verifies that no item is lost and per-producer order holds
func TestConcurrentProducers(t *testing.T) {
	q := NewQueue[[2]int]()

	const numProducers = 10
	const itemsPerProducer = 1000

	var wg sync.WaitGroup
	for p := 0; p < numProducers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				item := [2]int{p, i}
				q.Push(&item)
			}
		}(p)
	}

	go func() {
		wg.Wait()
		q.Close()
	}()

	last := make([]int, numProducers)
	for i := range last {
		last[i] = -1
	}
	received := 0
	for {
		item, ok := q.Pop()
		if !ok {
			break
		}
		producer, seq := item[0], item[1]
		if seq != last[producer]+1 {
			t.Fatalf("producer %d: expected %d, got %d", producer, last[producer]+1, seq)
		}
		last[producer] = seq
		received++
	}

	if received != numProducers*itemsPerProducer {
		t.Errorf("Expected %d items, got %d", numProducers*itemsPerProducer, received)
	}
}

// TestPopBlocksUntilPush tests that a waiting consumer is woken by a producer
func TestPopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string]()
	got := make(chan string, 1)

	go func() {
		v, ok := q.Pop()
		if ok {
			got <- *v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	v := "hello"
	q.Push(&v)

	select {
	case s := <-got:
		if s != "hello" {
			t.Errorf("Expected hello, got %s", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("Timeout waiting for consumer")
	}
}

// TestCloseWakesConsumer tests that Close releases a blocked consumer and rejects pushes
func TestCloseWakesConsumer(t *testing.T) {
	q := NewQueue[int]()
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Errorf("Pop on closed empty queue should report false")
		}
	case <-time.After(time.Second):
		t.Fatalf("Close did not wake consumer")
	}

	v := 1
	if q.Push(&v) {
		t.Errorf("Push after Close should be rejected")
	}
	if !q.IsClosed() {
		t.Errorf("queue should report closed")
	}
}

// TestCloseDrains tests that items pushed before Close are still delivered
func TestCloseDrains(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 3; i++ {
		v := i
		q.Push(&v)
	}
	q.Close()

	count := 0
	for {
		if _, ok := q.Pop(); !ok {
			break
		}
		count++
	}
	if count != 3 {
		t.Errorf("Expected 3 drained items, got %d", count)
	}
}
