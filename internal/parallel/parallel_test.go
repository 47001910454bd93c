package parallel

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
)

func TestForEach(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4}

	var counter int64
	n := 1000
	seen := make([]int32, n)

	err := ForEach(n, func(i int) error {
		atomic.AddInt64(&counter, 1)
		atomic.AddInt32(&seen[i], 1)
		return nil
	}, cfg)
	if err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
	for i, c := range seen {
		if c != 1 {
			t.Errorf("index %d ran %d times", i, c)
		}
	}
}

func TestForEach_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	var order []int
	err := ForEach(5, func(i int) error {
		order = append(order, i)
		return nil
	}, cfg)
	if err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("Expected sequential order, got %v", order)
		}
	}
}

func TestForEach_Error(t *testing.T) {
	errBoom := errors.New("boom")
	for _, cfg := range []Config{{Enabled: false}, {Enabled: true, NumWorkers: 3}} {
		t.Run(fmt.Sprintf("workers=%d", cfg.NumWorkers), func(t *testing.T) {
			err := ForEach(10, func(i int) error {
				if i == 2 {
					return fmt.Errorf("item %d: %w", i, errBoom)
				}
				return nil
			}, cfg)
			if !errors.Is(err, errBoom) {
				t.Fatalf("Expected boom, got %v", err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.NumWorkers < 1 || cfg.NumWorkers > 4 {
		t.Errorf("unexpected worker count %d", cfg.NumWorkers)
	}
}
