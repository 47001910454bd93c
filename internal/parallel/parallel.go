// Package parallel runs independent units of work on a bounded number of
// goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled    bool // Whether parallel execution is enabled.
	NumWorkers int  // Maximum number of concurrent workers.
}

// DefaultConfig returns defaults for I/O bound work such as downloading and
// decoding checkpoint shards.
func DefaultConfig() Config {
	n := min(runtime.NumCPU(), 4)
	return Config{
		Enabled:    n > 1,
		NumWorkers: n,
	}
}

// ForEach executes f(i) for i in [0, n) and returns the error of the lowest
// index that failed. Once an error is seen, indices not yet started are
// skipped. Runs sequentially if parallelism is disabled or n < 2.
func ForEach(n int, f func(i int) error, cfg Config) error {
	if !cfg.Enabled || cfg.NumWorkers < 2 || n < 2 {
		for i := 0; i < n; i++ {
			if err := f(i); err != nil {
				return err
			}
		}
		return nil
	}

	errs := make([]error, n)
	var (
		mu     sync.Mutex
		failed bool
		next   int
		wg     sync.WaitGroup
	)
	claim := func() (int, bool) {
		mu.Lock()
		defer mu.Unlock()
		if failed || next >= n {
			return 0, false
		}
		i := next
		next++
		return i, true
	}

	for w := 0; w < min(cfg.NumWorkers, n); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i, ok := claim()
				if !ok {
					return
				}
				if err := f(i); err != nil {
					errs[i] = err
					mu.Lock()
					failed = true
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
