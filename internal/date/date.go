// Package date keeps a process-wide RFC1123 Date header value refreshed by a ticker.
package date

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// refreshInterval is how often the cached value is rebuilt.
const refreshInterval = 500 * time.Millisecond

var (
	current atomic.Pointer[[]byte]

	mu      sync.Mutex
	users   int
	stopped chan struct{}
)

// Start begins refreshing the cached value and returns a stop function.
// Calls nest: the ticker runs until every returned stop function was called.
func Start() func() {
	mu.Lock()
	defer mu.Unlock()

	update()
	users++
	if users == 1 {
		stopped = make(chan struct{})
		go refresh(stopped)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			users--
			if users == 0 {
				close(stopped)
			}
		})
	}
}

func refresh(done <-chan struct{}) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			update()
		case <-done:
			return
		}
	}
}

func update() {
	b := []byte(time.Now().UTC().Format(http.TimeFormat))
	current.Store(&b)
}

// Current returns the cached Date header value. Without a running ticker it
// formats the current time.
func Current() []byte {
	if p := current.Load(); p != nil {
		return *p
	}
	return []byte(time.Now().UTC().Format(http.TimeFormat))
}
