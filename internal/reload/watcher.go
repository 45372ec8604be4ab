// Package reload re-applies the live-tunable part of the configuration
// when the config file changes or the process receives SIGHUP.
package reload

import (
	"context"
	"os"
	"time"

	"github.com/zeebo/blake3"
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	ConfigPath string

	// PollInterval defaults to 5s.
	PollInterval time.Duration

	// Settle is how many consecutive polls a new digest must survive before
	// it is reported, so an editor's partial write is not applied.
	// Defaults to 1.
	Settle int
}

// Event reports a settled change of the watched file's content.
type Event struct {
	ConfigPath string
	Digest     [32]byte
}

// Watcher polls a file and reports content changes. Saving identical
// bytes or touching the file is not a change, nor is a transient
// disappearance.
type Watcher struct {
	cfg WatcherConfig
}

// NewWatcher creates a watcher for cfg.ConfigPath.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 1
	}
	return &Watcher{cfg: cfg}
}

// Watch starts polling and returns the event channel. The channel is
// closed once ctx is done. At most one event is buffered; changes made
// before it is read are coalesced into it.
func (w *Watcher) Watch(ctx context.Context) <-chan Event {
	events := make(chan Event, 1)
	applied, _ := w.digest()

	go func() {
		defer close(events)
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()

		var pending [32]byte
		seen := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			current, ok := w.digest()
			if !ok || current == applied {
				seen = 0
				continue
			}
			if current != pending {
				pending, seen = current, 0
				continue
			}
			if seen++; seen < w.cfg.Settle {
				continue
			}
			applied, seen = current, 0
			select {
			case events <- Event{ConfigPath: w.cfg.ConfigPath, Digest: current}:
			default:
			}
		}
	}()
	return events
}

// digest hashes the file; ok is false while it cannot be read.
func (w *Watcher) digest() (sum [32]byte, ok bool) {
	data, err := os.ReadFile(w.cfg.ConfigPath)
	if err != nil {
		return sum, false
	}
	return blake3.Sum256(data), true
}
