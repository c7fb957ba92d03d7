// Package report publishes per-cycle snapshots of the system state:
// JSON lines for machine consumers (the same shape the firmware streamed
// to the host GUI) and callbacks for live views.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/itohio/gopump/pkg/control"
)

// Reporter fans a snapshot out to an optional JSON-line writer and any
// registered callbacks, once per control cycle.
type Reporter struct {
	mu  sync.Mutex
	enc *json.Encoder

	cbMu      sync.RWMutex
	callbacks []func(control.SystemState)
}

// New creates a Reporter. w may be nil to disable the JSON stream.
func New(w io.Writer) *Reporter {
	r := &Reporter{}
	if w != nil {
		r.enc = json.NewEncoder(w)
	}
	return r
}

// OnUpdate registers a callback invoked with every published snapshot.
// Callbacks should copy what they need and return quickly.
func (r *Reporter) OnUpdate(cb func(control.SystemState)) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Publish emits one snapshot.
func (r *Reporter) Publish(state control.SystemState) error {
	var err error
	if r.enc != nil {
		r.mu.Lock()
		if encErr := r.enc.Encode(state); encErr != nil {
			err = fmt.Errorf("failed to encode snapshot: %w", encErr)
		}
		r.mu.Unlock()
	}

	r.cbMu.RLock()
	callbacks := make([]func(control.SystemState), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(state)
		}
	}

	return err
}
