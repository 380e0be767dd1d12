package capture

import (
	"sync"

	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

// DeviceRegistry is the process-wide map of attached capture sources. One
// explicit registry object serves the whole process; callers pass it in
// rather than reaching through an ambient global.
type DeviceRegistry struct {
	mu      sync.Mutex
	devices map[string]CaptureSource
	order   []string
}

// NewDeviceRegistry creates an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{devices: make(map[string]CaptureSource)}
}

// Register adds a source under its own ID.
func (r *DeviceRegistry) Register(src CaptureSource) error {
	if src == nil {
		return status.New(status.InvalidArgument, "cannot register a nil source")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := src.ID()
	if _, ok := r.devices[id]; ok {
		return status.Newf(status.AlreadyExists, "device %q is already registered", id)
	}
	r.devices[id] = src
	r.order = append(r.order, id)
	return nil
}

// Remove forgets a source. Removing an unknown id is a no-op.
func (r *DeviceRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return
	}
	delete(r.devices, id)
	for i, d := range r.order {
		if d == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// ByID resolves a source by device id.
func (r *DeviceRegistry) ByID(id string) (CaptureSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.devices[id]
	if !ok {
		return nil, status.Newf(status.DeviceNotFound, "no device %q", id)
	}
	return src, nil
}

// First returns the earliest-registered source.
func (r *DeviceRegistry) First() (CaptureSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return nil, status.New(status.DeviceNotFound, "no devices registered")
	}
	return r.devices[r.order[0]], nil
}

// List returns every registered source in registration order.
func (r *DeviceRegistry) List() []CaptureSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CaptureSource, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id])
	}
	return out
}
