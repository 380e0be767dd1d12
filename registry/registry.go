// Package registry provides the process-wide map of named acquisition
// services. One explicit Registry object serves a process; a single
// well-known accessor returns the default instance for callers (such as
// the C ABI) that cannot thread one through.
package registry

import (
	"log/slog"
	"sync"

	"github.com/EmiPatoR/mivi-imaging-service/acquisition"
	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

// Registry maps service names to service instances.
type Registry struct {
	mu       sync.Mutex
	services map[string]*acquisition.Service
	log      *slog.Logger
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{services: make(map[string]*acquisition.Service), log: log}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry, created on first use.
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = New(nil) })
	return defaultReg
}

// Create registers a new named service. The name must be unused.
func (r *Registry) Create(name string) (*acquisition.Service, error) {
	if name == "" {
		return nil, status.New(status.InvalidArgument, "service name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; ok {
		return nil, status.Newf(status.AlreadyExists, "service %q already exists", name)
	}
	svc := acquisition.NewService(r.log)
	r.services[name] = svc
	return svc, nil
}

// Get resolves a named service.
func (r *Registry) Get(name string) (*acquisition.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[name]
	if !ok {
		return nil, status.Newf(status.DeviceNotFound, "no service %q", name)
	}
	return svc, nil
}

// Destroy stops (if running) and removes a named service.
func (r *Registry) Destroy(name string) error {
	r.mu.Lock()
	svc, ok := r.services[name]
	delete(r.services, name)
	r.mu.Unlock()

	if !ok {
		return status.Newf(status.DeviceNotFound, "no service %q", name)
	}
	return teardown(svc, r.log, name)
}

// DestroyAll stops and removes every service. Part of the registry
// contract: a registry being dropped tears its services down explicitly.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	services := r.services
	r.services = make(map[string]*acquisition.Service)
	r.mu.Unlock()

	for name, svc := range services {
		if err := teardown(svc, r.log, name); err != nil {
			r.log.Error("destroying service failed", "service", name, "error", err)
		}
	}
}

// Names returns the registered service names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.services))
	for name := range r.services {
		out = append(out, name)
	}
	return out
}

// teardown runs outside the registry lock: stopping a service can block on
// its capture source.
func teardown(svc *acquisition.Service, log *slog.Logger, name string) error {
	if svc.IsRunning() {
		if err := svc.Stop(); err != nil {
			log.Error("stopping service during destroy failed", "service", name, "error", err)
		}
	}
	return svc.Close()
}
