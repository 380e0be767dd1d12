// Package acquisition exposes the frame-acquisition service: it binds a
// capture source to a shared-memory region and owns the capture-to-ring
// pump, the internal frame buffer, and the performance monitor.
//
// The implementation lives in internal/acquisition; this package is a
// thin, stable re-export.
package acquisition

import (
	"log/slog"

	"github.com/EmiPatoR/mivi-imaging-service/acquisition/internal/acquisition"
)

// State is the service lifecycle position.
type State = acquisition.State

const (
	StateUninitialized = acquisition.StateUninitialized
	StateInitialized   = acquisition.StateInitialized
	StateRunning       = acquisition.StateRunning
)

// Config carries every tunable of a service instance.
type Config = acquisition.Config

// FrameCallback receives each captured frame after ring publication.
type FrameCallback = acquisition.FrameCallback

// Service drives one capture source into one shared-memory region.
type Service = acquisition.Service

// DefaultConfig returns the tunables a bare service starts from.
func DefaultConfig() Config { return acquisition.DefaultConfig() }

// NewService creates an uninitialized service.
func NewService(log *slog.Logger) *Service { return acquisition.NewService(log) }
