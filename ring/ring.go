// Package ring exposes the single-producer, multi-consumer frame ring
// protocol over a shared-memory region: a lock-free publish path on the
// producer side and advisory readers (pull or callback-driven) on the
// consumer side.
//
// The implementation lives in internal/ring; this package is a thin,
// stable re-export.
package ring

import (
	"log/slog"

	"github.com/EmiPatoR/mivi-imaging-service/ring/internal/ring"
	"github.com/EmiPatoR/mivi-imaging-service/shm"
)

// Producer is the sole writer of a region's ring.
type Producer = ring.Producer

// Reader is a pull consumer with a local cursor.
type Reader = ring.Reader

// CallbackReader drives a FrameCallback from its own notification
// goroutine, publishing its cursor so the producer observes backpressure.
type CallbackReader = ring.CallbackReader

// FrameCallback receives each frame delivered by a CallbackReader.
type FrameCallback = ring.FrameCallback

// NewProducer binds a producer to a region it owns.
func NewProducer(r *shm.Region) *Producer { return ring.NewProducer(r) }

// NewReader attaches a pull reader to a region.
func NewReader(r *shm.Region) *Reader { return ring.NewReader(r) }

// NewCallbackReader attaches a callback reader to a region.
func NewCallbackReader(r *shm.Region, cb FrameCallback, log *slog.Logger) (*CallbackReader, error) {
	return ring.NewCallbackReader(r, cb, log)
}
