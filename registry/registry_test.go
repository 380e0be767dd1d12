package registry

import (
	"testing"

	"github.com/EmiPatoR/mivi-imaging-service/acquisition"
	"github.com/EmiPatoR/mivi-imaging-service/capture"
	"github.com/EmiPatoR/mivi-imaging-service/capture/simsource"
	"github.com/EmiPatoR/mivi-imaging-service/frame"
	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

func TestCreateGetDestroy(t *testing.T) {
	r := New(nil)

	svc, err := r.Create("us-probe-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Create("us-probe-1"); status.CodeOf(err) != status.AlreadyExists {
		t.Fatalf("duplicate create: got %v, want already-exists", err)
	}

	got, err := r.Get("us-probe-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != svc {
		t.Fatal("get returned a different instance")
	}

	if _, err := r.Get("missing"); err == nil {
		t.Fatal("get of unknown name should fail")
	}

	if err := r.Destroy("us-probe-1"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := r.Get("us-probe-1"); err == nil {
		t.Fatal("destroyed service still resolvable")
	}
	if err := r.Destroy("us-probe-1"); err == nil {
		t.Fatal("double destroy should fail")
	}
}

func TestDestroyStopsRunningService(t *testing.T) {
	r := New(nil)
	svc, err := r.Create("running")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cfg := acquisition.DefaultConfig()
	cfg.Source = simsource.New(nil)
	cfg.Capture = capture.Config{Width: 8, Height: 4, FrameRate: 100, PixelFormat: frame.FormatYUV422}
	cfg.EnableSharedMemory = false
	cfg.EnableMonitoring = false
	cfg.FrameBufferSize = 4

	if err := svc.Initialize(cfg); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := r.Destroy("running"); err != nil {
		t.Fatalf("destroy of running service: %v", err)
	}
	if svc.IsRunning() {
		t.Fatal("service still running after destroy")
	}
}

func TestDestroyAllEmptiesRegistry(t *testing.T) {
	r := New(nil)
	for _, name := range []string{"a", "b", "c"} {
		if _, err := r.Create(name); err != nil {
			t.Fatalf("create %q: %v", name, err)
		}
	}
	if len(r.Names()) != 3 {
		t.Fatalf("names = %v, want 3 entries", r.Names())
	}
	r.DestroyAll()
	if len(r.Names()) != 0 {
		t.Fatalf("registry not empty after DestroyAll: %v", r.Names())
	}
}
