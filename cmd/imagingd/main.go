// Command imagingd runs the frame-acquisition producer: it binds a capture
// source to a named shared-memory region and publishes frames until
// interrupted. Absent vendor hardware it drives the simulated source, which
// honors the same delivery contract as a capture card adapter.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/EmiPatoR/mivi-imaging-service/acquisition"
	"github.com/EmiPatoR/mivi-imaging-service/capture/simsource"
	"github.com/EmiPatoR/mivi-imaging-service/frame"
	"github.com/EmiPatoR/mivi-imaging-service/registry"
	"github.com/EmiPatoR/mivi-imaging-service/shm"
)

const readySentinel = "/tmp/imaging_service_ready"

// fileConfig is the optional TOML configuration file; flags given on the
// command line override it.
type fileConfig struct {
	Device           string  `toml:"device"`
	Width            int     `toml:"width"`
	Height           int     `toml:"height"`
	FrameRate        float64 `toml:"frame_rate"`
	PixelFormat      string  `toml:"pixel_format"`
	SharedMemoryName string  `toml:"shared_memory_name"`
	SharedMemorySize uint64  `toml:"shared_memory_size"`
	SharedMemoryType int     `toml:"shared_memory_type"`
	BufferSize       int     `toml:"buffer_size"`
	LogIntervalMS    int     `toml:"log_interval_ms"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "imagingd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("imagingd", pflag.ContinueOnError)

	configPath := flags.String("config", "", "TOML configuration file; flags override it")
	device := flags.String("device", "", "capture device id (default: first available)")
	width := flags.Int("width", 1920, "capture width in pixels")
	height := flags.Int("height", 1080, "capture height in pixels")
	frameRate := flags.Float64("frame-rate", 30, "capture frame rate")
	pixelFormat := flags.String("pixel-format", "YUV422", "pixel format (YUV422, RGBA, YUV422_10, RGB10)")
	noDirectMemory := flags.Bool("no-direct-memory", false, "disable DMA capture")
	noRealtime := flags.Bool("no-realtime", false, "disable realtime scheduling for the monitor thread")
	threadAffinity := flags.Int("thread-affinity", -1, "pin the monitor thread to this CPU")
	noPinMemory := flags.Bool("no-pin-memory", false, "do not mlock the shared-memory region")
	noSharedMemory := flags.Bool("no-shared-memory", false, "disable the shared-memory ring entirely")
	shmName := flags.String("shared-memory-name", "mivi_frames", "shared-memory region name")
	shmSize := flags.Uint64("shared-memory-size", 256<<20, "shared-memory region size in bytes")
	shmType := flags.Int("shared-memory-type", 0, "region backing: 0=POSIX 1=SysV 2=file 3=huge-pages")
	bufferSize := flags.Int("buffer-size", 30, "internal frame-buffer capacity")
	noDropFrames := flags.Bool("no-drop-frames", false, "block (bounded) instead of dropping when the ring is full")
	enableLogging := flags.Bool("enable-logging", false, "emit a periodic status line")
	logInterval := flags.Int("log-interval", 1000, "status line interval in milliseconds")
	diagnosticsFile := flags.String("diagnostics-file", "", "write statistics JSON to this path each interval")
	niceValue := flags.Int("nice-value", 0, "process nice value (-20..19)")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if *configPath != "" {
		var fc fileConfig
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		if err := toml.Unmarshal(raw, &fc); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
		applyFileConfig(flags, fc, device, width, height, frameRate, pixelFormat,
			shmName, shmSize, shmType, bufferSize, logInterval)
	}

	if *niceValue != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, *niceValue); err != nil {
			log.Warn("setting nice value failed", "nice", *niceValue, "error", err)
		}
	}

	cfg := acquisition.DefaultConfig()
	cfg.Logger = log
	cfg.DeviceID = *device
	cfg.Capture.Width = *width
	cfg.Capture.Height = *height
	cfg.Capture.FrameRate = *frameRate
	cfg.Capture.PixelFormat = frame.FormatFromName(*pixelFormat)
	cfg.Capture.EnableDMA = !*noDirectMemory
	cfg.FrameBufferSize = *bufferSize
	cfg.EnableLogging = *enableLogging
	cfg.LogInterval = time.Duration(*logInterval) * time.Millisecond
	cfg.ThreadAffinity = *threadAffinity
	cfg.RealtimePriority = !*noRealtime

	cfg.EnableSharedMemory = !*noSharedMemory
	cfg.SharedMemory = shm.Config{
		Name:               *shmName,
		Size:               *shmSize,
		Backing:            backingKind(*shmType),
		MaxFrameSize:       uint32(*width * *height * bytesPerPixel(*pixelFormat)),
		LockInRAM:          !*noPinMemory,
		DropFramesWhenFull: !*noDropFrames,
		EnableMetadata:     true,
	}
	if cfg.SharedMemory.Backing == shm.BackingMemoryMappedFile {
		cfg.SharedMemory.FilePath = shm.DefaultFilePath(*shmName)
	}

	reg := registry.Default()
	defer reg.DestroyAll()

	svc, err := reg.Create("imagingd")
	if err != nil {
		return err
	}

	// The simulated source stands in for the vendor SDK adapter; a real
	// deployment registers its capture-card source here instead.
	cfg.Source = simsource.New(log)

	if err := svc.Initialize(cfg); err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}

	diagnostics := *diagnosticsFile != ""
	if diagnostics {
		if err := os.WriteFile(readySentinel, []byte("ready\n"), 0o644); err != nil {
			log.Warn("writing readiness sentinel failed", "path", readySentinel, "error", err)
		}
		defer os.Remove(readySentinel)
	}

	log.Info("imagingd running",
		"device", cfg.Source.ID(),
		"region", *shmName,
		"shared_memory", cfg.EnableSharedMemory,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.LogInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.Info("shutting down", "signal", sig.String())
			return svc.Stop()
		case <-ticker.C:
			if diagnostics {
				writeDiagnostics(*diagnosticsFile, svc, log)
			}
		}
	}
}

// applyFileConfig copies file values into any flag the command line left at
// its default.
func applyFileConfig(flags *pflag.FlagSet, fc fileConfig,
	device *string, width, height *int, frameRate *float64, pixelFormat *string,
	shmName *string, shmSize *uint64, shmType *int, bufferSize *int, logInterval *int) {

	set := func(name string) bool { return flags.Changed(name) }

	if fc.Device != "" && !set("device") {
		*device = fc.Device
	}
	if fc.Width > 0 && !set("width") {
		*width = fc.Width
	}
	if fc.Height > 0 && !set("height") {
		*height = fc.Height
	}
	if fc.FrameRate > 0 && !set("frame-rate") {
		*frameRate = fc.FrameRate
	}
	if fc.PixelFormat != "" && !set("pixel-format") {
		*pixelFormat = fc.PixelFormat
	}
	if fc.SharedMemoryName != "" && !set("shared-memory-name") {
		*shmName = fc.SharedMemoryName
	}
	if fc.SharedMemorySize > 0 && !set("shared-memory-size") {
		*shmSize = fc.SharedMemorySize
	}
	if fc.SharedMemoryType > 0 && !set("shared-memory-type") {
		*shmType = fc.SharedMemoryType
	}
	if fc.BufferSize > 0 && !set("buffer-size") {
		*bufferSize = fc.BufferSize
	}
	if fc.LogIntervalMS > 0 && !set("log-interval") {
		*logInterval = fc.LogIntervalMS
	}
}

func writeDiagnostics(path string, svc *acquisition.Service, log *slog.Logger) {
	buf, err := json.MarshalIndent(svc.Statistics(), "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		log.Warn("writing diagnostics file failed", "path", path, "error", err)
	}
}

func backingKind(n int) shm.BackingKind {
	switch n {
	case 1:
		return shm.BackingSysV
	case 2:
		return shm.BackingMemoryMappedFile
	case 3:
		return shm.BackingHugePages
	default:
		return shm.BackingPosixSHM
	}
}

func bytesPerPixel(format string) int {
	switch frame.FormatFromName(format) {
	case frame.FormatYUV422:
		return 2
	default:
		return 4
	}
}
