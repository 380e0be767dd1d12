//go:build cgo && linux

// Package cabi is the flat, handle-based C adapter over the acquisition
// service: opaque integer handles instead of pointers, a closed status
// enum, and POD structs populated per call. Build it with -buildmode
// c-shared or c-archive to produce the vendor-consumable library.
package cabi

/*
#include <stdlib.h>
#include <string.h>
#include "abi.h"
*/
import "C"

import (
	"strconv"
	"sync"
	"unsafe"

	"github.com/EmiPatoR/mivi-imaging-service/acquisition"
	"github.com/EmiPatoR/mivi-imaging-service/capture"
	"github.com/EmiPatoR/mivi-imaging-service/capture/simsource"
	"github.com/EmiPatoR/mivi-imaging-service/frame"
	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

const versionString = "1.0.0"

// handleState carries everything the ABI tracks per opaque handle. The
// frameBuf C allocation backs get_latest_frame's returned pointer, valid
// only until the next call on the same handle.
type handleState struct {
	mu       sync.Mutex
	svc      *acquisition.Service
	frameBuf unsafe.Pointer
	frameCap int

	cb       C.MiviFrameCallback
	userData unsafe.Pointer
}

var (
	handlesMu  sync.Mutex
	handles    = make(map[int64]*handleState)
	nextHandle int64

	devicesOnce sync.Once
	devices     *capture.DeviceRegistry
)

// deviceRegistry lazily creates the ABI's device registry with one
// simulated device, so a consumer linking only the library can exercise
// the full surface without vendor hardware.
func deviceRegistry() *capture.DeviceRegistry {
	devicesOnce.Do(func() {
		devices = capture.NewDeviceRegistry()
		devices.Register(simsource.New(nil))
	})
	return devices
}

func statusOf(err error) C.MiviStatus {
	if err == nil {
		return C.MIVI_OK
	}
	switch status.CodeOf(err) {
	case status.InvalidArgument, status.InvalidSize, status.ConfigurationError:
		return C.MIVI_INVALID_ARGUMENT
	case status.InvalidHandle:
		return C.MIVI_INVALID_HANDLE
	case status.DeviceNotFound, status.InitFailed:
		return C.MIVI_DEVICE_ERROR
	case status.ReadFailed, status.WriteFailed, status.BufferFull, status.BufferEmpty:
		return C.MIVI_PROCESSING_ERROR
	case status.IOError, status.Timeout:
		return C.MIVI_COMMUNICATION_ERROR
	case status.NotInitialized:
		return C.MIVI_NOT_INITIALIZED
	case status.AlreadyRunning, status.AlreadyExists:
		return C.MIVI_ALREADY_RUNNING
	case status.NotRunning:
		return C.MIVI_NOT_RUNNING
	case status.NotSupported, status.FeatureNotSupported, status.NotImplemented:
		return C.MIVI_NOT_IMPLEMENTED
	default:
		return C.MIVI_INTERNAL_ERROR
	}
}

func lookup(h C.MiviServiceHandle) (*handleState, C.MiviStatus) {
	handlesMu.Lock()
	defer handlesMu.Unlock()
	hs, ok := handles[int64(h)]
	if !ok {
		return nil, C.MIVI_INVALID_HANDLE
	}
	return hs, C.MIVI_OK
}

// copyCString copies s into a fixed-size C char array, truncating and
// always NUL-terminating.
func copyCString(dst *C.char, size int, s string) {
	b := []byte(s)
	if len(b) >= size {
		b = b[:size-1]
	}
	p := unsafe.Slice((*byte)(unsafe.Pointer(dst)), size)
	n := copy(p, b)
	p[n] = 0
}

//export mivi_get_version
func mivi_get_version(buf *C.char, bufLen C.int) C.MiviStatus {
	if buf == nil || bufLen <= 0 {
		return C.MIVI_INVALID_ARGUMENT
	}
	copyCString(buf, int(bufLen), versionString)
	return C.MIVI_OK
}

//export mivi_create
func mivi_create(out *C.MiviServiceHandle) C.MiviStatus {
	if out == nil {
		return C.MIVI_INVALID_ARGUMENT
	}
	hs := &handleState{svc: acquisition.NewService(nil)}

	handlesMu.Lock()
	nextHandle++
	id := nextHandle
	handles[id] = hs
	handlesMu.Unlock()

	*out = C.MiviServiceHandle(id)
	return C.MIVI_OK
}

//export mivi_destroy
func mivi_destroy(h C.MiviServiceHandle) C.MiviStatus {
	handlesMu.Lock()
	hs, ok := handles[int64(h)]
	delete(handles, int64(h))
	handlesMu.Unlock()
	if !ok {
		return C.MIVI_INVALID_HANDLE
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.svc.IsRunning() {
		hs.svc.Stop()
	}
	err := hs.svc.Close()
	if hs.frameBuf != nil {
		C.free(hs.frameBuf)
		hs.frameBuf = nil
	}
	return statusOf(err)
}

//export mivi_initialize
func mivi_initialize(h C.MiviServiceHandle, ccfg *C.MiviDeviceConfig, deviceID *C.char) C.MiviStatus {
	hs, st := lookup(h)
	if st != C.MIVI_OK {
		return st
	}
	if ccfg == nil {
		return C.MIVI_INVALID_ARGUMENT
	}

	cfg := acquisition.DefaultConfig()
	cfg.Devices = deviceRegistry()
	if deviceID != nil {
		cfg.DeviceID = C.GoString(deviceID)
	}
	cfg.Capture.Width = int(ccfg.width)
	cfg.Capture.Height = int(ccfg.height)
	cfg.Capture.FrameRate = float64(ccfg.frame_rate)
	cfg.Capture.PixelFormat = frame.FormatFromName(C.GoString(&ccfg.pixel_format[0]))
	cfg.SharedMemory.MaxFrameSize = uint32(ccfg.width) * uint32(ccfg.height) * 4

	hs.mu.Lock()
	defer hs.mu.Unlock()
	return statusOf(hs.svc.Initialize(cfg))
}

//export mivi_start
func mivi_start(h C.MiviServiceHandle) C.MiviStatus {
	hs, st := lookup(h)
	if st != C.MIVI_OK {
		return st
	}
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return statusOf(hs.svc.Start())
}

//export mivi_stop
func mivi_stop(h C.MiviServiceHandle) C.MiviStatus {
	hs, st := lookup(h)
	if st != C.MIVI_OK {
		return st
	}
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return statusOf(hs.svc.Stop())
}

//export mivi_is_running
func mivi_is_running(h C.MiviServiceHandle, out *C.int) C.MiviStatus {
	hs, st := lookup(h)
	if st != C.MIVI_OK {
		return st
	}
	if out == nil {
		return C.MIVI_INVALID_ARGUMENT
	}
	if hs.svc.IsRunning() {
		*out = 1
	} else {
		*out = 0
	}
	return C.MIVI_OK
}

// fillFrame copies f's payload into the handle's C buffer and populates the
// flat struct. The data pointer stays valid until the next call on the
// same handle.
func fillFrame(hs *handleState, f *frame.Frame, out *C.MiviFrame) C.MiviStatus {
	data, size, err := f.Data()
	if err != nil {
		return statusOf(err)
	}

	if hs.frameCap < size {
		if hs.frameBuf != nil {
			C.free(hs.frameBuf)
		}
		hs.frameBuf = C.malloc(C.size_t(size))
		hs.frameCap = size
	}
	if size > 0 {
		C.memcpy(hs.frameBuf, unsafe.Pointer(&data[0]), C.size_t(size))
	}

	out.data = hs.frameBuf
	out.data_size = C.uint(size)
	out.width = C.uint(f.Width())
	out.height = C.uint(f.Height())
	out.bytes_per_pixel = C.uint(f.BytesPerPixel())
	copyCString(&out.format[0], len(out.format), f.Format().String())
	out.frame_id = C.ulonglong(f.ID())
	out.timestamp_ns = C.longlong(f.TimestampNS())
	return C.MIVI_OK
}

//export mivi_get_latest_frame
func mivi_get_latest_frame(h C.MiviServiceHandle, out *C.MiviFrame) C.MiviStatus {
	hs, st := lookup(h)
	if st != C.MIVI_OK {
		return st
	}
	if out == nil {
		return C.MIVI_INVALID_ARGUMENT
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()
	f, err := hs.svc.LatestFrame()
	if err != nil {
		return statusOf(err)
	}
	return fillFrame(hs, f, out)
}

//export mivi_get_statistics
func mivi_get_statistics(h C.MiviServiceHandle, out *C.MiviStatistics) C.MiviStatus {
	hs, st := lookup(h)
	if st != C.MIVI_OK {
		return st
	}
	if out == nil {
		return C.MIVI_INVALID_ARGUMENT
	}

	stats := hs.svc.Statistics()
	u64 := func(key string) C.ulonglong {
		v, _ := strconv.ParseUint(stats[key], 10, 64)
		return C.ulonglong(v)
	}
	f64 := func(key string) C.double {
		v, _ := strconv.ParseFloat(stats[key], 64)
		return C.double(v)
	}
	out.frame_count = u64("frame_count")
	out.dropped_frames = u64("dropped_frames")
	out.average_fps = f64("average_fps")
	out.current_fps = f64("current_fps")
	out.average_latency_ms = f64("average_latency_ms")
	out.max_latency_ms = f64("max_latency_ms")
	out.cpu_usage_percent = f64("cpu_usage_percent")
	out.memory_usage_mb = f64("memory_usage_mb")
	out.uptime_seconds = f64("uptime_seconds")
	return C.MIVI_OK
}

//export mivi_set_frame_callback
func mivi_set_frame_callback(h C.MiviServiceHandle, cb C.MiviFrameCallback, userData unsafe.Pointer) C.MiviStatus {
	hs, st := lookup(h)
	if st != C.MIVI_OK {
		return st
	}

	hs.mu.Lock()
	hs.cb = cb
	hs.userData = userData
	hs.mu.Unlock()

	if cb == nil {
		hs.svc.SetFrameCallback(nil)
		return C.MIVI_OK
	}

	// Delivered on the producer thread: populate the flat struct from the
	// frame and invoke the stored function pointer through the C bridge.
	hs.svc.SetFrameCallback(func(f *frame.Frame) {
		hs.mu.Lock()
		defer hs.mu.Unlock()
		if hs.cb == nil {
			return
		}
		var cf C.MiviFrame
		if fillFrame(hs, f, &cf) != C.MIVI_OK {
			return
		}
		C.mivi_invoke_frame_callback(hs.cb, &cf, hs.userData)
	})
	return C.MIVI_OK
}

//export mivi_get_available_devices
func mivi_get_available_devices(out *C.MiviDeviceInfo, capacity C.int, count *C.int) C.MiviStatus {
	if count == nil {
		return C.MIVI_INVALID_ARGUMENT
	}
	list := deviceRegistry().List()
	*count = C.int(len(list))
	if out == nil || capacity <= 0 {
		return C.MIVI_OK
	}

	infos := unsafe.Slice(out, int(capacity))
	n := len(list)
	if n > int(capacity) {
		n = int(capacity)
	}
	for i := 0; i < n; i++ {
		copyCString(&infos[i].id[0], len(infos[i].id), list[i].ID())
		copyCString(&infos[i].name[0], len(infos[i].name), list[i].Name())
		copyCString(&infos[i].model[0], len(infos[i].model), list[i].Model())
	}
	return C.MIVI_OK
}

//export mivi_get_device_info
func mivi_get_device_info(deviceID *C.char, out *C.MiviDeviceInfo) C.MiviStatus {
	if deviceID == nil || out == nil {
		return C.MIVI_INVALID_ARGUMENT
	}
	src, err := deviceRegistry().ByID(C.GoString(deviceID))
	if err != nil {
		return statusOf(err)
	}
	copyCString(&out.id[0], len(out.id), src.ID())
	copyCString(&out.name[0], len(out.name), src.Name())
	copyCString(&out.model[0], len(out.model), src.Model())
	return C.MIVI_OK
}

//export mivi_get_device_configurations
func mivi_get_device_configurations(deviceID *C.char, out *C.MiviDeviceConfig, capacity C.int, count *C.int) C.MiviStatus {
	if deviceID == nil || count == nil {
		return C.MIVI_INVALID_ARGUMENT
	}
	src, err := deviceRegistry().ByID(C.GoString(deviceID))
	if err != nil {
		return statusOf(err)
	}
	configs := src.SupportedConfigurations()
	*count = C.int(len(configs))
	if out == nil || capacity <= 0 {
		return C.MIVI_OK
	}

	ccfgs := unsafe.Slice(out, int(capacity))
	n := len(configs)
	if n > int(capacity) {
		n = int(capacity)
	}
	for i := 0; i < n; i++ {
		ccfgs[i].width = C.uint(configs[i].Width)
		ccfgs[i].height = C.uint(configs[i].Height)
		ccfgs[i].frame_rate = C.double(configs[i].FrameRate)
		copyCString(&ccfgs[i].pixel_format[0], len(ccfgs[i].pixel_format), configs[i].PixelFormat.String())
	}
	return C.MIVI_OK
}

// Hotplug notification is a stub in the underlying service; the ABI keeps
// the entry points so consumers can compile against the full surface.

//export mivi_register_device_callback
func mivi_register_device_callback(cb unsafe.Pointer, userData unsafe.Pointer) C.MiviStatus {
	return C.MIVI_NOT_IMPLEMENTED
}

//export mivi_unregister_device_callback
func mivi_unregister_device_callback() C.MiviStatus {
	return C.MIVI_NOT_IMPLEMENTED
}
