//go:build linux

package region

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

func tempRegionPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "region")
}

// A size exactly equal to data_offset + header_size fits a header but
// zero payload bytes, which is not a usable ring.
func TestCreateRejectsRegionWithNoPayloadRoom(t *testing.T) {
	path := tempRegionPath(t)
	cfg := Config{
		Name:         "undersized",
		Size:         DataOffset + HeaderSize,
		Backing:      BackingMemoryMappedFile,
		FilePath:     path,
		MaxFrameSize: 16,
	}
	_, err := Create(cfg)
	if err == nil {
		t.Fatal("expected Create to reject a region with zero payload bytes per slot")
	}
	if status.CodeOf(err) != status.InvalidSize {
		t.Fatalf("expected invalid-size, got %v", err)
	}
}

func TestCreateSizesSlotsFromMaxFrameSizeNotHeuristic(t *testing.T) {
	path := tempRegionPath(t)
	const maxFrameSize = 16
	slotSize := AlignUp64(uint64(HeaderSize) + uint64(maxFrameSize))
	size := DataOffset + slotSize

	cfg := Config{
		Name:         "us_t1",
		Size:         size,
		Backing:      BackingMemoryMappedFile,
		FilePath:     path,
		MaxFrameSize: maxFrameSize,
	}
	r, err := Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	if r.MaxFrames() != 1 {
		t.Fatalf("expected exactly 1 slot, got %d", r.MaxFrames())
	}
	if r.SlotSize() != slotSize {
		t.Fatalf("slot size = %d, want %d (never the 1080p heuristic)", r.SlotSize(), slotSize)
	}
}

func TestOpenWaitsForActiveAndReadsMetadata(t *testing.T) {
	path := tempRegionPath(t)
	cfg := Config{
		Name:         "roundtrip",
		Size:         DataOffset + 4*AlignUp64(uint64(HeaderSize)+64),
		Backing:      BackingMemoryMappedFile,
		FilePath:     path,
		MaxFrameSize: 64,
	}
	producer, err := Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer producer.Close()

	consumerCfg := cfg
	consumer, err := Open(consumerCfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer consumer.Close()

	if consumer.MaxFrames() != producer.MaxFrames() {
		t.Fatalf("consumer saw %d slots, producer has %d", consumer.MaxFrames(), producer.MaxFrames())
	}
	if consumer.SlotSize() != producer.SlotSize() {
		t.Fatalf("consumer saw slot size %d, producer has %d", consumer.SlotSize(), producer.SlotSize())
	}
	if !consumer.Stats().Active {
		t.Fatal("consumer should observe an active region")
	}
}

// A consumer attaching before the producer sets active observes active =
// true within 1s or the attach fails with internal-error.
func TestOpenTimesOutWhenRegionNeverBecomesActive(t *testing.T) {
	path := tempRegionPath(t)
	size := DataOffset + AlignUp64(uint64(HeaderSize)+16)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("creating backing file: %v", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	f.Close()

	cfg := Config{
		Name:         "never-active",
		Backing:      BackingMemoryMappedFile,
		FilePath:     path,
		MaxFrameSize: 16,
	}

	start := time.Now()
	_, err = Open(cfg)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected Open to fail against a region that never activates")
	}
	if elapsed < 1*time.Second {
		t.Fatalf("expected Open to wait at least 1s before giving up, waited %v", elapsed)
	}
	if status.CodeOf(err) != status.Internal {
		t.Fatalf("expected internal-error, got %v", err)
	}
}

func TestSlotAddressingWrapsAcrossMaxFrames(t *testing.T) {
	path := tempRegionPath(t)
	const maxFrameSize = 4
	slotSize := AlignUp64(uint64(HeaderSize) + maxFrameSize)
	const wantSlots = 4
	size := DataOffset + wantSlots*slotSize

	cfg := Config{
		Name:         "wrap",
		Size:         size,
		Backing:      BackingMemoryMappedFile,
		FilePath:     path,
		MaxFrameSize: maxFrameSize,
	}
	r, err := Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	if r.MaxFrames() != wantSlots {
		t.Fatalf("expected %d slots, got %d", wantSlots, r.MaxFrames())
	}

	off0 := r.SlotPayloadOffset(0)
	offWrapped := r.SlotPayloadOffset(wantSlots)
	if off0 != offWrapped {
		t.Fatalf("slot index %d should wrap to the same offset as 0, got %d vs %d", wantSlots, offWrapped, off0)
	}

	h := r.SlotHeaderAt(1)
	h.SetSequenceNumber(7)
	if r.SlotHeaderAt(1).SequenceNumber() != 7 {
		t.Fatal("slot header writes through the same backing slot on repeated lookups")
	}
}

// The metadata area's JSON keeps the documented cross-language schema:
// format_version "1.0", created_at as an epoch number,
// type "medical_imaging_frames", and a full last_frame object.
func TestMetadataAreaSchema(t *testing.T) {
	path := tempRegionPath(t)
	cfg := Config{
		Name:           "schema",
		Size:           DataOffset + 4*AlignUp64(uint64(HeaderSize)+64),
		Backing:        BackingMemoryMappedFile,
		FilePath:       path,
		MaxFrameSize:   64,
		EnableMetadata: true,
	}
	r, err := Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	r.RecordLastFrame(LastFrame{
		Width:          640,
		Height:         480,
		Format:         "YUV422",
		TimestampNS:    1234567890,
		ID:             7,
		SequenceNumber: 3,
		Metadata:       map[string]string{"device_id": "dev1"},
	})

	area := r.backing.Bytes()[MetadataOffset : MetadataOffset+DefaultMetaSize]
	end := 0
	for end < len(area) && area[end] != 0 {
		end++
	}
	var doc map[string]any
	if err := json.Unmarshal(area[:end], &doc); err != nil {
		t.Fatalf("metadata area is not valid JSON: %v", err)
	}

	if v, ok := doc["format_version"].(string); !ok || v != "1.0" {
		t.Fatalf("format_version = %v, want the string \"1.0\"", doc["format_version"])
	}
	if _, ok := doc["created_at"].(float64); !ok {
		t.Fatalf("created_at = %v, want an epoch number", doc["created_at"])
	}
	if v, _ := doc["type"].(string); v != "medical_imaging_frames" {
		t.Fatalf("type = %v, want medical_imaging_frames", doc["type"])
	}
	if _, present := doc["using_huge_pages"]; present {
		t.Fatal("using_huge_pages emitted for a non-huge-pages backing")
	}

	lf, ok := doc["last_frame"].(map[string]any)
	if !ok {
		t.Fatalf("last_frame missing: %v", doc)
	}
	if lf["format"] != "YUV422" {
		t.Fatalf("last_frame.format = %v, want YUV422", lf["format"])
	}
	if lf["timestamp"].(float64) != 1234567890 {
		t.Fatalf("last_frame.timestamp = %v, want 1234567890", lf["timestamp"])
	}
	if lf["id"].(float64) != 7 || lf["sequenceNumber"].(float64) != 3 {
		t.Fatalf("last_frame id/sequenceNumber = %v/%v, want 7/3", lf["id"], lf["sequenceNumber"])
	}
	md, ok := lf["metadata"].(map[string]any)
	if !ok || md["device_id"] != "dev1" {
		t.Fatalf("last_frame.metadata = %v, want embedded device_id", lf["metadata"])
	}

	// created_at is written once; updating last_frame must not rewrite it.
	before := doc["created_at"].(float64)
	r.RecordLastFrame(LastFrame{Width: 1, Height: 1, Format: "RGBA"})
	meta, err := r.readRegionMetadata()
	if err != nil {
		t.Fatalf("readRegionMetadata: %v", err)
	}
	if float64(meta.CreatedAt) != before {
		t.Fatalf("created_at changed on last_frame update: %v -> %v", before, meta.CreatedAt)
	}
}

func TestMappedFramePinsRegionPastClose(t *testing.T) {
	path := tempRegionPath(t)
	cfg := Config{
		Name:         "pin",
		Size:         DataOffset + AlignUp64(uint64(HeaderSize)+16),
		Backing:      BackingMemoryMappedFile,
		FilePath:     path,
		MaxFrameSize: 16,
	}
	r, err := Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r.Retain() // simulates an outstanding Mapped frame
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	off := r.SlotPayloadOffset(0)
	if _, err := r.SlotBytes(off, 16); err != nil {
		t.Fatalf("mapped bytes should remain readable after Close while a reference is outstanding: %v", err)
	}

	r.Release()
}
