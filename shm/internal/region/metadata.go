package region

import (
	"encoding/json"
	"time"

	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

// metadataFormatVersion and metadataType identify the document so
// cross-language consumers can validate what they attached to.
const (
	metadataFormatVersion = "1.0"
	metadataType          = "medical_imaging_frames"
)

// regionMetadata is the JSON document written into the 4 KiB metadata
// area at offset 0x100. It is advisory: the binary control block and slot
// headers stay authoritative when this area is missing or corrupt.
type regionMetadata struct {
	FormatVersion string `json:"format_version"`
	CreatedAt     uint64 `json:"created_at"`
	Type          string `json:"type"`
	MaxFrames     uint64 `json:"max_frames"`
	BufferSize    uint64 `json:"buffer_size"`
	DataOffset    uint64 `json:"data_offset"`
	FrameSlotSize uint64 `json:"frame_slot_size"`

	UsingHugePages *bool   `json:"using_huge_pages,omitempty"`
	HugePageSize   *uint64 `json:"huge_page_size,omitempty"`

	LastFrame *lastFrameMetadata `json:"last_frame,omitempty"`
}

type lastFrameMetadata struct {
	Width          uint32 `json:"width"`
	Height         uint32 `json:"height"`
	Format         string `json:"format"`
	Timestamp      int64  `json:"timestamp"`
	ID             uint64 `json:"id"`
	SequenceNumber uint64 `json:"sequenceNumber"`
	Metadata       any    `json:"metadata,omitempty"`
}

// LastFrame carries the shape of the most recently published frame into
// the metadata area's last_frame object. Metadata holds the structured
// per-frame record in whatever JSON-marshalable form the publisher keeps
// it in.
type LastFrame struct {
	Width          uint32
	Height         uint32
	Format         string
	TimestampNS    int64
	ID             uint64
	SequenceNumber uint64
	Metadata       any
}

// writeRegionMetadata serializes the region's static shape into the
// metadata area. It is written once, at creation time, by the producer.
func (r *Region) writeRegionMetadata() error {
	meta := regionMetadata{
		FormatVersion: metadataFormatVersion,
		CreatedAt:     uint64(time.Now().Unix()),
		Type:          metadataType,
		MaxFrames:     r.maxFrames,
		BufferSize:    r.backing.Size(),
		DataOffset:    DataOffset,
		FrameSlotSize: r.slotSize,
	}
	if r.cfg.Backing == BackingHugePages {
		using := true
		hp := hugePageSize()
		meta.UsingHugePages = &using
		meta.HugePageSize = &hp
	}

	return r.storeMetadata(&meta)
}

func (r *Region) storeMetadata(meta *regionMetadata) error {
	buf, err := json.Marshal(meta)
	if err != nil {
		return status.Wrap(status.Internal, err, "marshaling region metadata")
	}
	if len(buf) > DefaultMetaSize {
		return status.Newf(status.Internal, "region metadata %d bytes exceeds reserved area %d", len(buf), DefaultMetaSize)
	}

	mem := r.backing.Bytes()
	area := mem[MetadataOffset : MetadataOffset+DefaultMetaSize]
	for i := range area {
		area[i] = 0
	}
	copy(area, buf)
	return nil
}

// readRegionMetadata parses the metadata area written by the producer. It
// returns an error if the area is empty or not valid JSON, which the
// caller treats as advisory-only and falls back from.
func (r *Region) readRegionMetadata() (*regionMetadata, error) {
	mem := r.backing.Bytes()
	if uint64(len(mem)) < MetadataOffset+DefaultMetaSize {
		return nil, status.New(status.Internal, "region too small to contain a metadata area")
	}
	area := mem[MetadataOffset : MetadataOffset+DefaultMetaSize]

	end := 0
	for end < len(area) && area[end] != 0 {
		end++
	}
	if end == 0 {
		return nil, status.New(status.Internal, "region metadata area is empty")
	}

	var meta regionMetadata
	if err := json.Unmarshal(area[:end], &meta); err != nil {
		return nil, status.Wrap(status.Internal, err, "parsing region metadata")
	}
	if meta.FrameSlotSize == 0 || meta.MaxFrames == 0 {
		return nil, status.New(status.Internal, "region metadata missing slot sizing")
	}
	return &meta, nil
}

// recordLastFrame updates the metadata area's last_frame object, leaving
// the document's static fields (created_at included) as written at
// creation. Best-effort, and skipped when EnableMetadata is false.
func (r *Region) recordLastFrame(lf LastFrame) {
	if !r.cfg.EnableMetadata || r.cfg.Role != RoleProducer {
		return
	}

	meta, err := r.readRegionMetadata()
	if err != nil {
		return
	}
	meta.LastFrame = &lastFrameMetadata{
		Width:          lf.Width,
		Height:         lf.Height,
		Format:         lf.Format,
		Timestamp:      lf.TimestampNS,
		ID:             lf.ID,
		SequenceNumber: lf.SequenceNumber,
		Metadata:       lf.Metadata,
	}
	_ = r.storeMetadata(meta)
}
