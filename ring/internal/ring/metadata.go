package ring

import (
	"encoding/json"

	"github.com/EmiPatoR/mivi-imaging-service/frame"
)

// frameMetadataDoc is the JSON shape of the per-frame metadata blob that
// rides inside a slot after the payload bytes, when room remains. The blob
// is advisory: a reader that cannot parse it still has every binary header
// field it needs to hand out the frame.
type frameMetadataDoc struct {
	DeviceID         string            `json:"device_id,omitempty"`
	ExposureTimeMS   float64           `json:"exposure_time_ms,omitempty"`
	FrameNumber      uint64            `json:"frame_number,omitempty"`
	ProcessingFlags  uint32            `json:"processing_flags,omitempty"`
	ProbePosition    *[3]float64       `json:"probe_position,omitempty"`
	ProbeOrientation *[4]float64       `json:"probe_orientation,omitempty"`
	SignalStrength   float64           `json:"signal_strength,omitempty"`
	SignalSNR        float64           `json:"signal_snr,omitempty"`
	SignalConfidence float64           `json:"signal_confidence,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

// frameMetadataDocOf mirrors a frame's structured metadata and free-form
// attributes into the wire document shape.
func frameMetadataDocOf(f *frame.Frame) frameMetadataDoc {
	md := f.Metadata()
	attrs := f.Attributes()
	doc := frameMetadataDoc{
		DeviceID:         md.DeviceID,
		ExposureTimeMS:   md.ExposureTimeMS,
		FrameNumber:      md.FrameNumber,
		ProcessingFlags:  md.ProcessingFlags,
		SignalStrength:   md.Quality.Strength,
		SignalSNR:        md.Quality.SNR,
		SignalConfidence: md.Quality.Confidence,
	}
	if md.ProbePose != nil {
		pos := md.ProbePose.Position
		ori := md.ProbePose.Orientation
		doc.ProbePosition = &pos
		doc.ProbeOrientation = &ori
	}
	if len(attrs) > 0 {
		doc.Attributes = attrs
	}
	return doc
}

func encodeFrameMetadata(doc frameMetadataDoc) []byte {
	buf, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return buf
}

func decodeFrameMetadata(buf []byte, f *frame.Frame) {
	var doc frameMetadataDoc
	if err := json.Unmarshal(buf, &doc); err != nil {
		return
	}
	md := frame.Metadata{
		DeviceID:        doc.DeviceID,
		ExposureTimeMS:  doc.ExposureTimeMS,
		FrameNumber:     doc.FrameNumber,
		ProcessingFlags: doc.ProcessingFlags,
		Quality: frame.SignalQuality{
			Strength:   doc.SignalStrength,
			SNR:        doc.SignalSNR,
			Confidence: doc.SignalConfidence,
		},
	}
	if doc.ProbePosition != nil && doc.ProbeOrientation != nil {
		md.ProbePose = &frame.ProbePose{
			Position:    *doc.ProbePosition,
			Orientation: *doc.ProbeOrientation,
		}
	}
	f.SetMetadataRecord(md)
	for k, v := range doc.Attributes {
		f.SetMetadata(k, v)
	}
}
