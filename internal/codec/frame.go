package codec

import (
	"github.com/bytedance/sonic"

	"main/internal/schema"
)

var frameJSON = sonic.ConfigFastest

// EncodeFrame serializes a full telemetry frame. Frames carry
// variable-length position and order lists, so they are JSON on the
// wire while ticks and decisions stay fixed binary.
func EncodeFrame(f schema.Frame) ([]byte, error) {
	return frameJSON.Marshal(f)
}

// DecodeFrame parses a telemetry frame payload. Unknown fields are
// ignored so older consumers keep working across frame versions.
func DecodeFrame(src []byte) (schema.Frame, error) {
	var f schema.Frame
	if err := frameJSON.Unmarshal(src, &f); err != nil {
		return schema.Frame{}, err
	}
	return f, nil
}
