package codec

import (
	"encoding/binary"
	"math"

	"main/internal/schema"
)

const TickPayloadSize = 32

// EncodeTick serializes a tick into a fixed-size payload.
func EncodeTick(dst []byte, t schema.Tick) []byte {
	if cap(dst) < TickPayloadSize {
		dst = make([]byte, TickPayloadSize)
	} else {
		dst = dst[:TickPayloadSize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], uint64(t.TimestampUs))
	binary.LittleEndian.PutUint64(dst[8:16], math.Float64bits(t.Price))
	binary.LittleEndian.PutUint64(dst[16:24], math.Float64bits(t.Size))
	binary.LittleEndian.PutUint16(dst[24:26], uint16(t.Side))
	binary.LittleEndian.PutUint16(dst[26:28], 0)
	binary.LittleEndian.PutUint32(dst[28:32], 0)

	return dst
}

// DecodeTick parses a fixed-size tick payload.
func DecodeTick(src []byte) (schema.Tick, bool) {
	if len(src) < TickPayloadSize {
		return schema.Tick{}, false
	}
	return schema.Tick{
		TimestampUs: int64(binary.LittleEndian.Uint64(src[0:8])),
		Price:       math.Float64frombits(binary.LittleEndian.Uint64(src[8:16])),
		Size:        math.Float64frombits(binary.LittleEndian.Uint64(src[16:24])),
		Side:        schema.Side(binary.LittleEndian.Uint16(src[24:26])),
	}, true
}
