package codec

import (
	"encoding/binary"
	"math"

	"main/internal/schema"
)

const DecisionPayloadSize = 96

// EncodeDecision serializes a decision into a fixed-size payload.
// Reasons are packed as a bitmask; wall-clock independent fields only,
// so replay can compare payloads byte for byte.
func EncodeDecision(dst []byte, d schema.Decision) []byte {
	if cap(dst) < DecisionPayloadSize {
		dst = make([]byte, DecisionPayloadSize)
	} else {
		dst = dst[:DecisionPayloadSize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], d.GSID)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(d.TimestampUs))
	binary.LittleEndian.PutUint16(dst[16:18], uint16(d.Action))
	binary.LittleEndian.PutUint16(dst[18:20], 0)
	binary.LittleEndian.PutUint32(dst[20:24], PackReasons(d.Reasons))
	binary.LittleEndian.PutUint64(dst[24:32], math.Float64bits(d.Size))
	binary.LittleEndian.PutUint64(dst[32:40], math.Float64bits(d.Conviction))
	binary.LittleEndian.PutUint64(dst[40:48], math.Float64bits(d.RiskScalar))
	binary.LittleEndian.PutUint64(dst[48:56], math.Float64bits(d.Physics.Price))
	binary.LittleEndian.PutUint64(dst[56:64], math.Float64bits(d.Physics.Velocity))
	binary.LittleEndian.PutUint64(dst[64:72], math.Float64bits(d.Physics.Acceleration))
	binary.LittleEndian.PutUint64(dst[72:80], math.Float64bits(d.Physics.Jerk))
	binary.LittleEndian.PutUint64(dst[80:88], math.Float64bits(d.Physics.Entropy))
	binary.LittleEndian.PutUint64(dst[88:96], math.Float64bits(d.Physics.Efficiency))

	return dst
}

// DecodeDecision parses a fixed-size decision payload.
func DecodeDecision(src []byte) (schema.Decision, bool) {
	if len(src) < DecisionPayloadSize {
		return schema.Decision{}, false
	}
	d := schema.Decision{
		GSID:        binary.LittleEndian.Uint64(src[0:8]),
		TimestampUs: int64(binary.LittleEndian.Uint64(src[8:16])),
		Action:      schema.Action(binary.LittleEndian.Uint16(src[16:18])),
		Reasons:     UnpackReasons(binary.LittleEndian.Uint32(src[20:24])),
		Size:        math.Float64frombits(binary.LittleEndian.Uint64(src[24:32])),
		Conviction:  math.Float64frombits(binary.LittleEndian.Uint64(src[32:40])),
		RiskScalar:  math.Float64frombits(binary.LittleEndian.Uint64(src[40:48])),
	}
	d.Physics.Price = math.Float64frombits(binary.LittleEndian.Uint64(src[48:56]))
	d.Physics.Velocity = math.Float64frombits(binary.LittleEndian.Uint64(src[56:64]))
	d.Physics.Acceleration = math.Float64frombits(binary.LittleEndian.Uint64(src[64:72]))
	d.Physics.Jerk = math.Float64frombits(binary.LittleEndian.Uint64(src[72:80]))
	d.Physics.Entropy = math.Float64frombits(binary.LittleEndian.Uint64(src[80:88]))
	d.Physics.Efficiency = math.Float64frombits(binary.LittleEndian.Uint64(src[88:96]))
	return d, true
}

// PackReasons folds reason codes into a bitmask.
func PackReasons(reasons []schema.Reason) uint32 {
	var mask uint32
	for _, r := range reasons {
		if int(r) < 32 {
			mask |= 1 << uint(r)
		}
	}
	return mask
}

// UnpackReasons expands a bitmask back into sorted reason codes.
func UnpackReasons(mask uint32) []schema.Reason {
	if mask == 0 {
		return nil
	}
	reasons := make([]schema.Reason, 0, 4)
	for i := 0; i < 32; i++ {
		if mask&(1<<uint(i)) != 0 {
			reasons = append(reasons, schema.Reason(i))
		}
	}
	return reasons
}
