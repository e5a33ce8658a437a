package historian

import (
	"hash/fnv"
	"io"
	"sort"

	"main/internal/codec"
	"main/internal/schema"
)

// DecisionDigest hashes the deterministic content of a decision.
// Wall-clock fields are zeroed first so two runs over the same tick
// stream digest identically regardless of when they executed.
func DecisionDigest(d schema.Decision) uint64 {
	d.TimestampUs = 0
	d.Physics.LastUpdateUs = 0
	d.Context = nil

	h := fnv.New64a()
	h.Write(codec.EncodeDecision(nil, d))
	return h.Sum64()
}

// DecisionMap maps gsid to decision digest for a whole log.
type DecisionMap map[uint64]uint64

// BuildDecisionMap walks a decision log directory and digests every
// decision record.
func BuildDecisionMap(dir, prefix string) (DecisionMap, error) {
	m := make(DecisionMap)
	err := Walk(dir, prefix, func(header schema.EventHeader, payload []byte) error {
		if header.Type != schema.EventDecision {
			return nil
		}
		d, ok := codec.DecodeDecision(payload)
		if !ok {
			return ErrChecksumMismatch
		}
		m[header.GSID] = DecisionDigest(d)
		return nil
	})
	if err != nil && err != io.EOF {
		return nil, err
	}
	return m, nil
}

// Diff returns the gsids whose digests differ between two maps,
// including ids present in only one of them, in ascending order.
func (m DecisionMap) Diff(other DecisionMap) []uint64 {
	var out []uint64
	for gsid, digest := range m {
		if o, ok := other[gsid]; !ok || o != digest {
			out = append(out, gsid)
		}
	}
	for gsid := range other {
		if _, ok := m[gsid]; !ok {
			out = append(out, gsid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReplayTicks walks a log and feeds recorded ticks to fn in gsid
// order. It is the input side of a deterministic re-run.
func ReplayTicks(dir, prefix string, fn func(gsid uint64, t schema.Tick) error) error {
	type seqTick struct {
		gsid uint64
		tick schema.Tick
	}
	var ticks []seqTick
	err := Walk(dir, prefix, func(header schema.EventHeader, payload []byte) error {
		if header.Type != schema.EventTick {
			return nil
		}
		t, ok := codec.DecodeTick(payload)
		if !ok {
			return ErrChecksumMismatch
		}
		ticks = append(ticks, seqTick{gsid: header.GSID, tick: t})
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].gsid < ticks[j].gsid })
	for _, st := range ticks {
		if err := fn(st.gsid, st.tick); err != nil {
			return err
		}
	}
	return nil
}
