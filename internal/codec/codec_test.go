package codec

import (
	"testing"

	"main/internal/schema"
)

func TestTickRoundTrip(t *testing.T) {
	in := schema.Tick{
		TimestampUs: 1_700_000_123_456_789,
		Price:       64_250.5,
		Size:        0.0125,
		Side:        schema.SideSell,
	}

	buf := EncodeTick(nil, in)
	if len(buf) != TickPayloadSize {
		t.Fatalf("payload size = %d, want %d", len(buf), TickPayloadSize)
	}

	out, ok := DecodeTick(buf)
	if !ok {
		t.Fatal("decode failed")
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestDecodeTickShortBuffer(t *testing.T) {
	if _, ok := DecodeTick(make([]byte, TickPayloadSize-1)); ok {
		t.Fatal("expected decode failure on short buffer")
	}
}

func TestDecisionRoundTrip(t *testing.T) {
	in := schema.Decision{
		GSID:        42,
		TimestampUs: 1_700_000_000_000_000,
		Action:      schema.ActionSell,
		Size:        0.05,
		Conviction:  -0.7,
		RiskScalar:  0.25,
		Reasons:     []schema.Reason{schema.ReasonSignal, schema.ReasonBlindMode},
	}
	in.Physics = schema.PhysicsState{
		Price:        100.5,
		Velocity:     -1.2,
		Acceleration: 0.3,
		Jerk:         12.0,
		Entropy:      0.41,
		Efficiency:   0.9,
	}

	out, ok := DecodeDecision(EncodeDecision(nil, in))
	if !ok {
		t.Fatal("decode failed")
	}
	if out.GSID != in.GSID || out.Action != in.Action {
		t.Fatalf("identity mismatch: got %+v", out)
	}
	if out.Size != in.Size || out.Conviction != in.Conviction || out.RiskScalar != in.RiskScalar {
		t.Fatalf("sizing mismatch: got %+v", out)
	}
	if out.Physics.Jerk != in.Physics.Jerk || out.Physics.Entropy != in.Physics.Entropy {
		t.Fatalf("physics mismatch: got %+v", out.Physics)
	}
	if len(out.Reasons) != 2 || out.Reasons[0] != schema.ReasonSignal || out.Reasons[1] != schema.ReasonBlindMode {
		t.Fatalf("reasons mismatch: got %v", out.Reasons)
	}
}

func TestReasonMaskStableUnderPermutation(t *testing.T) {
	a := PackReasons([]schema.Reason{schema.ReasonNuclearVeto, schema.ReasonInsolvency, schema.ReasonSignal})
	b := PackReasons([]schema.Reason{schema.ReasonSignal, schema.ReasonInsolvency, schema.ReasonNuclearVeto})
	if a != b {
		t.Fatalf("mask depends on order: %#x vs %#x", a, b)
	}
	if got := UnpackReasons(0); got != nil {
		t.Fatalf("empty mask should unpack to nil, got %v", got)
	}
}

func TestFrameRoundTripIgnoresUnknownFields(t *testing.T) {
	in := schema.Frame{
		Version:     schema.FrameVersion,
		GSID:        7,
		TimestampUs: 123,
		Ratchet:     schema.RatchetTighten,
		Positions: []schema.Position{{
			Symbol:        "XBT/USD",
			NetSize:       0.05,
			AvgEntryPrice: 64000,
		}},
		SanityScore: 0.75,
	}

	buf, err := EncodeFrame(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Splice an unknown field in, simulating a newer producer.
	buf = append(buf[:len(buf)-1], []byte(`,"future_field":true}`)...)

	out, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.GSID != in.GSID || out.Ratchet != in.Ratchet || out.SanityScore != in.SanityScore {
		t.Fatalf("round trip mismatch: got %+v", out)
	}
	if len(out.Positions) != 1 || out.Positions[0].Symbol != "XBT/USD" {
		t.Fatalf("positions mismatch: got %+v", out.Positions)
	}
}
