package sovereign

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"main/internal/execution"
	"main/internal/governor"
	"main/internal/schema"
	"main/pkg/exception"
)

const (
	testPSK     = "unit-test-psk"
	testSignKey = "unit-test-signing-key"
)

func testPlane(t *testing.T) (*Plane, *governor.Governor, *execution.Adapter, *AuditLog) {
	t.Helper()
	gov := governor.New(
		governor.Config{Symbol: "XBT/USD"},
		nil,
		governor.NewRatchet(),
		governor.NewStaircase(0),
		governor.NewDeadman(0, 0),
	)
	venue := execution.NewShadowVenue()
	venue.SetMark(100)
	exec := execution.NewAdapter(
		execution.Config{Symbol: "XBT/USD"},
		venue, execution.NewBook(), execution.NewLedger(10_000), execution.NewLimiter(20, 10),
		nil, nil,
	)
	audit, err := OpenAuditLog(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	plane := NewPlane(NewAuthenticator(testPSK, testSignKey), audit, gov, exec, func() int64 { return 1_000_000 })
	return plane, gov, exec, audit
}

func command(t CommandType) Command {
	return Command{
		ID:         uuid.New(),
		Type:       t,
		UserID:     "operator-1",
		Source:     "test",
		IssuedAtUs: time.Now().UnixMicro(),
		Key:        testPSK,
	}
}

func TestVerifyCommandRoundTrip(t *testing.T) {
	plane, _, _, audit := testPlane(t)

	ack := plane.Submit(context.Background(), command(CmdVerify))
	require.True(t, ack.Accepted)
	require.GreaterOrEqual(t, ack.LatencyUs, int64(0))

	n, err := audit.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestBadKeyRejectedAndAudited(t *testing.T) {
	plane, _, _, audit := testPlane(t)

	cmd := command(CmdPause)
	cmd.Key = "wrong"
	ack := plane.Submit(context.Background(), cmd)
	require.False(t, ack.Accepted)
	require.Equal(t, exception.ErrUnauthorized.Error(), ack.Detail)

	// Rejected attempts still land in the audit trail.
	n, err := audit.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestCriticalCommandNeedsAttestation(t *testing.T) {
	plane, gov, _, _ := testPlane(t)

	cmd := command(CmdKill)
	ack := plane.Submit(context.Background(), cmd)
	require.False(t, ack.Accepted)
	require.Equal(t, exception.ErrBadAttestation.Error(), ack.Detail)
	require.False(t, gov.Ratchet().Killed())

	auth := NewAuthenticator(testPSK, testSignKey)
	cmd.Signature = auth.Attest(cmd)
	ack = plane.Submit(context.Background(), cmd)
	require.True(t, ack.Accepted)
	require.True(t, gov.Ratchet().Killed())

	select {
	case <-plane.Killed():
	default:
		t.Fatal("kill channel should be closed")
	}
}

func TestAttestationBindsPayload(t *testing.T) {
	auth := NewAuthenticator(testPSK, testSignKey)
	cmd := command(CmdCloseAll)
	sig := auth.Attest(cmd)

	tampered := cmd
	tampered.Payload = "something-else"
	tampered.Signature = sig
	require.Error(t, auth.Verify(tampered))
}

func TestPauseResumeAndUnfreeze(t *testing.T) {
	plane, gov, _, _ := testPlane(t)

	require.True(t, plane.Submit(context.Background(), command(CmdPause)).Accepted)
	require.True(t, gov.Paused())

	gov.Ratchet().Raise(schema.RatchetFreeze)
	require.True(t, plane.Submit(context.Background(), command(CmdResume)).Accepted)
	require.False(t, gov.Paused())
	require.Equal(t, schema.RatchetIdle, gov.Ratchet().Level())
}

func TestResumeCannotLeaveKill(t *testing.T) {
	plane, gov, _, _ := testPlane(t)
	gov.Ratchet().Raise(schema.RatchetKill)

	ack := plane.Submit(context.Background(), command(CmdResume))
	require.False(t, ack.Accepted)
	require.Equal(t, exception.ErrKillTerminal.Error(), ack.Detail)
}

func TestSentimentOverrideLifecycle(t *testing.T) {
	plane, _, _, _ := testPlane(t)

	cmd := command(CmdSetSentimentOverride)
	cmd.Payload = "0.85"
	require.True(t, plane.Submit(context.Background(), cmd).Accepted)

	// Overrides are probabilities: anything outside [0, 1] is refused.
	for _, payload := range []string{"-0.5", "2.5", "nope"} {
		bad := command(CmdSetSentimentOverride)
		bad.Payload = payload
		ack := plane.Submit(context.Background(), bad)
		require.False(t, ack.Accepted, "payload %q must be rejected", payload)
		require.Equal(t, exception.ErrInvalidOverride.Error(), ack.Detail)
	}

	require.True(t, plane.Submit(context.Background(), command(CmdClearSentimentOverride)).Accepted)
}

func TestCloseAllFlattens(t *testing.T) {
	plane, _, exec, _ := testPlane(t)
	exec.Ledger().ApplyFill("XBT/USD", schema.SideBuy, 0.5, 100, 1)

	cmd := command(CmdCloseAll)
	cmd.Signature = NewAuthenticator(testPSK, testSignKey).Attest(cmd)
	require.True(t, plane.Submit(context.Background(), cmd).Accepted)
	require.Zero(t, exec.Ledger().Position("XBT/USD").NetSize)
}

func TestVetoCancelsRestingOrders(t *testing.T) {
	plane, _, exec, _ := testPlane(t)
	o := exec.Book().Open("XBT/USD", schema.SideBuy, 1, 95, schema.OrderKindMaker, 1)

	require.True(t, plane.Submit(context.Background(), command(CmdVeto)).Accepted)
	got, ok := exec.Book().Order(o.OrderID)
	require.True(t, ok)
	require.Equal(t, schema.OrderStatusCancelled, got.Status)
}
