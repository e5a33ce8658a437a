package sovereign

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"main/pkg/uds"
)

func TestAdminSocketRoundTrip(t *testing.T) {
	plane, gov, _, _ := testPlane(t)
	sock := filepath.Join(t.TempDir(), "reflex.sock")

	admin, err := NewAdminServer(sock, plane)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() { serveDone <- admin.Serve(ctx) }()

	client, err := uds.NewClient(sock)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c, err := client.Dial()
		if err != nil {
			return false
		}
		defer c.Close()

		ack, err := SubmitOver(c, command(CmdPause))
		require.NoError(t, err)
		require.True(t, ack.Accepted)
		return true
	}, 2*time.Second, 20*time.Millisecond)

	require.True(t, gov.Paused())

	cancel()
	select {
	case err := <-serveDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestAdminSocketRejectsBadKey(t *testing.T) {
	plane, gov, _, _ := testPlane(t)
	sock := filepath.Join(t.TempDir(), "reflex.sock")

	admin, err := NewAdminServer(sock, plane)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = admin.Serve(ctx) }()

	client, err := uds.NewClient(sock)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c, err := client.Dial()
		if err != nil {
			return false
		}
		defer c.Close()

		cmd := command(CmdKill)
		cmd.Key = "wrong"
		ack, err := SubmitOver(c, cmd)
		require.NoError(t, err)
		require.False(t, ack.Accepted)
		return true
	}, 2*time.Second, 20*time.Millisecond)

	require.False(t, gov.Ratchet().Killed())
}
