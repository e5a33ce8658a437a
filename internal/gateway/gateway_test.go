package gateway

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"main/internal/codec"
	"main/internal/execution"
	"main/internal/governor"
	"main/internal/historian"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/schema"
	"main/internal/sovereign"
	"main/internal/telemetry"
)

const testKey = "gateway-test-psk"

type testKernel struct {
	server *Server
	gov    *governor.Governor
	exec   *execution.Adapter
	ring   *historian.Ring
	cast   *telemetry.Broadcaster
	frame  *schema.Frame
}

func newTestKernel(t *testing.T) *testKernel {
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
	auth := sovereign.NewAuthenticator(testKey, "signing")
	plane := sovereign.NewPlane(auth, nil, gov, exec, nil)

	k := &testKernel{
		gov:  gov,
		exec: exec,
		ring: historian.NewRing(64),
		cast: telemetry.NewBroadcaster(16),
	}
	k.server = NewServer(Config{Listen: ":0", StreamHz: 100}, Deps{
		Auth:      auth,
		Plane:     plane,
		Gov:       gov,
		Exec:      exec,
		Ring:      k.ring,
		Broadcast: k.cast,
		Metrics:   obs.NewMetrics(),
		Conf:      ops.Loaded{Mode: ops.ModeShadow, LiveSymbol: "XBT/USD"},
		Snapshot: func() (schema.Frame, bool) {
			if k.frame == nil {
				return schema.Frame{}, false
			}
			return *k.frame, true
		},
	})
	return k
}

func (k *testKernel) request(t *testing.T, method, path, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set("X-Reflex-Key", key)
	}
	rec := httptest.NewRecorder()
	k.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestPhysicsSnapshotLifecycle(t *testing.T) {
	k := newTestKernel(t)

	rec := k.request(t, http.MethodGet, "/physics", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	k.frame = &schema.Frame{GSID: 7, Physics: schema.PhysicsState{Price: 101.5, WindowCount: 100}}
	rec = k.request(t, http.MethodGet, "/physics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var p schema.PhysicsState
	require.NoError(t, jsonAPI.Unmarshal(rec.Body.Bytes(), &p))
	require.Equal(t, 101.5, p.Price)
}

func TestHistoryWindowByGSID(t *testing.T) {
	k := newTestKernel(t)
	for gsid := uint64(1); gsid <= 9; gsid++ {
		k.ring.Append(schema.Frame{GSID: gsid})
	}

	rec := k.request(t, http.MethodGet, "/history?from=3&to=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var frames []schema.Frame
	require.NoError(t, jsonAPI.Unmarshal(rec.Body.Bytes(), &frames))
	require.Len(t, frames, 3)
	require.EqualValues(t, 3, frames[0].GSID)
	require.EqualValues(t, 5, frames[2].GSID)
}

func TestVetoRequiresValidKey(t *testing.T) {
	k := newTestKernel(t)
	o := k.exec.Book().Open("XBT/USD", schema.SideBuy, 1, 95, schema.OrderKindMaker, 1)

	rec := k.request(t, http.MethodPost, "/veto", `{"reason":"spike","operator":"op-1"}`, "wrong")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = k.request(t, http.MethodPost, "/veto", `{"reason":"spike","operator":"op-1"}`, testKey)
	require.Equal(t, http.StatusOK, rec.Code)

	got, ok := k.exec.Book().Order(o.OrderID)
	require.True(t, ok)
	require.Equal(t, schema.OrderStatusCancelled, got.Status)
}

func TestRatchetEndpoint(t *testing.T) {
	k := newTestKernel(t)

	rec := k.request(t, http.MethodPost, "/ratchet", `{"level":"TIGHTEN","reason":"drift"}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = k.request(t, http.MethodPost, "/ratchet", `{"level":"TIGHTEN","reason":"drift"}`, testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, schema.RatchetTighten, k.gov.Ratchet().Level())

	// Kill never rides on a bare header key.
	rec = k.request(t, http.MethodPost, "/ratchet", `{"level":"KILL","reason":"no"}`, testKey)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, k.gov.Ratchet().Killed())

	rec = k.request(t, http.MethodGet, "/ratchet", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "TIGHTEN")
}

func TestLegislationRoundTrip(t *testing.T) {
	k := newTestKernel(t)

	body := `{"bias":"LONG_ONLY","aggression":5.0,"maker_only":true}`
	rec := k.request(t, http.MethodPost, "/legislation", body, testKey)
	require.Equal(t, http.StatusOK, rec.Code)

	got := k.gov.Legislator().State()
	require.Equal(t, schema.BiasLongOnly, got.Bias)
	require.Equal(t, 2.0, got.Aggression) // clamped
	require.True(t, got.MakerOnly)
}

func TestCancelOrderEndpoint(t *testing.T) {
	k := newTestKernel(t)
	o := k.exec.Book().Open("XBT/USD", schema.SideSell, 1, 105, schema.OrderKindMaker, 1)

	rec := k.request(t, http.MethodPost, "/orders/cancel", `{"order_id":`+strconv.FormatUint(o.OrderID, 10)+`}`, testKey)
	require.Equal(t, http.StatusOK, rec.Code)

	got, _ := k.exec.Book().Order(o.OrderID)
	require.Equal(t, schema.OrderStatusCancelled, got.Status)
}

func TestConfigUpdateAppliesCallback(t *testing.T) {
	k := newTestKernel(t)

	rec := k.request(t, http.MethodPost, "/config", `{"key":"vol_ceiling","value":"3.5"}`, testKey)
	require.Equal(t, http.StatusNotImplemented, rec.Code)

	applied := map[string]string{}
	k.server.deps.ApplyConfig = func(key, value string) error {
		applied[key] = value
		return nil
	}
	rec = k.request(t, http.MethodPost, "/config", `{"key":"vol_ceiling","value":"3.5"}`, testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3.5", applied["vol_ceiling"])
}

func TestStreamDeliversFramesInOrder(t *testing.T) {
	k := newTestKernel(t)
	srv := httptest.NewServer(k.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	// Let the subscription attach before publishing.
	require.Eventually(t, func() bool { return k.cast.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	k.cast.Publish(schema.Frame{GSID: 1, TimestampUs: 100})
	time.Sleep(20 * time.Millisecond)
	k.cast.Publish(schema.Frame{GSID: 2, TimestampUs: 200})

	for want := uint64(1); want <= 2; want++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		frame, err := codec.DecodeFrame(payload)
		require.NoError(t, err)
		require.Equal(t, want, frame.GSID)
	}
}
