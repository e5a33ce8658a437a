package execution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"main/internal/schema"
	"main/pkg/exception"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("kraken-test-secret"))

func testKrakenVenue(t *testing.T, handler http.HandlerFunc) (*KrakenVenue, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	v, err := NewKrakenVenue("XBTUSD", "api-key", testSecret)
	require.NoError(t, err)
	v.SetBaseURL(srv.URL)
	return v, srv
}

func TestKrakenPlaceMakerSignsRequest(t *testing.T) {
	var captured struct {
		path string
		sign string
		body string
		form url.Values
	}
	v, _ := testKrakenVenue(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured.path = r.URL.Path
		captured.sign = r.Header.Get("API-Sign")
		captured.body = string(body)
		captured.form, _ = url.ParseQuery(string(body))
		_, _ = w.Write([]byte(`{"error":[],"result":{"txid":["TX-1"]}}`))
	})

	status, fill, err := v.Place(context.Background(), schema.Order{
		OrderID: 1, Symbol: "XBT/USD", Side: schema.SideBuy,
		Quantity: 0.5, LimitPrice: 99.99, Kind: schema.OrderKindMaker,
	})
	require.NoError(t, err)
	require.Equal(t, schema.OrderStatusOpen, status)
	require.Zero(t, fill)

	require.Equal(t, krakenAddOrderPath, captured.path)
	require.Equal(t, "limit", captured.form.Get("ordertype"))
	require.Equal(t, "post", captured.form.Get("oflags"))
	require.Equal(t, "99.99", captured.form.Get("price"))
	require.Equal(t, "buy", captured.form.Get("type"))
	require.NotEmpty(t, captured.form.Get("nonce"))

	// Recompute the signature with the shared secret.
	digest := sha256.Sum256([]byte(captured.form.Get("nonce") + captured.body))
	mac := hmac.New(sha512.New, []byte("kraken-test-secret"))
	mac.Write([]byte(captured.path))
	mac.Write(digest[:])
	require.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), captured.sign)
}

func TestKrakenPlaceMarketIOCFills(t *testing.T) {
	var form url.Values
	v, _ := testKrakenVenue(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		_, _ = w.Write([]byte(`{"error":[],"result":{"txid":["TX-2"],"price":"101.25"}}`))
	})

	status, fill, err := v.Place(context.Background(), schema.Order{
		OrderID: 2, Side: schema.SideSell, Quantity: 1, Kind: schema.OrderKindMarketIOC,
	})
	require.NoError(t, err)
	require.Equal(t, schema.OrderStatusFilled, status)
	require.Equal(t, 101.25, fill)
	require.Equal(t, "market", form.Get("ordertype"))
	require.Equal(t, "IOC", form.Get("timeinforce"))
}

func TestKrakenPlaceVenueError(t *testing.T) {
	v, _ := testKrakenVenue(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":["EOrder:Insufficient funds"],"result":{}}`))
	})

	status, _, err := v.Place(context.Background(), schema.Order{
		OrderID: 3, Side: schema.SideBuy, Quantity: 1, Kind: schema.OrderKindMarketIOC,
	})
	require.Error(t, err)
	require.Equal(t, schema.OrderStatusRejected, status)
}

func TestKrakenCancelUsesVenueTxID(t *testing.T) {
	var cancelled string
	v, _ := testKrakenVenue(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		if r.URL.Path == krakenCancelPath {
			cancelled = form.Get("txid")
		}
		_, _ = w.Write([]byte(`{"error":[],"result":{"txid":["TX-9"]}}`))
	})

	_, _, err := v.Place(context.Background(), schema.Order{
		OrderID: 9, Side: schema.SideBuy, Quantity: 1, LimitPrice: 90, Kind: schema.OrderKindMaker,
	})
	require.NoError(t, err)

	require.NoError(t, v.Cancel(context.Background(), 9))
	require.Equal(t, "TX-9", cancelled)

	// A second cancel has no mapping left.
	require.ErrorIs(t, v.Cancel(context.Background(), 9), exception.ErrOrderUnknown)
	require.Positive(t, v.RTTMs())
}
