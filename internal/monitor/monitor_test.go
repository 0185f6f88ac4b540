package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beastsplitter/beastsplitter/internal/config"
	"github.com/beastsplitter/beastsplitter/internal/modesfilter"
	"github.com/beastsplitter/beastsplitter/internal/modesmessage"
)

func testContextWithTimeout(d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	time.AfterFunc(d, cancel)
	return ctx
}

func newTestServer(t *testing.T) (*Monitor, *httptest.Server) {
	t.Helper()
	dist := modesfilter.NewDistributor()
	m := New(config.MonitorConfig{Enabled: true, ListenAddr: ":0"}, dist)

	srv := httptest.NewServer(http.HandlerFunc(m.handleWS))
	t.Cleanup(srv.Close)
	return m, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMonitorBroadcastsToConnectedClient(t *testing.T) {
	m, srv := newTestServer(t)
	conn := dialWS(t, srv)

	// Give the server goroutine time to register the client.
	time.Sleep(50 * time.Millisecond)

	rec := modesmessage.Record{
		Type:          modesmessage.ModeSShort,
		TimestampKind: modesmessage.TwelveMHz,
		Timestamp:     12345,
		Signal:        0x20,
		Payload:       []byte{0x8D, 1, 2, 3, 4, 5, 6},
	}
	m.Deliver(rec, false)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got wireMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "message" {
		t.Errorf("Type = %q, want %q", got.Type, "message")
	}
	if got.MsgType != "MODE_S_SHORT" {
		t.Errorf("MsgType = %q, want MODE_S_SHORT", got.MsgType)
	}
	if got.Timestamp != 12345 {
		t.Errorf("Timestamp = %d, want 12345", got.Timestamp)
	}
}

func TestMonitorDoesNotBroadcastStatusToModeSOnlyClient(t *testing.T) {
	dist := modesfilter.NewDistributor()
	m := New(config.MonitorConfig{Enabled: true, ListenAddr: ":0"}, dist)

	var seen []modesmessage.Record
	var modesOnly modesfilter.Filter
	modesOnly.ReceiveDF[17] = true
	h := dist.AddClient(func(r modesmessage.Record) { seen = append(seen, r) }, modesOnly)
	defer dist.RemoveClient(h)

	m.Deliver(modesmessage.Record{Type: modesmessage.Status}, false)
	if len(seen) != 0 {
		t.Errorf("a DF17-only client should not receive Status records, got %d", len(seen))
	}

	df17 := modesmessage.Record{Type: modesmessage.ModeSLong, Payload: []byte{0x8D, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}}
	m.Deliver(df17, false)
	if len(seen) != 1 {
		t.Errorf("a DF17-only client should receive a DF17 record, got %d", len(seen))
	}
}

func TestMonitorRunWaitsForCancelWhenDisabled(t *testing.T) {
	dist := modesfilter.NewDistributor()
	m := New(config.MonitorConfig{Enabled: false}, dist)

	done := make(chan error, 1)
	go func() { done <- m.Run(testContextWithTimeout(20 * time.Millisecond)) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
