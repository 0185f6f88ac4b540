// Package monitor serves a websocket live-monitoring dashboard: every
// decoded message the engine produces is fanned out to connected clients
// through a modesfilter.Distributor, the same fan-out/per-client-filter
// design original_source/modes_filter.{h,cc} describes for multiple
// downstream consumers of one receiver. Modeled on the websocket
// client/broadcast plumbing in
// _examples/sagostin-goefidash/internal/server/server.go.
package monitor

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beastsplitter/beastsplitter/internal/config"
	"github.com/beastsplitter/beastsplitter/internal/modesfilter"
	"github.com/beastsplitter/beastsplitter/internal/modesmessage"
)

// Monitor serves the websocket dashboard described above.
type Monitor struct {
	cfg         config.MonitorConfig
	distributor *modesfilter.Distributor
	upgrader    websocket.Upgrader

	receiverType string
	connected    bool
}

// wireMessage is the JSON envelope sent to every connected client.
type wireMessage struct {
	Type      string `json:"type"` // "message" (the only envelope handleWS sends)
	MsgType   string `json:"msgType,omitempty"`
	Timestamp uint64 `json:"timestamp,omitempty"`
	TSKind    string `json:"timestampKind,omitempty"`
	Signal    uint8  `json:"signal,omitempty"`
	Payload   []byte `json:"payload,omitempty"` // base64-encoded by encoding/json

	ReceiverType string `json:"receiverType,omitempty"`
	Connected    *bool  `json:"connected,omitempty"`
	StampMillis  int64  `json:"stampMillis"`
}

// New creates a Monitor backed by the given Distributor — typically the
// same Distributor whose SetFilterNotifier is wired to
// beastio.Engine.SetFilter, so client filter changes reach the receiver.
func New(cfg config.MonitorConfig, distributor *modesfilter.Distributor) *Monitor {
	return &Monitor{
		cfg:         cfg,
		distributor: distributor,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Deliver is the beastio.Engine message notifier: it forwards every
// decoded record to the Distributor, which fans it out to whichever
// clients' filters accept it.
func (m *Monitor) Deliver(r modesmessage.Record, badCRC bool) {
	m.distributor.Broadcast(r, badCRC)
}

// SetReceiverStatus records the receiver type and connected state; hook
// this to beastio.Engine's receiver-type and error notifiers. These values
// are not sent to clients: handleWS only sends "message" envelopes.
func (m *Monitor) SetReceiverStatus(receiverType string, connected bool) {
	m.receiverType = receiverType
	m.connected = connected
}

// Run serves the dashboard until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handleWS)

	srv := &http.Server{Addr: m.cfg.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[monitor] upgrade error: %v", err)
		return
	}

	send := make(chan []byte, 64)
	notify := func(rec modesmessage.Record) {
		msg := wireMessage{
			Type:        "message",
			MsgType:     rec.Type.String(),
			Timestamp:   rec.Timestamp,
			TSKind:      rec.TimestampKind.String(),
			Signal:      rec.Signal,
			Payload:     rec.Payload,
			StampMillis: time.Now().UnixMilli(),
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return
		}
		select {
		case send <- data:
		default:
			// Slow client: drop rather than block the broadcaster.
		}
	}

	handle := m.distributor.AddClient(notify, modesfilter.NewDefault())
	log.Printf("[monitor] client connected")

	go func() {
		defer conn.Close()
		for msg := range send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	defer func() {
		m.distributor.RemoveClient(handle)
		close(send)
		log.Printf("[monitor] client disconnected")
	}()

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
