// Package statuswriter periodically writes a small JSON document
// describing receiver connectivity and GPS sync health, ported from
// original_source/status_writer.{h,cc}. Where the original subscribes a
// FilterDistributor client and drives a Boost.Asio steady_timer,
// Writer registers with a modesfilter.Distributor and drives a
// time.Timer from its own goroutine, following the same
// goroutine-owns-its-state/command-channel shape as beastio.Engine.
package statuswriter

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/beastsplitter/beastsplitter/internal/modesfilter"
	"github.com/beastsplitter/beastsplitter/internal/modesmessage"
)

// TimeoutInterval is how long the writer waits for a Status message
// before concluding GPS sync information is stale.
const TimeoutInterval = 2500 * time.Millisecond

// ConnectionState is queried by the writer each time it (re)writes the
// status file, so it always reports the receiver's current connectedness
// without the caller having to push every transition through a channel.
type ConnectionState interface {
	// Connected reports whether the engine currently has an open serial
	// port to the receiver.
	Connected() bool
	// IsRadarcape reports whether the resolved receiver type is
	// Radarcape — only Radarcape receivers are expected to emit Status
	// messages carrying GPS sync information.
	IsRadarcape() bool
}

type statusDoc struct {
	Radio    *fieldStatus `json:"radio,omitempty"`
	GPS      *fieldStatus `json:"gps,omitempty"`
	Time     int64        `json:"time"`
	Expiry   int64        `json:"expiry"`
	Interval int64        `json:"interval"`
}

type fieldStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Writer writes path (via a temp-file-then-rename) describing receiver
// and GPS sync status.
type Writer struct {
	distributor *modesfilter.Distributor
	state       ConnectionState
	path        string
	tempPath    string

	timeout time.Duration

	handle  modesfilter.ClientHandle
	timer   *time.Timer
	reset   chan struct{}
	closed  chan struct{}
	stopped chan struct{}
}

// New creates a Writer. timeout overrides how long to wait for a Status
// message before reporting stale GPS sync (0 => TimeoutInterval, the
// original's fixed 2500ms). Call Start to begin writing.
func New(distributor *modesfilter.Distributor, state ConnectionState, path string, timeout time.Duration) *Writer {
	if timeout <= 0 {
		timeout = TimeoutInterval
	}
	return &Writer{
		distributor: distributor,
		state:       state,
		path:        path,
		tempPath:    path + ".new",
		timeout:     timeout,
		reset:       make(chan struct{}, 1),
		closed:      make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Start registers a Status-only client with the distributor and begins
// the periodic timeout loop. Call Close to unregister and stop.
func (w *Writer) Start() {
	var filter modesfilter.Filter
	filter.ReceiveStatus = true
	w.handle = w.distributor.AddClient(w.onMessage, filter)

	go w.run()
}

// Close stops the writer and unregisters its distributor client.
func (w *Writer) Close() {
	close(w.closed)
	<-w.stopped
	w.distributor.RemoveClient(w.handle)
}

func (w *Writer) onMessage(r modesmessage.Record) {
	if r.Type != modesmessage.Status {
		return
	}
	select {
	case w.reset <- struct{}{}:
	default:
	}
	w.handleStatus(r.Payload)
}

func (w *Writer) run() {
	defer close(w.stopped)

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for {
		select {
		case <-w.closed:
			return
		case <-w.reset:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.timeout)
		case <-timer.C:
			timer.Reset(w.timeout)
			w.onTimeout()
		}
	}
}

func (w *Writer) onTimeout() {
	if w.state != nil && w.state.Connected() && w.state.IsRadarcape() {
		w.writeStatusFile("red", "No recent GPS status message received")
	} else {
		w.writeStatusFile("", "")
	}
}

// handleStatus decodes a Status message payload's GPS sync byte layout,
// following status_writer.cc's write() exactly:
//
//	data[0] & 0x10: 1 = GPS timestamps, 0 = 12MHz timestamps
//	data[1]: signed timestamp offset at last PPS edge, 15ns units
//	data[2]: GPS status bits (0x80 new-style flag, 0x20/0x10/0x08/0x04/0x02/0x01)
func (w *Writer) handleStatus(data []byte) {
	if len(data) < 3 {
		return
	}

	if data[0]&0x10 == 0 {
		w.writeStatusFile("red", "Not in GPS timestamp mode")
		return
	}

	if data[2]&0x80 == 0 {
		offset := int8(data[1])
		if offset <= 3 && offset >= -3 {
			w.writeStatusFile("green", "Receiver synchronized to GPS time")
		} else {
			w.writeStatusFile("amber", "Receiver more than 45ns from GPS time")
		}
		return
	}

	if data[2]&0x20 == 0 {
		if data[2]&0x10 != 0 {
			w.writeStatusFile("green", "Receiver synchronized to GPS time")
		} else {
			w.writeStatusFile("amber", "Receiver more than 45ns from GPS time")
		}
		return
	}

	var messages []string
	if data[2]&0x08 == 0 {
		messages = append(messages, "GPS/UTC time offset not known")
	}
	if data[2]&0x02 == 0 {
		messages = append(messages, "Not tracking any satellites")
	} else if data[2]&0x04 == 0 {
		messages = append(messages, "Not tracking sufficient satellites")
	}
	if data[2]&0x01 == 0 {
		messages = append(messages, "Antenna fault")
	}
	if len(messages) == 0 {
		messages = append(messages, "Unrecognized GPS fault")
	}

	joined := messages[0]
	for _, m := range messages[1:] {
		joined += "; " + m
	}
	w.writeStatusFile("red", joined)
}

func (w *Writer) writeStatusFile(gpsStatus, gpsMessage string) {
	now := time.Now()
	doc := statusDoc{
		Time:     now.UnixMilli(),
		Expiry:   now.Add(2 * w.timeout).UnixMilli(),
		Interval: w.timeout.Milliseconds(),
	}

	if w.state != nil {
		if w.state.Connected() {
			doc.Radio = &fieldStatus{Status: "green", Message: "Connected to receiver"}
		} else {
			doc.Radio = &fieldStatus{Status: "red", Message: "Not connected to receiver"}
		}
	}
	if gpsStatus != "" {
		doc.GPS = &fieldStatus{Status: gpsStatus, Message: gpsMessage}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Printf("[statuswriter] marshal error: %v", err)
		return
	}

	if err := os.WriteFile(w.tempPath, data, 0644); err != nil {
		log.Printf("[statuswriter] write %s: %v", w.tempPath, err)
		return
	}
	if err := os.Rename(w.tempPath, w.path); err != nil {
		log.Printf("[statuswriter] rename %s -> %s: %v", w.tempPath, w.path, err)
	}
}
