package statuswriter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beastsplitter/beastsplitter/internal/modesfilter"
	"github.com/beastsplitter/beastsplitter/internal/modesmessage"
)

type fakeState struct {
	connected   bool
	isRadarcape bool
}

func (f fakeState) Connected() bool   { return f.connected }
func (f fakeState) IsRadarcape() bool { return f.isRadarcape }

func readDoc(t *testing.T, path string) statusDoc {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc statusDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return doc
}

func TestHandleStatusGPSSynchronized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpsstatus.json")
	dist := modesfilter.NewDistributor()
	w := New(dist, fakeState{connected: true, isRadarcape: true}, path, 0)

	// new style, FPGA using GPS time (0x20 clear) and synchronized (0x10 set)
	w.handleStatus([]byte{0x10, 0x00, 0x80 | 0x10})

	doc := readDoc(t, path)
	if doc.GPS == nil || doc.GPS.Status != "green" {
		t.Fatalf("GPS = %+v, want green", doc.GPS)
	}
	if doc.Radio == nil || doc.Radio.Status != "green" {
		t.Fatalf("Radio = %+v, want green (connected)", doc.Radio)
	}
}

func TestHandleStatusNotGPSMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpsstatus.json")
	dist := modesfilter.NewDistributor()
	w := New(dist, fakeState{connected: true}, path, 0)

	w.handleStatus([]byte{0x00, 0x00, 0x00})

	doc := readDoc(t, path)
	if doc.GPS == nil || doc.GPS.Status != "red" {
		t.Fatalf("GPS = %+v, want red", doc.GPS)
	}
}

func TestHandleStatusOldStyleOffsetWithinTolerance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpsstatus.json")
	dist := modesfilter.NewDistributor()
	w := New(dist, fakeState{connected: true}, path, 0)

	// old-style message: data[2]&0x80 == 0, offset of 2 (within +-3)
	w.handleStatus([]byte{0x10, 0x02, 0x00})
	doc := readDoc(t, path)
	if doc.GPS.Status != "green" {
		t.Errorf("GPS.Status = %q, want green", doc.GPS.Status)
	}

	// offset of -10 (outside +-3, as an int8)
	w.handleStatus([]byte{0x10, 0xF6, 0x00})
	doc = readDoc(t, path)
	if doc.GPS.Status != "amber" {
		t.Errorf("GPS.Status = %q, want amber", doc.GPS.Status)
	}
}

func TestHandleStatusNewStyleFaultMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpsstatus.json")
	dist := modesfilter.NewDistributor()
	w := New(dist, fakeState{connected: true}, path, 0)

	// new style, FPGA not using GPS time, not tracking any satellites and antenna fault
	w.handleStatus([]byte{0x10, 0x00, 0x80 | 0x20})
	doc := readDoc(t, path)
	if doc.GPS.Status != "red" {
		t.Fatalf("GPS.Status = %q, want red", doc.GPS.Status)
	}
	want := "GPS/UTC time offset not known; Not tracking any satellites; Antenna fault"
	if doc.GPS.Message != want {
		t.Errorf("GPS.Message = %q, want %q", doc.GPS.Message, want)
	}
}

func TestHandleStatusNewStyleFPGAUsingGPS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpsstatus.json")
	dist := modesfilter.NewDistributor()
	w := New(dist, fakeState{connected: true}, path, 0)

	w.handleStatus([]byte{0x10, 0x00, 0x80 | 0x10})
	doc := readDoc(t, path)
	if doc.GPS.Status != "green" {
		t.Errorf("GPS.Status = %q, want green", doc.GPS.Status)
	}
}

func TestWriteStatusFileReportsDisconnectedRadio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpsstatus.json")
	dist := modesfilter.NewDistributor()
	w := New(dist, fakeState{connected: false}, path, 0)

	w.writeStatusFile("", "")

	doc := readDoc(t, path)
	if doc.Radio == nil || doc.Radio.Status != "red" {
		t.Fatalf("Radio = %+v, want red", doc.Radio)
	}
	if doc.GPS != nil {
		t.Errorf("GPS = %+v, want nil when gpsStatus is empty", doc.GPS)
	}
	if doc.Interval != TimeoutInterval.Milliseconds() {
		t.Errorf("Interval = %d, want %d", doc.Interval, TimeoutInterval.Milliseconds())
	}
}

func TestOnTimeoutReportsStaleGPSForConnectedRadarcape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpsstatus.json")
	dist := modesfilter.NewDistributor()
	w := New(dist, fakeState{connected: true, isRadarcape: true}, path, 0)

	w.onTimeout()

	doc := readDoc(t, path)
	if doc.GPS == nil || doc.GPS.Status != "red" {
		t.Fatalf("GPS = %+v, want red on timeout", doc.GPS)
	}
}

func TestOnTimeoutWritesNoGPSSectionForPlainBeast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpsstatus.json")
	dist := modesfilter.NewDistributor()
	w := New(dist, fakeState{connected: true, isRadarcape: false}, path, 0)

	w.onTimeout()

	doc := readDoc(t, path)
	if doc.GPS != nil {
		t.Errorf("GPS = %+v, want nil for a non-Radarcape receiver", doc.GPS)
	}
}

func TestStartRegistersStatusOnlyFilterAndStopsOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpsstatus.json")
	dist := modesfilter.NewDistributor()
	w := New(dist, fakeState{connected: true, isRadarcape: true}, path, 0)
	w.Start()

	dist.Broadcast(modesmessage.Record{Type: modesmessage.Status, Payload: []byte{0x10, 0x00, 0x80 | 0x10}}, false)

	// Broadcast runs the writer's onMessage on this goroutine, so the file
	// is normally written already; poll briefly before reading it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	doc := readDoc(t, path)
	if doc.GPS == nil || doc.GPS.Status != "green" {
		t.Fatalf("GPS = %+v, want green", doc.GPS)
	}

	w.Close()
}
