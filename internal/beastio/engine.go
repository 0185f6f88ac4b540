// Package beastio implements the Beast/Radarcape binary serial protocol:
// frame deframing, sync-quality tracking, autobaud hunting, receiver-type
// autodetection, and the connection supervisor that ties them together.
// It is grounded on original_source/beast_input.{h,cc}, whose SerialInput
// class bundled all of this into one Boost.Asio callback-driven object;
// here the same responsibilities are split into a pure Parser plus an
// Engine that owns live connection state and runs as a single goroutine
// driven by channels, per spec.md's own design note that "a task owning
// its own state, driven by a channel of events" is the idiomatic Go shape
// for this kind of cooperative, single-threaded state machine.
package beastio

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beastsplitter/beastsplitter/internal/modesfilter"
	"github.com/beastsplitter/beastsplitter/internal/modesmessage"
)

// ReceiverType is which kind of device is on the other end of the serial
// line. It starts Unknown unless fixed by configuration, and is resolved
// either by a detect-timeout (assume Beast) or by observing a Status
// message (Radarcape-only), per spec.md §4.3.
type ReceiverType int

const (
	ReceiverUnknown ReceiverType = iota
	ReceiverBeast
	ReceiverRadarcape
)

func (r ReceiverType) String() string {
	switch r {
	case ReceiverBeast:
		return "Beast"
	case ReceiverRadarcape:
		return "Radarcape"
	default:
		return "Unknown"
	}
}

// EngineConfig configures a connection supervisor instance.
type EngineConfig struct {
	DevicePath              string
	FixedBaudRate           int          // 0 => autobaud across StandardBaudRates
	FixedReceiverType       ReceiverType // ReceiverUnknown => autodetect
	RadarcapeDetectInterval time.Duration
	FixedSettings           Settings // initial fixed_settings half of the outbound Settings union; see ChangeSettings
	Opener                  PortOpener // nil => DefaultPortOpener
}

// Engine is the connection supervisor: it owns the serial port, drives a
// Parser, and runs the autobaud and receiver-autodetect state machines.
// All fields below the channels are owned exclusively by run() once
// Start has been called; every external method communicates with run()
// only via the cmd channel, so nothing needs a mutex.
type Engine struct {
	cfg    EngineConfig
	opener PortOpener

	cmd       chan func()
	closed    chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}

	port    Port
	portGen uint64
	reads   chan readResult

	parser       *Parser
	receiverType ReceiverType
	receivingGPS bool

	autobauding      bool
	baudIndex        int
	baudRates        []int
	autobaudInterval time.Duration
	autobaudTimer    *time.Timer

	detectTimer    *time.Timer
	reconnectTimer *time.Timer

	fixedSettings  Settings // set by ChangeSettings; the fixed_settings half of the union
	filterSettings Settings // derived from the active modesfilter.Filter
	lastSent       Settings
	sentOnce       bool

	notifier      func(modesmessage.Record, bool)
	errorNotifier func(error)
	typeNotifier  func(ReceiverType)

	// connected and resolvedType mirror run()-owned state for readers on
	// other goroutines (statuswriter.ConnectionState) that cannot post a
	// closure and block on a reply without risking deadlock from their
	// own timer callback.
	connected    atomic.Bool
	resolvedType atomic.Int32
}

type readResult struct {
	data []byte
	err  error
	gen  uint64
}

// NewEngine creates an Engine in its initial, unstarted state.
func NewEngine(cfg EngineConfig) *Engine {
	opener := cfg.Opener
	if opener == nil {
		opener = DefaultPortOpener
	}
	if cfg.RadarcapeDetectInterval == 0 {
		cfg.RadarcapeDetectInterval = defaultRadarcapeDetectInterval
	}
	e := &Engine{
		cfg:           cfg,
		opener:        opener,
		cmd:           make(chan func()),
		closed:        make(chan struct{}),
		stopped:       make(chan struct{}),
		reads:         make(chan readResult, 4),
		receiverType:  cfg.FixedReceiverType,
		fixedSettings: cfg.FixedSettings,
	}
	e.resolvedType.Store(int32(cfg.FixedReceiverType))
	return e
}

// SetMessageNotifier registers the callback invoked for every decoded,
// fully-qualified message (post autobaud lock-in and receiver-type
// resolution). badCRC is always false, since CRC verification of message
// payloads is out of scope here; it exists so callers can feed
// modesfilter.Filter.Matches without a second code path.
func (e *Engine) SetMessageNotifier(f func(r modesmessage.Record, badCRC bool)) {
	e.post(func() { e.notifier = f })
}

// SetErrorNotifier registers a callback invoked whenever a read error
// triggers a reconnect. A failed settings write is only logged: it does
// not trigger a reconnect or this callback.
func (e *Engine) SetErrorNotifier(f func(error)) {
	e.post(func() { e.errorNotifier = f })
}

// SetReceiverTypeNotifier registers a callback invoked whenever the
// receiver type is resolved or changes (useful for status reporting).
func (e *Engine) SetReceiverTypeNotifier(f func(ReceiverType)) {
	e.post(func() { e.typeNotifier = f })
}

// SetFilter recomputes the outbound Settings from the combined Filter of
// all downstream consumers (spec.md §4.4) and resends them if anything
// changed. Callers typically wire modesfilter.Distributor.SetFilterNotifier
// straight to this method.
func (e *Engine) SetFilter(f modesfilter.Filter) {
	e.post(func() {
		e.filterSettings = settingsFromFilter(f)
		e.sendSettingsIfChanged()
	})
}

// ChangeSettings replaces fixed_settings entirely (spec.md §6/§9) and
// resends the outbound Settings if the effective union with the current
// filter-derived settings changed and the port is open, mirroring
// original_source/beast_input.cc's change_settings. The outbound Settings
// remain fixed_settings ∪ Settings(filter) per spec.md §4.4;
// sendSettingsIfChanged performs that union every time either half
// changes.
func (e *Engine) ChangeSettings(s Settings) {
	e.post(func() {
		e.fixedSettings = s
		e.sendSettingsIfChanged()
	})
}

// settingsFromFilter derives the user-facing Settings fields from a
// modesfilter.Filter: filter_df11_df17_only is true only when every
// accepted downlink format is 11 or 17, matching the original's use of
// Settings::filter_11_17_18 as an optimization the receiver itself applies
// rather than re-deriving per message.
func settingsFromFilter(f modesfilter.Filter) Settings {
	only1117 := true
	for df := range f.ReceiveDF {
		if df == 11 || df == 17 {
			continue
		}
		if f.ReceiveDF[df] {
			only1117 = false
			break
		}
	}
	return Settings{
		FilterDF11DF17Only: only1117,
		CRCDisable:         f.ReceiveBadCRC,
		FECDisable:         f.ReceiveFEC,
		ModeAC:             f.ReceiveModeAC,
	}
}

// Start opens the serial port and begins the read/autobaud/autodetect
// loop in a dedicated goroutine.
func (e *Engine) Start() {
	e.baudRates = StandardBaudRates
	if e.cfg.FixedBaudRate != 0 {
		e.baudRates = []int{e.cfg.FixedBaudRate}
	}
	e.autobauding = len(e.baudRates) > 1
	e.autobaudInterval = autobaudBaseInterval

	go e.run()
}

// Close shuts the engine down, closing the serial port and stopping all
// timers. Safe to call more than once and from any goroutine.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.closed) })
	<-e.stopped
}

func (e *Engine) post(f func()) {
	select {
	case e.cmd <- f:
	case <-e.closed:
	}
}

// run is the single owner goroutine. Everything that touches Engine state
// beyond this function's own locals happens either here directly or
// through a closure received on e.cmd — there is exactly one goroutine
// ever mutating that state.
func (e *Engine) run() {
	defer close(e.stopped)
	defer e.teardown()

	e.openCurrentPort()

	for {
		select {
		case <-e.closed:
			return

		case f := <-e.cmd:
			f()

		case r := <-e.reads:
			if r.gen != e.portGen {
				continue // stale read from a port we've since replaced
			}
			if r.err != nil {
				e.handleError(r.err)
				continue
			}
			e.parser.Feed(r.data)

		case <-e.timerC(e.autobaudTimer):
			e.onAutobaudTimeout()

		case <-e.timerC(e.detectTimer):
			e.onDetectTimeout()

		case <-e.timerC(e.reconnectTimer):
			e.openCurrentPort()
		}
	}
}

// timerC returns the timer's channel, or nil (which blocks forever in a
// select) when the timer doesn't exist yet.
func (e *Engine) timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (e *Engine) teardown() {
	e.stopTimer(&e.autobaudTimer)
	e.stopTimer(&e.detectTimer)
	e.stopTimer(&e.reconnectTimer)
	e.connected.Store(false)
	if e.port != nil {
		e.port.Close()
		e.port = nil
	}
}

func (e *Engine) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// openCurrentPort opens the device at the cursor's current baud rate,
// starts a background reader for it, and (re)arms the autobaud and
// receiver-detect timers as appropriate. Grounded on start_reading /
// handle_error in original_source/beast_input.cc.
func (e *Engine) openCurrentPort() {
	e.stopTimer(&e.reconnectTimer)

	port, err := e.opener(e.cfg.DevicePath, e.baudRates[e.baudIndex])
	if err != nil {
		log.Printf("[beastio] open %s: %v", e.cfg.DevicePath, err)
		e.scheduleReconnect()
		return
	}
	port.SetReadTimeout(500 * time.Millisecond)

	e.port = port
	e.portGen++
	e.parser = NewParser(e)
	e.sentOnce = false
	e.connected.Store(true)

	e.startReader()
	e.sendSettingsIfChanged()

	if e.autobauding {
		e.armAutobaudTimer()
	}
	if e.receiverType == ReceiverUnknown {
		e.detectTimer = time.NewTimer(e.cfg.RadarcapeDetectInterval)
	}
}

func (e *Engine) startReader() {
	port := e.port
	gen := e.portGen
	ch := e.reads
	go func() {
		buf := make([]byte, readBufferSize)
		for {
			n, err := port.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case ch <- readResult{data: data, gen: gen}:
				case <-e.closed:
					return
				}
			}
			if err != nil {
				select {
				case ch <- readResult{err: err, gen: gen}:
				case <-e.closed:
				}
				return
			}
		}
	}()
}

func (e *Engine) handleError(err error) {
	log.Printf("[beastio] read error on %s: %v", e.cfg.DevicePath, err)
	e.connected.Store(false)
	if e.errorNotifier != nil {
		e.errorNotifier(err)
	}
	if e.port != nil {
		e.port.Close()
		e.port = nil
	}
	e.stopTimer(&e.autobaudTimer)
	e.stopTimer(&e.detectTimer)
	e.scheduleReconnect()
}

func (e *Engine) scheduleReconnect() {
	e.reconnectTimer = time.NewTimer(reconnectInterval)
}

// armAutobaudTimer (re)starts the autobaud retry timer at the current
// escalating interval.
func (e *Engine) armAutobaudTimer() {
	e.stopTimer(&e.autobaudTimer)
	e.autobaudTimer = time.NewTimer(e.autobaudInterval)
}

// onAutobaudTimeout advances the baud-rate cursor, doubling the retry
// interval (capped) each time the cursor wraps back to the first rate, per
// spec.md §4.2/§6.
func (e *Engine) onAutobaudTimeout() {
	e.advanceBaudCursor()
	e.reopenAtCursor()
	if e.autobauding {
		e.armAutobaudTimer()
	}
}

func (e *Engine) advanceBaudCursor() {
	e.baudIndex = (e.baudIndex + 1) % len(e.baudRates)
	if e.baudIndex == 0 {
		e.autobaudInterval *= 2
		if e.autobaudInterval > autobaudMaxInterval {
			e.autobaudInterval = autobaudMaxInterval
		}
	}
}

// reopenAtCursor tears down the current port and reopens at the cursor's
// baud rate, with a fresh Parser (the old one's sync state means nothing
// at a different baud rate).
func (e *Engine) reopenAtCursor() {
	if e.port != nil {
		e.port.Close()
		e.port = nil
	}
	e.openCurrentPort()
}

// onDetectTimeout resolves an unresolved receiver type to Beast, per
// spec.md §4.3: if no Status message arrives within
// radarcape_detect_interval, assume the plainer protocol.
func (e *Engine) onDetectTimeout() {
	e.detectTimer = nil
	if e.receiverType != ReceiverUnknown {
		return
	}
	e.setReceiverType(ReceiverBeast)
}

func (e *Engine) setReceiverType(t ReceiverType) {
	if e.receiverType == t {
		return
	}
	e.receiverType = t
	e.resolvedType.Store(int32(t))
	e.stopTimer(&e.detectTimer)
	if e.typeNotifier != nil {
		e.typeNotifier(t)
	}
	// A newly resolved receiver type always triggers one resend, even when
	// the encoded settings are unchanged (Unknown -> Beast).
	e.sentOnce = false
	e.sendSettingsIfChanged()
}

// Connected reports whether the engine currently has an open serial port
// to the receiver. Safe to call from any goroutine; it satisfies
// statuswriter.ConnectionState.
func (e *Engine) Connected() bool { return e.connected.Load() }

// IsRadarcape reports whether the resolved receiver type is Radarcape.
// Safe to call from any goroutine; it satisfies
// statuswriter.ConnectionState.
func (e *Engine) IsRadarcape() bool { return ReceiverType(e.resolvedType.Load()) == ReceiverRadarcape }

// ReceiverTypeName reports the resolved receiver type's name. Safe to
// call from any goroutine.
func (e *Engine) ReceiverTypeName() string { return ReceiverType(e.resolvedType.Load()).String() }

// sendSettingsIfChanged computes the outbound Settings as fixed_settings ∪
// Settings(filter) (spec.md §4.4), overlays the engine-controlled bits
// (radarcape, binary_format), and writes the wire command sequence if it
// differs from the last one sent, mirroring the "changed" guard in
// original_source/beast_input.cc's change_settings.
func (e *Engine) sendSettingsIfChanged() {
	if e.port == nil {
		return
	}
	settings := e.fixedSettings.Or(e.filterSettings).WithDefaults()
	settings.Radarcape = e.receiverType == ReceiverRadarcape

	if e.sentOnce && settings.Equal(e.lastSent) {
		return
	}
	if _, err := e.port.Write(settings.ToMessage()); err != nil {
		log.Printf("[beastio] write settings to %s: %v", e.cfg.DevicePath, err)
		return
	}
	e.lastSent = settings
	e.sentOnce = true
}

// --- Sink implementation (called synchronously from run(), via
// Parser.Feed) ---

func (e *Engine) Autobauding() bool      { return e.autobauding }
func (e *Engine) AutobaudRateCount() int { return len(e.baudRates) }

func (e *Engine) OnGoodSyncThreshold() {
	e.autobauding = false
	e.stopTimer(&e.autobaudTimer)
}

func (e *Engine) OnAutobaudRestart() {
	e.autobauding = true
	e.advanceBaudCursor()
	e.reopenAtCursor()
}

func (e *Engine) Deliver(msgType modesmessage.Type, metadata [7]byte, payload []byte) {
	if msgType == modesmessage.Status && e.receiverType == ReceiverUnknown {
		e.setReceiverType(ReceiverRadarcape)
	}
	if e.receiverType == ReceiverUnknown {
		return
	}

	if msgType == modesmessage.Status && len(payload) > 0 {
		e.receivingGPS = GPSTimestampsFromStatusByte(payload[0])
	}

	timestampKind := modesmessage.TwelveMHz
	if e.receivingGPS {
		timestampKind = modesmessage.GPS
	}

	var ts uint64
	for i := 0; i < 6; i++ {
		ts = ts<<8 | uint64(metadata[i])
	}

	record := modesmessage.Record{
		Type:          msgType,
		TimestampKind: timestampKind,
		Timestamp:     ts,
		Signal:        metadata[6],
		Payload:       payload,
	}

	if e.notifier != nil {
		e.notifier(record, false)
	}
}

func (e *Engine) String() string {
	return fmt.Sprintf("Engine(%s, receiver=%s)", e.cfg.DevicePath, e.receiverType)
}
