package beastio

import "github.com/beastsplitter/beastsplitter/internal/modesmessage"

// ParserState is one of the seven states spec.md §4.1 assigns the frame
// deframer. It generalizes the six-state machine in
// original_source/beast_input.cc by splitting its FIND_1A -> READ_TYPE
// transition into Find1A -> TestType: the original tests the type byte
// without first consuming the 0x1A that announced it, which would classify
// the framing byte itself as a message type. spec.md's TestType fixes that
// by consuming the 0x1A before testing, and — since this is still the
// initial hunt for a sync point, not a believed-good frame — an invalid
// byte here returns to Find1A without counting as a lost sync.
type ParserState int

const (
	Resync ParserState = iota
	Find1A
	TestType
	Read1A
	ReadType
	ReadData
	ReadEscaped1A
)

func (s ParserState) String() string {
	switch s {
	case Resync:
		return "Resync"
	case Find1A:
		return "Find1A"
	case TestType:
		return "TestType"
	case Read1A:
		return "Read1A"
	case ReadType:
		return "ReadType"
	case ReadData:
		return "ReadData"
	case ReadEscaped1A:
		return "ReadEscaped1A"
	default:
		return "ParserState(?)"
	}
}

// SyncCounters is the sync-quality tracker from spec.md §4.1/§4.2: good_sync
// and bad_sync drive autobaud lock-in and restart decisions, bytes_since_sync
// guards against a silent line that never produces a 0x1A.
type SyncCounters struct {
	GoodSync       uint
	BadSync        uint
	BytesSinceSync uint
}

// Sink receives the events a Parser produces as it deframes a byte stream.
// It is deliberately narrow so Parser stays a pure state machine over its
// own counters and accumulators — split-invariance testable with a stub —
// while the receiver-type/autobaud/notification decisions that spec.md's
// "Dispatch" step folds in live with whatever component actually owns that
// state (the Engine).
type Sink interface {
	// Autobauding reports whether the engine is still hunting for a working
	// baud rate; while true, frames are parsed (to keep counters honest)
	// but never delivered.
	Autobauding() bool
	// AutobaudRateCount reports how many candidate baud rates are in play;
	// with only one candidate, autobaud can never be meaningfully restarted.
	AutobaudRateCount() int
	// OnGoodSyncThreshold fires the first time good_sync reaches
	// autobaudGoodSyncsNeeded while still autobauding — the engine should
	// lock the current rate in and cancel its autobaud timer.
	OnGoodSyncThreshold()
	// OnAutobaudRestart fires when sync has been lost persistently at a
	// rate the engine believed was already locked.
	OnAutobaudRestart()
	// Deliver hands off a fully reconstructed, autobaud-qualified frame.
	Deliver(msgType modesmessage.Type, metadata [7]byte, payload []byte)
}

// Parser is the frame deframer described in spec.md §4.1, ported from the
// parse_input/lost_sync/dispatch_message methods of
// original_source/beast_input.cc.
type Parser struct {
	state ParserState

	metadataLen int
	metadata    [7]byte
	messageType modesmessage.Type
	payload     []byte

	counters SyncCounters
	sink     Sink
}

// NewParser creates a Parser in the initial Resync state, delivering to sink.
func NewParser(sink Sink) *Parser {
	return &Parser{state: Resync, sink: sink}
}

// State returns the parser's current state, mostly for tests and
// diagnostics.
func (p *Parser) State() ParserState { return p.state }

// Counters returns a snapshot of the sync-quality counters.
func (p *Parser) Counters() SyncCounters { return p.counters }

// Feed processes a chunk of bytes read from the serial port. It may be
// called repeatedly with arbitrarily split chunks of the same underlying
// stream — the parser carries all state it needs (including a pending
// escape at a chunk boundary) between calls.
func (p *Parser) Feed(data []byte) {
	i := 0
	n := len(data)
	for i < n {
		switch p.state {
		case Resync:
			i = p.stepResync(data, i, n)
		case Find1A:
			i = p.stepFind1A(data, i, n)
		case TestType:
			i = p.stepTestType(data, i)
		case Read1A:
			i = p.stepRead1A(data, i)
		case ReadType:
			i = p.stepReadType(data, i)
		case ReadData:
			i = p.stepReadData(data, &i, n)
		case ReadEscaped1A:
			i = p.stepReadEscaped1A(data, i)
		}
	}
}

func (p *Parser) stepResync(data []byte, i, n int) int {
	for i < n {
		p.counters.BytesSinceSync++
		if p.counters.BytesSinceSync > maxBytesWithoutSync {
			p.lostSync()
			return i + 1
		}
		if data[i] != 0x1A {
			p.state = Find1A
			return i + 1
		}
		i++
	}
	return i
}

func (p *Parser) stepFind1A(data []byte, i, n int) int {
	for i < n {
		p.counters.BytesSinceSync++
		if p.counters.BytesSinceSync > maxBytesWithoutSync {
			p.lostSync()
			return i + 1
		}
		if data[i] == 0x1A {
			p.state = TestType
			return i + 1
		}
		i++
	}
	return i
}

func (p *Parser) stepTestType(data []byte, i int) int {
	t := modesmessage.FromByte(data[i])
	if t == modesmessage.Invalid {
		// Still hunting for the first sync point; not a lost sync.
		p.state = Find1A
		return i
	}
	p.beginMessage(t)
	return i + 1
}

func (p *Parser) stepRead1A(data []byte, i int) int {
	if data[i] != 0x1A {
		p.lostSync()
		return i
	}
	p.state = ReadType
	return i + 1
}

func (p *Parser) stepReadType(data []byte, i int) int {
	t := modesmessage.FromByte(data[i])
	if t == modesmessage.Invalid {
		// We believed ourselves framed: this is a genuine lost sync.
		p.lostSync()
		return i
	}
	p.beginMessage(t)
	return i + 1
}

func (p *Parser) beginMessage(t modesmessage.Type) {
	p.messageType = t
	p.metadataLen = 0
	p.payload = p.payload[:0]
	p.state = ReadData
}

func (p *Parser) stepReadData(data []byte, i *int, n int) int {
	for *i < n {
		b := data[*i]
		*i++
		if b == 0x1A {
			if *i >= n {
				p.state = ReadEscaped1A
				return *i
			}
			if data[*i] != 0x1A {
				p.lostSync()
				return *i
			}
			*i++
		}
		if p.appendByte(b) {
			return *i
		}
	}
	return *i
}

func (p *Parser) stepReadEscaped1A(data []byte, i int) int {
	if data[i] != 0x1A {
		p.lostSync()
		return i
	}
	i++
	if p.appendByte(0x1A) {
		return i
	}
	p.state = ReadData
	return i
}

// appendByte routes one deframed byte to metadata (first 7 bytes of the
// message) or payload (everything after), and dispatches the message once
// complete. It returns true if the state machine left ReadData/
// ReadEscaped1A as a result (i.e. the caller's inner loop must stop using
// the old index semantics for this state).
func (p *Parser) appendByte(b byte) bool {
	if p.metadataLen < 7 {
		p.metadata[p.metadataLen] = b
		p.metadataLen++
	} else {
		p.payload = append(p.payload, b)
	}

	if p.metadataLen == 7 && len(p.payload) == modesmessage.PayloadSize(p.messageType) {
		p.dispatch()
		p.state = Read1A
		return true
	}
	return false
}

// dispatch implements spec.md §4.1's "Dispatch" step 1 and 2: update the
// sync counters and, if the engine is still autobauding, swallow the
// message instead of delivering it. Steps 3-5 (status/receiver-type
// handling, the Unknown-receiver-type drop, and the final notify) are the
// Engine's job once it gets the Deliver callback, since they need state
// this parser deliberately doesn't own.
func (p *Parser) dispatch() {
	if p.counters.GoodSync < autobaudGoodSyncsNeeded {
		p.counters.GoodSync++
		if p.counters.GoodSync == autobaudGoodSyncsNeeded {
			p.counters.BadSync = 0
			p.counters.BytesSinceSync = 0
			if p.sink.Autobauding() {
				p.sink.OnGoodSyncThreshold()
			}
		}
	}

	if p.sink.Autobauding() {
		return
	}

	var metadata [7]byte
	copy(metadata[:], p.metadata[:])
	payload := make([]byte, len(p.payload))
	copy(payload, p.payload)
	p.sink.Deliver(p.messageType, metadata, payload)
}

// lostSync implements spec.md §4.1's lost-sync handler, ported from
// original_source/beast_input.cc's lost_sync(). Note the inconsistency
// between spec.md's own tunables table (autobaud_restart_after_bad_syncs =
// 20) and its lost-sync prose, and beast_input.cc's literal "bad_sync > 50"
// comparison: the 50 is what actually executes in the original, so it's
// what executes here too.
func (p *Parser) lostSync() {
	if p.counters.GoodSync < 5 {
		p.counters.BadSync++
	} else {
		p.counters.BadSync = 0
	}
	p.counters.GoodSync = 0
	p.counters.BytesSinceSync = 0
	p.state = Resync

	if !p.sink.Autobauding() && p.sink.AutobaudRateCount() > 1 && p.counters.BadSync > 50 {
		p.sink.OnAutobaudRestart()
	}
}
