package beastio

import "time"

// Tunable constants from spec.md §6, grounded on the const members of
// SerialInput in original_source/beast_input.h.
const (
	autobaudBaseInterval    = 1000 * time.Millisecond
	autobaudMaxInterval     = 16000 * time.Millisecond
	autobaudGoodSyncsNeeded = 50
	// autobaudRestartAfterBadSyncs is declared in spec.md's tunables table
	// (and in beast_input.h) as 20, but is never actually read: both
	// spec.md's lost-sync prose and beast_input.cc's lost_sync() compare
	// bad_sync against the literal 50 instead. That inconsistency is
	// reproduced faithfully below rather than "fixed" — see lostSync().
	autobaudRestartAfterBadSyncs = 20
	maxBytesWithoutSync          = 30
	readBufferSize               = 4096
	reconnectInterval            = 15 * time.Second

	// radarcapeDetectInterval is an open question in spec.md (not visible
	// in the available sources); 5s is spec.md's own suggested
	// conservative default.
	defaultRadarcapeDetectInterval = 5 * time.Second
)

// StandardBaudRates is the descending list of rates tried during autobaud
// when no fixed rate is configured.
var StandardBaudRates = []int{3000000, 1000000, 921600, 230400, 115200}
