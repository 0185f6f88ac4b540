// Package modesfilter describes what a downstream consumer wants to see:
// which Mode-S downlink formats, whether Mode A/C, and whether GPS
// timestamps. It is the Go port of original_source/modes_filter.{h,cc}'s
// Filter and FilterDistributor, used here to (a) derive the engine's
// outbound Settings (spec.md §4.4) and (b) fan decoded messages out to
// multiple downstream consumers (e.g. several monitor websocket clients),
// each with its own filter.
package modesfilter

import "github.com/beastsplitter/beastsplitter/internal/modesmessage"

// Filter selects which messages a consumer wants delivered.
type Filter struct {
	ReceiveDF            [32]bool
	ReceiveModeAC        bool
	ReceiveBadCRC        bool
	ReceiveFEC           bool
	ReceiveStatus        bool
	ReceiveGPSTimestamps bool
}

// NewDefault returns a filter that accepts every downlink format, Mode A/C,
// and status messages — the same "everything" default Filter's zero value
// represents in the original, except with receive_df filled in rather than
// left false, since a Go zero Filter should still be a useful default.
func NewDefault() Filter {
	var f Filter
	for i := range f.ReceiveDF {
		f.ReceiveDF[i] = true
	}
	f.ReceiveModeAC = true
	f.ReceiveFEC = true
	f.ReceiveStatus = true
	return f
}

// Combine ORs two filters together: the result accepts anything either
// input accepts.
func Combine(one, two Filter) Filter {
	var f Filter
	for i := range f.ReceiveDF {
		f.ReceiveDF[i] = one.ReceiveDF[i] || two.ReceiveDF[i]
	}
	f.ReceiveModeAC = one.ReceiveModeAC || two.ReceiveModeAC
	f.ReceiveBadCRC = one.ReceiveBadCRC || two.ReceiveBadCRC
	f.ReceiveFEC = one.ReceiveFEC || two.ReceiveFEC
	f.ReceiveStatus = one.ReceiveStatus || two.ReceiveStatus
	f.ReceiveGPSTimestamps = one.ReceiveGPSTimestamps || two.ReceiveGPSTimestamps
	return f
}

// Equal reports whether two filters select the same messages.
func (f Filter) Equal(other Filter) bool {
	if f.ReceiveModeAC != other.ReceiveModeAC ||
		f.ReceiveBadCRC != other.ReceiveBadCRC ||
		f.ReceiveFEC != other.ReceiveFEC ||
		f.ReceiveStatus != other.ReceiveStatus ||
		f.ReceiveGPSTimestamps != other.ReceiveGPSTimestamps {
		return false
	}
	return f.ReceiveDF == other.ReceiveDF
}

// Matches reports whether the record passes this filter. Mode-S DF is read
// from the first payload byte's top 5 bits; CRC validity is not evaluated
// here (payload CRC checking is the receiver's job, per spec.md's
// Non-goals) so ReceiveBadCRC only gates records the caller has already
// marked bad via badCRC.
func (f Filter) Matches(r modesmessage.Record, badCRC bool) bool {
	switch r.Type {
	case modesmessage.ModeAC:
		return f.ReceiveModeAC
	case modesmessage.Status:
		return f.ReceiveStatus
	case modesmessage.ModeSShort, modesmessage.ModeSLong:
		if len(r.Payload) == 0 {
			return false
		}
		df := (r.Payload[0] >> 3) & 0x1F
		if !f.ReceiveDF[df] {
			return false
		}
		if badCRC && !f.ReceiveBadCRC {
			return false
		}
		return true
	default:
		return false
	}
}
