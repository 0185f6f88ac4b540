package modesmessage

import "testing"

func TestFromByte(t *testing.T) {
	tests := []struct {
		name string
		b    byte
		want Type
	}{
		{"mode ac", 0x31, ModeAC},
		{"mode s short", 0x32, ModeSShort},
		{"mode s long", 0x33, ModeSLong},
		{"status", 0x34, Status},
		{"unknown", 0x37, Invalid},
		{"escaped 1a", 0x1A, Invalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromByte(tt.b); got != tt.want {
				t.Errorf("FromByte(0x%02X) = %v, want %v", tt.b, got, tt.want)
			}
		})
	}
}

func TestPayloadSize(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{ModeAC, 2},
		{ModeSShort, 7},
		{ModeSLong, 14},
		{Status, 14},
		{Invalid, 0},
	}

	for _, tt := range tests {
		if got := PayloadSize(tt.typ); got != tt.want {
			t.Errorf("PayloadSize(%v) = %d, want %d", tt.typ, got, tt.want)
		}
	}
}

func TestSizeIncludesMetadata(t *testing.T) {
	if Size(ModeSLong) != PayloadSize(ModeSLong)+7 {
		t.Errorf("Size should be PayloadSize + 7 metadata bytes")
	}
}
