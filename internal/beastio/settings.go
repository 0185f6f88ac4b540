package beastio

// Settings is the set of device-configurable options described in spec.md
// §3. The five user-facing booleans come from the client (fixed settings
// merged with whatever the active Filter demands); radarcape and
// binary_format are engine-controlled and never set directly by a caller.
//
// Ported from the Settings struct in original_source/beast_input.h — the
// same struct spec.md §3's table describes field-for-field.
type Settings struct {
	FilterDF11DF17Only bool // deliver only DF11/DF17 frame types
	CRCDisable         bool // suppress receiver CRC checks
	MaskDF0DF4DF5      bool // (Beast only) drop DF0/DF4/DF5
	FECDisable         bool // suppress forward-error-correction
	ModeAC             bool // decode Mode A/C frames

	Radarcape    bool // engine-controlled: receiver_type == Radarcape
	BinaryFormat bool // engine-controlled: always true
}

// Or merges two Settings with bitwise-OR semantics on every option, mirroring
// Settings::operator| in original_source/beast_settings.cc.
func (s Settings) Or(other Settings) Settings {
	return Settings{
		FilterDF11DF17Only: s.FilterDF11DF17Only || other.FilterDF11DF17Only,
		CRCDisable:         s.CRCDisable || other.CRCDisable,
		MaskDF0DF4DF5:      s.MaskDF0DF4DF5 || other.MaskDF0DF4DF5,
		FECDisable:         s.FECDisable || other.FECDisable,
		ModeAC:             s.ModeAC || other.ModeAC,
		Radarcape:          s.Radarcape || other.Radarcape,
		BinaryFormat:       s.BinaryFormat || other.BinaryFormat,
	}
}

// WithDefaults returns a copy with BinaryFormat forced true, the only
// "default-fill" spec.md §3 asks for (binary_format is always true on the
// wire; there is no other implicit default to fill in since the zero value
// of every other field is already the conservative "off" choice).
func (s Settings) WithDefaults() Settings {
	s.BinaryFormat = true
	return s
}

// Equal reports whether two Settings values are identical, used to decide
// whether change_settings / set_filter actually changed anything (spec.md
// §4.4, §4.5).
func (s Settings) Equal(other Settings) bool {
	return s == other
}

// ToMessage serializes the settings into the Beast configuration command
// sequence, each option expressed as 0x1A <letter> with the letter's case
// toggling the option. Byte-for-byte ground truth is
// original_source/beast_input.cc's send_settings_message: binary format is
// always requested on ('C'), AVRMLAT is always requested on ('E', unused
// in Beast/Radarcape binary mode), hardware handshake is always requested
// on ('H', fixed — distinct from the FEC toggle that follows it), and the
// 'G'/'g' pair additionally requests df0/df4/df5 masking whenever the
// receiver has announced itself as a Radarcape (only a Radarcape honours
// that bit as "suppress non-squitter garbage"; on a Beast it is the literal
// mask_df0_df4_df5 option).
func (s Settings) ToMessage() []byte {
	add := func(buf []byte, on bool, off, upper byte) []byte {
		letter := off
		if on {
			letter = upper
		}
		return append(buf, 0x1A, letter)
	}

	msg := make([]byte, 0, 16)
	msg = add(msg, true, 'c', 'C') // binary_format: always on
	msg = add(msg, s.FilterDF11DF17Only, 'd', 'D')
	msg = add(msg, true, 'e', 'E') // avrmlat: fixed, unused in binary mode
	msg = add(msg, s.CRCDisable, 'f', 'F')
	msg = add(msg, s.MaskDF0DF4DF5 || s.Radarcape, 'g', 'G')
	msg = add(msg, true, 'h', 'H') // hardware handshake: always on
	msg = add(msg, s.FECDisable, 'i', 'I')
	msg = add(msg, s.ModeAC, 'j', 'J')
	return msg
}

// GPSTimestampsFromStatusByte extracts the gps_timestamps bit from a
// Status message's first payload byte. Bit layout grounded on
// original_source/beast_settings.cc's Settings(uint8_t) constructor:
// 0x10 marks "timestamps are GPS-derived" rather than raw 12 MHz ticks.
func GPSTimestampsFromStatusByte(b byte) bool {
	return b&0x10 != 0
}
