package zmodem

// Frame format indicators. A header always begins with ZPAD; ZDLE then
// selects which of the three header encodings follows.
const (
	ZPAD  = '*'        // packet-introducer byte
	ZDLE  = 0x18       // data link escape (Ctrl-X)
	ZDLEE = ZDLE ^ 0x40 // ZDLE as it appears escaped on the wire

	ZBIN   = 'A' // binary header, 16-bit CRC
	ZHEX   = 'B' // hex-encoded header, 16-bit CRC
	ZBIN32 = 'C' // binary header, 32-bit CRC
)

// Header type codes (spec §6.2).
const (
	ZRQINIT = iota
	ZRINIT
	ZSINIT
	ZACK
	ZFILE
	ZSKIP
	ZNAK
	ZABORT
	ZFIN
	ZRPOS
	ZDATA
	ZEOF
	ZFERR
	ZCRC
	ZCHALLENGE
	ZCOMPL
	ZCAN
	ZFREECNT
	ZCOMMAND
	ZSTDERR
)

// Data subpacket terminators, sent as ZDLE-prefixed bytes.
const (
	ZCRCE = 'h' // CRC follows, frame ends, a header follows
	ZCRCG = 'i' // CRC follows, frame continues nonstop
	ZCRCQ = 'j' // CRC follows, frame continues, ZACK expected
	ZCRCW = 'k' // CRC follows, frame ends, ZACK expected
	ZRUB0 = 'l' // decodes to 0x7F
	ZRUB1 = 'm' // decodes to 0xFF
)

// Pseudo-tokens produced by the escape decoder (decodeEscape) for the
// subpacket terminators, tagged so they can't collide with a real data
// byte. gotCAN is checked by the lexer, but decodeEscape never returns it.
const (
	gotOr   = 0x400
	gotCRCE = ZCRCE | gotOr
	gotCRCG = ZCRCG | gotOr
	gotCRCQ = ZCRCQ | gotOr
	gotCRCW = ZCRCW | gotOr
	gotCAN  = gotOr | 0x18
)

// Header payload byte positions. Flags are addressed ZF0..ZF3 (ZF0 first on
// the wire); a little-endian 32-bit offset is addressed ZP0..ZP3 (ZP0 low).
const (
	ZF0 = 0
	ZF1 = 1
	ZF2 = 2
	ZF3 = 3

	ZP0 = 0
	ZP1 = 1
	ZP2 = 2
	ZP3 = 3
)

// ZRINIT capability flags (ZF0).
const (
	CANFDX  = 0x01 // receiver can send and receive full duplex
	CANOVIO = 0x02 // receiver can overlap disk I/O with receiving
	CANBRK  = 0x04 // receiver can send a break
	CANCRY  = 0x08 // receiver can decrypt
	CANLZW  = 0x10 // receiver can decompress
	CANFC32 = 0x20 // receiver can use 32-bit CRC
	ESCCTL  = 0x40 // receiver wants control characters escaped
	ESC8    = 0x80 // receiver wants the 8th bit escaped
)

// ZSINIT flags (ZF0).
const (
	TESCCTL = 0x40
	TESC8   = 0x80
)

// ZATTNLEN is the maximum length of an attention string.
const ZATTNLEN = 32

// ATTNBRK and ATTNPSE are attention-string sentinels: ATTNBRK asks the host
// to transmit a line break, ATTNPSE asks it to pause about one second.
// Neither is a transmittable byte value; they are matched against the raw
// attention-string bytes by the host's attention-sequence interpreter.
const (
	ATTNBRK = 0xdd
	ATTNPSE = 0xde
)

// ZFILE conversion options (ZF0).
const (
	ZCBIN   = 1 // binary transfer, no conversion
	ZCNL    = 2 // convert NL to local line ending
	ZCRESUM = 3 // resume interrupted transfer
)

// ZFILE management options (ZF1).
const (
	ZF1ZMSKNOLOC = 0x80
	ZF1ZMMASK    = 0x1f
	ZF1ZMNEWL    = 1
	ZF1ZMCRC     = 2
	ZF1ZMAPND    = 3
	ZF1ZMCLOB    = 4
	ZF1ZMNEW     = 5
	ZF1ZMDIFF    = 6
	ZF1ZMPROT    = 7
	ZF1ZMCHNG    = 8
)

// ZFILE transport options (ZF2).
const (
	ZTLZW   = 1
	ZTCRYPT = 2
	ZTRLE   = 3
)

// ZFILE extended options (ZF3).
const ZXSPARS = 64

// Ward Christensen / CP/M parameters for the YMODEM/XMODEM fallback.
// Don't change these — they are fixed by the wire protocol.
const (
	sohByte = 0x01
	stxByte = 0x02
	eotByte = 0x04
	ackByte = 0x06
	nakByte = 0x15
	canByte = 'X' & 0x1f
	xoffByte = 's' & 0x1f
	xonByte  = 'q' & 0x1f
	wantCRC  = 0x43 // 'C': ask for CRC-16 instead of checksum
	wantG    = 0x47 // 'G': ask for nonstop batch transmission
)

// frameNames gives human-readable names for header type codes, used by
// EventSink implementations and error messages.
var frameNames = []string{
	"ZRQINIT", "ZRINIT", "ZSINIT", "ZACK", "ZFILE", "ZSKIP", "ZNAK",
	"ZABORT", "ZFIN", "ZRPOS", "ZDATA", "ZEOF", "ZFERR", "ZCRC",
	"ZCHALLENGE", "ZCOMPL", "ZCAN", "ZFREECNT", "ZCOMMAND", "ZSTDERR",
}

// FrameTypeName returns the human-readable name of a header type code, or
// "UNKNOWN" if frameType isn't recognized.
func FrameTypeName(frameType int) string {
	if frameType < 0 || frameType >= len(frameNames) {
		return "UNKNOWN"
	}
	return frameNames[frameType]
}
