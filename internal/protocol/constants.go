package protocol

// Wire constants for the Mirabox/Ajazz report protocol, taken from USB
// captures of the supported hardware. These must match the firmware
// bit-for-bit; do not tune them without a trace to compare against.

// Output report payload lengths per generation (report id excluded).
const (
	frameLenV1 = 512
	frameLenV2 = 1024
)

// Every command starts with the ASCII tag "CRT", two zero bytes, then a
// three-letter opcode.
var cmdPrefix = []byte{'C', 'R', 'T', 0x00, 0x00}

const (
	cmdOffOpcode  = 5
	cmdOffArg     = 8
	opcodeLen     = 3
	chunkOffSeq   = 8  // uint16 BE, 0-based chunk index
	chunkOffTotal = 10 // uint16 BE, total chunk count
	chunkOffLen   = 12 // uint16 BE, payload bytes in this chunk
	chunkOffData  = 14
)

var (
	opBrightness = []byte("LIG")
	opKeepalive  = []byte("HAN")
	opSetMode    = []byte("MOD")
	opClear      = []byte("CLE")
	opDisconnect = []byte("DIS")
	opImageStart = []byte("BAT")
	opImageChunk = []byte("DAT")
)

// clearAllMark in both clear-argument bytes wipes every key at once.
const clearAllMark = 0xff

// SoftwareMode is the mode byte the N1 generation needs before it accepts
// commands from the host instead of its built-in firmware behavior.
const SoftwareMode = 3

// Input event frames begin with "ACK"; the raw input number and its state
// sit at fixed offsets.
var eventPrefix = []byte{'A', 'C', 'K'}

const (
	eventOffInput = 9
	eventOffState = 10
	eventMinLen   = 11
)

// Raw input numbering of the V3 generation beyond the display keys.
const (
	// Rotation events: input = encoderRotateBase + encoder index.
	encoderRotateBase = 0x90
	// Press events: input = encoderPressBase + encoder index.
	encoderPressBase = 0x60
	// State bytes of a rotation event.
	stateRotateRight = 0x01
	stateRotateLeft  = 0xff
	// Displayless face buttons under the screen; observable on some
	// firmware revisions only.
	FaceButtonA = 30
	FaceButtonB = 31
)

const maxEncoders = 8
