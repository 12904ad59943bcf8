// Package protocol builds outgoing command frames and parses incoming
// event frames for the supported wire generations. Every difference
// between generations is contained here; no other package branches on the
// protocol version.
package protocol

import "github.com/opendeck-tools/deckd/internal/catalog"

// RawEventKind classifies a parsed input frame.
type RawEventKind int

const (
	RawKey RawEventKind = iota
	RawEncoderRotate
	RawEncoderPress
)

// RawEvent is one decoded input frame, still in wire coordinates. The
// translator turns it into a canonical event.
type RawEvent struct {
	Kind    RawEventKind
	Index   uint8 // raw key input, or encoder index
	Pressed bool  // keys and encoder presses
	Right   bool  // rotation direction for RawEncoderRotate
}

// Codec builds frames for one protocol generation. Frames are always
// exactly FrameLen bytes; the transport rejects anything else.
type Codec interface {
	Version() catalog.Version
	FrameLen() int

	// SetModeFrame is only meaningful for generations with an explicit
	// software-control handshake; the others return nil.
	SetModeFrame(mode byte) []byte
	KeepaliveFrame() []byte
	BrightnessFrame(percent int) []byte
	ClearKeyFrame(rawIndex uint8) []byte
	ClearAllFrame() []byte
	DisconnectFrame() []byte

	// ImageFrames chunks one encoded key image into an announce frame
	// followed by ordered payload chunks. The sequence is built eagerly;
	// on-wire order must be preserved.
	ImageFrames(rawIndex uint8, encoded []byte) [][]byte

	// ParseEvent decodes one input report. Frames that are not input
	// events, and malformed frames, return ok=false; noisy partial USB
	// reads are expected under load and never an error.
	ParseEvent(frame []byte) (RawEvent, bool)
}

// ForVersion returns the codec for a protocol generation. Selected once
// per device at classification time.
func ForVersion(v catalog.Version) Codec {
	switch v {
	case catalog.V1:
		return &codec{version: catalog.V1, frameLen: frameLenV1}
	case catalog.V2:
		return &codec{version: catalog.V2, frameLen: frameLenV2}
	default:
		return &codec{version: catalog.V3, frameLen: frameLenV2, modeCapable: true, encoders: true}
	}
}
