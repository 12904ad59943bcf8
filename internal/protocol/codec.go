package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/opendeck-tools/deckd/internal/catalog"
)

// codec implements the tag-based command protocol shared by all supported
// generations. The generations differ in report length, in whether a mode
// handshake exists, and in whether encoder inputs are reported.
type codec struct {
	version     catalog.Version
	frameLen    int
	modeCapable bool
	encoders    bool
}

func (c *codec) Version() catalog.Version { return c.version }
func (c *codec) FrameLen() int            { return c.frameLen }

func (c *codec) command(opcode []byte) []byte {
	frame := make([]byte, c.frameLen)
	copy(frame, cmdPrefix)
	copy(frame[cmdOffOpcode:], opcode)
	return frame
}

func (c *codec) SetModeFrame(mode byte) []byte {
	if !c.modeCapable {
		return nil
	}
	frame := c.command(opSetMode)
	frame[cmdOffArg] = mode
	return frame
}

func (c *codec) KeepaliveFrame() []byte {
	return c.command(opKeepalive)
}

func (c *codec) BrightnessFrame(percent int) []byte {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	frame := c.command(opBrightness)
	frame[cmdOffArg] = byte(percent)
	return frame
}

func (c *codec) ClearKeyFrame(rawIndex uint8) []byte {
	frame := c.command(opClear)
	frame[cmdOffArg] = rawIndex
	return frame
}

func (c *codec) ClearAllFrame() []byte {
	frame := c.command(opClear)
	frame[cmdOffArg] = clearAllMark
	frame[cmdOffArg+1] = clearAllMark
	return frame
}

func (c *codec) DisconnectFrame() []byte {
	return c.command(opDisconnect)
}

// chunkCapacity is how much image payload fits one report after the chunk
// header.
func (c *codec) chunkCapacity() int {
	return c.frameLen - chunkOffData
}

func (c *codec) ImageFrames(rawIndex uint8, encoded []byte) [][]byte {
	capacity := c.chunkCapacity()
	total := (len(encoded) + capacity - 1) / capacity
	if total == 0 {
		total = 1
	}

	frames := make([][]byte, 0, total+1)

	// Announce frame: total payload length and the raw key slot.
	start := c.command(opImageStart)
	binary.BigEndian.PutUint32(start[cmdOffArg:], uint32(len(encoded)))
	start[cmdOffArg+4] = rawIndex
	frames = append(frames, start)

	for seq := 0; seq < total; seq++ {
		chunk := c.command(opImageChunk)
		payload := encoded[seq*capacity:]
		if len(payload) > capacity {
			payload = payload[:capacity]
		}
		binary.BigEndian.PutUint16(chunk[chunkOffSeq:], uint16(seq))
		binary.BigEndian.PutUint16(chunk[chunkOffTotal:], uint16(total))
		binary.BigEndian.PutUint16(chunk[chunkOffLen:], uint16(len(payload)))
		copy(chunk[chunkOffData:], payload)
		frames = append(frames, chunk)
	}

	return frames
}

func (c *codec) ParseEvent(frame []byte) (RawEvent, bool) {
	if len(frame) < eventMinLen || !bytes.HasPrefix(frame, eventPrefix) {
		return RawEvent{}, false
	}
	input := frame[eventOffInput]
	state := frame[eventOffState]
	if input == 0 {
		// Periodic all-released refresh, not an event.
		return RawEvent{}, false
	}

	if c.encoders {
		if input >= encoderRotateBase && input < encoderRotateBase+maxEncoders {
			switch state {
			case stateRotateRight:
				return RawEvent{Kind: RawEncoderRotate, Index: input - encoderRotateBase, Right: true}, true
			case stateRotateLeft:
				return RawEvent{Kind: RawEncoderRotate, Index: input - encoderRotateBase}, true
			}
			return RawEvent{}, false
		}
		if input >= encoderPressBase && input < encoderPressBase+maxEncoders {
			return RawEvent{Kind: RawEncoderPress, Index: input - encoderPressBase, Pressed: state != 0}, true
		}
	}

	return RawEvent{Kind: RawKey, Index: input, Pressed: state != 0}, true
}
