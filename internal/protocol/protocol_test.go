package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/opendeck-tools/deckd/internal/catalog"
)

func eventFrame(frameLen int, input, state byte) []byte {
	frame := make([]byte, frameLen)
	copy(frame, eventPrefix)
	frame[eventOffInput] = input
	frame[eventOffState] = state
	return frame
}

func TestFrameLengths(t *testing.T) {
	if got := ForVersion(catalog.V1).FrameLen(); got != 512 {
		t.Errorf("v1 frame length = %d, want 512", got)
	}
	for _, v := range []catalog.Version{catalog.V2, catalog.V3} {
		if got := ForVersion(v).FrameLen(); got != 1024 {
			t.Errorf("v%d frame length = %d, want 1024", v, got)
		}
	}
}

func TestCommandFramesSized(t *testing.T) {
	for _, v := range []catalog.Version{catalog.V1, catalog.V2, catalog.V3} {
		c := ForVersion(v)
		for name, frame := range map[string][]byte{
			"keepalive":  c.KeepaliveFrame(),
			"brightness": c.BrightnessFrame(50),
			"clear_key":  c.ClearKeyFrame(4),
			"clear_all":  c.ClearAllFrame(),
			"disconnect": c.DisconnectFrame(),
		} {
			if len(frame) != c.FrameLen() {
				t.Errorf("v%d %s: length %d, want %d", v, name, len(frame), c.FrameLen())
			}
			if !bytes.HasPrefix(frame, cmdPrefix) {
				t.Errorf("v%d %s: missing command prefix", v, name)
			}
		}
	}
}

func TestSetModeOnlyV3(t *testing.T) {
	if frame := ForVersion(catalog.V1).SetModeFrame(SoftwareMode); frame != nil {
		t.Error("v1 built a mode frame")
	}
	if frame := ForVersion(catalog.V2).SetModeFrame(SoftwareMode); frame != nil {
		t.Error("v2 built a mode frame")
	}
	frame := ForVersion(catalog.V3).SetModeFrame(SoftwareMode)
	if frame == nil {
		t.Fatal("v3 did not build a mode frame")
	}
	if frame[cmdOffArg] != SoftwareMode {
		t.Errorf("mode byte = %d, want %d", frame[cmdOffArg], SoftwareMode)
	}
}

func TestBrightnessClamped(t *testing.T) {
	c := ForVersion(catalog.V1)
	if got := c.BrightnessFrame(150)[cmdOffArg]; got != 100 {
		t.Errorf("over-range brightness = %d, want 100", got)
	}
	if got := c.BrightnessFrame(-5)[cmdOffArg]; got != 0 {
		t.Errorf("under-range brightness = %d, want 0", got)
	}
}

// The chunk payloads concatenated must reproduce the encoded image
// exactly, in order, for any payload size including the chunk-boundary
// edge cases.
func TestImageFramesReassemble(t *testing.T) {
	for _, v := range []catalog.Version{catalog.V1, catalog.V3} {
		c := ForVersion(v)
		capacity := c.FrameLen() - chunkOffData
		for _, size := range []int{1, 100, capacity, capacity + 1, 3*capacity - 7, 4 * capacity} {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i * 31)
			}

			frames := c.ImageFrames(7, payload)
			if len(frames) < 2 {
				t.Fatalf("v%d size %d: %d frames, want announce + chunks", v, size, len(frames))
			}

			start := frames[0]
			if got := binary.BigEndian.Uint32(start[cmdOffArg:]); got != uint32(size) {
				t.Errorf("v%d size %d: announce length %d", v, size, got)
			}
			if start[cmdOffArg+4] != 7 {
				t.Errorf("v%d size %d: announce key %d, want 7", v, size, start[cmdOffArg+4])
			}

			var rebuilt []byte
			for i, chunk := range frames[1:] {
				if len(chunk) != c.FrameLen() {
					t.Fatalf("v%d size %d: chunk %d wrong length %d", v, size, i, len(chunk))
				}
				if got := binary.BigEndian.Uint16(chunk[chunkOffSeq:]); got != uint16(i) {
					t.Errorf("v%d size %d: chunk %d sequence %d", v, size, i, got)
				}
				if got := binary.BigEndian.Uint16(chunk[chunkOffTotal:]); got != uint16(len(frames)-1) {
					t.Errorf("v%d size %d: chunk %d total %d, want %d", v, size, i, got, len(frames)-1)
				}
				plen := binary.BigEndian.Uint16(chunk[chunkOffLen:])
				rebuilt = append(rebuilt, chunk[chunkOffData:int(chunkOffData)+int(plen)]...)
			}
			if !bytes.Equal(rebuilt, payload) {
				t.Errorf("v%d size %d: reassembled payload differs", v, size)
			}
		}
	}
}

func TestParseKeyEvent(t *testing.T) {
	c := ForVersion(catalog.V3)
	ev, ok := c.ParseEvent(eventFrame(512, 4, 1))
	if !ok {
		t.Fatal("key event not parsed")
	}
	if ev.Kind != RawKey || ev.Index != 4 || !ev.Pressed {
		t.Errorf("got %+v, want key 4 pressed", ev)
	}

	ev, ok = c.ParseEvent(eventFrame(512, 4, 0))
	if !ok || ev.Pressed {
		t.Errorf("release: got %+v ok=%v", ev, ok)
	}
}

func TestParseEncoderEvents(t *testing.T) {
	c := ForVersion(catalog.V3)

	ev, ok := c.ParseEvent(eventFrame(512, encoderRotateBase, stateRotateLeft))
	if !ok || ev.Kind != RawEncoderRotate || ev.Right || ev.Index != 0 {
		t.Errorf("rotate left: got %+v ok=%v", ev, ok)
	}
	ev, ok = c.ParseEvent(eventFrame(512, encoderRotateBase, stateRotateRight))
	if !ok || !ev.Right {
		t.Errorf("rotate right: got %+v ok=%v", ev, ok)
	}
	ev, ok = c.ParseEvent(eventFrame(512, encoderPressBase, 1))
	if !ok || ev.Kind != RawEncoderPress || !ev.Pressed {
		t.Errorf("press: got %+v ok=%v", ev, ok)
	}

	// A rotation state byte the firmware never emits is dropped, not
	// misread as a direction.
	if _, ok := c.ParseEvent(eventFrame(512, encoderRotateBase, 0x42)); ok {
		t.Error("bogus rotation state parsed")
	}
}

// V1 firmware has no encoders; the same input numbers are plain keys and
// the translator drops them as out of range.
func TestParseNoEncodersOnV1(t *testing.T) {
	c := ForVersion(catalog.V1)
	ev, ok := c.ParseEvent(eventFrame(512, encoderRotateBase, stateRotateRight))
	if !ok || ev.Kind != RawKey {
		t.Errorf("got %+v ok=%v, want a raw key event", ev, ok)
	}
}

func TestParseIgnoresNoise(t *testing.T) {
	c := ForVersion(catalog.V3)

	noise := [][]byte{
		nil,
		{},
		{0x41},
		bytes.Repeat([]byte{0x00}, 512),
		bytes.Repeat([]byte{0xff}, 512),
		[]byte("ACK"),                // too short for the input offset
		eventFrame(512, 0, 1),        // all-released refresh
		append([]byte("NAK"), make([]byte, 509)...),
	}
	for i, frame := range noise {
		if _, ok := c.ParseEvent(frame); ok {
			t.Errorf("noise frame %d parsed as an event", i)
		}
	}
}
