// Package translate maps raw wire input numbers to canonical layout
// indices and back. The mapping is a pure table lookup, deterministic and
// invertible within one device kind.
package translate

import (
	"github.com/opendeck-tools/deckd/internal/catalog"
	"github.com/opendeck-tools/deckd/internal/protocol"
	"github.com/opendeck-tools/deckd/internal/types"
)

// The 3x6 family reports keys column-major from the right edge, one-based.
// rawToCanonical3x6[raw-1] is the canonical index; canonicalToRaw3x6 is
// its inverse in the zero-based slot numbering used to address images.
var (
	rawToCanonical3x6 = [18]int{4, 10, 16, 3, 9, 15, 2, 8, 14, 1, 7, 13, 0, 6, 12, 5, 11, 17}
	canonicalToRaw3x6 = [18]uint8{12, 9, 6, 3, 0, 15, 13, 10, 7, 4, 1, 16, 14, 11, 8, 5, 2, 17}
)

// The N1 reports its main 5x3 grid as inputs 1..15 and the three top LCD
// strips as 16..18; image addressing uses the same numbering shifted down
// by one.
const (
	n1TopLCDFirst = 16
	n1TopLCDLast  = 18
)

// ToAbstract converts a parsed raw event into canonical coordinates.
// Unmappable inputs (the N1's displayless face buttons, out-of-range
// noise) return ok=false and are dropped silently.
func ToAbstract(k catalog.Kind, id types.Identity, ev protocol.RawEvent) (types.InputEvent, bool) {
	switch ev.Kind {
	case protocol.RawEncoderRotate:
		if int(ev.Index) >= k.Layout.Encoders {
			return types.InputEvent{}, false
		}
		action := types.ActionRotateLeft
		if ev.Right {
			action = types.ActionRotateRight
		}
		return types.InputEvent{Device: id, Kind: types.InputEncoder, Index: int(ev.Index), Action: action}, true

	case protocol.RawEncoderPress:
		// A press on an encoder is an ordinary down/up, never conflated
		// with rotation.
		if int(ev.Index) >= k.Layout.Encoders {
			return types.InputEvent{}, false
		}
		return types.InputEvent{Device: id, Kind: types.InputEncoder, Index: int(ev.Index), Action: pressAction(ev.Pressed)}, true

	default:
		canonical, ok := toCanonicalKey(k, ev.Index)
		if !ok {
			return types.InputEvent{}, false
		}
		return types.InputEvent{Device: id, Kind: types.InputKey, Index: canonical, Action: pressAction(ev.Pressed)}, true
	}
}

func pressAction(pressed bool) types.Action {
	if pressed {
		return types.ActionDown
	}
	return types.ActionUp
}

func toCanonicalKey(k catalog.Kind, raw uint8) (int, bool) {
	switch k.Version {
	case catalog.V3:
		switch {
		case raw >= n1TopLCDFirst && raw <= n1TopLCDLast:
			return int(raw - n1TopLCDFirst), true
		case raw >= 1 && raw <= 15:
			// Main grid starts below the LCD strip row.
			return int(raw) + k.Layout.Cols - 1, true
		default:
			// Face buttons and anything else have no canonical slot.
			return 0, false
		}
	default:
		if raw < 1 || int(raw) > k.Layout.Keys() {
			return 0, false
		}
		return rawToCanonical3x6[raw-1], true
	}
}

// ToRawIndex returns the zero-based wire slot used when addressing images
// to a canonical key. It is the inverse of the key mapping in ToAbstract:
// the slot's input number on the wire is ToRawIndex(k, c)+1.
func ToRawIndex(k catalog.Kind, canonical int) (uint8, bool) {
	if canonical < 0 || canonical >= k.Layout.Keys() {
		return 0, false
	}
	switch k.Version {
	case catalog.V3:
		if canonical < k.Layout.Cols {
			return uint8(n1TopLCDFirst - 1 + canonical), true
		}
		return uint8(canonical - k.Layout.Cols), true
	default:
		return canonicalToRaw3x6[canonical], true
	}
}
