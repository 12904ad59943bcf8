package types

import (
	"fmt"

	"github.com/opendeck-tools/deckd/internal/catalog"
)

// Identity is the stable key addressing one physical device session:
// kind tag + serial number, plus a disambiguating suffix when several
// units report the same serial. Unique among connected devices.
type Identity string

// InputKind distinguishes the two input classes a deck exposes.
type InputKind int

const (
	InputKey InputKind = iota
	InputEncoder
)

func (k InputKind) String() string {
	if k == InputEncoder {
		return "encoder"
	}
	return "key"
}

// Action is what happened to an input.
type Action int

const (
	ActionDown Action = iota
	ActionUp
	ActionRotateLeft
	ActionRotateRight
)

func (a Action) String() string {
	switch a {
	case ActionDown:
		return "down"
	case ActionUp:
		return "up"
	case ActionRotateLeft:
		return "rotate_left"
	case ActionRotateRight:
		return "rotate_right"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// InputEvent is a physical action in canonical coordinates. Indexes are
// zero-based and independent of the wire protocol, so consumers never see
// raw device indices.
type InputEvent struct {
	Device Identity
	Kind   InputKind
	Index  int
	Action Action
}

// Candidate is a discovered but not yet connected device: the HID path to
// open plus the catalog entry it matched. Produced by the watcher and
// consumed immediately by a session manager, or dropped.
type Candidate struct {
	Path      string
	Serial    string
	UsagePage uint16
	Usage     uint16
	Kind      catalog.Kind
}
