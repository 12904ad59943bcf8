// Package catalog holds the static table of supported macro deck hardware.
// It is pure data plus lookups; nothing here performs I/O.
package catalog

import "time"

// Version tags the wire protocol generation a device speaks. All protocol
// branching happens inside internal/protocol; the rest of the system only
// carries the tag around.
type Version int

const (
	V1 Version = iota + 1 // legacy AKP153/HSV293S generation
	V2                    // 293SV3 / AKP153E rev2 generation
	V3                    // Ajazz N1 generation
)

// Encoding selects the on-wire bitmap encoding for key images.
type Encoding int

const (
	JPEG Encoding = iota
	BMP
)

// Rotation is applied to a key image before encoding.
type Rotation int

const (
	Rot0 Rotation = iota
	Rot90
	Rot180
	Rot270
)

// Mirror flags are applied after rotation.
type Mirror int

const (
	MirrorNone Mirror = iota
	MirrorX
	MirrorY
	MirrorBoth
)

// ImageSpec describes the exact bitmap one key expects.
type ImageSpec struct {
	Width    int
	Height   int
	Encoding Encoding
	Rotation Rotation
	Mirror   Mirror
}

// Layout describes the physical arrangement of a device in canonical
// coordinates: keys are numbered 0..Keys()-1 left to right, top to bottom.
type Layout struct {
	Rows      int
	Cols      int
	Encoders  int
	TopRowLCD bool // first canonical row is a strip of small LCD keys
}

// Keys returns the number of addressable display keys.
func (l Layout) Keys() int { return l.Rows * l.Cols }

// Kind is one catalog entry describing a supported hardware variant.
// Entries are immutable and defined at build time.
type Kind struct {
	Tag       string
	Name      string
	VendorID  uint16
	ProductID uint16
	Version   Version
	Layout    Layout

	// NeedsModeHandshake marks firmware that ignores commands until a
	// software-control mode frame has been written after connect.
	NeedsModeHandshake bool
	// SettleDelay is how long the firmware needs after the mode frame
	// before it accepts further commands.
	SettleDelay time.Duration

	// SharedSerial is non-empty for variants whose firmware reports the
	// same serial number for every unit. The watcher substitutes it
	// (plus IDSuffix) for the serial the USB stack reports, which is
	// garbage on at least one platform.
	SharedSerial string
	IDSuffix     string
}

// Vendor ids of the supported device families.
const (
	VendorAjazz      = 0x0300
	VendorMirabox    = 0x5548
	VendorMirabox2   = 0x6603
	VendorMarsGaming = 0x0b00
	VendorMadDog     = 0x0c00
	VendorRisemode   = 0x0a00
	VendorSoomfon    = 0x1500
	VendorTMICE      = 0x0500
)

// UsagePage and Usage select the vendor HID interface the decks expose
// their control endpoint on. Other interfaces of the same device (e.g. the
// keyboard emulation one) must not be opened.
const (
	UsagePage = 0xffa0
	Usage     = 0x01
)

// All v1-generation units report this serial regardless of the physical
// device, so identity has to be derived from the kind instead.
const legacySerial = "355499441494"

var (
	layout3x6 = Layout{Rows: 3, Cols: 6}
	layoutN1  = Layout{Rows: 6, Cols: 3, Encoders: 1, TopRowLCD: true}
)

var kinds = []Kind{
	{Tag: "HSV293S", Name: "Mirabox HSV293S", VendorID: VendorMirabox, ProductID: 0x6670, Version: V1, Layout: layout3x6, SharedSerial: legacySerial, IDSuffix: "293S"},
	{Tag: "HSV293SV3", Name: "Mirabox HSV293SV3", VendorID: VendorMirabox2, ProductID: 0x1014, Version: V2, Layout: layout3x6},
	{Tag: "HSV293SV3B", Name: "Mirabox HSV293SV3", VendorID: VendorMirabox2, ProductID: 0x1005, Version: V2, Layout: layout3x6},
	{Tag: "AKP153", Name: "Ajazz AKP153", VendorID: VendorMirabox, ProductID: 0x6674, Version: V1, Layout: layout3x6, SharedSerial: legacySerial, IDSuffix: "153"},
	{Tag: "AKP153E", Name: "Ajazz AKP153E", VendorID: VendorAjazz, ProductID: 0x1010, Version: V1, Layout: layout3x6, SharedSerial: legacySerial, IDSuffix: "153E"},
	{Tag: "AKP153E2", Name: "Ajazz AKP153E (rev. 2)", VendorID: VendorAjazz, ProductID: 0x3010, Version: V2, Layout: layout3x6},
	{Tag: "AKP153R", Name: "Ajazz AKP153R", VendorID: VendorAjazz, ProductID: 0x1020, Version: V1, Layout: layout3x6, SharedSerial: legacySerial, IDSuffix: "153R"},
	{Tag: "N1", Name: "Ajazz N1", VendorID: VendorAjazz, ProductID: 0x3007, Version: V3, Layout: layoutN1, NeedsModeHandshake: true, SettleDelay: 50 * time.Millisecond},
	{Tag: "MSDONE", Name: "Mars Gaming MSD-ONE", VendorID: VendorMarsGaming, ProductID: 0x1000, Version: V1, Layout: layout3x6, SharedSerial: legacySerial, IDSuffix: "MSDONE"},
	{Tag: "GK150K", Name: "Mad Dog GK150K", VendorID: VendorMadDog, ProductID: 0x1000, Version: V1, Layout: layout3x6, SharedSerial: legacySerial, IDSuffix: "GK150K"},
	{Tag: "RMV01", Name: "Risemode Vision 01", VendorID: VendorRisemode, ProductID: 0x1001, Version: V1, Layout: layout3x6, SharedSerial: legacySerial, IDSuffix: "RMV01"},
	{Tag: "SFSTC", Name: "Soomfon Stream Controller", VendorID: VendorSoomfon, ProductID: 0x3003, Version: V2, Layout: layout3x6},
	{Tag: "TMICESC", Name: "TMICE Stream Controller", VendorID: VendorTMICE, ProductID: 0x1001, Version: V1, Layout: layout3x6, SharedSerial: legacySerial, IDSuffix: "TMICESC"},
}

// Classify matches a vendor/product id pair against the catalog. Unknown
// hardware is a normal outcome during bus enumeration, not an error.
func Classify(vendorID, productID uint16) (Kind, bool) {
	for _, k := range kinds {
		if k.VendorID == vendorID && k.ProductID == productID {
			return k, true
		}
	}
	return Kind{}, false
}

// Kinds returns every catalog entry.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// ImageSpecOf returns the bitmap spec for one canonical key of a kind.
func ImageSpecOf(k Kind, canonical int) ImageSpec {
	switch k.Version {
	case V3:
		// Top row is three 64x64 LCD strips, the main grid is 96x96.
		// The N1 panel wants images unrotated and unmirrored.
		if canonical < k.Layout.Cols && k.Layout.TopRowLCD {
			return ImageSpec{Width: 64, Height: 64, Encoding: JPEG}
		}
		return ImageSpec{Width: 96, Height: 96, Encoding: JPEG}
	case V2:
		// Rightmost column panels are physically smaller on this family.
		if (canonical+1)%k.Layout.Cols == 0 {
			return ImageSpec{Width: 82, Height: 82, Encoding: JPEG, Rotation: Rot90, Mirror: MirrorBoth}
		}
		return ImageSpec{Width: 95, Height: 95, Encoding: JPEG, Rotation: Rot90, Mirror: MirrorBoth}
	default:
		return ImageSpec{Width: 85, Height: 85, Encoding: JPEG, Rotation: Rot90, Mirror: MirrorBoth}
	}
}
