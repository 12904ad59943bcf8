package plugin

// Event names of the host protocol. Outbound events flow core → host,
// inbound events are requests the core serves.
const (
	// Outbound
	EventRegisterDevice   = "registerDevice"
	EventDeregisterDevice = "deregisterDevice"
	EventKeyDown          = "keyDown"
	EventKeyUp            = "keyUp"
	EventEncoderDown      = "encoderDown"
	EventEncoderUp        = "encoderUp"
	EventEncoderChange    = "encoderChange"

	// Inbound
	EventSetImage      = "setImage"
	EventSetBrightness = "setBrightness"
)

// Message is one JSON frame in either direction. Fields are a union over
// all event types; omitempty keeps the wire noise down.
type Message struct {
	Event  string `json:"event"`
	Device string `json:"device,omitempty"`

	// registerDevice
	Name     string `json:"name,omitempty"`
	Rows     int    `json:"rows,omitempty"`
	Columns  int    `json:"columns,omitempty"`
	Encoders int    `json:"encoders,omitempty"`

	// key and encoder events; pointers distinguish "absent" from zero
	Position *int `json:"position,omitempty"`
	Encoder  *int `json:"encoder,omitempty"`
	Ticks    int  `json:"ticks,omitempty"`

	// setImage: data URL payload; empty image means clear, absent
	// position means the whole panel
	Image string `json:"image,omitempty"`

	// setBrightness
	Brightness *int `json:"brightness,omitempty"`
}

func intPtr(v int) *int { return &v }
