// Package plugin speaks the host automation application's WebSocket
// protocol: it announces devices and their inputs, and serves the host's
// set-image and set-brightness requests by routing them through the
// registry.
package plugin

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vincent-petithory/dataurl"
	"go.uber.org/zap"

	"github.com/opendeck-tools/deckd/internal/catalog"
	"github.com/opendeck-tools/deckd/internal/registry"
	"github.com/opendeck-tools/deckd/internal/types"
)

const (
	writeWait      = 10 * time.Second
	requestTimeout = 5 * time.Second
	sendBufferSize = 256
)

// Client maintains one connection to the host, reconnecting with a fixed
// backoff for as long as it runs. It implements session.Host.
type Client struct {
	url       string
	reconnect time.Duration
	reg       *registry.Registry
	logger    *zap.Logger

	send     chan Message
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewClient(url string, reconnect time.Duration, reg *registry.Registry, logger *zap.Logger) *Client {
	return &Client{
		url:       url,
		reconnect: reconnect,
		reg:       reg,
		logger:    logger,
		send:      make(chan Message, sendBufferSize),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the connection loop.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop closes the link and waits for the loops to finish.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := c.session(ctx); err != nil {
			c.logger.Warn("Host link lost", zap.Error(err))
		}

		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(c.reconnect):
		}
	}
}

// session runs one connected episode: a writer draining the send queue
// and a reader dispatching host requests.
func (c *Client) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.logger.Info("Connected to host", zap.String("url", c.url))

	// Announce everything already running; the host may have restarted.
	for _, s := range c.reg.List() {
		c.enqueue(registerMessage(s.Identity(), s.Kind()))
	}

	errc := make(chan error, 2)
	sessionDone := make(chan struct{})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-sessionDone:
				errc <- nil
				return
			case <-c.stopChan:
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				errc <- nil
				return
			case msg := <-c.send:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					errc <- err
					return
				}
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				errc <- err
				return
			}
			c.dispatch(ctx, msg)
		}
	}()

	err = <-errc
	conn.Close()
	close(sessionDone)
	// Unblock whichever loop is still running.
	<-errc
	return err
}

// dispatch serves one inbound host request. Rejections are routine and
// only logged; the protocol has no reply channel for them.
func (c *Client) dispatch(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	id := types.Identity(msg.Device)

	var err error
	switch msg.Event {
	case EventSetImage:
		switch {
		case msg.Position == nil:
			err = c.reg.ClearImage(ctx, id, -1)
		case msg.Image == "":
			err = c.reg.ClearImage(ctx, id, *msg.Position)
		default:
			var data []byte
			data, err = decodeImagePayload(msg.Image)
			if err == nil {
				err = c.reg.SetImage(ctx, id, *msg.Position, data)
			}
		}
	case EventSetBrightness:
		percent := 0
		if msg.Brightness != nil {
			percent = *msg.Brightness
		}
		err = c.reg.SetBrightness(ctx, id, percent)
	default:
		c.logger.Debug("Unhandled host event", zap.String("event", msg.Event))
		return
	}

	if err != nil {
		if errors.Is(err, types.ErrUnknownDevice) {
			// Late commands for unplugged devices are expected.
			c.logger.Debug("Request for unknown device", zap.String("device", msg.Device))
			return
		}
		c.logger.Error("Host request rejected",
			zap.String("event", msg.Event),
			zap.String("device", msg.Device),
			zap.Error(err))
	}
}

// decodeImagePayload unwraps the data URL the host transmits images in.
func decodeImagePayload(payload string) ([]byte, error) {
	du, err := dataurl.DecodeString(payload)
	if err != nil {
		return nil, types.ErrUnsupportedFormat
	}
	return du.Data, nil
}

// enqueue sends without blocking device loops; if the host cannot keep up
// the event is dropped.
func (c *Client) enqueue(msg Message) {
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("Host send queue full, dropping event",
			zap.String("event", msg.Event))
	}
}

func registerMessage(id types.Identity, kind catalog.Kind) Message {
	return Message{
		Event:    EventRegisterDevice,
		Device:   string(id),
		Name:     kind.Name,
		Rows:     kind.Layout.Rows,
		Columns:  kind.Layout.Cols,
		Encoders: kind.Layout.Encoders,
	}
}

// DeviceConnected implements session.Host.
func (c *Client) DeviceConnected(id types.Identity, kind catalog.Kind) {
	c.enqueue(registerMessage(id, kind))
}

// DeviceDisconnected implements session.Host.
func (c *Client) DeviceDisconnected(id types.Identity) {
	c.enqueue(Message{Event: EventDeregisterDevice, Device: string(id)})
}

// InputEvent implements session.Host.
func (c *Client) InputEvent(ev types.InputEvent) {
	msg := Message{Device: string(ev.Device)}
	switch ev.Kind {
	case types.InputEncoder:
		msg.Encoder = intPtr(ev.Index)
		switch ev.Action {
		case types.ActionDown:
			msg.Event = EventEncoderDown
		case types.ActionUp:
			msg.Event = EventEncoderUp
		case types.ActionRotateLeft:
			msg.Event = EventEncoderChange
			msg.Ticks = -1
		case types.ActionRotateRight:
			msg.Event = EventEncoderChange
			msg.Ticks = 1
		}
	default:
		msg.Position = intPtr(ev.Index)
		if ev.Action == types.ActionDown {
			msg.Event = EventKeyDown
		} else {
			msg.Event = EventKeyUp
		}
	}
	c.enqueue(msg)
}
