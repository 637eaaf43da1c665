// Package lora provides the LoRa transport capability: send/recv over
// a half-duplex single-antenna radio, backed by an external
// concentrator bridge process reached over ZeroMQ. The radio itself
// (SPI, I2C, the physical SX130x concentrator chip) is out of scope —
// this package only owns the wire contract to that external process.
package lora

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

// Config holds the LoRa radio parameters (§6): SF7/125kHz/CR4-5 at
// 915MHz, 23dBm TX power, matching the reference gateway's
// initialize_radio() defaults.
type Config struct {
	EventURL        string // ZeroMQ SUB socket carrying received frames
	CommandURL      string // ZeroMQ REQ socket carrying send commands
	Frequency       uint32 // Hz
	SpreadingFactor uint32 // SF7-SF12
	Bandwidth       uint32 // Hz
	CodingRate      string // "4/5".."4/8"
	TxPower         int32  // dBm
}

// DefaultConfig returns the 915MHz US defaults named in spec §6.
func DefaultConfig() Config {
	return Config{
		EventURL:        "ipc:///tmp/concentratord_event",
		CommandURL:      "ipc:///tmp/concentratord_command",
		Frequency:       915000000,
		SpreadingFactor: 7,
		Bandwidth:       125000,
		CodingRate:      "4/5",
		TxPower:         23,
	}
}

// TransportBusy is returned by Send when the transport lock is already
// held by a concurrent send or recv.
type TransportBusy struct{}

func (TransportBusy) Error() string { return "lora transport busy" }

// Received is a frame pulled off the event socket along with the RSSI
// the concentrator measured for it. last_rssi is only meaningful for
// the packet it came with — it is never cached across calls.
type Received struct {
	Data []byte
	RSSI int
}

// Transport is the capability described in §4.2: send/recv mutually
// exclusive under one lock, half-duplex single antenna.
type Transport interface {
	// Send transmits data, returning TransportBusy if the transport is
	// already busy with a send or recv.
	Send(ctx context.Context, data []byte) error
	// Recv blocks for up to timeout waiting for a frame. Returns
	// (nil, false, nil) on timeout with no frame, not an error.
	Recv(ctx context.Context, timeout time.Duration) (*Received, bool, error)
	Close() error
}

// ConcentratordTransport implements Transport against an external
// concentrator bridge: a SUB socket streams received-frame events as
// JSON `{"data": "...", "rssi": -87}` objects, a REQ socket accepts
// send commands as JSON `{"data": "..."}` and replies `{"ok": true}`
// or `{"ok": false, "error": "..."}`.
type ConcentratordTransport struct {
	config Config

	mu      sync.Mutex // serializes send/recv per §4.2
	busy    bool
	eventCh chan Received
	errCh   chan error

	cmdSock zmq4.Socket

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConcentratordTransport dials both sockets and starts the event
// pump. The command socket is a REQ, so only one Send may be
// in-flight at a time — enforced by the same lock that serializes
// against Recv.
func NewConcentratordTransport(ctx context.Context, cfg Config) (*ConcentratordTransport, error) {
	cctx, cancel := context.WithCancel(ctx)

	t := &ConcentratordTransport{
		config:  cfg,
		eventCh: make(chan Received, 64),
		errCh:   make(chan error, 1),
		ctx:     cctx,
		cancel:  cancel,
	}

	eventSock := zmq4.NewSub(cctx)
	if err := eventSock.Dial(cfg.EventURL); err != nil {
		cancel()
		return nil, fmt.Errorf("dial event socket: %w", err)
	}
	if err := eventSock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		eventSock.Close()
		cancel()
		return nil, fmt.Errorf("subscribe event socket: %w", err)
	}

	cmdSock := zmq4.NewReq(cctx)
	if err := cmdSock.Dial(cfg.CommandURL); err != nil {
		eventSock.Close()
		cancel()
		return nil, fmt.Errorf("dial command socket: %w", err)
	}
	t.cmdSock = cmdSock

	t.wg.Add(1)
	go t.eventLoop(eventSock)

	return t, nil
}

func (t *ConcentratordTransport) eventLoop(sock zmq4.Socket) {
	defer t.wg.Done()
	defer sock.Close()

	for {
		msg, err := sock.Recv()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
			}
			select {
			case t.errCh <- err:
			default:
			}
			continue
		}

		ev, err := decodeEvent(msg.Bytes())
		if err != nil {
			continue
		}

		select {
		case t.eventCh <- ev:
		case <-t.ctx.Done():
			return
		default:
			// Drop on a full buffer rather than block the pump;
			// the caller's rcv_timeout means it is always polling.
		}
	}
}

// Send transmits data over the REQ command socket. The transport lock
// is held for the full request/reply round trip since REQ sockets do
// not allow a second send before the first reply arrives.
func (t *ConcentratordTransport) Send(ctx context.Context, data []byte) error {
	if !t.mu.TryLock() {
		return TransportBusy{}
	}
	defer t.mu.Unlock()

	payload, err := encodeCommand(data)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	if err := t.cmdSock.Send(zmq4.NewMsg(payload)); err != nil {
		return fmt.Errorf("send command: %w", err)
	}

	reply, err := t.cmdSock.Recv()
	if err != nil {
		return fmt.Errorf("command reply: %w", err)
	}

	return decodeCommandReply(reply.Bytes())
}

// Recv waits up to timeout for the next received frame. The transport
// lock is held for the whole wait, so a concurrent Send reports busy
// rather than blocking here.
func (t *ConcentratordTransport) Recv(ctx context.Context, timeout time.Duration) (*Received, bool, error) {
	if !t.mu.TryLock() {
		return nil, false, TransportBusy{}
	}
	defer t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-t.eventCh:
		return &ev, true, nil
	case err := <-t.errCh:
		return nil, false, err
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Close stops the event pump and releases both sockets.
func (t *ConcentratordTransport) Close() error {
	t.cancel()
	t.wg.Wait()
	return t.cmdSock.Close()
}
