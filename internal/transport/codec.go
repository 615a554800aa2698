package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/ayusman/glimmer/internal/light"
)

// MaxPayload is the largest payload the 16 bit length prefix can describe.
const MaxPayload = math.MaxUint16

// ByteOrder is the component order a strip expects.
type ByteOrder int

// Byte orders.
const (
	RGB ByteOrder = iota
	GRB
)

func (o ByteOrder) String() string {
	if o == GRB {
		return "grb"
	}
	return "rgb"
}

// ParseByteOrder parses "rgb" or "grb". The empty string means RGB.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "rgb":
		return RGB, nil
	case "grb":
		return GRB, nil
	default:
		return RGB, fmt.Errorf("unknown byte order %q", s)
	}
}

// gamma maps a component to (c/255)^2 * 255, truncated.
var gamma [256]byte

func init() {
	for c := range gamma {
		v := float64(c) / 255
		gamma[c] = byte(v * v * 255)
	}
}

// Gamma returns the gamma corrected value of one component.
func Gamma(c uint8) uint8 {
	return gamma[c]
}

// Encode converts a frame into the pixel payload: three gamma corrected
// bytes per light in the given order, no padding.
func Encode(frame light.Frame, order ByteOrder) []byte {
	out := make([]byte, 0, len(frame)*3)
	for _, p := range frame {
		if order == GRB {
			out = append(out, gamma[p.G], gamma[p.R], gamma[p.B])
		} else {
			out = append(out, gamma[p.R], gamma[p.G], gamma[p.B])
		}
	}
	return out
}

// AppendPacket appends the little-endian u16 length prefix and payload to dst.
func AppendPacket(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return dst, fmt.Errorf("payload of %d bytes exceeds %d byte frame limit", len(payload), MaxPayload)
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(payload)))
	return append(dst, payload...), nil
}

// ReadPacket reads one length prefixed packet from r.
func ReadPacket(r io.Reader) ([]byte, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.LittleEndian.Uint16(prefix[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read packet payload: %w", err)
	}
	return payload, nil
}

// ByteOrderAdapter turns a payload Client into a frame Sink.
type ByteOrderAdapter struct {
	client Client
	order  ByteOrder
}

// NewByteOrderAdapter wraps client so it accepts frames encoded in order.
func NewByteOrderAdapter(client Client, order ByteOrder) *ByteOrderAdapter {
	return &ByteOrderAdapter{client: client, order: order}
}

// DisplayFrame encodes frame and hands it to the wrapped client.
func (a *ByteOrderAdapter) DisplayFrame(ctx context.Context, frame light.Frame) error {
	return a.client.DisplayFrame(ctx, Encode(frame, a.order))
}

// EndpointStatus reports the wrapped client's health when it tracks one.
func (a *ByteOrderAdapter) EndpointStatus() (EndpointStatus, bool) {
	if r, ok := a.client.(interface{ EndpointStatus() EndpointStatus }); ok {
		return r.EndpointStatus(), true
	}
	return EndpointStatus{}, false
}

// Close closes the wrapped client.
func (a *ByteOrderAdapter) Close() error {
	return a.client.Close()
}
