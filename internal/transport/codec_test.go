package transport

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/glimmer/internal/light"
)

type recordingClient struct {
	payloads [][]byte
}

func (r *recordingClient) DisplayFrame(_ context.Context, payload []byte) error {
	r.payloads = append(r.payloads, append([]byte(nil), payload...))
	return nil
}

func (r *recordingClient) Close() error { return nil }

func TestGamma_Curve(t *testing.T) {
	assert.Equal(t, uint8(0), Gamma(0))
	assert.Equal(t, uint8(255), Gamma(255))
	assert.Equal(t, uint8(64), Gamma(128))
	assert.Equal(t, uint8(0), Gamma(15))

	for c := 1; c < 256; c++ {
		assert.GreaterOrEqual(t, Gamma(uint8(c)), Gamma(uint8(c-1)), "gamma must be monotonic at %d", c)
	}
}

func TestEncode_ByteOrder(t *testing.T) {
	frame := light.Frame{{R: 255, G: 128, B: 0}, {R: 0, G: 255, B: 128}}

	assert.Equal(t, []byte{255, 64, 0, 0, 255, 64}, Encode(frame, RGB))
	assert.Equal(t, []byte{64, 255, 0, 255, 0, 64}, Encode(frame, GRB))
}

func TestPacket_RoundTrip(t *testing.T) {
	frame := make(light.Frame, 300)
	for i := range frame {
		frame[i] = light.Pixel{R: uint8(i), G: uint8(i * 3), B: uint8(255 - i%256)}
	}

	var wire bytes.Buffer
	for _, order := range []ByteOrder{RGB, GRB} {
		packet, err := AppendPacket(nil, Encode(frame, order))
		require.NoError(t, err)
		wire.Write(packet)
	}

	for _, order := range []ByteOrder{RGB, GRB} {
		payload, err := ReadPacket(&wire)
		require.NoError(t, err)
		require.Len(t, payload, len(frame)*3)

		for i, p := range frame {
			got := payload[i*3 : i*3+3]
			want := []byte{Gamma(p.R), Gamma(p.G), Gamma(p.B)}
			if order == GRB {
				want = []byte{Gamma(p.G), Gamma(p.R), Gamma(p.B)}
			}
			assert.Equal(t, want, got, "pixel %d in %s", i, order)
		}
	}
	assert.Equal(t, Encode(frame, RGB), Encode(frame, RGB))
}

func TestAppendPacket_LittleEndianPrefix(t *testing.T) {
	packet, err := AppendPacket(nil, make([]byte, 0x0102))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01}, packet[:2])

	_, err = AppendPacket(nil, make([]byte, MaxPayload+1))
	assert.Error(t, err)
}

func TestByteOrderAdapter_EncodesFrames(t *testing.T) {
	rec := &recordingClient{}
	a := NewByteOrderAdapter(rec, GRB)

	require.NoError(t, a.DisplayFrame(context.Background(), light.Frame{{R: 255, G: 0, B: 0}}))
	require.Len(t, rec.payloads, 1)
	assert.Equal(t, []byte{0, 255, 0}, rec.payloads[0])
}

func TestParseByteOrder(t *testing.T) {
	order, err := ParseByteOrder("GRB")
	require.NoError(t, err)
	assert.Equal(t, GRB, order)

	order, err = ParseByteOrder("")
	require.NoError(t, err)
	assert.Equal(t, RGB, order)

	_, err = ParseByteOrder("bgr")
	assert.Error(t, err)
}
