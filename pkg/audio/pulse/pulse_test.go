package pulse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/capture"
)

func TestPCMDecoderCarriesOddByte(t *testing.T) {
	var d pcmDecoder

	// 0x4000 little-endian split across two writes.
	first := d.decode([]byte{0x00, 0x00, 0x00})
	require.Len(t, first, 1)
	require.Equal(t, float32(0), first[0])

	second := d.decode([]byte{0x40})
	require.Len(t, second, 1)
	require.InDelta(t, 0.5, second[0], 1e-4)
	require.Empty(t, d.carry)
}

func TestPCMDecoderEmpty(t *testing.T) {
	var d pcmDecoder
	require.Empty(t, d.decode(nil))
	require.Empty(t, d.decode([]byte{0x01}))
	require.Len(t, d.carry, 1)
}

func TestAcquireFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	_, err := (&Acquirer{}).Acquire(context.Background(), audio.Wire)
	require.Error(t, err)

	var de *capture.DeviceError
	require.True(t, errors.As(err, &de))
	require.ErrorIs(t, err, capture.ErrNoDevice)
}

func TestNewSpeakerFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	_, err := NewSpeaker("default")
	require.Error(t, err)
}
