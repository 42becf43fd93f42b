package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSessionRoundTrip(t *testing.T) {
	msg := StartSessionMsg{
		Challenge:    12345,
		Target:       SessionTarget{Host: "example.com", Port: 65530},
		Capabilities: Capabilities(CapSegmentation | CapRetransmissionAck),
	}
	decoded, err := DecodeStart(EncodeStartSession(msg))
	require.NoError(t, err)
	got, ok := decoded.(*StartSessionMsg)
	require.True(t, ok)
	assert.Equal(t, msg, *got)
}

func TestSessionEstablishedRoundTrip(t *testing.T) {
	msg := SessionEstablishedMsg{OrigChallenge: 99, SessionID: SessionID{Tag: 7, Pseudonym: [32]byte{1, 2, 3}}}
	decoded, err := DecodeStart(EncodeSessionEstablished(msg))
	require.NoError(t, err)
	got, ok := decoded.(*SessionEstablishedMsg)
	require.True(t, ok)
	assert.Equal(t, msg, *got)
}

func TestSessionErrorRoundTrip(t *testing.T) {
	msg := SessionErrorMsg{Challenge: 10, Reason: ReasonBusy}
	decoded, err := DecodeStart(EncodeSessionError(msg))
	require.NoError(t, err)
	got, ok := decoded.(*SessionErrorMsg)
	require.True(t, ok)
	assert.Equal(t, msg, *got)
}

func TestKeepAliveRoundTrip(t *testing.T) {
	msg := KeepAliveMsg{SessionID: SessionID{Tag: 42, Pseudonym: [32]byte{9}}, Flags: 0}
	decoded, err := DecodeStart(EncodeKeepAlive(msg))
	require.NoError(t, err)
	got, ok := decoded.(*KeepAliveMsg)
	require.True(t, ok)
	assert.Equal(t, msg, *got)
}

func TestNegotiateIsBitwiseAnd(t *testing.T) {
	requested := Capabilities(CapSegmentation | CapRetransmissionAck | CapNoRateControl)
	supported := Capabilities(CapSegmentation | CapRetransmissionNack)
	got := Negotiate(requested, supported)
	assert.True(t, got.Has(CapSegmentation))
	assert.False(t, got.Has(CapRetransmissionAck))
	assert.False(t, got.Has(CapRetransmissionNack))
}

func TestStartSessionLeavesRoomForOneSurb(t *testing.T) {
	msg := StartSessionMsg{
		Challenge: ^uint64(0),
		Target: SessionTarget{
			Host: "example-of-a-very-very-long-second-level-name.on-a-very-very-long-domain-name.info",
			Port: 65530,
		},
		Capabilities: Capabilities(CapSegmentation | CapRetransmissionAck | CapRetransmissionNack),
	}
	encoded := EncodeStartSession(msg)
	assert.True(t, FitsWithSurbs(encoded, 1))
}

func TestKeepAliveLeavesRoomForMaxSurbs(t *testing.T) {
	msg := KeepAliveMsg{SessionID: SessionID{Tag: ^uint64(0), Pseudonym: [32]byte{0xff}}}
	encoded := EncodeKeepAlive(msg)
	assert.True(t, FitsWithSurbs(encoded, MaxSurbsInPacket))
}

func TestDecodeStartRejectsShortMessage(t *testing.T) {
	_, err := DecodeStart([]byte{1})
	require.Error(t, err)
}

func TestDecodeStartRejectsUnknownVersion(t *testing.T) {
	_, err := DecodeStart([]byte{0xff, 0, 0, 0})
	require.Error(t, err)
}
