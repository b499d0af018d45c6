package probe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := encodeRequest("abc123")
	require.Equal(t, append([]byte{0xFF, 0xFF, 0xFF, 0xFF}, []byte("getinfo abc123\n")...), req)

	datagram := append([]byte{0xFF, 0xFF, 0xFF, 0xFF},
		[]byte("infoResponse\n\\hostname\\Arena\\mapname\\q3dm17\\gametype\\0\\clients\\10\\bots\\2\\sv_maxclients\\12\\sv_privateClients\\0\\challenge\\abc123")...)

	reply, err := decodeReply(datagram)
	require.NoError(t, err)
	require.Equal(t, "abc123", reply.challenge)
	require.Equal(t, "Arena", reply.fields["hostname"])
	require.Equal(t, "10", reply.fields["clients"])
}

func TestDecodeRejectsMissingPrefix(t *testing.T) {
	_, err := decodeReply([]byte("infoResponse\n\\challenge\\x"))
	require.ErrorIs(t, err, ErrMalformedReply)
}

func TestDecodeRejectsWrongToken(t *testing.T) {
	datagram := append([]byte{0xFF, 0xFF, 0xFF, 0xFF}, []byte("notinfo\n\\challenge\\x")...)
	_, err := decodeReply(datagram)
	require.ErrorIs(t, err, ErrMalformedReply)
}

func TestDecodeRejectsMissingChallenge(t *testing.T) {
	datagram := append([]byte{0xFF, 0xFF, 0xFF, 0xFF}, []byte("infoResponse\n\\hostname\\Arena")...)
	_, err := decodeReply(datagram)
	require.ErrorIs(t, err, ErrMalformedReply)
}

func TestDecodeAcceptsReplyWithoutTrailingNewline(t *testing.T) {
	// EOF-terminated replies must be accepted (spec §6).
	datagram := append([]byte{0xFF, 0xFF, 0xFF, 0xFF}, []byte("infoResponse\n\\challenge\\zzz")...)
	reply, err := decodeReply(datagram)
	require.NoError(t, err)
	require.Equal(t, "zzz", reply.challenge)
}
