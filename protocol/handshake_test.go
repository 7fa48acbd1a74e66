package protocol

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Handshake
	}{
		{"initiate v4", NewInitiate(netip.MustParseAddrPort("127.0.0.1:40001"))},
		{"initiate v6", NewInitiate(netip.MustParseAddrPort("[::1]:40002"))},
		{"granted", NewGranted(netip.MustParseAddrPort("10.0.0.5:51234"), 42069)},
		{"refused", NewRefused(ReasonLobbyFull)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := SerializeHandshake(tt.msg)
			require.NoError(t, err)

			parsed, err := ParseHandshake(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, parsed)
		})
	}
}

func TestSerializeHandshakeRejectsInvalid(t *testing.T) {
	_, err := SerializeHandshake(nil)
	assert.Error(t, err)

	_, err = SerializeHandshake(&Handshake{Version: Version, Kind: 42})
	assert.Error(t, err)

	_, err = SerializeHandshake(NewInitiate(netip.AddrPort{}))
	assert.Error(t, err)
}

func TestParseHandshakeTruncated(t *testing.T) {
	data, err := SerializeHandshake(NewGranted(netip.MustParseAddrPort("[2001:db8::1]:9"), 7))
	require.NoError(t, err)

	for n := 0; n < len(data); n++ {
		_, err := ParseHandshake(data[:n])
		assert.ErrorIs(t, err, ErrMalformed, "prefix of %d bytes", n)
	}
}

func TestParseHandshakeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"unknown kind", []byte{byte(Version), 0, 9}},
		{"bad family", []byte{byte(Version), 0, byte(HandshakeInitiate), 5, 1, 2, 3, 4, 0, 0}},
		{"trailing bytes", []byte{byte(Version), 0, byte(HandshakeRefused), 1, 0, 0, 0, 0xAA}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHandshake(tt.data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestParseHandshakeVersionMismatch(t *testing.T) {
	data, err := SerializeHandshake(NewInitiate(netip.MustParseAddrPort("127.0.0.1:1")))
	require.NoError(t, err)
	binary.LittleEndian.PutUint16(data[0:2], Version+3)

	parsed, err := ParseHandshake(data)
	assert.ErrorIs(t, err, ErrVersionMismatch)
	require.NotNil(t, parsed)
	assert.Equal(t, HandshakeInitiate, parsed.Kind)
	assert.Equal(t, Version+3, parsed.Version)
}
