package stream

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	stderrors "errors"

	"lumen-core/internal/errors"
	"lumen-core/internal/packet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeStreams(t *testing.T, codec *packet.Codec) (*FrameStream, *FrameStream) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	server := NewFrameStream(serverConn, codec, context.Background())
	client := NewFrameStream(clientConn, codec, context.Background())
	t.Cleanup(func() {
		server.CloseWithError()
		client.CloseWithError()
	})
	return server, client
}

func TestFrameStream_RoundTrip(t *testing.T) {
	server, client := pipeStreams(t, nil)

	go func() {
		_ = client.WriteFrame(&packet.ServicePayload{ServiceID: 3, Sequence: 7, Payload: []byte("payload")})
		_ = client.WriteFrame(&packet.Ping{})
	}()

	frame, err := server.ReadFrame()
	require.NoError(t, err)
	sp, ok := frame.(*packet.ServicePayload)
	require.True(t, ok)
	assert.Equal(t, uint32(3), sp.ServiceID)
	assert.Equal(t, uint64(7), sp.Sequence)
	assert.Equal(t, []byte("payload"), sp.Payload)

	// 同一连接上帧按写入顺序交付
	frame, err = server.ReadFrame()
	require.NoError(t, err)
	require.IsType(t, &packet.Ping{}, frame)
}

func TestFrameStream_DeclaredLengthTooLarge(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	server := NewFrameStream(serverConn, packet.NewCodec(64), context.Background())
	defer server.CloseWithError()
	defer clientConn.Close()

	go func() {
		header := make([]byte, packet.LengthPrefixSize)
		binary.BigEndian.PutUint32(header, 1<<20)
		_, _ = clientConn.Write(header)
	}()

	_, err := server.ReadFrame()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrFrameTooLarge))
}

func TestFrameStream_ZeroLengthFrame(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	server := NewFrameStream(serverConn, nil, context.Background())
	defer server.CloseWithError()
	defer clientConn.Close()

	go func() {
		_, _ = clientConn.Write(make([]byte, packet.LengthPrefixSize))
	}()

	_, err := server.ReadFrame()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMalformedFrame))
}

func TestFrameStream_PeerClosed(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	server := NewFrameStream(serverConn, nil, context.Background())
	defer server.CloseWithError()

	go func() {
		time.Sleep(10 * time.Millisecond)
		clientConn.Close()
	}()

	_, err := server.ReadFrame()
	require.Error(t, err)
	var transportErr *errors.TransportError
	assert.True(t, stderrors.As(err, &transportErr))
}

func TestFrameStream_ClosedStream(t *testing.T) {
	server, _ := pipeStreams(t, nil)
	server.CloseWithError()

	_, err := server.ReadFrame()
	assert.ErrorIs(t, err, errors.ErrStreamClosed)

	err = server.WriteFrame(&packet.Ping{})
	assert.ErrorIs(t, err, errors.ErrStreamClosed)
}
