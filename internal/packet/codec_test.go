package packet

import (
	"testing"

	stderrors "errors"

	"lumen-core/internal/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeDecode(t *testing.T, frame Frame) Frame {
	t.Helper()
	codec := NewCodec(0)

	data, err := codec.Encode(frame)
	require.NoError(t, err)

	// 去掉长度前缀后帧体应能完整还原
	decoded, err := codec.Decode(data[LengthPrefixSize:])
	require.NoError(t, err)
	return decoded
}

func TestCodec_ChallengeRoundTrip(t *testing.T) {
	nonce := make([]byte, 32)
	for i := range nonce {
		nonce[i] = byte(i)
	}
	decoded := encodeDecode(t, &Challenge{Nonce: nonce})
	require.IsType(t, &Challenge{}, decoded)
	assert.Equal(t, nonce, decoded.(*Challenge).Nonce)
}

func TestCodec_HandshakeRequestRoundTrip(t *testing.T) {
	req := &HandshakeRequest{
		Identity:  make([]byte, 32),
		Signature: make([]byte, 64),
		ServiceID: 42,
		Flags:     FlagRetry | FlagNodeClass,
	}
	req.Identity[0] = 0xAA
	req.Signature[63] = 0xBB

	decoded := encodeDecode(t, req)
	require.IsType(t, &HandshakeRequest{}, decoded)

	got := decoded.(*HandshakeRequest)
	assert.Equal(t, req.Identity, got.Identity)
	assert.Equal(t, req.Signature, got.Signature)
	assert.Equal(t, uint32(42), got.ServiceID)
	assert.True(t, got.Retry())
	assert.True(t, got.NodeClass())
}

func TestCodec_HandshakeResponseRoundTrip(t *testing.T) {
	resp := &HandshakeResponse{
		Status:    StatusOK,
		SessionID: uuid.New(),
		Token:     []byte("some.jwt.token"),
	}
	decoded := encodeDecode(t, resp)
	require.IsType(t, &HandshakeResponse{}, decoded)

	got := decoded.(*HandshakeResponse)
	assert.Equal(t, resp.Status, got.Status)
	assert.Equal(t, resp.SessionID, got.SessionID)
	assert.Equal(t, resp.Token, got.Token)
}

func TestCodec_JoinRoundTrip(t *testing.T) {
	join := &JoinRequest{
		SessionID: uuid.New(),
		Token:     []byte("token-bytes"),
	}
	decoded := encodeDecode(t, join)
	require.IsType(t, &JoinRequest{}, decoded)
	assert.Equal(t, join.SessionID, decoded.(*JoinRequest).SessionID)
	assert.Equal(t, join.Token, decoded.(*JoinRequest).Token)

	resp := encodeDecode(t, &JoinResponse{Status: StatusTokenExpired, LastSequence: 42})
	require.IsType(t, &JoinResponse{}, resp)
	assert.Equal(t, StatusTokenExpired, resp.(*JoinResponse).Status)
	assert.Equal(t, uint64(42), resp.(*JoinResponse).LastSequence)
}

func TestCodec_ServicePayloadRoundTrip(t *testing.T) {
	payload := &ServicePayload{
		ServiceID: 7,
		Sequence:  99,
		Payload:   []byte("opaque bytes"),
	}
	decoded := encodeDecode(t, payload)
	require.IsType(t, &ServicePayload{}, decoded)

	got := decoded.(*ServicePayload)
	assert.Equal(t, uint32(7), got.ServiceID)
	assert.Equal(t, uint64(99), got.Sequence)
	assert.Equal(t, payload.Payload, got.Payload)
}

func TestCodec_ControlFramesRoundTrip(t *testing.T) {
	require.IsType(t, &Ping{}, encodeDecode(t, &Ping{}))
	require.IsType(t, &Pong{}, encodeDecode(t, &Pong{}))

	decoded := encodeDecode(t, &Close{Reason: ReasonReplaced})
	require.IsType(t, &Close{}, decoded)
	assert.Equal(t, ReasonReplaced, decoded.(*Close).Reason)
}

func TestCodec_UnknownTag(t *testing.T) {
	codec := NewCodec(0)
	_, err := codec.Decode([]byte{0x7F, 0x01, 0x02})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMalformedFrame))
}

func TestCodec_TruncatedFrames(t *testing.T) {
	codec := NewCodec(0)

	// 各类帧的截断帧体都应返回 MalformedFrame，且不会panic
	cases := [][]byte{
		{},
		{byte(FrameChallenge)},
		{byte(FrameChallenge), 0x01, 0x02},
		{byte(FrameHandshakeRequest), 0x00},
		{byte(FrameHandshakeResponse)},
		{byte(FrameJoinRequest), 0x01},
		{byte(FrameJoinResponse)},
		{byte(FrameJoinResponse), 0x00, 0x01},
		{byte(FrameServicePayload), 0x00, 0x01},
		{byte(FrameClose)},
	}
	for _, data := range cases {
		_, err := codec.Decode(data)
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrMalformedFrame), "input % x", data)
	}
}

func TestCodec_TokenLengthMismatch(t *testing.T) {
	codec := NewCodec(0)

	// 声明的令牌长度与实际不符
	body := make([]byte, 1+16+2+3)
	body[0] = byte(FrameHandshakeResponse)
	body[18] = 0xFF // token length 远大于剩余字节
	_, err := codec.Decode(body)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMalformedFrame))
}

func TestCodec_OversizedFrame(t *testing.T) {
	codec := NewCodec(64)

	big := &ServicePayload{ServiceID: 1, Sequence: 1, Payload: make([]byte, 256)}
	_, err := codec.Encode(big)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrFrameTooLarge))

	data := make([]byte, 128)
	data[0] = byte(FrameServicePayload)
	_, err = codec.Decode(data)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrFrameTooLarge))
}

func TestCodec_NetworkMagicMismatch(t *testing.T) {
	codec := NewCodec(0)

	body := make([]byte, 1+6+32+64+4+1)
	body[0] = byte(FrameHandshakeRequest)
	copy(body[1:7], []byte("WRONG1"))
	_, err := codec.Decode(body)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidNetwork))
}
