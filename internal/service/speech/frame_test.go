package speech

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestFrameLayout(t *testing.T) {
	raw := newRequestFrame([]byte(`{"a":1}`)).encode()

	require.Equal(t, []byte{0x11, 0x10, 0x10, 0x00}, raw[:4])
	require.Equal(t, []byte{0, 0, 0, 7}, raw[4:8])
	require.Equal(t, `{"a":1}`, string(raw[8:]))
}

func TestFrameRoundTripWithEventAndSequence(t *testing.T) {
	in := &frame{
		kind:          frameFullServerReply,
		flags:         flagWithEvent | flagNegativeSequence,
		serialization: serializationJSON,
		sequence:      -3,
		event:         eventSessionFinished,
		sessionID:     "sess",
		payload:       []byte(`{}`),
	}

	out, err := decodeFrame(in.encode())
	require.NoError(t, err)
	require.Equal(t, frameFullServerReply, out.kind)
	require.EqualValues(t, -3, out.sequence)
	require.Equal(t, eventSessionFinished, out.event)
	require.Equal(t, "sess", out.sessionID)
	require.True(t, out.last())
	require.Equal(t, `{}`, string(out.payload))
}

func TestConnectionEventCarriesConnectIDOnly(t *testing.T) {
	in := &frame{kind: frameFullServerReply, flags: flagWithEvent, event: eventConnectionStarted, connectID: "c-1"}
	out, err := decodeFrame(in.encode())
	require.NoError(t, err)
	require.Equal(t, "c-1", out.connectID)
	require.Empty(t, out.sessionID)
	require.False(t, out.last())
}

func TestErrorFrameAndGzipBody(t *testing.T) {
	var zipped bytes.Buffer
	zw := gzip.NewWriter(&zipped)
	_, err := zw.Write([]byte("quota exceeded"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	in := &frame{kind: frameError, compression: compressionGzip, errorCode: 45000001, payload: zipped.Bytes()}
	out, err := decodeFrame(in.encode())
	require.NoError(t, err)
	require.EqualValues(t, 45000001, out.errorCode)

	body, err := out.body()
	require.NoError(t, err)
	require.Equal(t, "quota exceeded", string(body))
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := decodeFrame([]byte{0x11, 0x90})
	require.Error(t, err)

	_, err = decodeFrame([]byte{0x21, 0x90, 0x10, 0x00, 0, 0, 0, 0})
	require.Error(t, err)

	_, err = decodeFrame([]byte{0x11, 0x90, 0x10, 0x00, 0, 0, 0, 9, 'x'})
	require.Error(t, err)
}
