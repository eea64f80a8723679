package rtmp

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcaster/internal/metrics"
)

// serverHandshake mirrors handshake() for the server side of the test's
// fake RTMP endpoint: read C0/C1 first, then write S0/S1/S2, then read C2.
// Production code never plays this role; the real ingest server does.
func serverHandshake(rw io.ReadWriter) error {
	c0 := make([]byte, 1)
	if _, err := io.ReadFull(rw, c0); err != nil {
		return err
	}
	c1 := make([]byte, handshakePacketLen)
	if _, err := io.ReadFull(rw, c1); err != nil {
		return err
	}

	if _, err := rw.Write([]byte{handshakeVersion}); err != nil {
		return err
	}
	s1 := make([]byte, handshakePacketLen)
	copy(s1, c1)
	if _, err := rw.Write(s1); err != nil {
		return err
	}
	s2 := make([]byte, handshakePacketLen)
	copy(s2, c1)
	if _, err := rw.Write(s2); err != nil {
		return err
	}

	c2 := make([]byte, handshakePacketLen)
	if _, err := io.ReadFull(rw, c2); err != nil {
		return err
	}
	return nil
}

// fakeServer speaks just enough of the handshake and control sequence for
// Client.Connect to complete, standing in for the real ingest endpoint
// (an external collaborator out of scope for this module).
func fakeServer(t *testing.T, conn net.Conn, streamID float64) {
	t.Helper()

	if err := serverHandshake(conn); err != nil {
		t.Errorf("fakeServer: handshake: %v", err)
		return
	}

	cr := newChunkReader(conn)
	cw := newChunkWriter(conn)

	// connect
	msg, err := cr.readMessage()
	require.NoError(t, err)
	values, err := decodeAMF0(msg.payload)
	require.NoError(t, err)
	require.Equal(t, "connect", values[0])
	connectTxn := values[1]
	sendResult(t, cw, connectTxn, map[string]interface{}{"level": "status", "code": "NetConnection.Connect.Success"})

	// releaseStream, FCPublish: drain without responding
	_, err = cr.readMessage()
	require.NoError(t, err)
	_, err = cr.readMessage()
	require.NoError(t, err)

	// createStream
	msg, err = cr.readMessage()
	require.NoError(t, err)
	values, err = decodeAMF0(msg.payload)
	require.NoError(t, err)
	require.Equal(t, "createStream", values[0])
	createTxn := values[1]
	payload, err := encodeAMF0("_result", createTxn, nil, streamID)
	require.NoError(t, err)
	require.NoError(t, cw.writeMessage(csidCommand, msgTypeCommandAMF0, 0, 0, payload))

	// publish
	msg, err = cr.readMessage()
	require.NoError(t, err)
	values, err = decodeAMF0(msg.payload)
	require.NoError(t, err)
	require.Equal(t, "publish", values[0])
	onStatus, err := encodeAMF0("onStatus", float64(0), nil, map[string]interface{}{
		"level": "status",
		"code":  "NetStream.Publish.Start",
	})
	require.NoError(t, err)
	require.NoError(t, cw.writeMessage(csidCommand, msgTypeCommandAMF0, uint32(streamID), 0, onStatus))

	// SetChunkSize
	_, _ = cr.readMessage()
}

func sendResult(t *testing.T, cw *chunkWriter, txn interface{}, info map[string]interface{}) {
	t.Helper()
	payload, err := encodeAMF0("_result", txn, nil, info)
	require.NoError(t, err)
	require.NoError(t, cw.writeMessage(csidCommand, msgTypeCommandAMF0, 0, 0, payload))
}

func TestClientConnectCompletesControlSequence(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		fakeServer(t, serverConn, 5)
	}()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(metrics.NewProm(reg), 30, 3000)
	c := New("rtmp://example.invalid/live", "streamkey123", nil, collector)
	c.dialer = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return clientConn, nil
	}

	err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(5), c.msgSID)

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fake server did not finish the control sequence")
	}
}

func TestConnectAppliesServerSentSetChunkSize(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		_ = serverHandshake(serverConn)
		cr := newChunkReader(serverConn)
		cw := newChunkWriter(serverConn)

		msg, _ := cr.readMessage() // connect
		values, _ := decodeAMF0(msg.payload)
		sendResult(t, cw, values[1], map[string]interface{}{"code": "NetConnection.Connect.Success"})

		_, _ = cr.readMessage() // releaseStream
		_, _ = cr.readMessage() // FCPublish

		msg, _ = cr.readMessage() // createStream
		values, _ = decodeAMF0(msg.payload)

		// Inject a server-originated SetChunkSize ahead of the _result the
		// client is actually waiting on, the way a real ingest server can.
		var scs [4]byte
		scs[2] = 0x04
		scs[3] = 0x00 // 1024
		_ = cw.writeMessage(csidProtocolControl, msgTypeSetChunkSize, 0, 0, scs[:])

		payload, _ := encodeAMF0("_result", values[1], nil, float64(7))
		_ = cw.writeMessage(csidCommand, msgTypeCommandAMF0, 0, 0, payload)

		_, _ = cr.readMessage() // publish
		onStatus, _ := encodeAMF0("onStatus", float64(0), nil, map[string]interface{}{
			"level": "status",
			"code":  "NetStream.Publish.Start",
		})
		_ = cw.writeMessage(csidCommand, msgTypeCommandAMF0, 7, 0, onStatus)

		_, _ = cr.readMessage() // client's own SetChunkSize
	}()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(metrics.NewProm(reg), 30, 3000)
	c := New("rtmp://example.invalid/live", "streamkey123", nil, collector)
	c.dialer = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return clientConn, nil
	}

	err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1024, c.cr.chunkSize)
}

func TestClientConnectFailsOnPublishRejection(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		_ = serverHandshake(serverConn)
		cr := newChunkReader(serverConn)
		cw := newChunkWriter(serverConn)

		msg, _ := cr.readMessage()
		values, _ := decodeAMF0(msg.payload)
		sendResult(t, cw, values[1], map[string]interface{}{"code": "NetConnection.Connect.Success"})

		_, _ = cr.readMessage() // releaseStream
		_, _ = cr.readMessage() // FCPublish

		msg, _ = cr.readMessage() // createStream
		values, _ = decodeAMF0(msg.payload)
		payload, _ := encodeAMF0("_result", values[1], nil, float64(1))
		_ = cw.writeMessage(csidCommand, msgTypeCommandAMF0, 0, 0, payload)

		_, _ = cr.readMessage() // publish
		onStatus, _ := encodeAMF0("onStatus", float64(0), nil, map[string]interface{}{
			"level": "error",
			"code":  "NetStream.Publish.BadName",
		})
		_ = cw.writeMessage(csidCommand, msgTypeCommandAMF0, 1, 0, onStatus)
	}()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(metrics.NewProm(reg), 30, 3000)
	c := New("rtmp://example.invalid/live", "bad key", nil, collector)
	c.dialer = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return clientConn, nil
	}

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishRejected)
}

func TestHandshakeRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverErr := make(chan error, 1)
	go func() { serverErr <- serverHandshake(serverConn) }()

	err := handshake(clientConn)
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
}

func TestChunkWriterReaderRoundTripsSmallMessage(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cw := newChunkWriter(clientConn)
	payload := []byte("hello rtmp")

	go func() {
		_ = cw.writeMessage(csidCommand, msgTypeCommandAMF0, 1, 42, payload)
	}()

	cr := newChunkReader(serverConn)
	msg, err := cr.readMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, msg.payload)
	assert.Equal(t, byte(msgTypeCommandAMF0), msg.typeID)
	assert.Equal(t, uint32(1), msg.streamID)
	assert.Equal(t, uint32(42), msg.timestamp)
}

func TestChunkWriterSplitsPayloadAcrossChunkSize(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cw := newChunkWriter(clientConn)
	cw.setChunkSize(16)
	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}

	go func() {
		_ = cw.writeMessage(csidVideo, msgTypeVideo, 1, 0, payload)
	}()

	cr := newChunkReader(serverConn)
	cr.setChunkSize(16)
	msg, err := cr.readMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, msg.payload)
}

func TestAMF0RoundTripsCommandSequence(t *testing.T) {
	obj := newAMFObject().set("app", "live").set("capabilities", float64(15))
	encoded, err := encodeAMF0("connect", float64(1), obj, "extra-arg", true)
	require.NoError(t, err)

	values, err := decodeAMF0(encoded)
	require.NoError(t, err)
	require.Len(t, values, 5)
	assert.Equal(t, "connect", values[0])
	assert.Equal(t, float64(1), values[1])

	decodedObj, ok := values[2].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "live", decodedObj["app"])
	assert.Equal(t, float64(15), decodedObj["capabilities"])

	assert.Equal(t, "extra-arg", values[3])
	assert.Equal(t, true, values[4])
}

func TestAMF0DecodeEmptyPayloadReturnsNoValues(t *testing.T) {
	values, err := decodeAMF0(nil)
	require.NoError(t, err)
	assert.Empty(t, values)
}
