package rtmp

import (
	"fmt"
	"io"
	"net"
)

// ServeFakeIngest drives the handshake plus the connect/createStream/publish
// control sequence over conn far enough for a real Client.Connect to
// complete successfully, standing in for an ingest endpoint. It exists so
// other packages' tests can exercise a genuine Client reaching a live
// publish over an in-memory net.Pipe without a real socket; production
// code never calls it.
func ServeFakeIngest(conn net.Conn, streamID uint32) error {
	if err := serveFakeHandshake(conn); err != nil {
		return fmt.Errorf("rtmp: fake ingest handshake: %w", err)
	}

	cr := newChunkReader(conn)
	cw := newChunkWriter(conn)

	msg, err := cr.readMessage() // connect
	if err != nil {
		return err
	}
	values, err := decodeAMF0(msg.payload)
	if err != nil {
		return err
	}
	if err := sendAMF0Result(cw, values[1], map[string]interface{}{
		"level": "status", "code": "NetConnection.Connect.Success",
	}); err != nil {
		return err
	}

	if _, err := cr.readMessage(); err != nil { // releaseStream
		return err
	}
	if _, err := cr.readMessage(); err != nil { // FCPublish
		return err
	}

	msg, err = cr.readMessage() // createStream
	if err != nil {
		return err
	}
	values, err = decodeAMF0(msg.payload)
	if err != nil {
		return err
	}
	payload, err := encodeAMF0("_result", values[1], nil, float64(streamID))
	if err != nil {
		return err
	}
	if err := cw.writeMessage(csidCommand, msgTypeCommandAMF0, 0, 0, payload); err != nil {
		return err
	}

	if _, err := cr.readMessage(); err != nil { // publish
		return err
	}
	onStatus, err := encodeAMF0("onStatus", float64(0), nil, map[string]interface{}{
		"level": "status",
		"code":  "NetStream.Publish.Start",
	})
	if err != nil {
		return err
	}
	if err := cw.writeMessage(csidCommand, msgTypeCommandAMF0, streamID, 0, onStatus); err != nil {
		return err
	}

	_, _ = cr.readMessage() // the client's own SetChunkSize
	return nil
}

func sendAMF0Result(cw *chunkWriter, txn interface{}, info map[string]interface{}) error {
	payload, err := encodeAMF0("_result", txn, nil, info)
	if err != nil {
		return err
	}
	return cw.writeMessage(csidCommand, msgTypeCommandAMF0, 0, 0, payload)
}

func serveFakeHandshake(rw io.ReadWriter) error {
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
	_, err := io.ReadFull(rw, c2)
	return err
}
