// Package rtmp implements the subset of RTMP 1.0 and FLV tag framing this
// transport needs to publish to an ingest endpoint: the plain handshake,
// the connect/createStream/publish command sequence, FLV-wrapped media
// send with a drop-by-priority outbound queue, and graceful/forced
// teardown. The TCP socket itself is the external collaborator named out
// of scope; this package only assumes a net.Conn.
package rtmp

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"time"

	"broadcaster/internal/metrics"
	"broadcaster/internal/muxer"
	"broadcaster/internal/pipeline"
	"broadcaster/pkg/models"
)

// ErrHandshakeFailed wraps any failure during the handshake or control
// sequence other than a publish rejection (see ErrPublishRejected), fatal at
// session start per the error design.
var ErrHandshakeFailed = fmt.Errorf("rtmp: handshake failed")

// ErrPublishRejected is returned when the server's onStatus response to
// publish carries an error-level code instead of NetStream.Publish.Start.
var ErrPublishRejected = fmt.Errorf("rtmp: publish rejected")

// ErrNetworkError covers a mid-session socket failure: Run returns it when a
// send fails, and Reconnect returns it when the one reconnect attempt fails.
var ErrNetworkError = fmt.Errorf("rtmp: network error")

const (
	netQueueCapacity  = 30
	reconnectWindow   = 2 * time.Second
	setChunkSizeAfter = 4096
)

// Client is the RTMP publishing transport: one instance per Live session.
type Client struct {
	rtmpURL   string
	streamKey string
	dialer    func(ctx context.Context, network, addr string) (net.Conn, error)

	conn   net.Conn
	cw     *chunkWriter
	cr     *chunkReader
	txnID  float64
	msgSID uint32

	netQueue *pipeline.Queue[models.EncodedPacket]

	requestKeyframe func()
	collector       *metrics.Collector
}

// packetLess ranks Q_net items for the drop-by-priority policy: lower
// models.Priority values are evicted first (P-frames, then audio, then
// keyframes only as a last resort), matching the transport's §4.5.5 rule.
func packetLess(a, b models.EncodedPacket) bool {
	return a.Priority < b.Priority
}

// New builds a Client targeting rtmpURL (e.g. "rtmp://host:1935/live") and
// the given stream key. requestKeyframe is invoked when the drop-by-priority
// policy evicts a keyframe, signaling the active video encoder to produce a
// fresh one at its next opportunity.
func New(rtmpURL, streamKey string, requestKeyframe func(), collector *metrics.Collector) *Client {
	c := &Client{
		rtmpURL:         rtmpURL,
		streamKey:       streamKey,
		dialer:          (&net.Dialer{}).DialContext,
		requestKeyframe: requestKeyframe,
		collector:       collector,
	}
	c.netQueue = pipeline.New[models.EncodedPacket](netQueueCapacity, pipeline.DropByPriority, 0, packetLess)
	c.netQueue.SetDropHook(c.onPacketDropped)
	return c
}

func (c *Client) onPacketDropped(pkt models.EncodedPacket) {
	c.collector.RecordNetworkDrop()
	if pkt.IsKeyframe && c.requestKeyframe != nil {
		log.Printf("rtmp: dropped keyframe under backpressure, requesting a new one")
		c.requestKeyframe()
	}
}

// Queue exposes Q_net so the orchestrator can push encoded packets and
// sample its depth for the metrics loop.
func (c *Client) Queue() *pipeline.Queue[models.EncodedPacket] { return c.netQueue }

// SetDialer overrides the TCP dialer used by Connect/Reconnect. Exported
// for tests outside this package that need to substitute a net.Pipe or
// other in-memory transport for a fake ingest endpoint.
func (c *Client) SetDialer(fn func(ctx context.Context, network, addr string) (net.Conn, error)) {
	c.dialer = fn
}

// Connect performs the handshake and the connect/releaseStream/FCPublish/
// createStream/publish control sequence, blocking until the server's
// onStatus NetStream.Publish.Start ack arrives or the sequence fails.
func (c *Client) Connect(ctx context.Context) error {
	app, tcURL, err := splitRTMPURL(c.rtmpURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	host := hostFromURL(c.rtmpURL)
	conn, err := c.dialer(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrHandshakeFailed, host, err)
	}

	if err := handshake(conn); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	c.conn = conn
	c.cw = newChunkWriter(conn)
	c.cr = newChunkReader(conn)

	if err := c.runControlSequence(app, tcURL); err != nil {
		conn.Close()
		return err
	}

	c.cw.setChunkSize(setChunkSizeAfter)
	if err := c.sendSetChunkSize(setChunkSizeAfter); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	return nil
}

func (c *Client) runControlSequence(app, tcURL string) error {
	connectObj := newAMFObject().
		set("app", app).
		set("flashVer", "FMLE/3.0 (compatible; broadcaster)").
		set("tcUrl", tcURL).
		set("fpad", false).
		set("capabilities", float64(15)).
		set("audioCodecs", float64(3575)).
		set("videoCodecs", float64(252)).
		set("videoFunction", float64(1))

	connectTxn := c.nextTxnID()
	if err := c.sendCommand(csidCommand, 0, "connect", connectTxn, connectObj); err != nil {
		return fmt.Errorf("%w: send connect: %v", ErrHandshakeFailed, err)
	}
	if err := c.awaitResult(connectTxn); err != nil {
		return fmt.Errorf("%w: connect: %v", ErrHandshakeFailed, err)
	}

	if err := c.sendCommand(csidCommand, 0, "releaseStream", c.nextTxnID(), nil, c.streamKey); err != nil {
		return fmt.Errorf("%w: send releaseStream: %v", ErrHandshakeFailed, err)
	}
	if err := c.sendCommand(csidCommand, 0, "FCPublish", c.nextTxnID(), nil, c.streamKey); err != nil {
		return fmt.Errorf("%w: send FCPublish: %v", ErrHandshakeFailed, err)
	}

	createTxn := c.nextTxnID()
	if err := c.sendCommand(csidCommand, 0, "createStream", createTxn, nil); err != nil {
		return fmt.Errorf("%w: send createStream: %v", ErrHandshakeFailed, err)
	}
	streamID, err := c.awaitCreateStreamResult(createTxn)
	if err != nil {
		return fmt.Errorf("%w: createStream: %v", ErrHandshakeFailed, err)
	}
	c.msgSID = streamID

	publishTxn := c.nextTxnID()
	if err := c.sendCommand(csidCommand, c.msgSID, "publish", publishTxn, nil, c.streamKey, "live"); err != nil {
		return fmt.Errorf("%w: send publish: %v", ErrHandshakeFailed, err)
	}
	if err := c.awaitPublishStart(); err != nil {
		return err
	}

	return nil
}

func (c *Client) nextTxnID() float64 {
	c.txnID++
	return c.txnID
}

func (c *Client) sendCommand(csid, streamID uint32, name string, txnID float64, cmdObj *amfObject, args ...interface{}) error {
	values := []interface{}{name, txnID}
	if cmdObj != nil {
		values = append(values, cmdObj)
	} else {
		values = append(values, nil)
	}
	for _, a := range args {
		values = append(values, a)
	}
	payload, err := encodeAMF0(values...)
	if err != nil {
		return err
	}
	return c.cw.writeMessage(csid, msgTypeCommandAMF0, streamID, 0, payload)
}

func (c *Client) sendSetChunkSize(n int) error {
	var payload [4]byte
	payload[0] = byte(n >> 24)
	payload[1] = byte(n >> 16)
	payload[2] = byte(n >> 8)
	payload[3] = byte(n)
	return c.cw.writeMessage(csidProtocolControl, msgTypeSetChunkSize, 0, 0, payload[:])
}

// handleSetChunkSize applies a server-sent SetChunkSize protocol control
// message to the chunk reader, so a server that renegotiates its outbound
// chunk size mid-handshake doesn't leave this client reassembling later
// chunks against a stale size.
func (c *Client) handleSetChunkSize(msg *message) {
	if len(msg.payload) < 4 {
		return
	}
	n := int(msg.payload[0])<<24 | int(msg.payload[1])<<16 | int(msg.payload[2])<<8 | int(msg.payload[3])
	if n <= 0 {
		return
	}
	c.cr.setChunkSize(n)
}

// awaitResult blocks for command/control messages until a "_result" or
// "_error" response matching txnID arrives, ignoring everything else
// (onFCPublish, onBWDone, and other notifications the server may interleave).
func (c *Client) awaitResult(txnID float64) error {
	for {
		msg, err := c.cr.readMessage()
		if err != nil {
			return err
		}
		if msg.typeID == msgTypeSetChunkSize {
			c.handleSetChunkSize(msg)
			continue
		}
		if msg.typeID != msgTypeCommandAMF0 {
			continue
		}
		values, err := decodeAMF0(msg.payload)
		if err != nil || len(values) < 2 {
			continue
		}
		name, _ := asString(values[0])
		gotTxn, _ := asNumber(values[1])
		if gotTxn != txnID {
			continue
		}
		switch name {
		case "_result":
			return nil
		case "_error":
			return fmt.Errorf("server rejected connect: %v", values)
		}
	}
}

func (c *Client) awaitCreateStreamResult(txnID float64) (uint32, error) {
	for {
		msg, err := c.cr.readMessage()
		if err != nil {
			return 0, err
		}
		if msg.typeID == msgTypeSetChunkSize {
			c.handleSetChunkSize(msg)
			continue
		}
		if msg.typeID != msgTypeCommandAMF0 {
			continue
		}
		values, err := decodeAMF0(msg.payload)
		if err != nil || len(values) < 2 {
			continue
		}
		name, _ := asString(values[0])
		gotTxn, _ := asNumber(values[1])
		if gotTxn != txnID {
			continue
		}
		switch name {
		case "_result":
			if len(values) >= 4 {
				if sid, ok := asNumber(values[3]); ok {
					return uint32(sid), nil
				}
			}
			return 1, nil // some servers omit the stream id; 1 is the conventional default
		case "_error":
			return 0, fmt.Errorf("server rejected createStream: %v", values)
		}
	}
}

// awaitPublishStart blocks for the onStatus notification the publish
// command drives, returning nil only on NetStream.Publish.Start and
// ErrPublishRejected on any error-level status.
func (c *Client) awaitPublishStart() error {
	for {
		msg, err := c.cr.readMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		if msg.typeID == msgTypeSetChunkSize {
			c.handleSetChunkSize(msg)
			continue
		}
		if msg.typeID != msgTypeCommandAMF0 {
			continue
		}
		values, err := decodeAMF0(msg.payload)
		if err != nil || len(values) < 1 {
			continue
		}
		name, _ := asString(values[0])
		if name != "onStatus" || len(values) < 4 {
			continue
		}
		info, ok := asObject(values[3])
		if !ok {
			continue
		}
		code, _ := asString(info["code"])
		switch code {
		case "NetStream.Publish.Start":
			return nil
		case "NetStream.Publish.BadName", "NetStream.Publish.Denied", "NetConnection.Connect.Rejected":
			msg, _ := asString(info["description"])
			return fmt.Errorf("%w: %s: %s", ErrPublishRejected, code, msg)
		}
	}
}

// Run drains Q_net and writes FLV-framed media to the socket until the
// context is cancelled or the queue is closed. It is the blocking send
// loop §4.5.5 describes; callers run it on its own goroutine.
func (c *Client) Run(ctx context.Context) error {
	for {
		pkt, ok := c.netQueue.Pop()
		if !ok {
			return nil
		}
		if err := c.sendPacket(pkt); err != nil {
			return fmt.Errorf("%w: %v", ErrNetworkError, err)
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (c *Client) sendPacket(pkt models.EncodedPacket) error {
	switch pkt.Kind {
	case models.MediaVideo:
		compositionTime := int32((pkt.PTS - pkt.DTS).Milliseconds())
		tag := muxer.BuildFLVVideoTag(pkt.Data, pkt.IsKeyframe, pkt.IsSequenceHeader, compositionTime)
		if err := c.cw.writeMessage(csidVideo, msgTypeVideo, c.msgSID, uint32(pkt.DTS.Milliseconds()), tag); err != nil {
			return err
		}
		c.collector.RecordBytesSent(uint64(len(tag)))
	case models.MediaAudio:
		tag := muxer.BuildFLVAudioTag(pkt.Data, pkt.IsSequenceHeader)
		if err := c.cw.writeMessage(csidAudio, msgTypeAudio, c.msgSID, uint32(pkt.DTS.Milliseconds()), tag); err != nil {
			return err
		}
		c.collector.RecordBytesSent(uint64(len(tag)))
	}
	if !pkt.IsSequenceHeader {
		c.collector.RecordFrame(pkt.Kind)
	}
	return nil
}

// Send enqueues an encoded packet onto Q_net. It never blocks past the
// queue's own drop policy.
func (c *Client) Send(pkt models.EncodedPacket) {
	c.netQueue.Push(pkt)
}

// Reconnect closes the current connection and attempts exactly one fresh
// Connect within the reconnect window, per §4.5.6's mid-session policy.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.conn != nil {
		c.conn.Close()
	}
	reconnectCtx, cancel := context.WithTimeout(ctx, reconnectWindow)
	defer cancel()
	if err := c.Connect(reconnectCtx); err != nil {
		return fmt.Errorf("%w: reconnect failed: %v", ErrNetworkError, err)
	}
	return nil
}

// Close performs the graceful shutdown sequence (FCUnpublish, deleteStream,
// closeStream) and closes the socket. Errors sending the teardown commands
// are logged, not returned, since the socket close below is what actually
// matters once a session is ending.
func (c *Client) Close() error {
	c.netQueue.Close()

	if c.conn == nil {
		return nil
	}
	if err := c.sendCommand(csidCommand, 0, "FCUnpublish", c.nextTxnID(), nil, c.streamKey); err != nil {
		log.Printf("rtmp: FCUnpublish send failed during close: %v", err)
	}
	if err := c.sendCommand(csidCommand, c.msgSID, "deleteStream", c.nextTxnID(), nil, float64(c.msgSID)); err != nil {
		log.Printf("rtmp: deleteStream send failed during close: %v", err)
	}
	if err := c.sendCommand(csidCommand, c.msgSID, "closeStream", c.nextTxnID(), nil); err != nil {
		log.Printf("rtmp: closeStream send failed during close: %v", err)
	}
	return c.conn.Close()
}

func splitRTMPURL(rtmpURL string) (app, tcURL string, err error) {
	u, err := url.Parse(rtmpURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid RTMP URL: %w", err)
	}
	if u.Scheme != "rtmp" {
		return "", "", fmt.Errorf("unsupported scheme %q, want rtmp", u.Scheme)
	}
	path := strings.TrimPrefix(u.Path, "/")
	app = path
	tcURL = rtmpURL
	return app, tcURL, nil
}

func hostFromURL(rtmpURL string) string {
	u, err := url.Parse(rtmpURL)
	if err != nil {
		return rtmpURL
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "1935"
	}
	return net.JoinHostPort(host, port)
}

