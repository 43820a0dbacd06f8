package h2client

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/http2/hpack"

	"github.com/a0x194/hrsdetect/internal/httpmodel"
	"github.com/a0x194/hrsdetect/internal/tlsprovider"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultProbeTimeout   = 5 * time.Second

	initialWindowSize = 65535
)

// Client owns one HTTP/2 connection: preface, SETTINGS handshake, then a
// monotonic client-initiated stream-id counter (odd, starting at 1,
// incrementing by 2) — streams are tracked only by id; there is no
// per-stream object referencing the connection, per the "cyclic
// ownership" design note.
type Client struct {
	target httpmodel.Target
	verify bool

	conn   net.Conn
	r      *bufio.Reader
	nextID uint32
}

func New(target httpmodel.Target, verify bool) *Client {
	return &Client{target: target, verify: verify, nextID: 1}
}

// Connect performs the transport handshake (TLS+ALPN "h2" for https,
// plain TCP with-prior-knowledge h2c for http), sends the connection
// preface and an empty SETTINGS frame, and waits for the server's
// SETTINGS before ACKing it.
func (c *Client) Connect(connectTimeout time.Duration) error {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	addr := c.target.Addr()

	if c.target.Scheme == httpmodel.SchemeHTTPS {
		tcfg := tlsprovider.ContextFor(tlsprovider.Config{
			ALPN:   []string{"h2"},
			Verify: c.verify,
			Server: c.target.Host,
		})
		conn, err := tlsprovider.DialTLS("tcp", addr, tcfg, dialer)
		if err != nil {
			return err
		}
		if tlsprovider.NegotiatedALPN(conn) != "h2" {
			conn.Close()
			return httpmodel.NewError(httpmodel.ErrTLS, addr, fmt.Errorf("peer did not negotiate h2 via ALPN"))
		}
		c.conn = conn
	} else {
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return tlsprovider.ClassifyDialError(addr, err)
		}
		c.conn = conn
	}
	c.r = bufio.NewReader(c.conn)

	if err := c.writeAll([]byte(connectionPreface)); err != nil {
		return err
	}
	if err := c.writeAll(buildSettingsFrame(nil)); err != nil {
		return err
	}

	c.conn.SetReadDeadline(time.Now().Add(connectTimeout))
	if err := c.awaitServerSettings(); err != nil {
		return err
	}
	return c.writeAll(buildSettingsACK())
}

func (c *Client) awaitServerSettings() error {
	for {
		fh, payload, err := c.readFrame()
		if err != nil {
			return httpmodel.NewError(httpmodel.ErrProtocol, "awaiting server SETTINGS", err)
		}
		switch fh.typ {
		case frameSettings:
			if fh.flags&flagACK != 0 {
				continue
			}
			return nil
		case frameWindowUpdate, framePing:
			continue
		default:
			// anything else before SETTINGS is a protocol violation we
			// don't police; keep draining until SETTINGS arrives or we
			// time out.
			_ = payload
			continue
		}
	}
}

// SendRequest issues a well-formed request: all of req.PseudoHeaders then
// req.Headers in one HEADERS frame, followed by a DATA frame if req.Data
// is non-empty, honoring req.EndStream.
func (c *Client) SendRequest(req httpmodel.H2Request, timeout time.Duration) (httpmodel.Response, error) {
	return c.SendMalformedHeaders(req.PseudoHeaders, req.Headers, req.Data, req.EndStream, timeout)
}

// SendMalformedHeaders is the low-level emission path: pseudo and headers
// are HPACK-encoded and sent with zero validation, so duplicate
// pseudo-headers, transfer-encoding/content-length/connection headers,
// and uppercase names all reach the wire exactly as given.
func (c *Client) SendMalformedHeaders(pseudo, headers httpmodel.HeaderList, data []byte, endStream bool, timeout time.Duration) (httpmodel.Response, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	streamID := c.nextID
	c.nextID += 2

	block := encodeHeaderBlock(pseudo, headers)
	headersEndsStream := endStream && len(data) == 0

	start := time.Now()
	if err := c.writeAll(buildHeadersFrame(streamID, block, headersEndsStream)); err != nil {
		return httpmodel.Response{ElapsedSeconds: time.Since(start).Seconds()}, err
	}
	if len(data) > 0 {
		if err := c.writeAll(buildDataFrame(streamID, data, endStream)); err != nil {
			return httpmodel.Response{ElapsedSeconds: time.Since(start).Seconds()}, err
		}
	}

	deadline := start.Add(timeout)
	resp := c.collectResponse(streamID, deadline)
	resp.ElapsedSeconds = time.Since(start).Seconds()
	return resp, nil
}

// collectResponse accumulates HEADERS/CONTINUATION/DATA for streamID
// until the server's END_STREAM, a GOAWAY/RST_STREAM, or deadline —
// whichever comes first. A timeout is expected and recorded, not
// returned as an error: the caller reads resp.TimedOut.
func (c *Client) collectResponse(streamID uint32, deadline time.Time) httpmodel.Response {
	resp := httpmodel.Response{}
	dec := hpack.NewDecoder(4096, nil)
	var headerBlock []byte
	var sawHeaders bool

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			resp.TimedOut = true
			return resp
		}
		c.conn.SetReadDeadline(deadline)
		fh, payload, err := c.readFrame()
		if err != nil {
			if isTimeout(err) {
				resp.TimedOut = true
				return resp
			}
			resp.ErrorCode = "read_error"
			return resp
		}

		switch fh.typ {
		case frameHeaders:
			if fh.streamID != streamID {
				continue
			}
			headerBlock = append(headerBlock, payload...)
			sawHeaders = true
			if fh.flags&flagEndHeaders != 0 {
				applyDecodedHeaders(dec, headerBlock, &resp)
				headerBlock = nil
			}
			if fh.flags&flagEndStream != 0 {
				return resp
			}
		case frameContinuation:
			if fh.streamID != streamID {
				continue
			}
			headerBlock = append(headerBlock, payload...)
			if fh.flags&flagEndHeaders != 0 {
				applyDecodedHeaders(dec, headerBlock, &resp)
				headerBlock = nil
			}
		case frameData:
			if fh.streamID != streamID {
				continue
			}
			resp.Body = append(resp.Body, payload...)
			resp.RawBytes = append(resp.RawBytes, payload...)
			c.ackFlowControl(streamID, uint32(len(payload)))
			if fh.flags&flagEndStream != 0 {
				return resp
			}
		case frameRSTStream:
			if fh.streamID != streamID {
				continue
			}
			code := uint32(0)
			if len(payload) >= 4 {
				code = binary.BigEndian.Uint32(payload)
			}
			resp.ErrorCode = fmt.Sprintf("RST_STREAM(%d)", code)
			return resp
		case frameGoAway:
			code := uint32(0)
			if len(payload) >= 8 {
				code = binary.BigEndian.Uint32(payload[4:8])
			}
			resp.ErrorCode = fmt.Sprintf("GOAWAY(%d)", code)
			return resp
		case frameSettings:
			if fh.flags&flagACK == 0 {
				c.writeAll(buildSettingsACK())
			}
		case framePing:
			if fh.flags&flagACK == 0 && len(payload) == 8 {
				c.writeAll(append(writeFrameHeader(nil, frameHeader{length: 8, typ: framePing, flags: flagACK}), payload...))
			}
		default:
			// window updates and anything unrecognized are ignored
		}
		_ = sawHeaders
	}
}

func applyDecodedHeaders(dec *hpack.Decoder, block []byte, resp *httpmodel.Response) {
	fields, err := dec.DecodeFull(block)
	if err != nil {
		resp.Anomalies = append(resp.Anomalies, fmt.Sprintf("hpack decode error: %v", err))
		return
	}
	for _, f := range fields {
		if f.Name == ":status" {
			if code, err := strconv.Atoi(f.Value); err == nil {
				resp.StatusCode = code
			}
			continue
		}
		resp.Headers = append(resp.Headers, httpmodel.HeaderField{Name: f.Name, Value: f.Value})
	}
}

// ackFlowControl keeps the server's send window open by returning
// WINDOW_UPDATE credit equal to what we just consumed, at both stream and
// connection level, so a vulnerable back-end that keeps writing DATA
// never stalls waiting on our receive window instead of on the condition
// the probe is actually testing.
func (c *Client) ackFlowControl(streamID uint32, n uint32) {
	if n == 0 {
		return
	}
	c.writeAll(buildWindowUpdate(streamID, n))
	c.writeAll(buildWindowUpdate(0, n))
}

func (c *Client) readFrame() (frameHeader, []byte, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return frameHeader{}, nil, err
	}
	fh := parseFrameHeader(hdr)
	payload := make([]byte, fh.length)
	if fh.length > 0 {
		if _, err := io.ReadFull(c.r, payload); err != nil {
			return fh, nil, err
		}
	}
	return fh, payload, nil
}

func (c *Client) writeAll(b []byte) error {
	_, err := c.conn.Write(b)
	if err != nil {
		return httpmodel.NewError(httpmodel.ErrConnect, "write", err)
	}
	return nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func isTimeout(err error) bool {
	type timeoutish interface{ Timeout() bool }
	if t, ok := err.(timeoutish); ok {
		return t.Timeout()
	}
	return false
}
