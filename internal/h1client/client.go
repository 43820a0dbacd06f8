// Package h1client is the byte-level HTTP/1.1 client: it serializes
// Request values verbatim (internal/httpmodel.Request) and parses
// responses per the spec's body-length-resolution order, including the
// deliberately permissive bits (no automatic Host, differing duplicate
// Content-Length values surfaced as an anomaly rather than rejected) that the desync detectors
// depend on. Grounded on the teacher's Scanner.sendRaw: dial, write the
// full payload, read under a deadline, and treat a timeout on read as a
// signal rather than a hard failure.
package h1client

import (
	"bufio"
	"net"
	"time"

	"github.com/a0x194/hrsdetect/internal/httpmodel"
	"github.com/a0x194/hrsdetect/internal/tlsprovider"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 15 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
)

// Client owns exactly one transport socket from Connect to Close. A new
// probe always gets a fresh Client — reusing one across baseline/probe
// would leak connection state into the timing measurement (P5).
type Client struct {
	target httpmodel.Target
	verify bool

	conn net.Conn
	r    *bufio.Reader
}

// New creates an unconnected Client for target. verify controls TLS
// certificate/hostname verification for https targets.
func New(target httpmodel.Target, verify bool) *Client {
	return &Client{target: target, verify: verify}
}

// Connect opens the transport socket: plain TCP for http, TLS with
// "http/1.1" ALPN for https. It does not send anything.
func (c *Client) Connect(connectTimeout time.Duration) error {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	addr := c.target.Addr()

	if c.target.Scheme == httpmodel.SchemeHTTPS {
		tcfg := tlsprovider.ContextFor(tlsprovider.Config{
			ALPN:   []string{"http/1.1"},
			Verify: c.verify,
			Server: c.target.Host,
		})
		conn, err := tlsprovider.DialTLS("tcp", addr, tcfg, dialer)
		if err != nil {
			return err
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
	return nil
}

// SendRequest serializes req, writes it, and reads back one Response. The
// elapsed-time clock starts immediately before the first write byte hits
// the socket and stops the instant the response is fully read or the read
// deadline fires — no suspension point is allowed between request
// completion and that measurement (per the spec's §5 ordering rule), so
// this method never calls out to anything that could itself block on
// something other than this one socket.
func (c *Client) SendRequest(req httpmodel.Request, readTimeout time.Duration) (httpmodel.Response, error) {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	raw := Serialize(req)

	start := time.Now()
	if err := c.writeAll(raw); err != nil {
		return httpmodel.Response{ElapsedSeconds: time.Since(start).Seconds()}, err
	}
	deadline := start.Add(readTimeout)
	c.conn.SetReadDeadline(deadline)
	return readResponse(c.r, req.Method, start, deadline)
}

// SendRaw writes bytes verbatim with no framing applied at all — for
// probes that need to hand-assemble even the request line themselves.
func (c *Client) SendRaw(b []byte) error {
	return c.writeAll(b)
}

// ReceiveRaw reads up to max bytes within timeout.
func (c *Client) ReceiveRaw(max int, timeout time.Duration) ([]byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, max)
	n, err := c.r.Read(buf)
	if err != nil && !isTimeout(err) {
		return buf[:n], httpmodel.NewError(httpmodel.ErrProtocol, "receive_raw", err)
	}
	return buf[:n], nil
}

// PipelineRequests writes every request back-to-back on the same socket,
// then reads len(reqs) responses sequentially; response order equals
// request order because nothing else may write to this socket meanwhile.
func (c *Client) PipelineRequests(reqs []httpmodel.Request, timeout time.Duration) ([]httpmodel.Response, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	start := time.Now()
	for _, req := range reqs {
		if err := c.writeAll(Serialize(req)); err != nil {
			return nil, err
		}
	}
	deadline := start.Add(timeout)
	c.conn.SetReadDeadline(deadline)

	resps := make([]httpmodel.Response, 0, len(reqs))
	for _, req := range reqs {
		resp, err := readResponse(c.r, req.Method, start, deadline)
		if err != nil {
			return resps, err
		}
		resps = append(resps, resp)
	}
	return resps, nil
}

// Close releases the transport socket. A Client is single-use afterward.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) writeAll(b []byte) error {
	_, err := c.conn.Write(b)
	if err != nil {
		return httpmodel.NewError(httpmodel.ErrConnect, "write", err)
	}
	return nil
}
