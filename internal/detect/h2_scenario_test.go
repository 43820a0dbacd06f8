package detect

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/http2/hpack"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a0x194/hrsdetect/internal/httpmodel"
	"github.com/a0x194/hrsdetect/internal/scanconfig"
)

const h2ScenarioPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// byteSliceWriter adapts a *[]byte to io.Writer for hpack.Encoder, mirroring
// h2client's own sliceWriter but kept local: this file builds wire bytes by
// hand to act as the peer, not to exercise h2client's internals.
type byteSliceWriter struct{ buf *[]byte }

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

func writeH2FrameHeader(length uint32, typ, flags byte, streamID uint32) []byte {
	buf := make([]byte, 0, 9)
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], length)
	buf = append(buf, lenBytes[1:]...)
	buf = append(buf, typ, flags)
	var sid [4]byte
	binary.BigEndian.PutUint32(sid[:], streamID&0x7fffffff)
	return append(buf, sid[:]...)
}

func readH2FrameHeader(r *bufio.Reader) (length uint32, typ, flags byte, streamID uint32, err error) {
	var hdr [9]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return
	}
	length = uint32(hdr[0])<<16 | uint32(hdr[1])<<8 | uint32(hdr[2])
	typ = hdr[3]
	flags = hdr[4]
	streamID = binary.BigEndian.Uint32(hdr[5:9]) & 0x7fffffff
	return
}

// TestRunScan_H2TETimeoutProbe is scenario 5 from spec §8: the probe's
// stream is left open past the deadline, simulating a back-end stalled
// reading an unterminated chunked body -> the probe times out at
// approximately cfg.Timeout, which alone satisfies the vulnerable
// threshold against a near-instant baseline.
func TestRunScan_H2TETimeoutProbe(t *testing.T) {
	addr := startH2TimeoutServer(t)

	cfg := scanconfig.Config{
		Target:    targetFor(t, addr),
		Detectors: []httpmodel.DetectorKind{httpmodel.DetectorH2TE},
		Timeout:   350 * time.Millisecond,
		ExitFirst: true,
	}
	result, err := RunScan(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, httpmodel.DetectorH2TE, result.Findings[0].Type)
	assert.Equal(t, httpmodel.Vulnerable, result.Findings[0].Classification)
	assert.Equal(t, 1, result.ExitCode)
}

// startH2TimeoutServer answers the very first connection's request
// immediately with a minimal 200 response (the baseline) and never
// responds on any later connection (every probe/confirmation attempt),
// holding the stream open until the client gives up.
func startH2TimeoutServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var connCount int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n := atomic.AddInt32(&connCount, 1)
			go handleH2ScenarioConnection(conn, n == 1)
		}
	}()
	return ln.Addr().String()
}

func handleH2ScenarioConnection(conn net.Conn, respond bool) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	preface := make([]byte, len(h2ScenarioPreface))
	if _, err := io.ReadFull(r, preface); err != nil {
		return
	}

	length, typ, _, _, err := readH2FrameHeader(r)
	if err != nil || typ != 0x4 { // client's initial SETTINGS
		return
	}
	if length > 0 {
		io.CopyN(io.Discard, r, int64(length))
	}

	conn.Write(writeH2FrameHeader(0, 0x4, 0, 0))   // our SETTINGS
	conn.Write(writeH2FrameHeader(0, 0x4, 0x1, 0)) // SETTINGS ACK

	var streamID uint32
	done := false
	for !done {
		length, typ, flags, sid, err := readH2FrameHeader(r)
		if err != nil {
			return
		}
		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, payload); err != nil {
				return
			}
		}
		switch typ {
		case 0x1: // HEADERS
			streamID = sid
			if flags&0x1 != 0 {
				done = true
			}
		case 0x0: // DATA
			if flags&0x1 != 0 {
				done = true
			}
		}
	}

	if !respond {
		io.Copy(io.Discard, r)
		return
	}

	var block []byte
	enc := hpack.NewEncoder(&byteSliceWriter{&block})
	enc.WriteField(hpack.HeaderField{Name: ":status", Value: "200"})
	frame := writeH2FrameHeader(uint32(len(block)), 0x1, 0x1|0x4, streamID) // END_HEADERS|END_STREAM
	conn.Write(append(frame, block...))
}
