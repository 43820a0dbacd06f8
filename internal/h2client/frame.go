// Package h2client is the raw HTTP/2 client: connection preface, HPACK
// field (de)compression via golang.org/x/net/http2/hpack, and hand
// assembled frame bytes. It deliberately never touches
// golang.org/x/net/http2.Transport or Framer — those enforce exactly the
// checks a smuggling probe needs to bypass (duplicate pseudo-headers,
// connection-specific headers, header-name casing). hpack.Encoder itself
// does no such policy enforcement; it only compresses fields, so using it
// directly and writing the 9-byte frame header ourselves keeps HPACK
// output decodable by a conformant peer while emitting whatever the
// caller asked for. Grounded on the minimal raw Framer pattern seen in
// the pack (hpack.Encoder + length-prefixed frame bytes, stream-id
// counter incrementing by 2) and on neex-http2smugl's header-smuggling
// variant taxonomy for where a probe can stash a fake header.
package h2client

import (
	"encoding/binary"

	"golang.org/x/net/http2/hpack"

	"github.com/a0x194/hrsdetect/internal/httpmodel"
)

// frame types and flags used by this client. Only the subset the spec
// requires is named; anything else received from the peer is consumed
// generically by readFrame and skipped.
const (
	frameData         = 0x0
	frameHeaders      = 0x1
	frameSettings     = 0x4
	frameWindowUpdate = 0x8
	frameGoAway       = 0x7
	frameContinuation = 0x9
	frameRSTStream    = 0x3
	framePing         = 0x6

	flagEndStream  = 0x1
	flagEndHeaders = 0x4
	flagACK        = 0x1
)

const connectionPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

type frameHeader struct {
	length   uint32
	typ      byte
	flags    byte
	streamID uint32
}

func writeFrameHeader(buf []byte, h frameHeader) []byte {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], h.length)
	buf = append(buf, lenBytes[1:]...) // 24-bit length
	buf = append(buf, h.typ, h.flags)
	var sid [4]byte
	binary.BigEndian.PutUint32(sid[:], h.streamID&0x7fffffff)
	buf = append(buf, sid[:]...)
	return buf
}

func parseFrameHeader(b [9]byte) frameHeader {
	length := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	streamID := binary.BigEndian.Uint32(b[5:9]) & 0x7fffffff
	return frameHeader{length: length, typ: b[3], flags: b[4], streamID: streamID}
}

// encodeHeaderBlock HPACK-encodes pseudo headers followed by regular
// headers, in order, with no validation: duplicate pseudo-headers,
// uppercase names, and connection-specific headers (transfer-encoding,
// content-length, connection) all pass straight through to the wire.
func encodeHeaderBlock(pseudo, headers httpmodel.HeaderList) []byte {
	var buf []byte
	enc := hpack.NewEncoder(sliceWriter{&buf})
	enc.SetMaxDynamicTableSize(4096)
	for _, h := range pseudo {
		enc.WriteField(hpack.HeaderField{Name: h.Name, Value: h.Value, Sensitive: false})
	}
	for _, h := range headers {
		enc.WriteField(hpack.HeaderField{Name: h.Name, Value: h.Value, Sensitive: false})
	}
	return buf
}

// sliceWriter adapts a *[]byte to io.Writer so hpack.Encoder can append
// straight into a frame payload buffer without an intermediate
// bytes.Buffer allocation per field.
type sliceWriter struct{ buf *[]byte }

func (w sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

func buildHeadersFrame(streamID uint32, block []byte, endStream bool) []byte {
	flags := byte(flagEndHeaders)
	if endStream {
		flags |= flagEndStream
	}
	frame := writeFrameHeader(nil, frameHeader{
		length:   uint32(len(block)),
		typ:      frameHeaders,
		flags:    flags,
		streamID: streamID,
	})
	return append(frame, block...)
}

func buildDataFrame(streamID uint32, data []byte, endStream bool) []byte {
	flags := byte(0)
	if endStream {
		flags = flagEndStream
	}
	frame := writeFrameHeader(nil, frameHeader{
		length:   uint32(len(data)),
		typ:      frameData,
		flags:    flags,
		streamID: streamID,
	})
	return append(frame, data...)
}

func buildSettingsFrame(settings map[uint16]uint32) []byte {
	payload := make([]byte, 0, 6*len(settings))
	for id, val := range settings {
		var entry [6]byte
		binary.BigEndian.PutUint16(entry[0:2], id)
		binary.BigEndian.PutUint32(entry[2:6], val)
		payload = append(payload, entry[:]...)
	}
	frame := writeFrameHeader(nil, frameHeader{length: uint32(len(payload)), typ: frameSettings})
	return append(frame, payload...)
}

func buildSettingsACK() []byte {
	return writeFrameHeader(nil, frameHeader{typ: frameSettings, flags: flagACK})
}

func buildWindowUpdate(streamID uint32, increment uint32) []byte {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], increment&0x7fffffff)
	frame := writeFrameHeader(nil, frameHeader{length: 4, typ: frameWindowUpdate, streamID: streamID})
	return append(frame, payload[:]...)
}
