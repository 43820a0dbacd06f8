package h1client

import (
	"bytes"

	"github.com/a0x194/hrsdetect/internal/httpmodel"
)

// Serialize renders req to the exact bytes that go on the wire. It never
// adds, removes, or reorders headers — including Host, Content-Length, or
// Transfer-Encoding — beyond what the caller put in req.Headers, and it
// inserts no whitespace of its own: the mandatory ':' separator is the
// only byte Serialize contributes beyond Name/Value/CRLF. Any space (or
// tab, or none at all) between colon and value is whatever the caller
// already put at the front of Value — callers building ordinary headers
// write Value: " text/html" themselves; a catalog variation exercising
// "Transfer-Encoding:\tchunked" or "Transfer-Encoding : chunked" puts the
// tab or the pre-colon space directly into Value or Name. This is what
// keeps Serialize byte-exact (P1): nothing downstream can tell the
// difference between conventional and malformed spacing except what the
// caller wrote.
func Serialize(req httpmodel.Request) []byte {
	var buf bytes.Buffer

	version := req.Version
	if version == "" {
		version = "HTTP/1.1"
	}

	buf.WriteString(req.Method)
	buf.WriteByte(' ')
	buf.WriteString(req.Path)
	buf.WriteByte(' ')
	buf.WriteString(version)
	buf.WriteString("\r\n")

	for _, h := range req.Headers {
		buf.WriteString(h.Name)
		buf.WriteByte(':')
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}

	buf.WriteString("\r\n")
	buf.Write(req.Body)

	return buf.Bytes()
}
