package h1client

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/a0x194/hrsdetect/internal/httpmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialize_PreservesHeaderOrderCaseAndDuplicates(t *testing.T) {
	req := httpmodel.NewRequest("POST", "/smuggle", httpmodel.HeaderList{
		{Name: "Host", Value: " example.com"},
		{Name: "Content-Type", Value: " application/x-www-form-urlencoded"},
		{Name: "Content-Length", Value: " 6"},
		{Name: "Transfer-Encoding", Value: " chunked"},
		{Name: "transfer-encoding", Value: " chunked"}, // duplicate, different case
	}, []byte("0\r\n\r\nX"))

	raw := Serialize(req)
	s := string(raw)

	require.True(t, strings.HasPrefix(s, "POST /smuggle HTTP/1.1\r\n"))
	assert.Contains(t, s, "Host: example.com\r\n")
	assert.Contains(t, s, "Content-Length: 6\r\n")
	assert.Contains(t, s, "Transfer-Encoding: chunked\r\ntransfer-encoding: chunked\r\n")
	assert.True(t, strings.HasSuffix(s, "\r\n\r\n0\r\n\r\nX"))
}

// TestSerialize_NoInsertedWhitespace covers P1 for the whitespace-trick
// variations: the serializer must not insert or remove a byte of spacing
// beyond the single literal colon.
func TestSerialize_NoInsertedWhitespace(t *testing.T) {
	cases := []struct {
		name, value, want string
	}{
		{"Transfer-Encoding", "\tchunked", "Transfer-Encoding:\tchunked\r\n"},
		{"Transfer-Encoding ", " chunked", "Transfer-Encoding : chunked\r\n"},
		{"Transfer-Encoding", "chunked", "Transfer-Encoding:chunked\r\n"},
	}
	for _, tc := range cases {
		req := httpmodel.NewRequest("GET", "/", httpmodel.HeaderList{{Name: tc.name, Value: tc.value}}, nil)
		raw := Serialize(req)
		assert.Contains(t, string(raw), tc.want, "case %q", tc.name)
	}
}

// TestSerialize_HostIsNeverAutoInserted is the deliberate anti-feature
// from spec §4.2 rule 3: no Host means no Host, full stop.
func TestSerialize_HostIsNeverAutoInserted(t *testing.T) {
	req := httpmodel.NewRequest("GET", "/", nil, nil)
	raw := Serialize(req)
	assert.NotContains(t, strings.ToLower(string(raw)), "host:")
}

// P1 (serialization fidelity): deserializing the bytes the client would
// send reproduces the header list in order, case, and value exactly.
func TestP1_SerializeRoundTrip(t *testing.T) {
	headers := httpmodel.HeaderList{
		{Name: "Host", Value: " weird.example"},
		{Name: "X-Foo", Value: "  double-space-value"},
		{Name: "x-foo", Value: "lowercase-dup"},
		{Name: "Transfer-Encoding", Value: " chunked"},
	}
	req := httpmodel.NewRequest("GET", "/p", headers, nil)
	raw := Serialize(req)

	r := bufio.NewReader(bytes.NewReader(raw))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "GET /p HTTP/1.1\r\n", line)

	var got httpmodel.HeaderList
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
		idx := strings.IndexByte(line, ':')
		require.GreaterOrEqual(t, idx, 0)
		name := line[:idx]
		value := strings.TrimSuffix(line[idx+1:], "\r\n")
		got = append(got, httpmodel.HeaderField{Name: name, Value: value})
	}
	assert.Equal(t, headers, got)
}

// P2 (chunked round-trip): encoding body B with varying chunk sizes and
// decoding returns B exactly.
func TestP2_ChunkedRoundTrip(t *testing.T) {
	bodies := [][]byte{
		[]byte(""),
		[]byte("hello world"),
		bytes.Repeat([]byte("A"), 5000),
	}
	chunkSizes := []int{1, 17, 4096}

	for _, body := range bodies {
		for _, cs := range chunkSizes {
			encoded := encodeChunked(body, cs)
			r := bufio.NewReader(bytes.NewReader(encoded))
			decoded, timedOut, err := readChunked(r)
			require.NoError(t, err)
			assert.False(t, timedOut)
			assert.Equal(t, body, decoded)
		}
		// also verify chunk size == len(B) in one shot
		encoded := encodeChunked(body, max(1, len(body)))
		r := bufio.NewReader(bytes.NewReader(encoded))
		decoded, _, err := readChunked(r)
		require.NoError(t, err)
		assert.Equal(t, body, decoded)
	}
}

func encodeChunked(body []byte, chunkSize int) []byte {
	var buf bytes.Buffer
	for len(body) > 0 {
		n := chunkSize
		if n > len(body) {
			n = len(body)
		}
		buf.WriteString(strconv.FormatInt(int64(n), 16))
		buf.WriteString("\r\n")
		buf.Write(body[:n])
		buf.WriteString("\r\n")
		body = body[n:]
	}
	buf.WriteString("0\r\n\r\n")
	return buf.Bytes()
}

func TestReadResponse_ContentLengthAnomalyRecordedNotRejected(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 4\r\nContent-Length: 11\r\n\r\nabcdefghijk"
	r := bufio.NewReader(strings.NewReader(raw))
	resp, err := readResponse(r, "GET", time.Now(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []byte("abcd"), resp.Body)
	require.Len(t, resp.Anomalies, 1)
	assert.Contains(t, resp.Anomalies[0], "duplicate Content-Length")
}

func TestReadResponse_NoBodyStatusCodes(t *testing.T) {
	for _, code := range []int{204, 304} {
		raw := strings.Replace("HTTP/1.1 XXX No Content\r\n\r\nGET / HTTP/1.1", "XXX", strconv.Itoa(code), 1)
		r := bufio.NewReader(strings.NewReader(raw))
		resp, err := readResponse(r, "GET", time.Now(), time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Empty(t, resp.Body)
	}
}
