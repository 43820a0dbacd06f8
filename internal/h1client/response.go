package h1client

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/a0x194/hrsdetect/internal/httpmodel"
)

// maxHeaderBytes caps how much we'll buffer looking for CRLFCRLF, to
// protect against a server that never terminates its header block.
const maxHeaderBytes = 64 * 1024

// readResponse reads one HTTP/1.1 response from r, applying the body
// length resolution order from the spec: chunked TE wins, then
// Content-Length, then no-body-by-status/HEAD, then read-until-FIN.
// start is the wall-clock moment the caller began waiting for this
// response, used to stamp ElapsedSeconds even on a timeout abort — a
// partial Response with the time it took to time out is the signal the
// detectors need, not a discarded error.
func readResponse(r *bufio.Reader, method string, start time.Time, deadline time.Time) (httpmodel.Response, error) {
	resp := httpmodel.Response{}

	headerBytes, err := readUntilHeadersEnd(r)
	if err != nil {
		resp.ElapsedSeconds = time.Since(start).Seconds()
		if isTimeout(err) {
			resp.TimedOut = true
			return resp, nil
		}
		return resp, httpmodel.NewError(httpmodel.ErrProtocol, "reading status line/headers", err)
	}
	resp.RawBytes = append(resp.RawBytes, headerBytes...)

	statusLine, headers, anomalies, err := parseHeaderBlock(headerBytes)
	if err != nil {
		resp.ElapsedSeconds = time.Since(start).Seconds()
		return resp, httpmodel.NewError(httpmodel.ErrProtocol, "parsing status line", err)
	}
	resp.StatusCode = statusLine.code
	resp.Reason = statusLine.reason
	resp.Headers = headers
	resp.Anomalies = anomalies

	body, timedOut, err := readBody(r, method, resp.StatusCode, headers)
	resp.Body = body
	resp.RawBytes = append(resp.RawBytes, body...)
	resp.ElapsedSeconds = time.Since(start).Seconds()
	if timedOut {
		resp.TimedOut = true
		return resp, nil
	}
	if err != nil {
		return resp, httpmodel.NewError(httpmodel.ErrProtocol, "reading body", err)
	}
	return resp, nil
}

func readUntilHeadersEnd(r *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return buf.Bytes(), err
		}
		buf.WriteByte(b)
		if buf.Len() > maxHeaderBytes {
			return buf.Bytes(), fmt.Errorf("header block exceeds %d bytes", maxHeaderBytes)
		}
		n := buf.Len()
		if n >= 4 {
			tail := buf.Bytes()[n-4:]
			if bytes.Equal(tail, []byte("\r\n\r\n")) {
				return buf.Bytes(), nil
			}
		}
	}
}

type statusLine struct {
	version string
	code    int
	reason  string
}

func parseHeaderBlock(block []byte) (statusLine, httpmodel.HeaderList, []string, error) {
	lines := strings.Split(strings.TrimSuffix(string(block), "\r\n\r\n"), "\r\n")
	if len(lines) == 0 {
		return statusLine{}, nil, nil, fmt.Errorf("empty response")
	}

	sl, err := parseStatusLine(lines[0])
	if err != nil {
		return statusLine{}, nil, nil, err
	}

	var headers httpmodel.HeaderList
	clValues := []string{}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := line[:idx]
		value := line[idx+1:]
		headers = append(headers, httpmodel.HeaderField{Name: name, Value: value})
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			clValues = append(clValues, strings.TrimSpace(value))
		}
	}

	var anomalies []string
	if len(clValues) > 1 {
		distinct := map[string]bool{}
		for _, v := range clValues {
			distinct[v] = true
		}
		if len(distinct) > 1 {
			anomalies = append(anomalies, fmt.Sprintf("duplicate Content-Length: %s", strings.Join(clValues, ", ")))
		}
	}

	return sl, headers, anomalies, nil
}

func parseStatusLine(line string) (statusLine, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return statusLine{}, fmt.Errorf("malformed status line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return statusLine{}, fmt.Errorf("malformed status code %q: %w", parts[1], err)
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return statusLine{version: parts[0], code: code, reason: reason}, nil
}

// readBody resolves and reads the response body per the spec's ordered
// rules: chunked TE first, then Content-Length (first value, on
// ambiguity), then no-body-by-status/HEAD, then read-to-FIN.
func readBody(r *bufio.Reader, method string, status int, headers httpmodel.HeaderList) ([]byte, bool, error) {
	if teIsChunked(headers) {
		return readChunked(r)
	}
	if clStr, ok := firstContentLength(headers); ok {
		n, err := strconv.Atoi(clStr)
		if err == nil && n >= 0 {
			return readExactly(r, n)
		}
	}
	if noBodyByStatus(status) || method == "HEAD" {
		return nil, false, nil
	}
	return readUntilEOF(r)
}

func teIsChunked(headers httpmodel.HeaderList) bool {
	vals := headers.GetAll("Transfer-Encoding")
	if len(vals) == 0 {
		// fold-insensitive fallback for servers that case-vary it
		for _, h := range headers {
			if strings.EqualFold(h.Name, "Transfer-Encoding") {
				vals = append(vals, h.Value)
			}
		}
	}
	if len(vals) == 0 {
		return false
	}
	last := strings.TrimSpace(vals[len(vals)-1])
	items := strings.Split(last, ",")
	if len(items) == 0 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(items[len(items)-1]), "chunked")
}

func firstContentLength(headers httpmodel.HeaderList) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h.Name), "Content-Length") {
			return strings.TrimSpace(h.Value), true
		}
	}
	return "", false
}

func noBodyByStatus(code int) bool {
	if code >= 100 && code < 200 {
		return true
	}
	return code == 204 || code == 304
}

func readExactly(r *bufio.Reader, n int) ([]byte, bool, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err != nil {
		if isTimeout(err) {
			return buf[:read], true, nil
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return buf[:read], false, nil
		}
		return buf[:read], false, err
	}
	return buf, false, nil
}

func readUntilEOF(r *bufio.Reader) ([]byte, bool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		if isTimeout(err) {
			return data, true, nil
		}
		return data, false, err
	}
	return data, false, nil
}

// readChunked decodes a chunked body: hex size-line (chunk extensions
// ignored), terminating on a zero-size chunk followed by optional
// trailers and a final CRLF.
func readChunked(r *bufio.Reader) ([]byte, bool, error) {
	out := bytes.NewBuffer([]byte{}) // an empty body decodes to []byte{}, not nil
	for {
		sizeLine, err := readLine(r)
		if err != nil {
			if isTimeout(err) {
				return out.Bytes(), true, nil
			}
			return out.Bytes(), false, err
		}
		sizeHex := sizeLine
		if idx := strings.IndexByte(sizeLine, ';'); idx >= 0 {
			sizeHex = sizeLine[:idx]
		}
		sizeHex = strings.TrimSpace(sizeHex)
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return out.Bytes(), false, fmt.Errorf("bad chunk size %q: %w", sizeLine, err)
		}
		if size == 0 {
			// consume trailers up to the final blank line
			for {
				trailer, err := readLine(r)
				if err != nil {
					if isTimeout(err) {
						return out.Bytes(), true, nil
					}
					return out.Bytes(), false, err
				}
				if trailer == "" {
					break
				}
			}
			return out.Bytes(), false, nil
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			if isTimeout(err) {
				return out.Bytes(), true, nil
			}
			return out.Bytes(), false, err
		}
		out.Write(chunk)
		// consume the CRLF that follows each chunk's data
		if _, err := readLine(r); err != nil {
			if isTimeout(err) {
				return out.Bytes(), true, nil
			}
			return out.Bytes(), false, err
		}
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return strings.TrimRight(line, "\r\n"), err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func isTimeout(err error) bool {
	type timeoutish interface{ Timeout() bool }
	if t, ok := err.(timeoutish); ok {
		return t.Timeout()
	}
	return false
}
