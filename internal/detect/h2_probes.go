package detect

import (
	"context"
	"time"

	"github.com/a0x194/hrsdetect/internal/h2client"
	"github.com/a0x194/hrsdetect/internal/httpmodel"
	"github.com/a0x194/hrsdetect/internal/scanconfig"
)

// withFreshH2Connection mirrors withFreshConnection's "fresh socket, caught
// connect timeout" treatment for the H2 client.
func withFreshH2Connection(cfg scanconfig.Config, fn func(c *h2client.Client) (float64, error)) (float64, error) {
	c := h2client.New(cfg.Target, !cfg.InsecureSkipVerify)
	defer c.Close()

	start := time.Now()
	if err := c.Connect(h2client.DefaultConnectTimeout); err != nil {
		if isConnectTimeout(err) {
			return time.Since(start).Seconds(), nil
		}
		return 0, err
	}
	return fn(c)
}

func basePseudoHeaders(cfg scanconfig.Config, path string) httpmodel.HeaderList {
	return httpmodel.HeaderList{
		{Name: ":method", Value: "POST"},
		{Name: ":path", Value: path},
		{Name: ":scheme", Value: string(cfg.Target.Scheme)},
		{Name: ":authority", Value: cfg.Target.Authority()},
	}
}

// placeDirective embeds name/value into an H2 request per the placement
// variant selected, returning the :path value to send (mangled for
// request_line) and the one extra regular header to add (nil for
// request_line).
// See spec §4.5 "Placement semantics".
func placeDirective(cfg scanconfig.Config, path, name, value string) (pseudoPathOverride string, extraHeader *httpmodel.HeaderField) {
	directive := name + ": " + value
	switch cfg.EffectivePlacement() {
	case httpmodel.PlacementCustomHeaderValue:
		return path, &httpmodel.HeaderField{Name: "x-smuggled", Value: directive}
	case httpmodel.PlacementCustomHeaderName:
		return path, &httpmodel.HeaderField{Name: "x-smuggle\r\n" + directive + "\r\n", Value: "1"}
	case httpmodel.PlacementRequestLine:
		return path + " HTTP/1.1\r\n" + directive + "\r\n\r\nGET " + path, nil
	default: // normal_header
		return path, &httpmodel.HeaderField{Name: name, Value: value}
	}
}

// probeH2CL implements spec §4.5 H2.CL: baseline is a well-formed H2 POST
// with content-length: 3 and a 3-byte body, end_stream=true; the probe
// claims content-length: 4 (placed per h2_payload_placement) over the same
// 3-byte body — a front-end translating to HTTP/1.1 that preserves the
// claimed length leaves the back-end waiting on a fourth byte.
func probeH2CL(ctx context.Context, cfg scanconfig.Config, v httpmodel.HeaderVariation) probeOutcome {
	timeout := cfg.EffectiveTimeout().Seconds()
	body := []byte("abc")

	baselineElapsed, err := withFreshH2Connection(cfg, func(c *h2client.Client) (float64, error) {
		pseudo := basePseudoHeaders(cfg, cfg.Target.Path)
		headers := httpmodel.HeaderList{{Name: "content-length", Value: "3"}}
		return sendH2AndTime(c, pseudo, headers, body, true, timeout)
	})
	if err != nil {
		return probeOutcome{err: err}
	}

	headerName := v.HeaderName
	if headerName == "" {
		headerName = "content-length"
	}
	headerValue := v.HeaderValue
	if headerValue == "" {
		headerValue = "4"
	}
	pathOverride, extra := placeDirective(cfg, cfg.Target.Path, headerName, headerValue)

	probeElapsed, err := withFreshH2Connection(cfg, func(c *h2client.Client) (float64, error) {
		pseudo := basePseudoHeaders(cfg, pathOverride)
		headers := httpmodel.HeaderList{}
		if extra != nil {
			headers = append(headers, *extra)
		}
		headers = append(headers, v.ExtraHeaders...)
		return sendH2AndTime(c, pseudo, headers, body, true, timeout)
	})
	if err != nil {
		return probeOutcome{err: err}
	}

	return probeOutcome{
		baselineElapsed: baselineElapsed,
		probeElapsed:    probeElapsed,
		headerName:      headerName,
		headerValue:     headerValue,
	}
}

// probeH2TE implements spec §4.5 H2.TE: baseline is a small well-formed H2
// POST, end_stream=true; the probe claims transfer-encoding: chunked
// (placed per placement) with body "0\r\n" — missing its terminating
// CRLF — and end_stream=false, so a back-end honoring TE waits forever for
// the terminator.
func probeH2TE(ctx context.Context, cfg scanconfig.Config, v httpmodel.HeaderVariation) probeOutcome {
	timeout := cfg.EffectiveTimeout().Seconds()

	baselineElapsed, err := withFreshH2Connection(cfg, func(c *h2client.Client) (float64, error) {
		pseudo := basePseudoHeaders(cfg, cfg.Target.Path)
		body := []byte("ok")
		return sendH2AndTime(c, pseudo, nil, body, true, timeout)
	})
	if err != nil {
		return probeOutcome{err: err}
	}

	headerName := v.HeaderName
	if headerName == "" {
		headerName = "transfer-encoding"
	}
	headerValue := v.HeaderValue
	if headerValue == "" {
		headerValue = "chunked"
	}
	pathOverride, extra := placeDirective(cfg, cfg.Target.Path, headerName, headerValue)

	probeElapsed, err := withFreshH2Connection(cfg, func(c *h2client.Client) (float64, error) {
		pseudo := basePseudoHeaders(cfg, pathOverride)
		headers := httpmodel.HeaderList{}
		if extra != nil {
			headers = append(headers, *extra)
		}
		headers = append(headers, v.ExtraHeaders...)
		return sendH2AndTime(c, pseudo, headers, []byte("0\r\n"), false, timeout)
	})
	if err != nil {
		return probeOutcome{err: err}
	}

	return probeOutcome{
		baselineElapsed: baselineElapsed,
		probeElapsed:    probeElapsed,
		headerName:      headerName,
		headerValue:     headerValue,
	}
}

func sendH2AndTime(c *h2client.Client, pseudo, headers httpmodel.HeaderList, data []byte, endStream bool, timeoutSeconds float64) (float64, error) {
	req := httpmodel.H2Request{PseudoHeaders: pseudo, Headers: headers, Data: data, EndStream: endStream}
	resp, err := c.SendRequest(req, time.Duration(timeoutSeconds*float64(time.Second)))
	if err != nil {
		return 0, err
	}
	return resp.ElapsedSeconds, nil
}
