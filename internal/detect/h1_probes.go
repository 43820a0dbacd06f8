package detect

import (
	"context"
	"strconv"
	"time"

	"github.com/a0x194/hrsdetect/internal/h1client"
	"github.com/a0x194/hrsdetect/internal/httpmodel"
	"github.com/a0x194/hrsdetect/internal/scanconfig"
)

// withFreshConnection opens exactly one h1client.Client, runs fn, and
// closes it regardless of outcome — per spec §5's "fresh connection per
// probe", no socket is ever reused between baseline and probe. A connect
// timeout is caught here rather than propagated: per spec §7 it is NOT
// fatal for a probe, the elapsed time it took to time out is the signal.
func withFreshConnection(cfg scanconfig.Config, fn func(c *h1client.Client) (float64, error)) (float64, error) {
	c := h1client.New(cfg.Target, !cfg.InsecureSkipVerify)
	defer c.Close()

	start := time.Now()
	if err := c.Connect(h1client.DefaultConnectTimeout); err != nil {
		if isConnectTimeout(err) {
			return time.Since(start).Seconds(), nil
		}
		return 0, err
	}
	return fn(c)
}

func sendAndTime(c *h1client.Client, req httpmodel.Request, timeoutSeconds float64) (float64, error) {
	resp, err := c.SendRequest(req, time.Duration(timeoutSeconds*float64(time.Second)))
	if err != nil {
		return 0, err
	}
	return resp.ElapsedSeconds, nil
}

func baseHeaders(cfg scanconfig.Config) httpmodel.HeaderList {
	headers := httpmodel.HeaderList{httpmodel.H("Host", cfg.Target.Authority())}
	headers = append(headers, cfg.ExtraHeaders...)
	return headers
}

// probeCLTE implements spec §4.5 CL.TE: the baseline is a well-formed POST
// with Content-Length: 6 and body "0\r\n\r\nX"; the probe adds the
// variation's Transfer-Encoding header alongside a Content-Length sized to
// the starve-TE-reader body "1\r\nA\r\nX" — a TE-honoring back-end waits for
// a chunk that never arrives.
func probeCLTE(ctx context.Context, cfg scanconfig.Config, v httpmodel.HeaderVariation) probeOutcome {
	timeout := cfg.EffectiveTimeout().Seconds()

	baselineBody := []byte("0\r\n\r\nX")
	baselineElapsed, err := withFreshConnection(cfg, func(c *h1client.Client) (float64, error) {
		headers := append(baseHeaders(cfg), httpmodel.H("Content-Length", strconv.Itoa(len(baselineBody))))
		req := httpmodel.NewRequest("POST", cfg.Target.Path, headers, baselineBody)
		return sendAndTime(c, req, timeout)
	})
	if err != nil {
		return probeOutcome{err: err}
	}

	probeBody := []byte("1\r\nA\r\nX")
	headerName := v.HeaderName
	headerValue := v.HeaderValue
	probeElapsed, err := withFreshConnection(cfg, func(c *h1client.Client) (float64, error) {
		headers := append(baseHeaders(cfg), httpmodel.H("Content-Length", strconv.Itoa(len(probeBody))))
		headers = append(headers, httpmodel.HeaderField{Name: headerName, Value: headerValue})
		headers = append(headers, v.ExtraHeaders...)
		req := httpmodel.NewRequest("POST", cfg.Target.Path, headers, probeBody)
		return sendAndTime(c, req, timeout)
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

// probeTECL implements spec §4.5 TE.CL: the baseline is a plain GET; the
// probe sends the variation's Transfer-Encoding header with
// Content-Length: 4 and a chunked body "8\r\nSMUGGLED\r\n0\r\n\r\n" — a
// CL-honoring back-end reads only 4 bytes and stalls waiting for the
// remainder that a TE-honoring front-end never forwards as a new request.
func probeTECL(ctx context.Context, cfg scanconfig.Config, v httpmodel.HeaderVariation) probeOutcome {
	timeout := cfg.EffectiveTimeout().Seconds()

	baselineElapsed, err := withFreshConnection(cfg, func(c *h1client.Client) (float64, error) {
		req := httpmodel.NewRequest("GET", cfg.Target.Path, baseHeaders(cfg), nil)
		return sendAndTime(c, req, timeout)
	})
	if err != nil {
		return probeOutcome{err: err}
	}

	probeBody := []byte("8\r\nSMUGGLED\r\n0\r\n\r\n")
	headerName := v.HeaderName
	headerValue := v.HeaderValue
	probeElapsed, err := withFreshConnection(cfg, func(c *h1client.Client) (float64, error) {
		headers := append(baseHeaders(cfg), httpmodel.HeaderField{Name: headerName, Value: headerValue})
		headers = append(headers, v.ExtraHeaders...)
		headers = append(headers, httpmodel.H("Content-Length", "4"))
		req := httpmodel.NewRequest("POST", cfg.Target.Path, headers, probeBody)
		return sendAndTime(c, req, timeout)
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

