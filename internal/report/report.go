// Package report is the report aggregator (C6) output side: the stdout
// marker contract consumed by the GUI collaborator, the JSON
// result schema consumed by --output, and a human-readable summary
// grounded on SameerEmVi-Project29's DetectionReport.GenerateReport/String.
package report

import (
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/a0x194/hrsdetect/internal/httpmodel"
)

// jsonReport mirrors spec §6's JSON schema exactly: {target, findings,
// errors, exit_code}.
type jsonReport struct {
	Target   string        `json:"target"`
	Findings []jsonFinding `json:"findings"`
	Errors   []string      `json:"errors"`
	ExitCode int           `json:"exit_code"`
}

type jsonFinding struct {
	ID                string  `json:"id"`
	URL               string  `json:"url"`
	Type              string  `json:"type"`
	Classification    string  `json:"classification"`
	HeaderDescription string  `json:"header_description"`
	HeaderName        string  `json:"header_name"`
	HeaderValue       string  `json:"header_value"`
	BaselineElapsed   float64 `json:"baseline_elapsed"`
	ProbeElapsed      float64 `json:"probe_elapsed"`
	Ratio             float64 `json:"ratio"`
}

// WriteJSON marshals result per spec §6's schema and writes it to w.
func WriteJSON(w io.Writer, result httpmodel.ScanResult) error {
	out := jsonReport{
		Target:   result.Target,
		Errors:   result.Errors,
		ExitCode: result.ExitCode,
	}
	for _, f := range result.Findings {
		out.Findings = append(out.Findings, jsonFinding{
			ID:                f.ID.String(),
			URL:               f.URL,
			Type:              string(f.Type),
			Classification:    string(f.Classification),
			HeaderDescription: f.HeaderDescription,
			HeaderName:        f.HeaderName,
			HeaderValue:       f.HeaderValue,
			BaselineElapsed:   f.BaselineElapsed,
			ProbeElapsed:      f.ProbeElapsed,
			Ratio:             f.Ratio,
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scan result: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// WriteMarkers emits the five stdout markers from spec §4.6, one finding
// at a time, contiguously, plain ASCII, no ANSI color — this is the
// external contract the GUI collaborator parses out of free-form logs.
func WriteMarkers(w io.Writer, result httpmodel.ScanResult) error {
	for _, f := range result.Findings {
		lines := []string{
			fmt.Sprintf("Vulnerability_Type: %s", f.Type),
			fmt.Sprintf("Vulnerable_URL: %s", f.URL),
			fmt.Sprintf("Header_Description: %s", f.HeaderDescription),
			fmt.Sprintf("Actual_Header_Name: %s", f.HeaderName),
			fmt.Sprintf("Actual_Header_Value: %s", f.HeaderValue),
		}
		for _, line := range lines {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

// Summary renders a human-readable digest of result: one line per
// finding plus a trailing error/exit-code line. It is not part of the
// external contract (§6); callers that need the contract use WriteMarkers
// or WriteJSON instead.
func Summary(result httpmodel.ScanResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scan %s: target=%s findings=%d errors=%d exit_code=%d\n",
		result.ID, result.Target, len(result.Findings), len(result.Errors), result.ExitCode)
	for _, f := range result.Findings {
		fmt.Fprintf(&b, "  [%s] %s classification=%s ratio=%.2f (%s: %q)\n",
			f.Type, f.HeaderDescription, f.Classification, f.Ratio, f.HeaderName, f.HeaderValue)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(&b, "  error: %s\n", e)
	}
	return b.String()
}
