package httpmodel

import "github.com/google/uuid"

// DetectorKind names one of the detection techniques a scan can run.
type DetectorKind string

const (
	DetectorCLTE DetectorKind = "CL.TE"
	DetectorTECL DetectorKind = "TE.CL"
	DetectorH2CL DetectorKind = "H2.CL"
	DetectorH2TE DetectorKind = "H2.TE"
	DetectorCL0  DetectorKind = "CL.0"
	DetectorH20  DetectorKind = "H2.0"
)

// AllDetectors is the default run order: CL.TE, TE.CL, H2.CL, H2.TE.
// CL.0 and H2.0 are stubs and are never included by default — a caller
// must name them explicitly to hit the not-implemented error.
var AllDetectors = []DetectorKind{DetectorCLTE, DetectorTECL, DetectorH2CL, DetectorH2TE}

// PayloadPlacement controls where an H2 probe embeds its smuggled
// directive.
type PayloadPlacement string

const (
	PlacementNormalHeader      PayloadPlacement = "normal_header"
	PlacementCustomHeaderValue PayloadPlacement = "custom_header_value"
	PlacementCustomHeaderName  PayloadPlacement = "custom_header_name"
	PlacementRequestLine       PayloadPlacement = "request_line"
)

// Classification is the outcome of comparing a probe's elapsed time
// against its baseline.
type Classification string

const (
	Safe       Classification = "safe"
	Uncertain  Classification = "uncertain"
	Vulnerable Classification = "vulnerable"
)

// Finding is one positively-classified (vulnerable or uncertain) probe
// result.
type Finding struct {
	ID                uuid.UUID
	URL               string
	Type              DetectorKind
	Classification    Classification
	HeaderDescription string
	HeaderName        string
	HeaderValue       string
	BaselineElapsed   float64
	ProbeElapsed      float64
	Ratio             float64
}

// ScanResult is the outcome of running RunScan against one target.
type ScanResult struct {
	ID       uuid.UUID
	Target   string
	Findings []Finding
	Errors   []string
	ExitCode int
}

// Classify applies the threshold-ratio rule (spec §4.5): the 0.1s floor
// on the baseline guards against division-by-tiny-number false positives
// on fast loopback tests.
func Classify(baselineElapsed, probeElapsed, thresholdRatio, timeout float64) (Classification, float64) {
	effectiveBaseline := baselineElapsed
	if effectiveBaseline < 0.1 {
		effectiveBaseline = 0.1
	}
	ratio := probeElapsed / effectiveBaseline
	if probeElapsed >= thresholdRatio*effectiveBaseline && probeElapsed >= 0.9*timeout {
		return Vulnerable, ratio
	}
	if probeElapsed >= 1.5*effectiveBaseline {
		return Uncertain, ratio
	}
	return Safe, ratio
}
