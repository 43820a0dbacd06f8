// Package scanconfig holds the flat configuration struct RunScan takes,
// grounded on maxvaer-dirfuzz's internal/config.Options: one flat struct
// with target, performance, and HTTP groupings rather than nested option
// objects per subsystem.
package scanconfig

import (
	"time"

	"github.com/a0x194/hrsdetect/internal/httpmodel"
)

// VariationFiles names the on-disk catalogs for each probe family; an
// empty string falls back to the built-in defaults.
type VariationFiles struct {
	TE string
	CL string
}

// Config is everything RunScan needs for one target. Detector internals
// never read ambient/global state — everything flows in through this
// struct.
type Config struct {
	Target             httpmodel.Target
	Detectors          []httpmodel.DetectorKind
	ExtraHeaders       httpmodel.HeaderList
	Timeout            time.Duration
	ExitFirst          bool
	H2PayloadPlacement httpmodel.PayloadPlacement
	VariationFiles     VariationFiles
	InsecureSkipVerify bool
}

// DefaultTimeout is used when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// EffectiveTimeout returns Timeout or DefaultTimeout if unset.
func (c Config) EffectiveTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// EffectiveDetectors returns Detectors or httpmodel.AllDetectors if the
// caller named none.
func (c Config) EffectiveDetectors() []httpmodel.DetectorKind {
	if len(c.Detectors) == 0 {
		return httpmodel.AllDetectors
	}
	return c.Detectors
}

// EffectivePlacement returns H2PayloadPlacement or PlacementNormalHeader
// if unset.
func (c Config) EffectivePlacement() httpmodel.PayloadPlacement {
	if c.H2PayloadPlacement == "" {
		return httpmodel.PlacementNormalHeader
	}
	return c.H2PayloadPlacement
}
