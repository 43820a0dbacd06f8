package detect

import "github.com/a0x194/hrsdetect/internal/httpmodel"

// RunStub is the CL.0/H2.0 detector body: per spec §9's open question,
// their payload semantics are under-documented in the original tool and
// are deliberately not guessed at here. Selecting either always returns
// ErrNotImplemented and never produces a Finding (P6).
func RunStub(kind httpmodel.DetectorKind) error {
	if kind != httpmodel.DetectorCL0 && kind != httpmodel.DetectorH20 {
		return nil
	}
	return ErrNotImplemented
}
