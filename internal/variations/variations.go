// Package variations loads the CL/TE header-variation catalogs that drive
// each detector's probe loop: an ordered, byte-exact list of header
// spellings to try. Catalogs are plain JSON on disk; this package decodes
// them with goccy/go-json (matching easegress's choice of the same
// library for its own config decoding) rather than stdlib encoding/json —
// behaviorally identical, used here simply because it's the pack's
// established way to decode hot-path JSON.
package variations

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"github.com/a0x194/hrsdetect/internal/httpmodel"
)

// Catalog is an ordered list of variations; order in the source file is
// the order probed (spec §4.4).
type Catalog []httpmodel.HeaderVariation

type fileHeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type fileVariation struct {
	Description  string            `json:"description"`
	HeaderName   string            `json:"header_name"`
	HeaderValue  string            `json:"header_value"`
	ExtraHeaders []fileHeaderField `json:"extra_headers"`
}

// Load reads a JSON array of variations from path. Strings on disk are
// UTF-8; once loaded they're treated as raw bytes and never normalized.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read variation catalog %s: %w", path, err)
	}
	var raw []fileVariation
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, httpmodel.NewError(httpmodel.ErrInput, "parse variation catalog "+path, err)
	}
	return toCatalog(raw), nil
}

func toCatalog(raw []fileVariation) Catalog {
	out := make(Catalog, 0, len(raw))
	for _, v := range raw {
		extra := make(httpmodel.HeaderList, 0, len(v.ExtraHeaders))
		for _, h := range v.ExtraHeaders {
			extra = append(extra, httpmodel.HeaderField{Name: h.Name, Value: h.Value})
		}
		out = append(out, httpmodel.HeaderVariation{
			Description:  v.Description,
			HeaderName:   v.HeaderName,
			HeaderValue:  v.HeaderValue,
			ExtraHeaders: extra,
		})
	}
	return out
}

// LoadOrDefault loads path, falling back to the built-in catalog of kind
// when path is empty or unreadable — mirrors the spec's "built-in
// defaults if unreadable" fallback for C4.
func LoadOrDefault(path string, kind Kind) Catalog {
	if path != "" {
		if cat, err := Load(path); err == nil {
			return cat
		}
	}
	return Defaults(kind)
}

// Kind selects which built-in default catalog to fall back to.
type Kind int

const (
	TE Kind = iota
	CL
)

// Defaults returns the minimal built-in catalog for kind, used when no
// catalog file is supplied or the file can't be read. A real deployment
// supplies a much larger catalog (see DESIGN.md); these are the floor the
// spec requires: at least one TE spelling, at least one CL spelling.
func Defaults(kind Kind) Catalog {
	switch kind {
	case CL:
		return Catalog{
			{Description: "standard Content-Length", HeaderName: "Content-Length", HeaderValue: ""},
		}
	default:
		return Catalog{
			{Description: "standard chunked", HeaderName: "Transfer-Encoding", HeaderValue: "chunked"},
			{Description: "cased spelling", HeaderName: "Transfer-encoding", HeaderValue: "chunked"},
			{Description: "tab before value", HeaderName: "Transfer-Encoding", HeaderValue: "\tchunked"},
			{Description: "space before colon (obsolete BWS)", HeaderName: "Transfer-Encoding ", HeaderValue: " chunked"},
			{Description: "trailing space in value", HeaderName: "Transfer-Encoding", HeaderValue: " chunked "},
			{Description: "line-folded value", HeaderName: "Transfer-Encoding", HeaderValue: "\r\n chunked"},
			{Description: "duplicate header, second wins", HeaderName: "Transfer-Encoding",
				HeaderValue: " identity", ExtraHeaders: httpmodel.HeaderList{{Name: "Transfer-Encoding", Value: " chunked"}}},
			{Description: "underscore in name", HeaderName: "Transfer_Encoding", HeaderValue: " chunked"},
			{Description: "suffixed garbage in value", HeaderName: "Transfer-Encoding", HeaderValue: " chunked\x00"},
			{Description: "x prefix on value", HeaderName: "Transfer-Encoding", HeaderValue: " xchunked"},
		}
	}
}
