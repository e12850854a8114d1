// Package vindex defines the pluggable vector-index adapter contract (C5):
// Add/Seal/Serialize/Load/Search over one index column, plus the element
// type decoding and metric scoring every concrete builder shares (spec
// §4.5). The one concrete builder shipped in this repository lives in the
// graph subpackage; vindex itself owns only the adapter-independent pieces
// so a future builder never has to re-derive them.
package vindex

import (
	"math"

	"github.com/nilotpal/vortexdb/internal/schema"
	"github.com/nilotpal/vortexdb/pkg/errors"
)

// Candidate is one search result: a doc-id and its score under the
// column's declared metric. Search results are ordered best-first —
// smaller is better for every metric this package defines, including the
// similarity ones, which are converted at scoring time (see Score).
type Candidate struct {
	DocID uint32
	Score float32
}

// Adapter is the capability contract a vector-index builder must satisfy.
// Add/Seal are only called while the owning segment is WRITING/SEALED;
// Search is only called once Seal has returned (spec §4.5: "a search
// against an unsealed index in a PERSIST segment is a programming error").
type Adapter interface {
	// Add appends doc's vector, already decoded to float32 lanes.
	Add(doc uint32, vector []float32) error
	// Seal finalizes the index; no further Add calls are valid afterward.
	Seal() error
	// Serialize writes a self-describing blob, framed by internal/codec at
	// the caller's discretion.
	Serialize() ([]byte, error)
	// Search returns the topK best (doc_id, score) pairs for query.
	Search(query []float32, topK int, params map[string]any) ([]Candidate, error)
}

// Loader constructs an Adapter from a previously Serialize-d blob. Each
// builder kind registers its own loader (see graph.Load).
type Loader func(blob []byte, spec *schema.IndexColumnSpec, useMmap bool) (Adapter, error)

// Factory constructs a fresh, unsealed Adapter for a WRITING-state segment.
type Factory func(spec *schema.IndexColumnSpec) Adapter

var (
	factories = map[schema.IndexKind]Factory{}
	loaders   = map[schema.IndexKind]Loader{}
)

// Register makes a builder kind available to NewAdapter/LoadAdapter. Called
// from each concrete builder's package init (see graph's init).
func Register(kind schema.IndexKind, factory Factory, loader Loader) {
	factories[kind] = factory
	loaders[kind] = loader
}

// NewAdapter constructs a fresh builder for spec's declared index_kind.
func NewAdapter(spec *schema.IndexColumnSpec) (Adapter, error) {
	factory, ok := factories[spec.IndexKind]
	if !ok {
		return nil, errors.NewUnknownColumnError(spec.Name, "new_adapter").
			WithDetail("indexKind", string(spec.IndexKind))
	}
	return factory(spec), nil
}

// LoadAdapter restores a builder of spec's declared index_kind from blob.
func LoadAdapter(blob []byte, spec *schema.IndexColumnSpec, useMmap bool) (Adapter, error) {
	loader, ok := loaders[spec.IndexKind]
	if !ok {
		return nil, errors.NewUnknownColumnError(spec.Name, "load_adapter").
			WithDetail("indexKind", string(spec.IndexKind))
	}
	return loader(blob, spec, useMmap)
}

// DecodeVector converts a raw column payload into float32 lanes according
// to spec's declared element type, the adapter-independent half of spec
// §4.5's "converting between the column's declared vector element type and
// what the underlying builder expects" responsibility.
func DecodeVector(raw []byte, spec *schema.IndexColumnSpec) ([]float32, error) {
	want := spec.VectorByteLength()
	if len(raw) != want {
		return nil, errors.NewInvalidVectorError(spec.Name, spec.Dimension, len(raw))
	}

	switch spec.DataType {
	case schema.DataTypeFP32:
		out := make([]float32, spec.Dimension)
		for i := 0; i < spec.Dimension; i++ {
			bits := uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
			out[i] = math.Float32frombits(bits)
		}
		return out, nil

	case schema.DataTypeFP16:
		out := make([]float32, spec.Dimension)
		for i := 0; i < spec.Dimension; i++ {
			bits := uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
			out[i] = float16ToFloat32(bits)
		}
		return out, nil

	case schema.DataTypeInt8:
		out := make([]float32, spec.Dimension)
		for i := 0; i < spec.Dimension; i++ {
			out[i] = float32(int8(raw[i]))
		}
		return out, nil

	case schema.DataTypeBinary:
		out := make([]float32, spec.Dimension)
		for i := 0; i < spec.Dimension; i++ {
			byteIdx := i / 8
			bit := uint(i % 8)
			if raw[byteIdx]&(1<<bit) != 0 {
				out[i] = 1
			}
		}
		return out, nil

	default:
		return nil, errors.NewUnknownColumnError(spec.Name, "decode_vector").WithDetail("dataType", spec.DataType.String())
	}
}

// float16ToFloat32 converts an IEEE 754 binary16 value to binary32.
func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff

	var outExp, outFrac uint32
	switch {
	case exp == 0 && frac == 0: // zero
		outExp, outFrac = 0, 0
	case exp == 0: // subnormal: normalize
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		exp++
		frac &= 0x3ff
		outExp = exp - 15 + 127
		outFrac = frac << 13
	case exp == 0x1f: // inf/nan
		outExp, outFrac = 0xff, frac<<13
	default:
		outExp = exp - 15 + 127
		outFrac = frac << 13
	}

	bits := sign<<31 | outExp<<23 | outFrac
	return math.Float32frombits(bits)
}

// Score computes the distance/similarity between a and b under m, returning
// a value where smaller is always better (similarity metrics are negated).
func Score(m schema.Metric, a, b []float32) float32 {
	switch m {
	case schema.MetricL2Squared:
		var sum float32
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}
		return sum

	case schema.MetricInnerProduct:
		var sum float32
		for i := range a {
			sum += a[i] * b[i]
		}
		return -sum // smaller-is-better: negate so higher inner product sorts first

	case schema.MetricCosine:
		var dot, na, nb float32
		for i := range a {
			dot += a[i] * b[i]
			na += a[i] * a[i]
			nb += b[i] * b[i]
		}
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - dot/float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))

	case schema.MetricHamming:
		var dist float32
		for i := range a {
			if a[i] != b[i] {
				dist++
			}
		}
		return dist

	default:
		return float32(math.Inf(1))
	}
}
