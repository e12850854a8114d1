// Package schema defines the data model shared by every component of the
// collection storage engine: doc-ids, primary keys, LSNs, and the
// CollectionSchema/IndexColumnSpec pair that a write batch and a query must
// agree with. Validation here never mutates state (spec §7's "Validation
// errors never mutate state" policy) — it only rejects malformed input
// before it reaches a segment.
package schema

import (
	"strings"

	"github.com/nilotpal/vortexdb/pkg/errors"
)

// DocId is a 32-bit dense, monotonically assigned integer scoped to one
// collection. Never reused; gaps may exist when a segment is sealed early.
type DocId uint32

// PrimaryKey is the 64-bit caller-supplied identifier unique within a
// collection at any instant.
type PrimaryKey uint64

// LSN is the 64-bit, monotonically non-decreasing write sequence number
// supplied by the caller with every write row.
type LSN uint64

// DataType enumerates the vector element types a column may declare.
type DataType uint8

const (
	DataTypeUnspecified DataType = iota
	DataTypeFP32
	DataTypeFP16
	DataTypeInt8
	DataTypeBinary
)

func (t DataType) String() string {
	switch t {
	case DataTypeFP32:
		return "fp32"
	case DataTypeFP16:
		return "fp16"
	case DataTypeInt8:
		return "int8"
	case DataTypeBinary:
		return "binary"
	default:
		return "unspecified"
	}
}

// ElementSize returns the on-wire byte size of one vector element, or 0 for
// binary vectors (which are bit-packed and sized by Dimension instead).
func (t DataType) ElementSize() int {
	switch t {
	case DataTypeFP32:
		return 4
	case DataTypeFP16:
		return 2
	case DataTypeInt8:
		return 1
	default:
		return 0
	}
}

// Metric enumerates the distance/similarity functions a column may declare.
type Metric uint8

const (
	MetricUnspecified Metric = iota
	MetricL2Squared
	MetricInnerProduct
	MetricCosine
	MetricHamming
)

func (m Metric) String() string {
	switch m {
	case MetricL2Squared:
		return "l2_squared"
	case MetricInnerProduct:
		return "inner_product"
	case MetricCosine:
		return "cosine"
	case MetricHamming:
		return "hamming"
	default:
		return "unspecified"
	}
}

// IndexKind enumerates the pluggable ANN builder kinds a column may request.
// "graph" is the only kind this repository ships a builder for (spec §4.5a);
// other values are accepted by schema validation so a future adapter
// registered through the factory (spec §9) can serve them.
type IndexKind string

const (
	IndexKindGraph IndexKind = "graph"
)

// LogicalType enumerates the forward-attribute value types the engine
// persists, replacing the source's type-erased "cube" container (spec §9)
// with a closed tagged sum.
type LogicalType uint8

const (
	LogicalTypeUnspecified LogicalType = iota
	LogicalTypeInt32
	LogicalTypeInt64
	LogicalTypeFloat32
	LogicalTypeFloat64
	LogicalTypeBool
	LogicalTypeBytes
)

func (t LogicalType) String() string {
	switch t {
	case LogicalTypeInt32:
		return "i32"
	case LogicalTypeInt64:
		return "i64"
	case LogicalTypeFloat32:
		return "f32"
	case LogicalTypeFloat64:
		return "f64"
	case LogicalTypeBool:
		return "bool"
	case LogicalTypeBytes:
		return "bytes"
	default:
		return "unspecified"
	}
}

// ForwardColumn describes one non-vector attribute carried by every row.
type ForwardColumn struct {
	Name        string      `json:"name"`
	LogicalType LogicalType `json:"logicalType"`
}

// IndexColumnSpec describes one vector column and the ANN adapter that
// serves it (spec §3 IndexColumnSpec).
type IndexColumnSpec struct {
	Name          string         `json:"name"`
	IndexKind     IndexKind      `json:"indexKind"`
	DataType      DataType       `json:"dataType"`
	Dimension     int            `json:"dimension"`
	Metric        Metric         `json:"metric"`
	BuilderParams map[string]any `json:"builderParams,omitempty"`
}

// VectorByteLength returns how many bytes a single vector of this column
// occupies on the wire.
func (c *IndexColumnSpec) VectorByteLength() int {
	if c.DataType == DataTypeBinary {
		return (c.Dimension + 7) / 8
	}
	return c.Dimension * c.DataType.ElementSize()
}

// CollectionSchema is the immutable-after-creation description of one
// collection (spec §3). Only Revision and MaxDocsPerSegment are ever
// replaced across an UpdateSchema call; ForwardColumns/IndexColumns are
// fixed for the collection's lifetime (spec §1 non-goal: no online schema
// evolution of index columns).
type CollectionSchema struct {
	Name              string            `json:"name"`
	Revision          uint32            `json:"revision"`
	MaxDocsPerSegment uint32            `json:"maxDocsPerSegment"`
	ForwardColumns    []ForwardColumn   `json:"forwardColumns"`
	IndexColumns      []IndexColumnSpec `json:"indexColumns"`
}

// IndexColumn finds the spec for a named index column, or (nil, false).
func (s *CollectionSchema) IndexColumn(name string) (*IndexColumnSpec, bool) {
	for i := range s.IndexColumns {
		if s.IndexColumns[i].Name == name {
			return &s.IndexColumns[i], true
		}
	}
	return nil, false
}

// ForwardColumnIndex returns the ordinal position of a named forward column,
// or (-1, false).
func (s *CollectionSchema) ForwardColumnIndex(name string) (int, bool) {
	for i := range s.ForwardColumns {
		if s.ForwardColumns[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// Validate checks structural invariants of a freshly constructed schema.
// It never mutates s.
func (s *CollectionSchema) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.NewRequiredFieldError("name")
	}
	if len(s.IndexColumns) == 0 {
		return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "a collection requires at least one index column").
			WithField("indexColumns").WithRule("min_length")
	}

	seen := make(map[string]struct{}, len(s.IndexColumns)+len(s.ForwardColumns))
	for _, c := range s.IndexColumns {
		if strings.TrimSpace(c.Name) == "" {
			return errors.NewRequiredFieldError("indexColumns[].name")
		}
		if _, dup := seen[c.Name]; dup {
			return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "duplicate column name").
				WithField("indexColumns[].name").WithProvided(c.Name)
		}
		seen[c.Name] = struct{}{}

		if c.Dimension <= 0 {
			return errors.NewFieldRangeError("indexColumns["+c.Name+"].dimension", c.Dimension, 1, nil)
		}
		if c.DataType == DataTypeUnspecified {
			return errors.NewRequiredFieldError("indexColumns[" + c.Name + "].dataType")
		}
		if c.Metric == MetricUnspecified {
			return errors.NewRequiredFieldError("indexColumns[" + c.Name + "].metric")
		}
		if c.IndexKind == "" {
			return errors.NewRequiredFieldError("indexColumns[" + c.Name + "].indexKind")
		}
	}

	for _, c := range s.ForwardColumns {
		if strings.TrimSpace(c.Name) == "" {
			return errors.NewRequiredFieldError("forwardColumns[].name")
		}
		if _, dup := seen[c.Name]; dup {
			return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "duplicate column name").
				WithField("forwardColumns[].name").WithProvided(c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.LogicalType == LogicalTypeUnspecified {
			return errors.NewRequiredFieldError("forwardColumns[" + c.Name + "].logicalType")
		}
	}

	return nil
}

// ValidateUpdate checks that newSchema is an acceptable replacement for s
// under the policy of spec §4.8 update_schema: strictly newer revision, and
// the only mutable field is MaxDocsPerSegment.
func (s *CollectionSchema) ValidateUpdate(newSchema *CollectionSchema) error {
	if newSchema.Revision <= s.Revision {
		return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "schema update must strictly increase the revision").
			WithField("revision").WithProvided(newSchema.Revision).WithExpected(s.Revision + 1)
	}
	if newSchema.Name != s.Name {
		return errors.NewValidationError(nil, errors.ErrorCodeUnsupportedSchemaChange, "collection name cannot change").
			WithField("name")
	}
	if !sameIndexColumns(s.IndexColumns, newSchema.IndexColumns) {
		return errors.NewValidationError(nil, errors.ErrorCodeUnsupportedSchemaChange, "index columns cannot change in this version").
			WithField("indexColumns")
	}
	if !sameForwardColumns(s.ForwardColumns, newSchema.ForwardColumns) {
		return errors.NewValidationError(nil, errors.ErrorCodeUnsupportedSchemaChange, "forward columns cannot change in this version").
			WithField("forwardColumns")
	}
	return nil
}

func sameIndexColumns(a, b []IndexColumnSpec) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].IndexKind != b[i].IndexKind ||
			a[i].DataType != b[i].DataType || a[i].Dimension != b[i].Dimension ||
			a[i].Metric != b[i].Metric {
			return false
		}
	}
	return true
}

func sameForwardColumns(a, b []ForwardColumn) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].LogicalType != b[i].LogicalType {
			return false
		}
	}
	return true
}
