package errors

// IndexError provides specialized error handling for vector-index and
// in-memory PK→DocId index operations: unknown columns, undecodable vectors,
// corrupted adapter state, and segment-index bookkeeping failures. It embeds
// baseError to inherit the standard chain, then adds the context a caller
// needs to know which column/segment/operation was involved.
type IndexError struct {
	*baseError

	// column identifies which index or forward column was being processed.
	column string

	// segmentID indicates which segment was involved, if applicable.
	segmentID uint32

	// operation describes what was being performed: "Add", "Seal", "Search",
	// "Serialize", "Load", "Recovery".
	operation string

	// dimension captures the vector dimension involved, for InvalidVector errors.
	dimension int

	// candidateCount captures how many candidates the index held at failure time,
	// useful when diagnosing capacity or corruption issues.
	candidateCount int
}

// NewIndexError creates a new index-specific error with the provided context.
func NewIndexError(err error, code ErrorCode, msg string) *IndexError {
	return &IndexError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the IndexError type.
func (ie *IndexError) WithMessage(msg string) *IndexError {
	ie.baseError.WithMessage(msg)
	return ie
}

// WithDetail adds contextual information while maintaining the IndexError type.
func (ie *IndexError) WithDetail(key string, value any) *IndexError {
	ie.baseError.WithDetail(key, value)
	return ie
}

// WithColumn records which index/forward column was involved.
func (ie *IndexError) WithColumn(column string) *IndexError {
	ie.column = column
	return ie
}

// WithSegmentID records which segment was involved.
func (ie *IndexError) WithSegmentID(id uint32) *IndexError {
	ie.segmentID = id
	return ie
}

// WithOperation records which operation was being performed.
func (ie *IndexError) WithOperation(operation string) *IndexError {
	ie.operation = operation
	return ie
}

// WithDimension records the vector dimension involved in the failure.
func (ie *IndexError) WithDimension(dim int) *IndexError {
	ie.dimension = dim
	return ie
}

// WithCandidateCount records how many candidates the index held at failure time.
func (ie *IndexError) WithCandidateCount(n int) *IndexError {
	ie.candidateCount = n
	return ie
}

// Column returns the index/forward column involved in the error.
func (ie *IndexError) Column() string { return ie.column }

// SegmentID returns the segment identifier associated with the error.
func (ie *IndexError) SegmentID() uint32 { return ie.segmentID }

// Operation returns the name of the operation that was being performed.
func (ie *IndexError) Operation() string { return ie.operation }

// Dimension returns the vector dimension involved in the error.
func (ie *IndexError) Dimension() int { return ie.dimension }

// CandidateCount returns the candidate count recorded at failure time.
func (ie *IndexError) CandidateCount() int { return ie.candidateCount }

// NewUnknownColumnError builds the error returned when a query or write
// references a column absent from the collection's schema.
func NewUnknownColumnError(column, operation string) *IndexError {
	return NewIndexError(nil, ErrorCodeUnknownColumn, "referenced column is absent from the collection schema").
		WithColumn(column).
		WithOperation(operation)
}

// NewInvalidVectorError builds the error returned when a vector payload
// cannot be decoded under its column's declared data type or dimension.
func NewInvalidVectorError(column string, wantDim, gotLen int) *IndexError {
	return NewIndexError(nil, ErrorCodeInvalidVector, "vector payload cannot be decoded under the column's data type").
		WithColumn(column).
		WithDimension(wantDim).
		WithDetail("payloadLength", gotLen)
}

// NewIndexCorruptionError builds the error returned when an adapter detects
// structurally inconsistent on-disk state during Load.
func NewIndexCorruptionError(column, operation string, cause error) *IndexError {
	return NewIndexError(cause, ErrorCodeIndexCorrupted, "vector index data structure corrupted").
		WithColumn(column).
		WithOperation(operation)
}
