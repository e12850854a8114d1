package errors

// WriteError is a specialized error type for write-path failures: schema
// mismatches, magic mismatches, and LSN ordering violations. It embeds
// baseError the same way StorageError and ValidationError do, and adds the
// context a caller needs to retry or fix a rejected write batch.
type WriteError struct {
	*baseError

	// primaryKey identifies which row of the batch failed, if the failure is
	// row-scoped (StaleWrite, NonMonotonicLSN). Zero when the failure is
	// batch-scoped (MismatchedSchema, MismatchedMagic).
	primaryKey uint64

	// rowIndex is the zero-based position of the failing row within its batch.
	// write_records truncates the batch at this row (spec §4.8).
	rowIndex int

	// lsn is the LSN carried by the failing row.
	lsn uint64

	// operation names the write op in progress: INSERT, UPDATE, or DELETE.
	operation string
}

// NewWriteError creates a new write-path error with the given cause, code and message.
func NewWriteError(err error, code ErrorCode, msg string) *WriteError {
	return &WriteError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the WriteError type.
func (we *WriteError) WithMessage(msg string) *WriteError {
	we.baseError.WithMessage(msg)
	return we
}

// WithDetail adds contextual information while maintaining the WriteError type.
func (we *WriteError) WithDetail(key string, value any) *WriteError {
	we.baseError.WithDetail(key, value)
	return we
}

// WithPrimaryKey records which primary key was involved in the failure.
func (we *WriteError) WithPrimaryKey(pk uint64) *WriteError {
	we.primaryKey = pk
	return we
}

// WithRowIndex records the zero-based row position within the batch that failed.
func (we *WriteError) WithRowIndex(idx int) *WriteError {
	we.rowIndex = idx
	return we
}

// WithLSN records the LSN carried by the failing row.
func (we *WriteError) WithLSN(lsn uint64) *WriteError {
	we.lsn = lsn
	return we
}

// WithOperation records which write operation (INSERT/UPDATE/DELETE) failed.
func (we *WriteError) WithOperation(op string) *WriteError {
	we.operation = op
	return we
}

// PrimaryKey returns the primary key involved in the failure.
func (we *WriteError) PrimaryKey() uint64 { return we.primaryKey }

// RowIndex returns the zero-based row position within the batch that failed.
func (we *WriteError) RowIndex() int { return we.rowIndex }

// LSN returns the LSN carried by the failing row.
func (we *WriteError) LSN() uint64 { return we.lsn }

// Operation returns the write operation that failed.
func (we *WriteError) Operation() string { return we.operation }

// NewStaleWriteError builds the error returned when an UPDATE with
// lsn_check set arrives with an LSN not greater than the stored one.
func NewStaleWriteError(pk, incomingLSN, storedLSN uint64, rowIndex int) *WriteError {
	return NewWriteError(nil, ErrorCodeStaleWrite, "write rejected: LSN is not newer than the stored LSN for this primary key").
		WithPrimaryKey(pk).
		WithLSN(incomingLSN).
		WithRowIndex(rowIndex).
		WithOperation("UPDATE").
		WithDetail("storedLsn", storedLSN)
}

// NewNonMonotonicLSNError builds the error returned when a row's LSN is
// lower than the previous row's LSN within the same batch.
func NewNonMonotonicLSNError(pk, lsn, previousLSN uint64, rowIndex int) *WriteError {
	return NewWriteError(nil, ErrorCodeNonMonotonicLSN, "write rejected: batch rows must carry non-decreasing LSNs").
		WithPrimaryKey(pk).
		WithLSN(lsn).
		WithRowIndex(rowIndex).
		WithDetail("previousLsn", previousLSN)
}

// NewMismatchedSchemaError builds the error returned when a batch's
// schema_revision does not match the collection's current revision.
func NewMismatchedSchemaError(batchRevision, currentRevision uint32) *WriteError {
	return NewWriteError(nil, ErrorCodeMismatchedSchema, "write rejected: batch schema revision does not match the collection's current revision").
		WithDetail("batchRevision", batchRevision).
		WithDetail("currentRevision", currentRevision)
}

// NewMismatchedMagicError builds the error returned when a batch's
// magic_number does not match the collection's opened epoch.
func NewMismatchedMagicError(batchMagic, openedMagic uint64) *WriteError {
	return NewWriteError(nil, ErrorCodeMismatchedMagic, "write rejected: batch magic number does not match the opened collection epoch").
		WithDetail("batchMagic", batchMagic).
		WithDetail("openedMagic", openedMagic)
}
