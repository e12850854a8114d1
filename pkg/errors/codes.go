package errors

// ErrorCode represents a standardized way to categorize different types of errors.
type ErrorCode string

// Base error codes represent the fundamental categories of failures that can
// occur across any software system. These codes provide the foundation layer
// of error classification.
const (
	// ErrorCodeIO represents failures in input/output operations across any
	// system boundary: segment files, mmap regions, directory creation.
	ErrorCodeIO ErrorCode = "IO_ERROR"

	// ErrorCodeInvalidInput represents client-side errors where the provided
	// data doesn't meet the system's requirements or constraints.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInternal represents unexpected system failures that don't fit
	// into other categories: invariant violations, programming errors.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"

	// ErrorCodeNotFound indicates a collection/segment/column/primary key was
	// not present when an operation required it to exist.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrorCodeAlreadyExists indicates a collection with that name is already open.
	ErrorCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// ErrorCodeResourceBusy indicates a non-blocking operation could not
	// proceed right now; the caller should retry.
	ErrorCodeResourceBusy ErrorCode = "RESOURCE_BUSY"
)

// Storage-specific error codes extend the base error taxonomy to handle the
// unique failure modes that occur in persistent, memory-mapped segment storage.
const (
	// ErrorCodeSegmentCorrupted indicates that a segment file's data has been
	// damaged or is in an inconsistent state.
	ErrorCodeSegmentCorrupted ErrorCode = "SEGMENT_CORRUPTED"

	// ErrorCodeHeaderReadFailure occurs when the system cannot read the block
	// header of a C2-encoded file.
	ErrorCodeHeaderReadFailure ErrorCode = "HEADER_READ_FAILURE"

	// ErrorCodePayloadReadFailure indicates problems reading the actual data
	// content of a block after successfully reading its header.
	ErrorCodePayloadReadFailure ErrorCode = "PAYLOAD_READ_FAILURE"

	// ErrorCodeRecoveryFailed indicates that the storage system's attempt to
	// recover from a previous failure was unsuccessful.
	ErrorCodeRecoveryFailed ErrorCode = "STORAGE_RECOVERY_FAILED"

	// ErrorCodePermissionDenied indicates insufficient permissions to access a resource.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeDiskFull indicates that the storage device has run out of space.
	ErrorCodeDiskFull ErrorCode = "DISK_FULL"

	// ErrorCodeFilesystemReadonly indicates that the filesystem is mounted read-only.
	ErrorCodeFilesystemReadonly ErrorCode = "FILESYSTEM_READONLY"

	// ErrorCodeIntegrityError means on-disk data failed a checksum check (spec §7).
	ErrorCodeIntegrityError ErrorCode = "INTEGRITY_ERROR"

	// ErrorCodeIncompatibleFormat means a block/manifest format version is
	// outside the range this build understands (spec §7).
	ErrorCodeIncompatibleFormat ErrorCode = "INCOMPATIBLE_FORMAT"

	// ErrorCodeLockConflict indicates an exclusive advisory lock on a
	// collection's manifest could not be acquired because another writer holds it.
	ErrorCodeLockConflict ErrorCode = "LOCK_CONFLICT"
)

// Write-path error codes cover the ordering and schema-matching rules a
// write batch must satisfy before it is allowed to mutate a collection.
const (
	// ErrorCodeMismatchedSchema means batch.schema_revision != current revision.
	ErrorCodeMismatchedSchema ErrorCode = "MISMATCHED_SCHEMA"

	// ErrorCodeMismatchedMagic means batch.magic_number != the opened collection epoch.
	ErrorCodeMismatchedMagic ErrorCode = "MISMATCHED_MAGIC"

	// ErrorCodeStaleWrite means an UPDATE with lsn_check set arrived with an
	// LSN not greater than the primary key's currently stored LSN.
	ErrorCodeStaleWrite ErrorCode = "STALE_WRITE"

	// ErrorCodeNonMonotonicLSN means a row's LSN regressed within a batch.
	ErrorCodeNonMonotonicLSN ErrorCode = "NON_MONOTONIC_LSN"

	// ErrorCodeUnsupportedSchemaChange means a schema update touched a field
	// this version does not allow mutating (anything but max_docs_per_segment).
	ErrorCodeUnsupportedSchemaChange ErrorCode = "UNSUPPORTED_SCHEMA_CHANGE"
)

// Vector-index error codes cover the C5 adapter's own failure modes plus the
// legacy Bitcask-style index codes retained from the teacher for in-memory
// hash map diagnostics (PK→DocId shard corruption, recovery).
const (
	ErrorCodeIndexKeyNotFound         ErrorCode = "INDEX_KEY_NOT_FOUND"
	ErrorCodeIndexInvalidSegmentID    ErrorCode = "INDEX_INVALID_SEGMENT_ID"
	ErrorCodeIndexTimestampExtraction ErrorCode = "INDEX_TIMESTAMP_EXTRACTION"
	ErrorCodeIndexCorrupted           ErrorCode = "INDEX_CORRUPTED"

	// ErrorCodeUnknownColumn means a query or write referenced an index/forward
	// column absent from the collection's schema.
	ErrorCodeUnknownColumn ErrorCode = "UNKNOWN_COLUMN"

	// ErrorCodeInvalidVector means a vector payload could not be decoded under
	// its column's declared data type/dimension.
	ErrorCodeInvalidVector ErrorCode = "INVALID_VECTOR"
)
