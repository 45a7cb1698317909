package engine

import "errors"

// Sentinel errors for the client-facing error kinds of §7: wrong arity,
// wrong type, parse error, storage-backend failure, file I/O failure,
// unknown config name, and ill-formed KV format. Incompatible-checkpoint
// is ghostcache.ErrIncompatibleCheckpoint, surfaced as-is.
var (
	// ErrWrongArity is returned when a command is called with the wrong
	// number of arguments.
	ErrWrongArity = errors.New("engine: wrong number of arguments")

	// ErrWrongType is returned by Get/Set when the host table holds a
	// non-string value for the key, without touching storage.
	ErrWrongType = errors.New("engine: value is not a string")

	// ErrParse is returned when a numeric or typed argument fails to parse.
	ErrParse = errors.New("engine: parse error")

	// ErrBackend wraps a storage backend failure; callers should use
	// errors.Is/errors.Unwrap to recover the underlying backend message.
	ErrBackend = errors.New("engine: storage backend error")

	// ErrFileIO is returned when a checkpoint or image file can't be
	// opened or read.
	ErrFileIO = errors.New("engine: file I/O error")

	// ErrUnknownConfig is returned by CONFIG.SET for an unrecognized
	// config name or sub-option.
	ErrUnknownConfig = errors.New("engine: unknown config name")

	// ErrMalformedKV is returned when a CSV image's header or rows don't
	// match the `key,val_size` format.
	ErrMalformedKV = errors.New("engine: ill-formed key-value format")
)
