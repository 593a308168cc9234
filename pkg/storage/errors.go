package storage

import "errors"

var (
	// ErrInvalidConfig means the storage configuration failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed means the database could not be opened.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrQueryFailed wraps a failed read or write.
	ErrQueryFailed = errors.New("query failed")

	// ErrBufferFull means a record was dropped because the write buffer was full.
	ErrBufferFull = errors.New("buffer full")

	// ErrClosed means the storage was used after Close.
	ErrClosed = errors.New("storage is closed")
)
