package lock

import "errors"

var (
	ErrTimeout    = errors.New("lock: acquisition timed out")
	ErrEmptyKey   = errors.New("lock: key is required")
	ErrLockFailed = errors.New("lock: backend error")
)
