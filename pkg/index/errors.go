package index

import "errors"

// ErrDuplicateKey is returned by Insert when the key is already present.
var ErrDuplicateKey = errors.New("index: duplicate key")

// ErrKeyNotFound is returned by Search/Delete when the key is absent.
var ErrKeyNotFound = errors.New("index: key not found")

// ErrNoFramesAvailable surfaces a buffer-pool exhaustion discovered mid
// descent; the operation must have already undone any partial mutation
// before returning this.
var ErrNoFramesAvailable = errors.New("index: no buffer frames available")
