package kv

import "errors"

// Errors returned by Backend implementations. They describe storage outcomes
// in a backend-agnostic way; the Store adapter never lets them escape as
// fatal failures.

// ErrNotFound is returned by Backend.Get when the key holds no value. It hides
// driver specifics such as sql.ErrNoRows or redis.Nil.
var ErrNotFound = errors.New("kv: key not found")

// ErrQuotaExceeded is returned by Backend.Set when the write would push the
// backend over its configured capacity.
var ErrQuotaExceeded = errors.New("kv: quota exceeded")
