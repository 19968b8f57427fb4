package mocks

import "errors"

// ErrKV is returned by FailingKV.
var ErrKV = errors.New("kv unavailable")

// FailingKV is a localstore.KV whose every operation fails.
type FailingKV struct{}

// Get always fails.
func (FailingKV) Get(key string) ([]byte, bool, error) { return nil, false, ErrKV }

// Set always fails.
func (FailingKV) Set(key string, value []byte) error { return ErrKV }

// Delete always fails.
func (FailingKV) Delete(key string) error { return ErrKV }
