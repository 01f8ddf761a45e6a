// Package sharedstate is the key/value store shared by every window of one
// origin. It doubles as a cache and, through change notifications, as a
// last-resort message bus.
package sharedstate

import "errors"

var ErrClosed = errors.New("shared state closed")

// Change is delivered to subscribers when another writer touches a key.
type Change struct {
	Key     string
	Value   string
	Deleted bool
}

// Port is one window's handle on the shared store. Changes made through a
// Port are not reported back to that same Port's subscribers.
type Port interface {
	Read(key string) (string, bool, error)
	Write(key, value string) error
	Delete(key string) error
	Subscribe(fn func(Change)) (unsubscribe func())
}
