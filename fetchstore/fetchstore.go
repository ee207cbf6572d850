// Package fetchstore builds streammap fault handlers on top of real byte
// stores. Each constructor returns a plain FaultFunc or MultiFaultFunc, so
// the map core stays unaware of where values come from.
//
// Keys are strings and are namespaced as "<ns>:<key>" inside the store.
// Payloads are decoded with a codec.Codec; a key present in the store but
// undecodable fails the fetch, a key absent from the store fails with
// ErrNotFound.
package fetchstore

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that the backing store has no value for the requested
// key. Binding-triggered faults deliver it as the terminal error of the
// key's subject.
var ErrNotFound = errors.New("fetchstore: key not found")

func storageKey(ns, key string) string {
	if ns == "" {
		return key
	}
	return ns + ":" + key
}

func decodeErr(key string, err error) error {
	return fmt.Errorf("fetchstore: decode %q: %w", key, err)
}
