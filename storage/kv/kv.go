// Package kv provides the ordered string-to-string stores used for dApp-local
// state, the client's relation book and the home's profile index.
package kv

import (
	"sort"
	"strings"
)

// Store is an ordered string-to-string map.
//
// Contract:
// - Get MUST return storage.ErrNotFound for a missing key.
// - Delete of a missing key is not an error.
// - Iterate visits keys with the given prefix in ascending order and stops
//   at the first error returned by fn, returning it.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	Iterate(prefix string, fn func(key, value string) error) error
}

// Keys returns the keys of s with prefix, in order.
func Keys(s Store, prefix string) ([]string, error) {
	var out []string
	err := s.Iterate(prefix, func(k, _ string) error {
		out = append(out, k)
		return nil
	})
	return out, err
}

func sortedMatching(m map[string]string, prefix string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
