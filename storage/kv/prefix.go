package kv

import "strings"

// Prefixed exposes the keys of inner that start with prefix, with the prefix
// stripped. dApps get their own namespace this way.
type Prefixed struct {
	inner  Store
	prefix string
}

var _ Store = Prefixed{}

func NewPrefixed(inner Store, prefix string) Prefixed {
	return Prefixed{inner: inner, prefix: prefix}
}

func (p Prefixed) Get(key string) (string, error) { return p.inner.Get(p.prefix + key) }

func (p Prefixed) Set(key, value string) error { return p.inner.Set(p.prefix+key, value) }

func (p Prefixed) Delete(key string) error { return p.inner.Delete(p.prefix + key) }

func (p Prefixed) Iterate(prefix string, fn func(key, value string) error) error {
	return p.inner.Iterate(p.prefix+prefix, func(k, v string) error {
		return fn(strings.TrimPrefix(k, p.prefix), v)
	})
}
