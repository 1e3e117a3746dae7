package kv_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libertaria-project/mercury-rust/storage/kv"
	"github.com/libertaria-project/mercury-rust/storage/testkit"
)

func TestMemory_Conformance(t *testing.T) {
	testkit.RunKVConformance(t, func(t *testing.T) kv.Store { return kv.NewMemory() })
}

func TestFile_Conformance(t *testing.T) {
	testkit.RunKVConformance(t, func(t *testing.T) kv.Store {
		s, err := kv.OpenFile(filepath.Join(t.TempDir(), "store.json"))
		require.NoError(t, err)
		return s
	})
}

func TestPrefixed_Conformance(t *testing.T) {
	testkit.RunKVConformance(t, func(t *testing.T) kv.Store {
		inner := kv.NewMemory()
		require.NoError(t, inner.Set("other/a", "noise"))
		return kv.NewPrefixed(inner, "app/")
	})
}

func TestFilePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")
	s, err := kv.OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("b", "2"))
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Delete("b"))

	reopened, err := kv.OpenFile(path)
	require.NoError(t, err)
	v, err := reopened.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	keys, err := kv.Keys(reopened, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)
}

func TestPrefixedHidesForeignKeys(t *testing.T) {
	inner := kv.NewMemory()
	require.NoError(t, inner.Set("chat/x", "1"))
	require.NoError(t, inner.Set("mail/x", "2"))

	chat := kv.NewPrefixed(inner, "chat/")
	keys, err := kv.Keys(chat, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, keys)
}
