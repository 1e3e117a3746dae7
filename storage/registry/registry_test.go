package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libertaria-project/mercury-rust/storage"
)

func TestMemoryBackendRegistered(t *testing.T) {
	assert.Contains(t, Names(), "memory")

	cas, closeFn, err := Open("memory", nil)
	require.NoError(t, err)
	assert.Nil(t, closeFn)
	_, err = cas.Put([]byte("x"))
	require.NoError(t, err)
}

func TestRegisterRejectsDuplicatesAndIncompleteBackends(t *testing.T) {
	assert.Error(t, Register(Backend{Name: "memory", Open: func(Options) (storage.CAS, func() error, error) { return nil, nil, nil }}))
	assert.Error(t, Register(Backend{Name: "no-open"}))
	assert.Error(t, Register(Backend{}))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, _, err := Open("nope", nil)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Backends: []BackendConfig{{Name: "memory"}, {Name: "memory"}}}.Validate())
	assert.Error(t, Config{WritePolicy: "some", Backends: []BackendConfig{{Name: "memory"}}}.Validate())
	assert.NoError(t, Config{Backends: []BackendConfig{{Name: "memory"}, {Name: "memory", ID: "mirror"}}}.Validate())
}

func TestOpenConfigReplicatesWithWriteAll(t *testing.T) {
	closed := 0
	require.NoError(t, Register(Backend{
		Name: "counting-memory",
		Open: func(Options) (storage.CAS, func() error, error) {
			return storage.NewMemoryCAS(), func() error { closed++; return nil }, nil
		},
	}))

	cas, closeFn, err := OpenConfig(Config{
		WritePolicy: "all",
		Backends: []BackendConfig{
			{Name: "counting-memory", ID: "primary"},
			{Name: "counting-memory", ID: "mirror"},
		},
	})
	require.NoError(t, err)

	fan, ok := cas.(storage.Fanout)
	require.True(t, ok, "got %T", cas)
	id, err := fan.Put([]byte("doc"))
	require.NoError(t, err)
	for _, b := range fan.Backends {
		assert.True(t, b.CAS.Has(id), "backend %s missing object", b.Name)
	}

	require.NoError(t, closeFn())
	assert.Equal(t, 2, closed)
}
