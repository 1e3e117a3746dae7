package storage_test

import (
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/testkit"
)

func TestMemoryCAS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS { return storage.NewMemoryCAS() })
}

func TestFanoutWriteFirst_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return storage.Fanout{Backends: []storage.NamedCAS{
			{Name: "a", CAS: storage.NewMemoryCAS()},
			{Name: "b", CAS: storage.NewMemoryCAS()},
		}}
	})
}

func TestFanoutWriteAll_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return storage.Fanout{Policy: storage.WriteAll, Backends: []storage.NamedCAS{
			{Name: "a", CAS: storage.NewMemoryCAS()},
			{Name: "b", CAS: storage.NewMemoryCAS()},
		}}
	})
}

func TestFanoutReadsFallBackInOrder(t *testing.T) {
	first, second := storage.NewMemoryCAS(), storage.NewMemoryCAS()
	id, err := second.Put([]byte("only in second"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	f := storage.Fanout{Backends: []storage.NamedCAS{{Name: "first", CAS: first}, {Name: "second", CAS: second}}}

	got, err := f.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "only in second" {
		t.Fatalf("Get: got %q", got)
	}

	other, err := f.Put([]byte("new"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !first.Has(other) || second.Has(other) {
		t.Fatalf("WriteFirst should only write to the first backend")
	}
}

type brokenCAS struct{}

var errBroken = errors.New("disk on fire")

func (brokenCAS) Put([]byte) (cid.Cid, error) { return cid.Undef, errBroken }
func (brokenCAS) Get(cid.Cid) ([]byte, error) { return nil, errBroken }
func (brokenCAS) Has(cid.Cid) bool            { return false }

func TestFanoutSkipsFailingBackendOnRead(t *testing.T) {
	good := storage.NewMemoryCAS()
	id, err := good.Put([]byte("doc"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	f := storage.Fanout{Backends: []storage.NamedCAS{{Name: "broken", CAS: brokenCAS{}}, {Name: "good", CAS: good}}}
	if _, err := f.Get(id); err != nil {
		t.Fatalf("Get should fall back past a failing backend: %v", err)
	}

	missing, _ := storage.CIDFor([]byte("missing"))
	if _, err := f.Get(missing); !errors.Is(err, errBroken) {
		t.Fatalf("Get missing: got %v want wrapped backend failure", err)
	}

	f.Policy = storage.WriteAll
	if _, err := f.Put([]byte("x")); !errors.Is(err, errBroken) {
		t.Fatalf("Put with WriteAll: got %v want backend failure", err)
	}
}

func TestFanoutWithoutBackends(t *testing.T) {
	if _, err := (storage.Fanout{}).Put([]byte("x")); !errors.Is(err, storage.ErrNoBackends) {
		t.Fatalf("got %v want ErrNoBackends", err)
	}
}

func TestParseCID(t *testing.T) {
	id, err := storage.CIDFor([]byte("x"))
	if err != nil {
		t.Fatalf("CIDFor failed: %v", err)
	}
	back, err := storage.ParseCID(id.String())
	if err != nil || back != id {
		t.Fatalf("ParseCID round trip: %v %v", back, err)
	}
	if _, err := storage.ParseCID("nope"); !errors.Is(err, storage.ErrInvalidCID) {
		t.Fatalf("got %v want ErrInvalidCID", err)
	}
}
