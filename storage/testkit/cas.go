package testkit

import (
	"bytes"
	"testing"

	"github.com/ipfs/go-cid"

	"github.com/libertaria-project/mercury-rust/storage"
)

// NewCAS constructs a fresh, empty CAS instance for a test.
// The returned CAS MUST be isolated from other tests.
type NewCAS func(t *testing.T) storage.CAS

// Documents shaped like the ones a home's DocStore writes. The conformance
// run only relies on their bytes.
var (
	profileV1 = []byte(`{"profile":{"id":"uAQID","public_key":"uAQID","facet":{"kind":"persona","body":{"homes":[]}}}}`)
	profileV2 = []byte(`{"profile":{"id":"uAQID","public_key":"uAQID","facet":{"kind":"persona","body":{"homes":[],"data":"djI="}}}}`)
	relation  = []byte(`{"relation_type":"chat","a_id":"uAQID","a_signature":"AQ==","b_id":"uAQIE","b_signature":"Ag=="}`)
)

func put(t *testing.T, cas storage.CAS, doc []byte) cid.Cid {
	t.Helper()
	id, err := cas.Put(doc)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	want, err := storage.CIDFor(doc)
	if err != nil {
		t.Fatalf("CIDFor: %v", err)
	}
	if !id.Equals(want) {
		t.Fatalf("Put returned %s, want %s", id, want)
	}
	return id
}

func get(t *testing.T, cas storage.CAS, id cid.Cid) []byte {
	t.Helper()
	b, err := cas.Get(id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	return b
}

// RunCASConformance checks the behaviour every document store backend
// shares: content addressing, immutability and not-found reporting.
func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()

	t.Run("DocumentsRoundTrip", func(t *testing.T) {
		cas := newCAS(t)
		for _, doc := range [][]byte{profileV1, relation} {
			if got := get(t, cas, put(t, cas, doc)); !bytes.Equal(got, doc) {
				t.Fatalf("Get = %q, want %q", got, doc)
			}
		}
	})

	t.Run("RewriteKeepsCID", func(t *testing.T) {
		cas := newCAS(t)
		first := put(t, cas, relation)
		if again := put(t, cas, relation); !again.Equals(first) {
			t.Fatalf("second Put returned %s, want %s", again, first)
		}
	})

	t.Run("UpdateWritesNewDocument", func(t *testing.T) {
		cas := newCAS(t)
		v1 := put(t, cas, profileV1)
		v2 := put(t, cas, profileV2)
		if v1.Equals(v2) {
			t.Fatalf("two profile versions share CID %s", v1)
		}
		if got := get(t, cas, v1); !bytes.Equal(got, profileV1) {
			t.Fatalf("old version changed after update: %q", got)
		}
	})

	t.Run("ReturnedBytesAreCopies", func(t *testing.T) {
		cas := newCAS(t)
		id := put(t, cas, profileV1)
		get(t, cas, id)[0] = 'X'
		if got := get(t, cas, id); !bytes.Equal(got, profileV1) {
			t.Fatalf("stored document changed through a returned slice: %q", got)
		}
	})

	t.Run("MissingDocument", func(t *testing.T) {
		cas := newCAS(t)
		id, err := storage.CIDFor(profileV2)
		if err != nil {
			t.Fatalf("CIDFor: %v", err)
		}
		if cas.Has(id) {
			t.Fatalf("Has(%s) before Put", id)
		}
		if _, err := cas.Get(id); !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got %v, want ErrNotFound", err)
		}
		put(t, cas, profileV2)
		if !cas.Has(id) {
			t.Fatalf("Has(%s) false after Put", id)
		}
	})

	t.Run("UndefinedCID", func(t *testing.T) {
		cas := newCAS(t)
		if cas.Has(cid.Undef) {
			t.Fatalf("Has(cid.Undef) = true")
		}
		if _, err := cas.Get(cid.Undef); err == nil {
			t.Fatalf("Get(cid.Undef) succeeded")
		}
	})
}
