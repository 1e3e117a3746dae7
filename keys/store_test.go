package keys

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestKeyStoreRootAndRoleKeys(t *testing.T) {
	ks, err := CreateKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("CreateKeyStore: %v", err)
	}

	root, path, err := ks.InitializeRootKey("alice", Ed25519, testSeed(9), false)
	if err != nil {
		t.Fatalf("InitializeRootKey: %v", err)
	}
	if filepath.Base(path) != "root.key" {
		t.Fatalf("unexpected key path %q", path)
	}
	if _, _, err := ks.InitializeRootKey("alice", Ed25519, testSeed(9), false); err == nil {
		t.Fatalf("expected existing root key not to be overwritten")
	}

	role, _, err := ks.DeriveKeyFromRole("alice", "phone", false)
	if err != nil {
		t.Fatalf("DeriveKeyFromRole: %v", err)
	}
	if role.ProfileID == root.ProfileID {
		t.Fatalf("expected role key to differ from root key")
	}

	signer, alg, err := ks.LoadSigner("alice", "")
	if err != nil {
		t.Fatalf("LoadSigner: %v", err)
	}
	if alg != Ed25519 || signer.ProfileID() != root.ProfileID {
		t.Fatalf("loaded signer mismatch: %s %s", alg, signer.ProfileID())
	}

	exported, err := ks.ExportKey("alice", "phone")
	if err != nil {
		t.Fatalf("ExportKey: %v", err)
	}
	if exported.ProfileID != role.ProfileID {
		t.Fatalf("exported role key mismatch")
	}

	list, err := ks.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(list) != 1 || list[0].Identifier != "alice" || len(list[0].Roles) != 1 || list[0].Roles[0] != "phone" {
		t.Fatalf("unexpected key list: %+v", list)
	}
}

func TestKeyStoreDilithiumRootKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ks := &KeyStore{Directory: dir}
	id, path, err := ks.InitializeRootKey("pq", Dilithium3, testSeed(4), false)
	if err != nil {
		t.Fatalf("InitializeRootKey: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read key file: %v", err)
	}
	if !strings.HasPrefix(string(data), "dilithium3:") {
		t.Fatalf("expected algorithm prefix, got %q", data)
	}
	signer, alg, err := LoadSignerFile(path)
	if err != nil {
		t.Fatalf("LoadSignerFile: %v", err)
	}
	if alg != Dilithium3 || signer.ProfileID() != id.ProfileID {
		t.Fatalf("unexpected signer %s %s", alg, signer.ProfileID())
	}
}

func TestParseKeyFileAcceptsBareHex(t *testing.T) {
	alg, seed, err := parseKeyFile("0x" + strings.Repeat("ab", SeedSize) + "\n")
	if err != nil {
		t.Fatalf("parseKeyFile: %v", err)
	}
	if alg != Ed25519 || len(seed) != SeedSize {
		t.Fatalf("unexpected parse result %s %d", alg, len(seed))
	}
	if _, _, err := parseKeyFile("rsa:" + strings.Repeat("ab", SeedSize)); err == nil {
		t.Fatalf("expected unknown algorithm to fail")
	}
}

func TestCheckKeyName(t *testing.T) {
	for _, bad := range []string{"", "a b", "../x", "x/y"} {
		if err := CheckKeyName(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	if err := CheckKeyName("home-1_a"); err != nil {
		t.Fatalf("CheckKeyName: %v", err)
	}
}
