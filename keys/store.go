package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/libertaria-project/mercury-rust/protocol"
)

// KeyStore keeps persona seeds on the local filesystem.
//
// EXPERIMENTAL: this filesystem-backed storage surface is not part of the
// protocol and may change.
//
// Layout:
//
//	<dir>/<name>/root.key           root seed
//	<dir>/<name>/roles/<role>.key   seeds derived with DeriveRoleSeed
//
// A key file holds "<algorithm>:<hex seed>"; a bare hex seed is Ed25519.
type KeyStore struct {
	Directory string
}

type KeyEntry struct {
	Identifier string
	Algorithm  Algorithm
	ProfileID  protocol.ProfileID
	Roles      []string
}

func GetDefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".mercury", "keys"), nil
}

func CreateKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = GetDefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) getRootKeyFilePath(identifier string) string {
	return filepath.Join(ks.Directory, identifier, "root.key")
}

func (ks *KeyStore) getRoleKeyFilePath(identifier, role string) string {
	return filepath.Join(ks.Directory, identifier, "roles", role+".key")
}

func checkName(what, s string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", what)
	}
	for _, char := range s {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in %s", char, what)
	}
	return nil
}

func CheckKeyName(identifier string) error { return checkName("identifier", identifier) }

func CheckRole(role string) error { return checkName("role", role) }

func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", SeedSize, len(data))
	}
	return data, nil
}

func parseKeyFile(content string) (Algorithm, []byte, error) {
	content = strings.TrimSpace(content)
	alg := Ed25519
	if i := strings.IndexByte(content, ':'); i >= 0 {
		parsed, err := ParseAlgorithm(content[:i])
		if err != nil {
			return "", nil, err
		}
		alg, content = parsed, content[i+1:]
	}
	seed, err := ParseSeedHex(content)
	if err != nil {
		return "", nil, err
	}
	return alg, seed, nil
}

func (ks *KeyStore) saveSeedToFile(filePath string, alg Algorithm, seed []byte, overwrite bool) error {
	if len(seed) != SeedSize {
		return fmt.Errorf("expected seed length of %d bytes", SeedSize)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(filePath, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(string(alg) + ":" + hex.EncodeToString(seed) + "\n"); err != nil {
		return err
	}
	return file.Close()
}

func (ks *KeyStore) loadSeedFromFile(filePath string) (Algorithm, []byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", nil, err
	}
	return parseKeyFile(string(data))
}

// InitializeRootKey stores seed as the root key of identifier.
func (ks *KeyStore) InitializeRootKey(identifier string, alg Algorithm, seed []byte, overwrite bool) (PublicIdentity, string, error) {
	if err := CheckKeyName(identifier); err != nil {
		return PublicIdentity{}, "", err
	}
	signer, err := NewSigner(alg, seed)
	if err != nil {
		return PublicIdentity{}, "", err
	}
	filePath := ks.getRootKeyFilePath(identifier)
	if err := ks.saveSeedToFile(filePath, alg, seed, overwrite); err != nil {
		return PublicIdentity{}, "", err
	}
	return IdentityOf(alg, signer), filePath, nil
}

// DeriveKeyFromRole derives and stores a role key under identifier.
// The role key uses the algorithm of the root key.
func (ks *KeyStore) DeriveKeyFromRole(from, role string, overwrite bool) (PublicIdentity, string, error) {
	if err := CheckKeyName(from); err != nil {
		return PublicIdentity{}, "", err
	}
	if err := CheckRole(role); err != nil {
		return PublicIdentity{}, "", err
	}
	alg, rootSeed, err := ks.loadSeedFromFile(ks.getRootKeyFilePath(from))
	if err != nil {
		return PublicIdentity{}, "", err
	}
	roleSeed, err := DeriveRoleSeed(rootSeed, role)
	if err != nil {
		return PublicIdentity{}, "", err
	}
	signer, err := NewSigner(alg, roleSeed)
	if err != nil {
		return PublicIdentity{}, "", err
	}
	filePath := ks.getRoleKeyFilePath(from, role)
	if err := ks.saveSeedToFile(filePath, alg, roleSeed, overwrite); err != nil {
		return PublicIdentity{}, "", err
	}
	return IdentityOf(alg, signer), filePath, nil
}

// LoadSigner opens the root key of identifier, or its role key when role is set.
func (ks *KeyStore) LoadSigner(identifier, role string) (protocol.Signer, Algorithm, error) {
	if err := CheckKeyName(identifier); err != nil {
		return nil, "", err
	}
	path := ks.getRootKeyFilePath(identifier)
	if role != "" {
		if err := CheckRole(role); err != nil {
			return nil, "", err
		}
		path = ks.getRoleKeyFilePath(identifier, role)
	}
	alg, seed, err := ks.loadSeedFromFile(path)
	if err != nil {
		return nil, "", err
	}
	signer, err := NewSigner(alg, seed)
	if err != nil {
		return nil, "", err
	}
	return signer, alg, nil
}

// LoadSignerFile opens a single key file outside the store layout.
func LoadSignerFile(path string) (protocol.Signer, Algorithm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	alg, seed, err := parseKeyFile(string(data))
	if err != nil {
		return nil, "", err
	}
	signer, err := NewSigner(alg, seed)
	if err != nil {
		return nil, "", err
	}
	return signer, alg, nil
}

// ExportKey returns the public identity of a stored key.
func (ks *KeyStore) ExportKey(identifier string, role string) (PublicIdentity, error) {
	signer, alg, err := ks.LoadSigner(identifier, role)
	if err != nil {
		return PublicIdentity{}, err
	}
	return IdentityOf(alg, signer), nil
}

// ListKeys lists stored identities with their roles, sorted by name.
// Directories without a readable root key are skipped.
func (ks *KeyStore) ListKeys() ([]KeyEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var identifiers []string
	for _, entry := range entries {
		if entry.IsDir() {
			identifiers = append(identifiers, entry.Name())
		}
	}
	sort.Strings(identifiers)

	var result []KeyEntry
	for _, identifier := range identifiers {
		signer, alg, err := ks.LoadSigner(identifier, "")
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("key %s: %w", identifier, err)
		}
		rolesDir := filepath.Join(ks.Directory, identifier, "roles")
		roleEntries, rerr := os.ReadDir(rolesDir)
		var roles []string
		if rerr == nil {
			for _, roleEntry := range roleEntries {
				if roleEntry.IsDir() {
					continue
				}
				if strings.HasSuffix(roleEntry.Name(), ".key") {
					roles = append(roles, strings.TrimSuffix(roleEntry.Name(), ".key"))
				}
			}
			sort.Strings(roles)
		}
		result = append(result, KeyEntry{Identifier: identifier, Algorithm: alg, ProfileID: signer.ProfileID(), Roles: roles})
	}
	return result, nil
}
