// Package bundle packs CAS documents into a deterministic TAR archive. Homes
// use it to back up and restore their profile store.
//
// Layout:
//
//	blocks/<cid>   document bytes
//	index.json     format version, block list and named labels
package bundle

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/libertaria-project/mercury-rust/storage"
)

// FormatVersion is the current index schema version.
const FormatVersion = 1

const indexName = "index.json"

var epoch0 = time.Unix(0, 0).UTC()

// Export writes the blocks of ids to w, verifying each against its CID.
// labels names blocks; every labelled CID is exported even when ids omits it.
// The output depends only on the set of blocks and labels.
func Export(w io.Writer, cas storage.CAS, ids []cid.Cid, labels map[string]cid.Cid) error {
	if cas == nil {
		return fmt.Errorf("bundle: nil CAS")
	}
	uniq := make(map[string]cid.Cid, len(ids)+len(labels))
	for _, id := range ids {
		if !id.Defined() {
			return storage.ErrInvalidCID
		}
		uniq[id.String()] = id
	}
	for name, id := range labels {
		if name == "" {
			return fmt.Errorf("bundle: empty label")
		}
		if !id.Defined() {
			return storage.ErrInvalidCID
		}
		uniq[id.String()] = id
	}

	names := make([]string, 0, len(uniq))
	for s := range uniq {
		names = append(names, s)
	}
	sort.Strings(names)

	tw := tar.NewWriter(w)
	idx := indexJSON{Version: FormatVersion, Blocks: make([]indexBlock, 0, len(names))}
	for _, s := range names {
		id := uniq[s]
		b, err := cas.Get(id)
		if err != nil {
			_ = tw.Close()
			return fmt.Errorf("bundle: block %s: %w", s, err)
		}
		if err := verify(id, b); err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, "blocks/"+s, b); err != nil {
			_ = tw.Close()
			return err
		}
		idx.Blocks = append(idx.Blocks, indexBlock{CID: s, Size: len(b)})
	}

	for name, id := range labels {
		idx.Labels = append(idx.Labels, indexLabel{Name: name, CID: id.String()})
	}
	sort.Slice(idx.Labels, func(i, j int) bool { return idx.Labels[i].Name < idx.Labels[j].Name })

	b, err := json.Marshal(idx)
	if err != nil {
		_ = tw.Close()
		return err
	}
	if err := writeFile(tw, indexName, append(b, '\n')); err != nil {
		_ = tw.Close()
		return err
	}
	return tw.Close()
}

// Import reads a bundle from r, stores every block in cas and returns the
// labels of the index. Unknown entries, duplicate blocks and labels that
// point outside the bundle are errors.
func Import(r io.Reader, cas storage.CAS) (map[string]cid.Cid, error) {
	if cas == nil {
		return nil, fmt.Errorf("bundle: nil CAS")
	}
	tr := tar.NewReader(r)
	seen := map[string]struct{}{}
	var idx *indexJSON

	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return nil, fmt.Errorf("bundle: invalid entry path %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			return nil, fmt.Errorf("bundle: unexpected entry type %v (%s)", h.Typeflag, name)
		}

		if name == indexName {
			if idx != nil {
				return nil, fmt.Errorf("bundle: duplicate %s", indexName)
			}
			idx = new(indexJSON)
			if err := json.NewDecoder(tr).Decode(idx); err != nil {
				return nil, fmt.Errorf("bundle: decode %s: %w", indexName, err)
			}
			continue
		}

		s, ok := strings.CutPrefix(name, "blocks/")
		if !ok {
			return nil, fmt.Errorf("bundle: unknown entry %s", name)
		}
		id, err := storage.ParseCID(s)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id.String()]; dup {
			return nil, fmt.Errorf("bundle: duplicate block %s", id)
		}
		seen[id.String()] = struct{}{}

		payload, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		if err := verify(id, payload); err != nil {
			return nil, err
		}
		got, err := cas.Put(payload)
		if err != nil {
			return nil, err
		}
		if !got.Equals(id) {
			return nil, storage.ErrCIDMismatch
		}
	}

	if idx == nil {
		return nil, fmt.Errorf("bundle: missing %s", indexName)
	}
	if idx.Version != FormatVersion {
		return nil, fmt.Errorf("bundle: unsupported version %d", idx.Version)
	}
	labels := make(map[string]cid.Cid, len(idx.Labels))
	for _, l := range idx.Labels {
		id, err := storage.ParseCID(l.CID)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[id.String()]; !ok {
			return nil, fmt.Errorf("bundle: label %q names missing block %s", l.Name, id)
		}
		labels[l.Name] = id
	}
	return labels, nil
}

func verify(id cid.Cid, b []byte) error {
	got, err := storage.CIDFor(b)
	if err != nil {
		return err
	}
	if !got.Equals(id) {
		return storage.ErrCIDMismatch
	}
	return nil
}

type indexJSON struct {
	Version int          `json:"version"`
	Blocks  []indexBlock `json:"blocks"`
	Labels  []indexLabel `json:"labels,omitempty"`
}

type indexBlock struct {
	CID  string `json:"cid"`
	Size int    `json:"size"`
}

type indexLabel struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = strings.TrimPrefix(strings.TrimPrefix(name, "./"), "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
