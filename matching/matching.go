// Package matching joins diploma names to per-student QR images.
package matching

import (
	"path/filepath"
	"strings"

	"github.com/wudi/diplomaqr/normalize"
)

// Asset is a QR image together with the name of the student it belongs to.
type Asset struct {
	// Filename is the asset's original file name ("Maria_Silva.png").
	Filename string
	// Name is the owner derived from Filename, without the extension.
	Name string
	// Data holds the encoded image bytes.
	Data []byte
}

// NewAsset derives the owner name from filename.
func NewAsset(filename string, data []byte) Asset {
	base := filepath.Base(filename)
	return Asset{
		Filename: filename,
		Name:     strings.TrimSuffix(base, filepath.Ext(base)),
		Data:     data,
	}
}

// Key returns the matching key of the asset owner.
func (a Asset) Key() normalize.MatchKey { return normalize.Normalize(a.Name) }

// IsPNG reports whether the asset file carries a .png extension. Only PNG
// assets take part in per-student matching.
func IsPNG(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".png")
}

// Tier identifies which key form produced a hit.
type Tier string

const (
	TierSpaced  Tier = "spaced"
	TierCompact Tier = "compact"
	TierShared  Tier = "shared"
)

// Collision records an index entry that a later asset replaced.
type Collision struct {
	Form     string
	Previous string
	Current  string
}

// Index maps both forms of each asset's key to the asset. It is built for a
// single batch run and must not be shared between runs.
type Index struct {
	entries    map[string]Asset
	shared     *Asset
	collisions []Collision
}

// Build indexes assets under their spaced and compact key forms. Assets with
// colliding forms overwrite earlier ones (last write wins); every overwrite
// is reported by Collisions. Assets whose name normalises to nothing are
// skipped.
func Build(assets []Asset) *Index {
	idx := &Index{entries: make(map[string]Asset, 2*len(assets))}
	for _, a := range assets {
		key := a.Key()
		if key.IsZero() {
			continue
		}
		idx.put(key.Spaced, a)
		if key.Compact != key.Spaced {
			idx.put(key.Compact, a)
		}
	}
	return idx
}

// Shared returns an index that answers every lookup with asset, bypassing
// name matching. Used when one QR is stamped on every document of a batch.
func Shared(asset Asset) *Index {
	return &Index{shared: &asset}
}

func (idx *Index) put(form string, a Asset) {
	if prev, ok := idx.entries[form]; ok && prev.Filename != a.Filename {
		idx.collisions = append(idx.collisions, Collision{Form: form, Previous: prev.Filename, Current: a.Filename})
	}
	idx.entries[form] = a
}

// Lookup finds the asset for key, trying the spaced form before the compact
// form.
func (idx *Index) Lookup(key normalize.MatchKey) (Asset, Tier, bool) {
	if idx.shared != nil {
		return *idx.shared, TierShared, true
	}
	if key.IsZero() {
		return Asset{}, "", false
	}
	if a, ok := idx.entries[key.Spaced]; ok {
		return a, TierSpaced, true
	}
	if a, ok := idx.entries[key.Compact]; ok {
		return a, TierCompact, true
	}
	return Asset{}, "", false
}

// Len returns the number of distinct key forms indexed.
func (idx *Index) Len() int { return len(idx.entries) }

// IsShared reports whether the index bypasses matching.
func (idx *Index) IsShared() bool { return idx.shared != nil }

// Collisions lists the overwrites that happened while building the index.
func (idx *Index) Collisions() []Collision {
	return append([]Collision(nil), idx.collisions...)
}

// File is a named payload as received from a caller.
type File struct {
	Name string
	Data []byte
}

// AssetsFromFiles converts files to assets in order, dropping files
// without a .png extension.
func AssetsFromFiles(files []File) []Asset {
	var out []Asset
	for _, f := range files {
		if !IsPNG(f.Name) {
			continue
		}
		out = append(out, NewAsset(f.Name, f.Data))
	}
	return out
}
