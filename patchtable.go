package oplsong

// PatchTable is an append-only, deduplicating list of patches built up
// during a parse run and handed to the Music container on completion.
type PatchTable struct {
	patches []Patch
}

// NewPatchTable returns an empty patch table.
func NewPatchTable() *PatchTable {
	return &PatchTable{}
}

// FindOrAppend returns the index of a patch semantically equal to p,
// appending p as a new entry if none exists. O(n) per call, which is
// fine: songs carry tens of patches, not thousands.
func (t *PatchTable) FindOrAppend(p Patch) int {
	for i := range t.patches {
		if t.patches[i].Equals(&p) {
			return i
		}
	}
	t.patches = append(t.patches, p)
	return len(t.patches) - 1
}

// Patches returns the accumulated patch list. The caller takes ownership
// of the returned slice; PatchTable is not reused after this call.
func (t *PatchTable) Patches() []Patch {
	return t.patches
}

// Len reports the number of distinct patches collected so far.
func (t *PatchTable) Len() int {
	return len(t.patches)
}
