package formats

// NewWLF returns the Wolfenstein 3D-family variant of the IMF type-0
// body shape, fixed at 700Hz. It is otherwise byte-identical to IMF
// type-0 and is implemented as a thin rename over imfHandler rather than
// a separate parser.
func NewWLF() Handler {
	h := NewIMFType0(700).(*imfHandler)
	h.id = "wlf0-700"
	h.title = "WLF (Wolfenstein 3D)"
	h.glob = []string{"*.wlf"}
	return h
}
