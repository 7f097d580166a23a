package buffer

// ByteView is a non-owning span over bytes. It never manages the lifetime of
// what it points at.
type ByteView struct {
	data []byte
}

// ViewOf wraps p without copying.
func ViewOf(p []byte) ByteView {
	return ByteView{data: p[:len(p):len(p)]}
}

// adopt re-points the view. The capacity is clipped so appending to Bytes
// can never write into memory past the view.
func (v *ByteView) adopt(p []byte) {
	v.data = p[:len(p):len(p)]
}

// Bytes returns the [begin, end) span of the view. The returned slice must
// not be modified.
func (v ByteView) Bytes() []byte { return v.data }

// Size returns the number of bytes in the view.
func (v ByteView) Size() int { return len(v.data) }

// Empty reports whether the view has no bytes.
func (v ByteView) Empty() bool { return len(v.data) == 0 }
