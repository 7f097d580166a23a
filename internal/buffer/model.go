package buffer

import (
	"strings"
	"unsafe"
)

// NullBufferSize is the length of the sentinel backing used when no payload is set.
const NullBufferSize = 2

var nullBuffer [NullBufferSize]byte

// nullView is the view of a Buffer with no model of its own. Models only
// ever re-point their view, so the shared bytes are never written.
var nullView = ByteView{data: nullBuffer[:NullBufferSize:NullBufferSize]}

// NullBytes returns a copy of the sentinel contents.
func NullBytes() []byte {
	out := make([]byte, NullBufferSize)
	copy(out, nullBuffer[:])
	return out
}

// Model produces a view over its current value.
type Model interface {
	View() ByteView
}

var (
	_ Model = (*Borrowed)(nil)
	_ Model = (*Typed[int])(nil)
	_ Model = (*Text)(nil)
)

// Borrowed is a non-owning model over memory that belongs to the caller.
type Borrowed struct {
	view ByteView
}

// NewModel returns a Borrowed model attached to the null buffer.
func NewModel() *Borrowed {
	return &Borrowed{view: nullView}
}

// Handle attaches the model to p without copying. The caller keeps p alive
// and unchanged for as long as views produced from it are read.
func (m *Borrowed) Handle(p []byte) { m.view.adopt(p) }

func (m *Borrowed) View() ByteView { return m.view }

// Typed owns a value of type T and views its in-memory representation:
// exactly unsafe.Sizeof(T) bytes. For types holding pointers the view
// contains the pointer words themselves, not what they point at.
type Typed[T any] struct {
	value T
	view  ByteView
}

// NewTyped returns a model holding the zero value of T.
func NewTyped[T any]() *Typed[T] {
	m := &Typed[T]{}
	m.refresh()
	return m
}

func (m *Typed[T]) refresh() {
	m.view.adopt(unsafe.Slice((*byte)(unsafe.Pointer(&m.value)), unsafe.Sizeof(m.value)))
}

// Copy stores a copy of v.
func (m *Typed[T]) Copy(v T) {
	m.value = v
	m.refresh()
}

// Move takes the value out of src and leaves src at its zero value.
func (m *Typed[T]) Move(src *T) {
	var zero T
	m.value, *src = *src, zero
	m.refresh()
}

// Value returns a copy of the stored value.
func (m *Typed[T]) Value() T { return m.value }

func (m *Typed[T]) View() ByteView { return m.view }

// Text owns text and views its content bytes: no terminator, and the view
// length is the content length, never the capacity of any backing array.
type Text struct {
	value string
	view  ByteView
}

// NewText returns a model holding the null buffer bytes.
func NewText() *Text {
	m := &Text{}
	m.set(string(nullBuffer[:]))
	return m
}

func (m *Text) set(s string) {
	m.value = s
	m.view.adopt(unsafe.Slice(unsafe.StringData(s), len(s)))
}

// Copy stores an independent copy of s.
func (m *Text) Copy(s string) { m.set(strings.Clone(s)) }

// CopyBytes stores a copy of b.
func (m *Text) CopyBytes(b []byte) { m.set(string(b)) }

// Move takes the string out of src without copying and clears src.
func (m *Text) Move(src *string) {
	s := *src
	*src = ""
	m.set(s)
}

// MoveBytes takes ownership of *src without copying and sets it to nil.
// The caller must not keep other references to the backing array.
func (m *Text) MoveBytes(src *[]byte) {
	b := *src
	*src = nil
	if len(b) == 0 {
		m.set("")
		return
	}
	m.set(unsafe.String(unsafe.SliceData(b), len(b)))
}

// Value returns the stored text.
func (m *Text) Value() string { return m.value }

func (m *Text) View() ByteView { return m.view }
