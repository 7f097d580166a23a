package buffer

import (
	"reflect"
	"unsafe"
)

// noCopy lets go vet flag Buffers copied by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Buffer is a handle on one shared Model. The zero value is ready to use and
// exposes the null buffer. Buffers must not be copied; use Move to transfer
// the model to a new handle, or SetModel(other.Model()) to share it.
type Buffer struct {
	noCopy noCopy

	model Model
}

// New returns a Buffer backed by the null buffer.
func New() *Buffer { return &Buffer{} }

// Model returns the model currently referenced by b. A Buffer without one
// gets its own Borrowed model over the null buffer, so attaching it with
// Handle never affects other Buffers.
func (b *Buffer) Model() Model {
	if b.model == nil {
		b.model = NewModel()
	}
	return b.model
}

// SetModel rebinds b to m. A nil model, including a typed nil pointer, is
// ignored and the current model is kept.
func (b *Buffer) SetModel(m Model) {
	if isNil(m) {
		return
	}
	b.model = m
}

// View returns the current model's view.
func (b *Buffer) View() ByteView {
	if b.model == nil {
		return nullView
	}
	return b.model.View()
}

// Bytes returns the current payload bytes. The slice must not be modified.
func (b *Buffer) Bytes() []byte { return b.View().Bytes() }

// Size returns the current payload length.
func (b *Buffer) Size() int { return b.View().Size() }

// Adopt attaches b to caller-owned memory without copying. Reading b after
// the caller frees or reuses p is undefined.
func (b *Buffer) Adopt(p []byte) {
	m := NewModel()
	m.Handle(p)
	b.SetModel(m)
}

// Move transfers the model to a new Buffer and resets b to the null buffer.
func (b *Buffer) Move() *Buffer {
	out := &Buffer{model: b.model}
	b.model = nil
	return out
}

// Reset drops the current model and returns b to the null buffer.
func (b *Buffer) Reset() { b.model = nil }

// IsNull reports whether b still exposes the null buffer.
func (b *Buffer) IsNull() bool {
	v := b.View()
	return v.Size() == NullBufferSize && unsafe.SliceData(v.data) == &nullBuffer[0]
}

// Copy stores a copy of v in a fresh model owned by b. Values whose type is a
// string or a byte slice, named or not, use the Text model; everything else
// a Typed model.
func Copy[T any](b *Buffer, v T) {
	switch textKind[T]() {
	case reflect.String:
		m := NewText()
		m.Copy(reflect.ValueOf(v).String())
		b.SetModel(m)
	case reflect.Slice:
		m := NewText()
		m.CopyBytes(reflect.ValueOf(v).Bytes())
		b.SetModel(m)
	default:
		m := NewTyped[T]()
		m.Copy(v)
		b.SetModel(m)
	}
}

// Move moves *src into a fresh model owned by b and leaves *src at its zero value.
func Move[T any](b *Buffer, src *T) {
	switch textKind[T]() {
	case reflect.String:
		e := reflect.ValueOf(src).Elem()
		s := e.String()
		e.SetZero()
		m := NewText()
		m.Move(&s)
		b.SetModel(m)
	case reflect.Slice:
		e := reflect.ValueOf(src).Elem()
		p := e.Bytes()
		e.SetZero()
		m := NewText()
		m.MoveBytes(&p)
		b.SetModel(m)
	default:
		m := NewTyped[T]()
		m.Move(src)
		b.SetModel(m)
	}
}

// textKind returns reflect.String or reflect.Slice when T is text, and
// reflect.Invalid otherwise.
func textKind[T any]() reflect.Kind {
	t := reflect.TypeFor[T]()
	switch t.Kind() {
	case reflect.String:
		return reflect.String
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return reflect.Slice
		}
	}
	return reflect.Invalid
}

func isNil(m Model) bool {
	if m == nil {
		return true
	}
	v := reflect.ValueOf(m)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}
