package buffer

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	A uint16
	B uint16
	C uint32
}

func TestFreshBufferIsNull(t *testing.T) {
	b := New()
	assert.Equal(t, NullBufferSize, b.Size())
	assert.Equal(t, []byte{0, 0}, b.Bytes())
	assert.Equal(t, NullBytes(), b.Bytes())
	assert.True(t, b.IsNull())

	var zero Buffer
	assert.Equal(t, 2, zero.Size())
	assert.True(t, zero.IsNull())
}

func TestHandleOnFreshModelLeavesOtherBuffersNull(t *testing.T) {
	b := New()
	m, ok := b.Model().(*Borrowed)
	require.True(t, ok)
	assert.True(t, b.IsNull())

	m.Handle([]byte("attached"))
	assert.Equal(t, []byte("attached"), b.Bytes())
	assert.False(t, b.IsNull())
	assert.Same(t, m, b.Model())

	fresh := New()
	assert.Equal(t, NullBufferSize, fresh.Size())
	assert.Equal(t, NullBytes(), fresh.Bytes())
	assert.True(t, fresh.IsNull())
	assert.NotSame(t, m, fresh.Model())
	assert.Equal(t, NullBytes(), NewModel().View().Bytes())
}

func TestNullBytesIsACopy(t *testing.T) {
	nb := NullBytes()
	nb[0] = 0xff
	assert.Equal(t, []byte{0, 0}, New().Bytes())
}

func TestCopyScalarMatchesMemoryLayout(t *testing.T) {
	b := New()
	Copy(b, uint32(0xdeadbeef))

	want := make([]byte, 4)
	binary.NativeEndian.PutUint32(want, 0xdeadbeef)
	assert.Equal(t, int(unsafe.Sizeof(uint32(0))), b.Size())
	assert.Equal(t, want, b.Bytes())
	assert.False(t, b.IsNull())
}

func TestCopyStructMatchesMemoryLayout(t *testing.T) {
	v := sample{A: 0x0102, B: 0x0304, C: 0x05060708}
	b := New()
	Copy(b, v)

	want := make([]byte, 8)
	binary.NativeEndian.PutUint16(want[0:], v.A)
	binary.NativeEndian.PutUint16(want[2:], v.B)
	binary.NativeEndian.PutUint32(want[4:], v.C)
	require.Equal(t, int(unsafe.Sizeof(v)), b.Size())
	assert.Equal(t, want, b.Bytes())
}

func TestCopyIsIndependentOfSource(t *testing.T) {
	v := sample{A: 1}
	b := New()
	Copy(b, v)
	v.A = 9

	m, ok := b.Model().(*Typed[sample])
	require.True(t, ok)
	assert.Equal(t, uint16(1), m.Value().A)
}

func TestCopyText(t *testing.T) {
	b := New()
	Copy(b, "hello")
	assert.Equal(t, 5, b.Size())
	assert.Equal(t, []byte("hello"), b.Bytes())
	_, ok := b.Model().(*Text)
	assert.True(t, ok, "strings must use the Text model")
}

type label string

type frameBytes []byte

func TestNamedTextTypesUseTextModel(t *testing.T) {
	b := New()
	Copy(b, label("hello"))
	assert.Equal(t, 5, b.Size())
	assert.Equal(t, []byte("hello"), b.Bytes())
	_, ok := b.Model().(*Text)
	assert.True(t, ok)

	Copy(b, frameBytes("abc"))
	assert.Equal(t, []byte("abc"), b.Bytes())

	l := label("moved")
	Move(b, &l)
	assert.Equal(t, label(""), l)
	assert.Equal(t, []byte("moved"), b.Bytes())

	raw := frameBytes("frame")
	data := unsafe.SliceData(raw)
	Move(b, &raw)
	assert.Nil(t, raw)
	assert.Same(t, data, unsafe.SliceData(b.Bytes()))
}

func TestCopyTextLengthIgnoresCapacity(t *testing.T) {
	raw := make([]byte, 3, 64)
	copy(raw, "abc")

	b := New()
	Copy(b, raw)
	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []byte("abc"), b.Bytes())
	assert.Equal(t, 3, cap(b.Bytes()), "view must not expose spare capacity")

	raw[0] = 'z'
	assert.Equal(t, []byte("abc"), b.Bytes(), "CopyBytes must not alias the source")
}

func TestCopyEmptyText(t *testing.T) {
	b := New()
	Copy(b, "")
	assert.Equal(t, 0, b.Size())
	assert.False(t, b.IsNull())
}

func TestMoveValueLeavesSourceZeroed(t *testing.T) {
	v := sample{A: 7, C: 42}
	b := New()
	Move(b, &v)

	assert.Equal(t, sample{}, v)
	m, ok := b.Model().(*Typed[sample])
	require.True(t, ok)
	assert.Equal(t, uint32(42), m.Value().C)
}

func TestMoveTextClearsSource(t *testing.T) {
	s := "payload"
	b := New()
	Move(b, &s)

	assert.Equal(t, "", s)
	assert.Equal(t, []byte("payload"), b.Bytes())
}

func TestMoveBytesIsZeroCopy(t *testing.T) {
	raw := []byte("frame")
	data := unsafe.SliceData(raw)

	b := New()
	Move(b, &raw)

	assert.Nil(t, raw)
	assert.Equal(t, []byte("frame"), b.Bytes())
	assert.Same(t, data, unsafe.SliceData(b.Bytes()))
}

func TestAdoptSharesMemory(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	b := New()
	b.Adopt(raw)

	require.Equal(t, 4, b.Size())
	raw[0] = 99
	assert.Equal(t, byte(99), b.Bytes()[0], "Adopt must not copy")
	_, ok := b.Model().(*Borrowed)
	assert.True(t, ok)
}

func TestAdoptNil(t *testing.T) {
	b := New()
	b.Adopt(nil)
	assert.Equal(t, 0, b.Size())
	assert.False(t, b.IsNull())
}

func TestBufferMove(t *testing.T) {
	b1 := New()
	Copy(b1, "owned")

	b2 := b1.Move()
	assert.Equal(t, []byte("owned"), b2.Bytes())
	assert.True(t, b1.IsNull())
	assert.Equal(t, NullBytes(), b1.Bytes())
}

func TestSetModelIgnoresNil(t *testing.T) {
	b := New()
	Copy(b, int64(5))
	before := b.Model()

	b.SetModel(nil)
	assert.Same(t, before, b.Model())

	var typedNil *Text
	b.SetModel(typedNil)
	assert.Same(t, before, b.Model())
	assert.Equal(t, 8, b.Size())
}

func TestSharedModel(t *testing.T) {
	m := NewTyped[uint64]()
	m.Copy(1)

	a, c := New(), New()
	a.SetModel(m)
	c.SetModel(a.Model())

	m.Copy(2)
	assert.Equal(t, a.Bytes(), c.Bytes())
	assert.Same(t, unsafe.SliceData(a.Bytes()), unsafe.SliceData(c.Bytes()))
}

func TestReset(t *testing.T) {
	b := New()
	Copy(b, "x")
	b.Reset()
	assert.True(t, b.IsNull())
}

func TestModelConstructors(t *testing.T) {
	assert.Equal(t, NullBytes(), NewModel().View().Bytes())
	assert.Equal(t, NullBytes(), NewText().View().Bytes())
	assert.Equal(t, "\x00\x00", NewText().Value())

	typed := NewTyped[int32]()
	assert.Equal(t, []byte{0, 0, 0, 0}, typed.View().Bytes())
}

func TestTypedViewTracksValue(t *testing.T) {
	m := NewTyped[uint16]()
	view := m.View()

	m.Copy(0xffff)
	assert.Equal(t, []byte{0xff, 0xff}, view.Bytes(), "view points at the model's storage")
}

func TestTextRebindLeavesOldViewReadable(t *testing.T) {
	m := NewText()
	m.Copy("first")
	old := m.View()

	m.Copy("second")
	assert.Equal(t, []byte("first"), old.Bytes())
	assert.Equal(t, []byte("second"), m.View().Bytes())
}

func TestBorrowedHandle(t *testing.T) {
	m := NewModel()
	m.Handle([]byte("abc"))
	assert.Equal(t, 3, m.View().Size())
	assert.False(t, m.View().Empty())

	m.Handle(nil)
	assert.True(t, m.View().Empty())
}

func TestViewOfClipsCapacity(t *testing.T) {
	raw := make([]byte, 2, 10)
	v := ViewOf(raw)
	assert.Equal(t, 2, v.Size())
	assert.Equal(t, 2, cap(v.Bytes()))
}

func TestZeroSizedTyped(t *testing.T) {
	b := New()
	Copy(b, struct{}{})
	assert.Equal(t, 0, b.Size())
}
