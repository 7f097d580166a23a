// Package buffer provides a type-erased, zero-copy byte buffer.
//
// A Buffer front-ends exactly one Model. A Model owns (Typed, Text) or borrows
// (Borrowed) a value and exposes its raw representation as a ByteView. Views are
// read-only: writing through the slice returned by Bytes is a contract violation,
// and for Adopted memory the caller keeps full lifetime responsibility.
//
// Buffers and models are not synchronized. Sharing one Model between several
// Buffers is allowed; concurrent mutation needs external locking.
package buffer
