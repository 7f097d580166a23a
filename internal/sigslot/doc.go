// Package sigslot implements synchronous signal/slot dispatch.
//
// A signal keeps an ordered list of slots sharing one argument signature and
// Process invokes every slot once, in registration order, on the calling
// goroutine. There is one signal type per arity: Signal0, Signal and Signal2.
//
// Slots bound to a receiver are keyed on the receiver's identity: a receiver
// can hold at most one slot per signal, whatever callback it registers.
//
//	var sig sigslot.Signal[int]
//	sig.Connect(&a, a.OnInt)   // true
//	sig.Connect(&a, a.OnOther) // false, &a is already connected
//	sig.Process(42)
//
// Receiver-less slots (plain functions and closures) are registered with
// ConnectFunc and keyed on the function's code identity instead. They are
// invisible to the receiver-keyed operations.
package sigslot
