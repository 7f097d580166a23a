package sigslot

import "reflect"

// receiverKey validates recv as a slot identity. Only non-nil pointers and
// channels qualify: they compare by address and never panic under ==.
// Pointers to zero-sized values may share an address and should not be used.
func receiverKey(recv any) (any, bool) {
	if recv == nil {
		return nil, false
	}
	v := reflect.ValueOf(recv)
	switch v.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Chan:
		if v.IsNil() {
			return nil, false
		}
		return recv, true
	}
	return nil, false
}

// funcKey returns the code pointer of fn, or 0 for a nil function.
// Method values share a key across receivers (a.OnInt and b.OnInt); every
// method and every function literal has its own.
func funcKey(fn any) uintptr {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return 0
	}
	return v.Pointer()
}
