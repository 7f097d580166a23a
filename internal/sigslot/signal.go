package sigslot

// Signal0 dispatches to slots taking no arguments.
// The zero value is an empty, unnamed signal.
type Signal0 struct {
	core[func()]
}

func New0(opts ...Option) *Signal0 {
	s := &Signal0{}
	s.apply(opts)
	return s
}

// Process calls every slot registered when the call starts, in registration
// order, on the calling goroutine. Slots connected or disconnected by a
// callback take effect from the next Process.
func (s *Signal0) Process() {
	slots, start := s.begin()
	for i := range slots {
		slots[i].call()
	}
	s.end(len(slots), start)
}

// Signal dispatches one argument of type A.
type Signal[A any] struct {
	core[func(A)]
}

func New[A any](opts ...Option) *Signal[A] {
	s := &Signal[A]{}
	s.apply(opts)
	return s
}

// Process calls every slot with a. See Signal0.Process.
func (s *Signal[A]) Process(a A) {
	slots, start := s.begin()
	for i := range slots {
		slots[i].call(a)
	}
	s.end(len(slots), start)
}

// Signal2 dispatches two arguments.
type Signal2[A, B any] struct {
	core[func(A, B)]
}

func New2[A, B any](opts ...Option) *Signal2[A, B] {
	s := &Signal2[A, B]{}
	s.apply(opts)
	return s
}

// Process calls every slot with a and b. See Signal0.Process.
func (s *Signal2[A, B]) Process(a A, b B) {
	slots, start := s.begin()
	for i := range slots {
		slots[i].call(a, b)
	}
	s.end(len(slots), start)
}
