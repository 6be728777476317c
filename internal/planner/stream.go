package planner

// Stream delivers values as they are produced. Drain C, then call Err.
type Stream[T any] struct {
	c    chan T
	done chan struct{}
	err  error
}

func newStream[T any]() *Stream[T] {
	return &Stream[T]{c: make(chan T), done: make(chan struct{})}
}

func (s *Stream[T]) C() <-chan T {
	return s.c
}

// Err blocks until the producer is finished and returns the error of the
// whole run, if any.
func (s *Stream[T]) Err() error {
	<-s.done
	return s.err
}

// All drains the stream.
func (s *Stream[T]) All() ([]T, error) {
	var out []T
	for v := range s.c {
		out = append(out, v)
	}
	return out, s.Err()
}

func (s *Stream[T]) finish(err error) {
	s.err = err
	close(s.done)
	close(s.c)
}
