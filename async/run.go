package async

// Run will run a function in a goroutine, returning its result via a channel.
func Run[T any](f func() T) <-chan T {
	c := make(chan T, 1)
	go func() {
		c <- f()
	}()
	return c
}

// Result pairs a value with the error of the call that produced it.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) IsOk() bool {
	return r.Err == nil
}

func (r Result[T]) IsErr() bool {
	return r.Err != nil
}

// Unwrap returns the pair as a function would.
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

// RunResult is Run for functions with an error return.
func RunResult[T any](f func() (T, error)) <-chan Result[T] {
	return Run(func() Result[T] {
		value, err := f()
		return Result[T]{Value: value, Err: err}
	})
}
