package graphdesc

import "errors"

var (
	// ErrUnboundVariable is returned when a dimension variable has no value.
	ErrUnboundVariable = errors.New("unbound dimension variable")

	// ErrDuplicate is returned when two blocks of the same kind share a name.
	ErrDuplicate = errors.New("defined more than once")

	// ErrDataSize is returned when constant data does not match its shape.
	ErrDataSize = errors.New("data does not match tensor shape")
)
