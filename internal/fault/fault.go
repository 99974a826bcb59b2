package fault

import (
	"errors"
	"fmt"
)

// Category classifies a failure by how the system must react to it.
type Category int

const (
	// CategoryTransport is a failure to open or use a byte transport. Fatal to the
	// link that owns it, never to the system.
	CategoryTransport Category = iota + 1

	// CategoryFraming is a checksum mismatch or buffer overflow. Recovered by
	// resynchronization and counted.
	CategoryFraming

	// CategoryLogic is a refused operation: unknown enum value, double arm, use
	// before initialization. State is left unchanged or forced to a safe default.
	CategoryLogic

	// CategorySafety is always resolved by disarming.
	CategorySafety

	// CategoryConfig is an invalid or out-of-range setting.
	CategoryConfig
)

func (c Category) String() string {
	switch c {
	case CategoryTransport:
		return "transport"
	case CategoryFraming:
		return "framing"
	case CategoryLogic:
		return "logic"
	case CategorySafety:
		return "safety"
	case CategoryConfig:
		return "config"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Error is a categorized error carrying the operation that failed
type Error struct {
	Category Category
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Category, e.Op)
	}
	return fmt.Sprintf("%s error: %s: %s", e.Category, e.Op, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(c Category, op string, err error) *Error {
	return &Error{Category: c, Op: op, Err: err}
}

func Transport(op string, err error) *Error { return newError(CategoryTransport, op, err) }

func Framing(op string, err error) *Error { return newError(CategoryFraming, op, err) }

func Logic(op string, err error) *Error { return newError(CategoryLogic, op, err) }

func Safety(op string, err error) *Error { return newError(CategorySafety, op, err) }

func Config(op string, err error) *Error { return newError(CategoryConfig, op, err) }

// Is reports whether any error in err's tree is a fault of category c
func Is(err error, c Category) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	if fe.Category == c {
		return true
	}
	return Is(fe.Err, c)
}

// CategoryOf returns the category of the outermost fault in err's tree, or zero
func CategoryOf(err error) Category {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category
	}
	return 0
}
