package common

import "fmt"

// Assert checks a condition and panics if it is false.
//
// Assertions guard internal invariants only (an executor used before Init, a type mismatch between plan and
// data). Anything that can be caused by input data or configuration must be returned as an Error instead.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
