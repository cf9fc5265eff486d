package core

import "fmt"

// Assert checks a programming contract. Broken contracts are caller bugs, not
// runtime conditions: in debug builds they are logged and raised as a panic
// carrying an *AssertionError, in release builds the check is compiled out.
func Assert(cond bool, err error, format string, args ...interface{}) {
	if !assertionsEnabled || cond {
		return
	}
	ae := &AssertionError{Err: err, Msg: fmt.Sprintf(format, args...)}
	LogError(ae.Error())
	panic(ae)
}

// AssertionsEnabled reports whether contract checks are active in this build.
func AssertionsEnabled() bool {
	return assertionsEnabled
}
