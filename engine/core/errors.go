package core

import (
	"errors"
	"fmt"
)

var (
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")
	ErrConfigNotFound   = errors.New("configuration file not found")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// AssertionError is the panic value raised by Assert. It carries the contract
// that was broken so callers recovering from it can inspect the cause.
type AssertionError struct {
	Err error
	Msg string
}

func (e *AssertionError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("assertion failed: %s", e.Err)
	}
	return fmt.Sprintf("assertion failed: %s: %s", e.Err, e.Msg)
}

func (e *AssertionError) Unwrap() error {
	return e.Err
}
