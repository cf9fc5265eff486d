//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs the unit tests with the race detector. The vulkan package only runs
// the tests that need no device.
func (Test) Unit() error {
	// The race detector and the vulkan bindings both need cgo.
	_, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./..."), withEnv("CGO_ENABLED=1"), withStream())
	return err
}
