//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles every package and the demo binary into bin/.
func (Build) All() error {
	if _, err := executeCmd("go", withArgs("build", "./..."), withStream()); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("build", "-o", "bin/anima-gpu", "."), withStream())
	return err
}

// Compiles the demo with contract assertions removed.
func (Build) Release() error {
	_, err := executeCmd("go", withArgs("build", "-tags", "release", "-trimpath", "-o", "bin/anima-gpu", "."), withEnv("CGO_ENABLED=1"), withStream())
	return err
}
