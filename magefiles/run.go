//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the demo on the given backend (vulkan, software or dummy).
func (Run) Engine(backend string) error {
	mg.Deps(Build.All)
	fmt.Printf("Run engine on the %s backend...\n", backend)
	_, err := executeCmd("bin/anima-gpu", withArgs("-backend", backend), withStream())
	return err
}
