//go:build release

package core

const assertionsEnabled = false
