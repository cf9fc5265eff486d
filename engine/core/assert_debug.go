//go:build !release

package core

const assertionsEnabled = true
