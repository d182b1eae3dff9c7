//go:build !vips

package main

import (
	"github.com/Skryldev/sizefit"
	"github.com/Skryldev/sizefit/config"
)

// registerBackends keeps the pure-Go codecs.
func registerBackends(*sizefit.Processor, config.Config) func() { return func() {} }
