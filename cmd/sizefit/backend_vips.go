//go:build vips

package main

import (
	"github.com/Skryldev/sizefit"
	"github.com/Skryldev/sizefit/adapters/vips"
	"github.com/Skryldev/sizefit/config"
)

// registerBackends swaps in libvips codecs. The returned func shuts libvips down.
func registerBackends(p *sizefit.Processor, cfg config.Config) func() {
	b := vips.NewBackend(vips.BackendConfig{
		DefaultQuality: cfg.DefaultQuality,
		MaxWorkers:     cfg.WorkerCount,
	})
	vips.RegisterVipsBackend(p.Registry(), b)
	return b.Shutdown
}
