// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package plugin provides the plugin descriptor and manifest model, the
// format backend contract and the instance host that turns descriptors into
// running processors.
package plugin

import (
	"context"
	"io"

	"github.com/patchbay/patchbay/pkg/audio"
)

// Format is an instantiation backend for one kind of plugin.
type Format interface {
	// Name returns the format identifier stored in Descriptor.Format.
	Name() string

	// Matches reports whether path is a candidate file for Probe.
	Matches(path string) bool

	// Probe reads the plugins contained in a candidate file.
	Probe(ctx context.Context, path string) ([]Descriptor, error)

	// Instantiate creates a processor for desc. The returned processor is
	// not yet prepared.
	Instantiate(ctx context.Context, desc Descriptor, sampleRate float64, blockSize int) (audio.Processor, error)
}

// Closer is implemented by formats holding process-wide resources.
type Closer interface {
	Close(ctx context.Context) error
}

// Dispose releases proc and frees any out-of-process resources behind it.
// It is for processors that never made it into a graph.
func Dispose(proc audio.Processor) {
	if proc == nil {
		return
	}
	proc.Release()
	CloseProcessor(proc)
}

// CloseProcessor frees the out-of-process resources of a processor that has
// already been released, such as a plugin subprocess.
func CloseProcessor(proc audio.Processor) {
	if c, ok := proc.(io.Closer); ok {
		_ = c.Close()
	}
}
