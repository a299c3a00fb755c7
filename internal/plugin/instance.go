// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/patchbay/patchbay/pkg/audio"
)

// Error codes for instantiation failures.
const (
	CodeUnknownFormat   = "PLUGIN_UNKNOWN_FORMAT"
	CodeInstantiate     = "PLUGIN_INSTANTIATE"
	CodeDuplicateFormat = "PLUGIN_DUPLICATE_FORMAT"
)

// ErrHostClosed is returned when instantiating through a closed host.
var ErrHostClosed = errors.New("instance host is closed")

// InstanceHost creates processors from descriptors using the registered
// format backends. It is safe for concurrent use and never runs on the
// render thread.
type InstanceHost struct {
	mu      sync.RWMutex
	formats map[string]Format
	names   []string
	closed  bool
	logger  *slog.Logger
	pending sync.WaitGroup
}

// HostOption configures an InstanceHost.
type HostOption func(*InstanceHost)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) HostOption {
	return func(h *InstanceHost) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithFormats registers formats at construction. Duplicates are ignored
// after the first.
func WithFormats(formats ...Format) HostOption {
	return func(h *InstanceHost) {
		for _, f := range formats {
			_ = h.register(f)
		}
	}
}

// NewInstanceHost creates an instance host.
func NewInstanceHost(opts ...HostOption) *InstanceHost {
	h := &InstanceHost{
		formats: make(map[string]Format),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a format backend. Format names must be unique.
func (h *InstanceHost) Register(f Format) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.register(f)
}

func (h *InstanceHost) register(f Format) error {
	name := f.Name()
	if _, ok := h.formats[name]; ok {
		return oops.In("plugin").Code(CodeDuplicateFormat).With("format", name).Errorf("format %q already registered", name)
	}
	h.formats[name] = f
	h.names = append(h.names, name)
	return nil
}

// Format returns the backend registered under name.
func (h *InstanceHost) Format(name string) (Format, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.formats[name]
	return f, ok
}

// Formats returns the registered backends in registration order.
func (h *InstanceHost) Formats() []Format {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Format, 0, len(h.names))
	for _, name := range h.names {
		out = append(out, h.formats[name])
	}
	return out
}

// FormatNames returns the registered format names in registration order.
func (h *InstanceHost) FormatNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.names)
}

// CreateInstance instantiates desc synchronously. A panic raised by the
// backend is recovered and returned as an error.
func (h *InstanceHost) CreateInstance(ctx context.Context, desc Descriptor, sampleRate float64, blockSize int) (proc audio.Processor, err error) {
	h.mu.RLock()
	closed := h.closed
	f, ok := h.formats[desc.Format]
	h.mu.RUnlock()

	errb := oops.In("plugin").
		With("plugin", desc.Name).
		With("format", desc.Format).
		With("uid", desc.UID)
	if closed {
		return nil, errb.Wrap(ErrHostClosed)
	}
	if !ok {
		return nil, errb.Code(CodeUnknownFormat).Errorf("no backend for format %q", desc.Format)
	}

	defer func() {
		if r := recover(); r != nil {
			proc = nil
			err = errb.Code(CodeInstantiate).Errorf("backend panicked: %v", r)
		}
	}()

	proc, err = f.Instantiate(ctx, desc, sampleRate, blockSize)
	if err != nil {
		return nil, errb.Code(CodeInstantiate).Wrap(err)
	}
	if proc == nil {
		return nil, errb.Code(CodeInstantiate).Errorf("backend returned no processor")
	}
	return proc, nil
}

// CreateInstanceAsync instantiates desc on a new goroutine and invokes cb on
// that goroutine with the result. Callers must resynchronise before touching
// state owned by another goroutine.
func (h *InstanceHost) CreateInstanceAsync(ctx context.Context, desc Descriptor, sampleRate float64, blockSize int, cb func(audio.Processor, error)) {
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		proc, err := h.CreateInstance(ctx, desc, sampleRate, blockSize)
		if err != nil {
			h.logger.Debug("async instantiation failed",
				"plugin", desc.Name,
				"format", desc.Format,
				"error", err)
		}
		cb(proc, err)
	}()
}

// Wait blocks until every outstanding asynchronous instantiation has
// delivered its callback.
func (h *InstanceHost) Wait() {
	h.pending.Wait()
}

// Close waits for outstanding instantiations, then closes every backend that
// holds resources.
func (h *InstanceHost) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.pending.Wait()

	var errs []error
	for _, f := range h.Formats() {
		if c, ok := f.(Closer); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, oops.In("plugin").With("format", f.Name()).Wrap(err))
			}
		}
	}
	return errors.Join(errs...)
}
