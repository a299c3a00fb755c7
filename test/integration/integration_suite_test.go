// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

//go:build integration

// Package integration provides end-to-end tests that scan, load and render
// the bundled example plugins.
package integration

import (
	"context"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/patchbay/patchbay/internal/catalog"
	"github.com/patchbay/patchbay/internal/device"
	"github.com/patchbay/patchbay/internal/engine"
	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/internal/session"
)

// Repository paths, relative to this package.
const (
	repoRoot   = "../.."
	pluginsDir = "../../plugins"
)

// inputLevel is the constant every test device feeds into the graph.
const inputLevel float32 = 0.3

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Integration Suite")
}

// tap feeds inputLevel into the device and records the last output
// sample of channel 0.
type tap struct {
	last atomic.Uint32
}

func (p *tap) input(in [][]float32, frames int) {
	for _, ch := range in {
		for i := range frames {
			ch[i] = inputLevel
		}
	}
}

func (p *tap) output(out [][]float32, frames int) {
	if len(out) > 0 && frames > 0 {
		p.last.Store(math.Float32bits(out[0][frames-1]))
	}
}

func (p *tap) value() float32 { return math.Float32frombits(p.last.Load()) }

// testEnv is a session driven by a fast null device.
type testEnv struct {
	ctx     context.Context
	session *session.Session
	tap     *tap
	dir     string
}

func setupTestEnv() *testEnv {
	return newTestEnv(GinkgoT().TempDir())
}

// newTestEnv creates a session whose state lives in dir.
func newTestEnv(dir string) *testEnv {
	cfg := engine.DefaultConfig()
	pr := &tap{}
	dev, err := device.NewNull(device.Config{
		SampleRate: cfg.SampleRate,
		BlockSize:  cfg.BlockSize,
		Inputs:     cfg.NumInputChannels,
		Outputs:    cfg.NumOutputChannels,
	}, device.WithInterval(time.Millisecond), device.WithInput(pr.input), device.WithOutput(pr.output))
	Expect(err).NotTo(HaveOccurred())

	s, err := session.New(session.Config{
		Engine:        cfg,
		DeadMansPedal: filepath.Join(dir, "scan.pedal"),
	}, session.WithDevice(dev))
	Expect(err).NotTo(HaveOccurred())

	DeferCleanup(func() {
		Expect(s.Close(context.Background())).To(Succeed())
	})
	return &testEnv{ctx: context.Background(), session: s, tap: pr, dir: dir}
}

// scan runs a catalog scan to completion and returns the events it
// published.
func (e *testEnv) scan(paths ...string) []catalog.Event {
	cat := e.session.Catalog()
	events := cat.Subscribe(256)
	defer cat.Unsubscribe(events)

	Expect(cat.ScanAsync(paths, false, false)).To(Succeed())
	cat.Wait()

	var got []catalog.Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		default:
			return got
		}
	}
}

// start starts rendering and waits for the first block.
func (e *testEnv) start() {
	Expect(e.session.Start(e.ctx)).To(Succeed())
	Eventually(func() uint64 {
		return e.session.Processor().Stats().TotalBlocksProcessed
	}).WithTimeout(5 * time.Second).Should(BeNumerically(">", 0))
}

// output polls the last rendered sample.
func (e *testEnv) output() AsyncAssertion {
	return Eventually(e.tap.value).WithTimeout(5 * time.Second).WithPolling(time.Millisecond)
}

// buildTremolo compiles the binary example plugin into a bundle under dir
// and returns the bundle path.
func buildTremolo(dir string) string {
	bundle := filepath.Join(dir, "tremolo")
	Expect(os.MkdirAll(bundle, 0o700)).To(Succeed())

	manifest, err := os.ReadFile(filepath.Join(pluginsDir, "tremolo", plugin.ManifestFile))
	Expect(err).NotTo(HaveOccurred())
	Expect(os.WriteFile(filepath.Join(bundle, plugin.ManifestFile), manifest, 0o600)).To(Succeed())

	exe, err := filepath.Abs(filepath.Join(bundle, "tremolo"))
	Expect(err).NotTo(HaveOccurred())
	cmd := exec.Command("go", "build", "-o", exe, "./plugins/tremolo") // #nosec G204 -- fixed arguments
	cmd.Dir = repoRoot
	output, err := cmd.CombinedOutput()
	Expect(err).NotTo(HaveOccurred(), "building tremolo failed: %s", string(output))
	return bundle
}

func ofKind(events []catalog.Event, kind catalog.EventKind) []catalog.Event {
	var out []catalog.Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
