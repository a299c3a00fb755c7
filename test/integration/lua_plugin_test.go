// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

//go:build integration

package integration

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/patchbay/patchbay/internal/catalog"
	"github.com/patchbay/patchbay/internal/graph"
	"github.com/patchbay/patchbay/internal/manager"
	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/internal/plugin/lua"
)

// Bitcrush output for inputLevel at 8 bits and at 1 bit.
const (
	crushed8 float32 = 77.0 / 256
	crushed1 float32 = 0.5
)

var _ = Describe("Lua plugins", func() {
	var env *testEnv

	BeforeEach(func() {
		env = setupTestEnv()
	})

	Describe("scanning the example bundle", func() {
		It("catalogs bitcrush with its manifest metadata", func() {
			events := env.scan(filepath.Join(pluginsDir, "bitcrush"))

			Expect(ofKind(events, catalog.ScanStarted)).To(HaveLen(1))
			Expect(ofKind(events, catalog.PluginFound)).To(ContainElement(
				HaveField("Plugin", "bitcrush")))
			finished := ofKind(events, catalog.ScanFinished)
			Expect(finished).To(HaveLen(1))
			Expect(finished[0].NewPlugins).To(Equal(1))
			Expect(finished[0].Cancelled).To(BeFalse())

			desc, ok := env.session.Catalog().FindByName("bitcrush")
			Expect(ok).To(BeTrue())
			Expect(desc.Format).To(Equal(lua.FormatName))
			Expect(desc.Manufacturer).To(Equal("Patchbay"))
			Expect(desc.NumInputs).To(Equal(2))
			Expect(desc.NumOutputs).To(Equal(2))
		})

		It("finds nothing new on a second scan", func() {
			env.scan(filepath.Join(pluginsDir, "bitcrush"))
			events := env.scan(filepath.Join(pluginsDir, "bitcrush"))

			Expect(ofKind(events, catalog.PluginFound)).To(BeEmpty())
		})

		It("clears the dead man's pedal after a clean scan", func() {
			env.scan(filepath.Join(pluginsDir, "bitcrush"))

			_, err := os.Stat(filepath.Join(env.dir, "scan.pedal"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("blacklists the file a previous scan died on", func() {
			dir := GinkgoT().TempDir()
			bundle, err := filepath.Abs(filepath.Join(pluginsDir, "bitcrush"))
			Expect(err).NotTo(HaveOccurred())
			manifest := filepath.Join(bundle, plugin.ManifestFile)
			Expect(os.WriteFile(filepath.Join(dir, "scan.pedal"), []byte(manifest), 0o600)).To(Succeed())

			crashed := newTestEnv(dir)
			Expect(crashed.session.Catalog().IsBlacklisted(manifest)).To(BeTrue())
			crashed.scan(bundle)

			_, ok := crashed.session.Catalog().FindByName("bitcrush")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("rendering", func() {
		var id graph.NodeID

		BeforeEach(func() {
			env.scan(filepath.Join(pluginsDir, "bitcrush"))
			env.start()

			ids, err := env.session.LoadChain(env.ctx, []string{"bitcrush"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(HaveLen(1))
			id = ids[0]
		})

		It("quantizes the input at the default bit depth", func() {
			env.output().Should(Equal(crushed8))
		})

		It("follows parameter changes", func() {
			Expect(env.session.Manager().SetParameterValue(id, 0, 0)).To(BeTrue())
			env.output().Should(Equal(crushed1))
			Expect(env.session.Manager().GetParameterText(id, 0)).To(HavePrefix("1"))
		})

		It("passes audio through while bypassed", func() {
			Expect(env.session.Manager().SetPluginBypassed(id, true)).To(Succeed())
			env.output().Should(Equal(inputLevel))
		})

		It("restores a saved preset", func() {
			mgr := env.session.Manager()
			presets := mgr.Subscribe(16)
			DeferCleanup(mgr.Unsubscribe, presets)

			Expect(mgr.SetParameterValue(id, 0, 0)).To(BeTrue())
			Expect(mgr.SavePreset(id, "lofi")).To(Succeed())
			Expect(mgr.ResetParametersToDefault(id)).To(BeTrue())
			env.output().Should(Equal(crushed8))

			Expect(mgr.LoadPreset(id, "lofi")).To(Succeed())
			env.output().Should(Equal(crushed1))
			Eventually(presets).Should(Receive(HaveField("Kind", manager.PresetLoaded)))
		})

		It("survives a state round trip", func() {
			mgr := env.session.Manager()
			Expect(mgr.SetParameterValue(id, 0, 0)).To(BeTrue())
			Expect(mgr.RenamePlugin(id, "crusher")).To(Succeed())

			state, err := env.session.Processor().GetState()
			Expect(err).NotTo(HaveOccurred())
			Expect(mgr.RemoveAll()).To(Succeed())
			env.output().Should(Equal(inputLevel))

			Expect(mgr.SetState(env.ctx, state)).To(Succeed())
			instances := mgr.Instances()
			Expect(instances).To(HaveLen(1))
			Expect(instances[0].DisplayName).To(Equal("crusher"))
			env.output().Should(Equal(crushed1))
		})

		It("returns to passthrough when removed", func() {
			Expect(env.session.Manager().RemovePlugin(id)).To(Succeed())
			env.output().Should(Equal(inputLevel))
			Expect(env.session.Manager().Instances()).To(BeEmpty())
		})
	})
})
