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
	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/internal/plugin/goplugin"
)

var _ = Describe("Binary plugins", Ordered, func() {
	var bundle string

	BeforeAll(func() {
		bundle = buildTremolo(GinkgoT().TempDir())
	})

	var env *testEnv

	BeforeEach(func() {
		env = setupTestEnv()
	})

	running := func() int {
		f, ok := env.session.Host().Format(goplugin.FormatName)
		Expect(ok).To(BeTrue())
		return f.(*goplugin.Format).Running()
	}

	It("reports a bundle whose executable is missing", func() {
		broken := filepath.Join(GinkgoT().TempDir(), "tremolo")
		Expect(os.MkdirAll(broken, 0o700)).To(Succeed())
		manifest, err := os.ReadFile(filepath.Join(bundle, plugin.ManifestFile))
		Expect(err).NotTo(HaveOccurred())
		Expect(os.WriteFile(filepath.Join(broken, plugin.ManifestFile), manifest, 0o600)).To(Succeed())

		events := env.scan(broken)

		failed := ofKind(events, catalog.ProbeFailed)
		Expect(failed).To(HaveLen(1))
		Expect(failed[0].File).To(HaveSuffix(plugin.ManifestFile))
		Expect(failed[0].Err).To(HaveOccurred())
		_, ok := env.session.Catalog().FindByName("tremolo")
		Expect(ok).To(BeFalse())
	})

	Context("with the plugin built", func() {
		var id graph.NodeID

		BeforeEach(func() {
			env.scan(bundle)
			desc, ok := env.session.Catalog().FindByName("tremolo")
			Expect(ok).To(BeTrue())
			Expect(desc.Format).To(Equal(goplugin.FormatName))
			Expect(desc.FileHash).NotTo(BeEmpty())

			env.start()
			ids, err := env.session.LoadChain(env.ctx, []string{desc.Identity()})
			Expect(err).NotTo(HaveOccurred())
			id = ids[0]
		})

		It("runs each instance in its own process", func() {
			Expect(running()).To(Equal(1))

			_, err := env.session.LoadChain(env.ctx, []string{"tremolo"})
			Expect(err).NotTo(HaveOccurred())
			Expect(running()).To(Equal(2))
		})

		It("exposes the manifest parameters over RPC", func() {
			params := env.session.Manager().GetPluginParameters(id)
			Expect(params).To(HaveLen(2))
			Expect(params[0].ID).To(Equal("rate"))
			Expect(params[1].ID).To(Equal("depth"))
		})

		It("is transparent at zero depth", func() {
			Expect(env.session.Manager().SetParameterValue(id, 1, 0)).To(BeTrue())
			env.output().Should(Equal(inputLevel))
		})

		It("attenuates the signal at full depth", func() {
			Expect(env.session.Manager().SetParameterValue(id, 1, 1)).To(BeTrue())
			env.output().Should(BeNumerically("<", inputLevel))
		})

		It("stops the subprocess when removed", func() {
			Expect(env.session.Manager().RemovePlugin(id)).To(Succeed())
			Expect(running()).To(Equal(0))
			env.output().Should(Equal(inputLevel))
		})
	})
})
