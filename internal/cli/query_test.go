package cli

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"quiver.io/incremental-query-runtime/internal/buildinfo"
)

var _ = Describe("Query command", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	runCmd := func(args ...string) (string, error) {
		out := &bytes.Buffer{}
		cmd := New(buildinfo.BuildInfo{Version: "test"})
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	writeDataset := func(content string) string {
		file := filepath.Join(dir, "dataset.yaml")
		Expect(os.WriteFile(file, []byte(content), 0o644)).To(Succeed())
		return file
	}

	It("selects elements matching a single term", func() {
		file := writeDataset(`
elements:
  - id: 1
    values: {spec.tier: gold}
  - id: 2
    values: {spec.tier: silver}
  - id: 3
    values: {spec.tier: gold}
select:
  - path: spec.tier
    equals: [gold]
`)
		out, err := runCmd("query", file)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("1\n3\n"))
	})

	It("intersects stacked terms", func() {
		file := writeDataset(`
elements:
  - id: 1
    values: {spec.tier: gold, spec.zone: east}
  - id: 2
    values: {spec.tier: gold, spec.zone: west}
  - id: 3
    values: {spec.tier: silver, spec.zone: east}
select:
  - path: spec.tier
    equals: [gold]
  - path: spec.zone
    equals: [east]
`)
		out, err := runCmd("query", file)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("1\n"))
	})

	It("treats a term without values as a presence test", func() {
		file := writeDataset(`
elements:
  - id: 1
    values: {spec.tier: gold}
  - id: 2
    values: {spec.zone: east}
select:
  - path: spec.tier
`)
		out, err := runCmd("query", file)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("1\n"))
	})

	It("tracks mutations through the live result set", func() {
		file := writeDataset(`
elements:
  - id: 1
    values: {spec.tier: gold}
  - id: 2
    values: {spec.tier: silver}
select:
  - path: spec.tier
    equals: [gold]
mutations:
  - set:
      id: 2
      values: {spec.tier: gold}
  - remove: 1
`)
		out, err := runCmd("query", file)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("1\n---\n1\n2\n---\n2\n"))
	})

	It("rejects a dataset without selection terms", func() {
		file := writeDataset(`
elements:
  - id: 1
    values: {spec.tier: gold}
`)
		_, err := runCmd("query", file)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a missing dataset file", func() {
		_, err := runCmd("query", filepath.Join(dir, "no-such-file.yaml"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Version command", func() {
	It("prints the build info", func() {
		out := &bytes.Buffer{}
		cmd := New(buildinfo.BuildInfo{Version: "1.2.3", CommitHash: "abc", BuildDate: "today"})
		cmd.SetOut(out)
		cmd.SetArgs([]string{"version"})
		Expect(cmd.Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("version 1.2.3 (abc) built on today"))
	})
})
