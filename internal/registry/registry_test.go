// SPDX-License-Identifier: MIT
package registry_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/registry"
)

var _ = Describe("Registry", func() {
	It("saves and loads registry", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "registry.yaml")
		reg := &registry.Registry{UpdatedAt: time.Now()}
		reg.Upsert(registry.Entry{
			Path:        filepath.Join(dir, "assignment-1"),
			UpstreamURL: "https://example.com/course/template.git",
			LastSync:    &model.SyncRecord{OK: true, At: time.Now().UTC().Truncate(time.Second), Updated: true},
		})
		Expect(registry.Save(reg, path)).To(Succeed())
		loaded, err := registry.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Entries).To(HaveLen(1))
		Expect(loaded.Entries[0].UpstreamURL).To(Equal("https://example.com/course/template.git"))
		Expect(loaded.Entries[0].LastSync.Updated).To(BeTrue())
	})

	It("upserts entries by path and keeps unset fields", func() {
		reg := &registry.Registry{}
		reg.Upsert(registry.Entry{Path: "/course/a/", Name: "Assignment A", UpstreamURL: "https://example.com/t.git"})
		reg.Upsert(registry.Entry{Path: "/course/a", DefaultBranch: "main"})
		Expect(reg.Entries).To(HaveLen(1))
		Expect(reg.Entries[0].Name).To(Equal("Assignment A"))
		Expect(reg.Entries[0].UpstreamURL).To(Equal("https://example.com/t.git"))
		Expect(reg.Entries[0].DefaultBranch).To(Equal("main"))
		Expect(reg.Entries[0].Status).To(Equal(registry.StatusPresent))
	})

	It("keeps entries sorted by path", func() {
		reg := &registry.Registry{}
		reg.Upsert(registry.Entry{Path: "/course/b"})
		reg.Upsert(registry.Entry{Path: "/course/a"})
		Expect(reg.Entries[0].Path).To(Equal("/course/a"))
		Expect(reg.Entries[1].DisplayName()).To(Equal("b"))
	})

	It("removes entries", func() {
		reg := &registry.Registry{}
		reg.Upsert(registry.Entry{Path: "/course/a"})
		Expect(reg.Remove("/course/a")).To(BeTrue())
		Expect(reg.Remove("/course/a")).To(BeFalse())
		Expect(reg.Entries).To(BeEmpty())
	})

	It("validates paths and marks missing", func() {
		dir := GinkgoT().TempDir()
		existing := filepath.Join(dir, "exists")
		Expect(os.MkdirAll(existing, 0o755)).To(Succeed())
		reg := &registry.Registry{}
		reg.Upsert(registry.Entry{Path: existing})
		reg.Upsert(registry.Entry{Path: filepath.Join(dir, "gone")})
		Expect(reg.ValidatePaths()).To(Succeed())
		Expect(reg.FindByPath(existing).Status).To(Equal(registry.StatusPresent))
		Expect(reg.FindByPath(filepath.Join(dir, "gone")).Status).To(Equal(registry.StatusMissing))
	})

	It("records sync outcomes", func() {
		reg := &registry.Registry{}
		reg.Upsert(registry.Entry{Path: "/course/a", Status: registry.StatusMissing})
		at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		reg.RecordSync("/course/a", model.SyncRecord{OK: true, At: at})
		entry := reg.FindByPath("/course/a")
		Expect(entry.LastSync.At).To(Equal(at))
		Expect(entry.LastSeen).To(Equal(at))
		Expect(entry.Status).To(Equal(registry.StatusPresent))

		reg.RecordSync("/course/missing", model.SyncRecord{OK: false})
		Expect(reg.Entries).To(HaveLen(1))
	})
})
