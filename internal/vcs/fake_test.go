// SPDX-License-Identifier: MIT
package vcs_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/vcs/vcstest"
)

var _ = Describe("vcstest.Fake", func() {
	var (
		ctx  context.Context
		fake *vcstest.Fake
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = vcstest.NewFake()
	})

	It("refuses to add a remote twice like git", func() {
		Expect(fake.AddRemote(ctx, "/repo", "upstream", "https://example.com/t.git")).To(Succeed())
		Expect(fake.AddRemote(ctx, "/repo", "upstream", "https://example.com/t.git")).To(HaveOccurred())
	})

	It("pops exactly the referenced stash", func() {
		fake.LocalEdits = []string{"a.txt"}
		created, err := fake.StashPush(ctx, "/repo", "marker-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())
		fake.LocalEdits = []string{"b.txt"}
		_, err = fake.StashPush(ctx, "/repo", "marker-2")
		Expect(err).NotTo(HaveOccurred())

		Expect(fake.StashPop(ctx, "/repo", "stash@{1}")).To(Succeed())
		Expect(fake.LocalEdits).To(ConsistOf("a.txt"))
		entries, err := fake.StashList(ctx, "/repo")
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(Equal([]model.StashEntry{{Ref: "stash@{0}", Message: "On main: marker-2"}}))
	})

	It("enters a conflicted merge and refuses to commit it", func() {
		fake.MergeConflicts = []model.Conflict{{Path: "a.txt", Code: "UU"}}
		err := fake.Merge(ctx, "/repo", "upstream/main", "sync", false)
		Expect(gitx.KindOf(err)).To(Equal(gitx.ErrMergeConflict))
		Expect(fake.MergeInProgress(ctx, "/repo")).To(BeTrue())
		Expect(gitx.KindOf(fake.Commit(ctx, "/repo", "sync"))).To(Equal(gitx.ErrUnmergedFiles))

		Expect(fake.Add(ctx, "/repo", "a.txt")).To(Succeed())
		Expect(fake.Commit(ctx, "/repo", "sync")).To(Succeed())
		Expect(gitx.KindOf(fake.Commit(ctx, "/repo", "sync"))).To(Equal(gitx.ErrNothingToCommit))
	})

	It("consumes queued failures one call at a time", func() {
		fake.FailNext("push", errors.New("rejected"))
		Expect(fake.Push(ctx, "/repo", "origin", "main")).To(HaveOccurred())
		Expect(fake.Push(ctx, "/repo", "origin", "main")).To(Succeed())
		Expect(fake.Pushed).To(Equal([]string{"origin/main"}))
	})
})
