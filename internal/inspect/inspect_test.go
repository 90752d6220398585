// SPDX-License-Identifier: MIT
package inspect_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/forkkeeper/internal/inspect"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/vcs/vcstest"
)

var _ = Describe("Inspector", func() {
	var (
		ctx  context.Context
		fake *vcstest.Fake
		in   *inspect.Inspector
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = vcstest.NewFake()
		in = inspect.New(fake, nil)
	})

	It("returns an empty conflict set for a clean tree", func() {
		Expect(in.ConflictedPaths(ctx, "/repo")).To(BeEmpty())
		Expect(in.IsDirty(ctx, "/repo")).To(BeFalse())
	})

	It("lists conflicted paths in order", func() {
		fake.ConflictList = []model.Conflict{{Path: "b.txt", Code: "UU"}, {Path: "a.txt", Code: "UD"}}
		Expect(in.ConflictedPaths(ctx, "/repo")).To(Equal([]string{"b.txt", "a.txt"}))
		Expect(in.IsDirty(ctx, "/repo")).To(BeTrue())
	})

	It("degrades failed queries to safe defaults", func() {
		fake.FailAlways("status", errors.New("index.lock exists"))
		fake.FailAlways("head", errors.New("broken"))
		Expect(in.ConflictedPaths(ctx, "/repo")).To(BeEmpty())
		Expect(in.IsDirty(ctx, "/repo")).To(BeFalse())
		Expect(in.CurrentBranch(ctx, "/repo")).To(Equal(model.DetachedBranch))
		_, err := in.Snapshot(ctx, "/repo")
		Expect(err).To(HaveOccurred())
	})

	It("reports DETACHED for a detached HEAD", func() {
		fake.Detached = true
		fake.Branch = "abc1234"
		Expect(in.CurrentBranch(ctx, "/repo")).To(Equal(model.DetachedBranch))
	})

	It("measures divergence in both directions", func() {
		fake.Behind = 3
		fake.Ahead = 1
		Expect(in.Divergence(ctx, "/repo", "upstream/main")).To(Equal(model.Divergence{Behind: 3, Ahead: 1}))
		Expect(fake.Calls()).To(ContainElements("rev-list HEAD..upstream/main", "rev-list upstream/main..HEAD"))
	})

	DescribeTable("never returns negative or garbled counts",
		func(output string) {
			fake.CountOutput = &output
			d := in.Divergence(ctx, "/repo", "upstream/main")
			Expect(d.Behind).To(Equal(0))
			Expect(d.Ahead).To(Equal(0))
		},
		Entry("negative", "-4"),
		Entry("garbage", "NaN"),
		Entry("empty", ""),
		Entry("overflow", "99999999999999999999999"),
	)

	It("treats count failures as zero", func() {
		fake.FailAlways("rev-list", errors.New("bad revision"))
		Expect(in.Divergence(ctx, "/repo", "upstream/main")).To(Equal(model.Divergence{}))
	})
})
