// SPDX-License-Identifier: MIT
package gitx_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/model"
)

var _ = Describe("ParsePorcelainStatus", func() {
	It("returns clean worktree for empty output", func() {
		wt := gitx.ParsePorcelainStatus("")
		Expect(wt.Dirty).To(BeFalse())
		Expect(wt.Staged).To(Equal(0))
		Expect(wt.Unstaged).To(Equal(0))
		Expect(wt.Untracked).To(Equal(0))
	})

	It("counts staged files", func() {
		output := "M  file1.go\nA  file2.go\n"
		wt := gitx.ParsePorcelainStatus(output)
		Expect(wt.Staged).To(Equal(2))
		Expect(wt.Unstaged).To(Equal(0))
		Expect(wt.Dirty).To(BeTrue())
	})

	It("counts unstaged files", func() {
		output := " M file1.go\n D file2.go\n"
		wt := gitx.ParsePorcelainStatus(output)
		Expect(wt.Unstaged).To(Equal(2))
		Expect(wt.Staged).To(Equal(0))
		Expect(wt.Dirty).To(BeTrue())
	})

	It("counts untracked files", func() {
		output := "?? new_file.go\n?? other.txt\n"
		wt := gitx.ParsePorcelainStatus(output)
		Expect(wt.Untracked).To(Equal(2))
		Expect(wt.Dirty).To(BeTrue())
	})

	It("handles mixed status", func() {
		output := "M  staged.go\n M unstaged.go\n?? untracked.go\n"
		wt := gitx.ParsePorcelainStatus(output)
		Expect(wt.Staged).To(Equal(1))
		Expect(wt.Unstaged).To(Equal(1))
		Expect(wt.Untracked).To(Equal(1))
		Expect(wt.Dirty).To(BeTrue())
	})

	It("handles both staged and unstaged on same file", func() {
		output := "MM both.go\n"
		wt := gitx.ParsePorcelainStatus(output)
		Expect(wt.Staged).To(Equal(1))
		Expect(wt.Unstaged).To(Equal(1))
		Expect(wt.Dirty).To(BeTrue())
	})

	It("handles renamed files", func() {
		output := "R  old.go -> new.go\n"
		wt := gitx.ParsePorcelainStatus(output)
		Expect(wt.Staged).To(Equal(1))
		Expect(wt.Dirty).To(BeTrue())
	})

	It("handles deleted files", func() {
		output := "D  deleted.go\n"
		wt := gitx.ParsePorcelainStatus(output)
		Expect(wt.Staged).To(Equal(1))
		Expect(wt.Dirty).To(BeTrue())
	})

	It("handles added files", func() {
		output := "A  added.go\n"
		wt := gitx.ParsePorcelainStatus(output)
		Expect(wt.Staged).To(Equal(1))
	})

	It("skips blank lines", func() {
		output := "\n\n"
		wt := gitx.ParsePorcelainStatus(output)
		Expect(wt.Dirty).To(BeFalse())
	})
})

var _ = Describe("ParseConflicts", func() {
	It("keeps porcelain codes and order", func() {
		output := "UU both.go\nM  staged.go\nUD gone-upstream.go\nDU gone-here.go\n"
		Expect(gitx.ParseConflicts(output)).To(Equal([]model.Conflict{
			{Path: "both.go", Code: "UU"},
			{Path: "gone-upstream.go", Code: "UD"},
			{Path: "gone-here.go", Code: "DU"},
		}))
	})

	It("unquotes paths with special characters", func() {
		output := "AA \"dir/with space.txt\"\n"
		conflicts := gitx.ParseConflicts(output)
		Expect(conflicts).To(HaveLen(1))
		Expect(conflicts[0].Path).To(Equal("dir/with space.txt"))
	})

	It("counts conflicts separately in the worktree summary", func() {
		wt := gitx.ParsePorcelainStatus("UU a.go\n M b.go\n")
		Expect(wt.Conflicted).To(Equal(1))
		Expect(wt.Unstaged).To(Equal(1))
		Expect(wt.Staged).To(Equal(0))
	})

	It("returns nil for a clean tree", func() {
		Expect(gitx.ParseConflicts("")).To(BeNil())
	})
})

var _ = Describe("ParseCount", func() {
	DescribeTable("parses rev-list counts",
		func(input string, want int, ok bool) {
			n, parsed := gitx.ParseCount(input)
			Expect(parsed).To(Equal(ok))
			Expect(n).To(Equal(want))
		},
		Entry("plain", "3", 3, true),
		Entry("trailing newline", "12\n", 12, true),
		Entry("zero", "0", 0, true),
		Entry("empty", "", 0, false),
		Entry("negative", "-1", 0, false),
		Entry("garbage", "abc", 0, false),
	)
})

var _ = Describe("ParseRemoteShowHead", func() {
	It("extracts the HEAD branch", func() {
		output := "* remote upstream\n  Fetch URL: https://x\n  HEAD branch: main\n  Remote branches:\n"
		Expect(gitx.ParseRemoteShowHead(output)).To(Equal("main"))
	})

	It("treats an ambiguous HEAD as unknown", func() {
		Expect(gitx.ParseRemoteShowHead("  HEAD branch: (unknown)")).To(Equal(""))
	})

	It("returns empty when no HEAD line exists", func() {
		Expect(gitx.ParseRemoteShowHead("* remote upstream")).To(Equal(""))
	})
})

var _ = Describe("ParseSymbolicRemoteHead", func() {
	It("strips the remote prefix", func() {
		Expect(gitx.ParseSymbolicRemoteHead("upstream", "upstream/main\n")).To(Equal("main"))
		Expect(gitx.ParseSymbolicRemoteHead("upstream", "refs/remotes/upstream/release/1.x")).To(Equal("release/1.x"))
	})

	It("rejects refs of another remote", func() {
		Expect(gitx.ParseSymbolicRemoteHead("upstream", "origin/main")).To(Equal(""))
	})
})

var _ = Describe("ParseStashList", func() {
	It("returns nil for no stashes", func() {
		Expect(gitx.ParseStashList("")).To(BeNil())
	})

	It("splits ref and subject", func() {
		entries := gitx.ParseStashList("stash@{0}\tOn main: forkkeeper-autostash-1-x\n")
		Expect(entries).To(Equal([]model.StashEntry{{Ref: "stash@{0}", Message: "On main: forkkeeper-autostash-1-x"}}))
	})
})

var _ = Describe("ParseRevListCount", func() {
	It("parses normal counts", func() {
		ahead, behind := gitx.ParseRevListCount("2\t3")
		Expect(ahead).To(Equal(2))
		Expect(behind).To(Equal(3))
	})

	It("parses zeros", func() {
		ahead, behind := gitx.ParseRevListCount("0\t0")
		Expect(ahead).To(Equal(0))
		Expect(behind).To(Equal(0))
	})

	It("handles empty string", func() {
		ahead, behind := gitx.ParseRevListCount("")
		Expect(ahead).To(Equal(0))
		Expect(behind).To(Equal(0))
	})

	It("handles whitespace", func() {
		ahead, behind := gitx.ParseRevListCount("5\t10\n")
		Expect(ahead).To(Equal(5))
		Expect(behind).To(Equal(10))
	})
})

var _ = Describe("ClassifyGitError", func() {
	It("detects auth errors", func() {
		Expect(gitx.ClassifyGitError("fatal: Authentication failed")).To(Equal(gitx.ErrAuth))
	})

	It("detects permission denied", func() {
		Expect(gitx.ClassifyGitError("Permission denied (publickey)")).To(Equal(gitx.ErrAuth))
	})

	It("detects network errors", func() {
		Expect(gitx.ClassifyGitError("fatal: unable to access: Could not resolve host")).To(Equal(gitx.ErrNetwork))
	})

	It("detects connection refused", func() {
		Expect(gitx.ClassifyGitError("fatal: unable to connect: Connection refused")).To(Equal(gitx.ErrNetwork))
	})

	It("detects no remote", func() {
		Expect(gitx.ClassifyGitError("fatal: No remote repository specified")).To(Equal(gitx.ErrNoRemote))
	})

	It("detects no such remote", func() {
		Expect(gitx.ClassifyGitError("fatal: No such remote 'origin'")).To(Equal(gitx.ErrNoRemote))
	})

	It("detects corrupt repo", func() {
		Expect(gitx.ClassifyGitError("error: object file is empty")).To(Equal(gitx.ErrCorrupt))
	})

	It("detects not a repo", func() {
		Expect(gitx.ClassifyGitError("fatal: not a git repository")).To(Equal(gitx.ErrNotARepo))
	})

	It("detects timeout", func() {
		Expect(gitx.ClassifyGitError("context deadline exceeded")).To(Equal(gitx.ErrTimeout))
	})

	It("detects unrelated histories before generic merge failures", func() {
		Expect(gitx.ClassifyGitError("fatal: refusing to merge unrelated histories")).To(Equal(gitx.ErrUnrelatedHistories))
	})

	It("detects merge conflicts", func() {
		Expect(gitx.ClassifyGitError("CONFLICT (content): Merge conflict in a.txt\nAutomatic merge failed; fix conflicts and then commit the result.")).To(Equal(gitx.ErrMergeConflict))
		Expect(gitx.ClassifyGitError("error: Pulling is not possible because you have unmerged files.")).To(Equal(gitx.ErrUnmergedFiles))
		Expect(gitx.ClassifyGitError("CONFLICT (modify/delete): a.txt deleted in upstream/main")).To(Equal(gitx.ErrMergeConflict))
	})

	It("detects non fast-forward pulls", func() {
		Expect(gitx.ClassifyGitError("fatal: Not possible to fast-forward, aborting.")).To(Equal(gitx.ErrNonFastForward))
	})

	It("detects nothing to commit", func() {
		Expect(gitx.ClassifyGitError("nothing to commit, working tree clean")).To(Equal(gitx.ErrNothingToCommit))
	})

	It("treats HTTP 403 as auth", func() {
		Expect(gitx.ClassifyGitError("fatal: unable to access 'https://x/': The requested URL returned error: 403")).To(Equal(gitx.ErrAuth))
	})

	It("returns unknown for unrecognized", func() {
		Expect(gitx.ClassifyGitError("some random error")).To(Equal(gitx.ErrUnknown))
	})
})
