package gitx_test

import (
	"context"
	"errors"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/model"
)

var _ = Describe("GitRunner.Run", func() {
	var runner *gitx.GitRunner

	BeforeEach(func() {
		runner = &gitx.GitRunner{}
	})

	It("runs git version successfully", func() {
		out, err := runner.Run(context.Background(), "", "version")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("git version"))
	})

	It("errors for nonexistent directory", func() {
		_, err := runner.Run(context.Background(), "/nonexistent/path/xyz", "status")
		Expect(err).To(HaveOccurred())
	})

	It("classifies failures once as a CommandError", func() {
		tmpDir, err := os.MkdirTemp("", "gitx-notrepo")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, tmpDir)

		_, err = runner.Run(context.Background(), tmpDir, "status")
		var cmdErr *gitx.CommandError
		Expect(errors.As(err, &cmdErr)).To(BeTrue())
		Expect(cmdErr.Kind).To(Equal(gitx.ErrNotARepo))
		Expect(cmdErr.Args).To(Equal([]string{"status"}))
	})

	It("respects context cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := runner.Run(ctx, "", "version")
		Expect(err).To(HaveOccurred())
		Expect(gitx.KindOf(err)).To(Equal(gitx.ErrTimeout))
	})
})

var _ = Describe("IsRepo", func() {
	It("returns true for a valid repo", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:rev-parse --is-inside-work-tree": {Output: "true"},
		}}
		ok, err := gitx.IsRepo(context.Background(), mock, "/repo")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("returns false on error", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:rev-parse --is-inside-work-tree": {Err: errors.New("not a repo")},
		}}
		ok, err := gitx.IsRepo(context.Background(), mock, "/repo")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Head", func() {
	It("returns branch name for attached HEAD", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:symbolic-ref --quiet --short HEAD": {Output: "main"},
		}}
		h, err := gitx.Head(context.Background(), mock, "/repo")
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Branch).To(Equal("main"))
		Expect(h.Detached).To(BeFalse())
	})

	It("returns commit hash for detached HEAD", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:symbolic-ref --quiet --short HEAD": {Err: errors.New("not symbolic")},
			"/repo:rev-parse --short HEAD":            {Output: "abc1234"},
		}}
		h, err := gitx.Head(context.Background(), mock, "/repo")
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Branch).To(Equal("abc1234"))
		Expect(h.Detached).To(BeTrue())
	})
})

var _ = Describe("Remotes", func() {
	It("returns all remotes with URLs", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:remote":                  {Output: "origin\nupstream"},
			"/repo:remote get-url origin":   {Output: "https://github.com/org/repo.git"},
			"/repo:remote get-url upstream": {Output: "https://github.com/other/repo.git"},
		}}
		remotes, err := gitx.Remotes(context.Background(), mock, "/repo")
		Expect(err).NotTo(HaveOccurred())
		Expect(remotes).To(Equal([]model.Remote{
			{Name: "origin", URL: "https://github.com/org/repo.git"},
			{Name: "upstream", URL: "https://github.com/other/repo.git"},
		}))
	})

	It("returns nil for no remotes", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:remote": {Output: ""},
		}}
		remotes, err := gitx.Remotes(context.Background(), mock, "/repo")
		Expect(err).NotTo(HaveOccurred())
		Expect(remotes).To(BeNil())
	})
})

var _ = Describe("RemoteHeadBranch", func() {
	It("prefers local remote HEAD metadata", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:symbolic-ref --quiet --short refs/remotes/upstream/HEAD": {Output: "upstream/trunk"},
		}}
		branch, err := gitx.RemoteHeadBranch(context.Background(), mock, "/repo", "upstream")
		Expect(err).NotTo(HaveOccurred())
		Expect(branch).To(Equal("trunk"))
		Expect(mock.Calls).To(HaveLen(1))
	})

	It("falls back to remote show", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:symbolic-ref --quiet --short refs/remotes/upstream/HEAD": {Err: errors.New("not a symbolic ref")},
			"/repo:remote show upstream": {Output: "* remote upstream\n  Fetch URL: x\n  HEAD branch: develop\n"},
		}}
		branch, err := gitx.RemoteHeadBranch(context.Background(), mock, "/repo", "upstream")
		Expect(err).NotTo(HaveOccurred())
		Expect(branch).To(Equal("develop"))
	})

	It("returns the remote show error", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:symbolic-ref --quiet --short refs/remotes/upstream/HEAD": {Err: errors.New("not a symbolic ref")},
			"/repo:remote show upstream": {Err: errors.New("could not resolve host")},
		}}
		_, err := gitx.RemoteHeadBranch(context.Background(), mock, "/repo", "upstream")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("WorktreeStatus", func() {
	It("returns parsed worktree status", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:status --porcelain=v1": {Output: "M  file.go\n?? new.go\n"},
		}}
		wt, err := gitx.WorktreeStatus(context.Background(), mock, "/repo")
		Expect(err).NotTo(HaveOccurred())
		Expect(wt.Staged).To(Equal(1))
		Expect(wt.Untracked).To(Equal(1))
		Expect(wt.Dirty).To(BeTrue())
	})

	It("wraps status failures", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:status --porcelain=v1": {Err: errors.New("boom")},
		}}
		_, err := gitx.WorktreeStatus(context.Background(), mock, "/repo")
		Expect(err).To(MatchError(ContainSubstring("git status")))
	})
})

var _ = Describe("Conflicts", func() {
	It("lists unmerged paths only", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:status --porcelain=v1": {Output: "UU a.txt\nM  b.txt\nUD c.txt\n"},
		}}
		conflicts, err := gitx.Conflicts(context.Background(), mock, "/repo")
		Expect(err).NotTo(HaveOccurred())
		Expect(conflicts).To(Equal([]model.Conflict{
			{Path: "a.txt", Code: "UU"},
			{Path: "c.txt", Code: "UD"},
		}))
	})
})

var _ = Describe("command wrappers", func() {
	ctx := context.Background()

	It("fetches one remote without submodules", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:-c fetch.recurseSubmodules=false fetch --prune --no-recurse-submodules upstream": {},
		}}
		Expect(gitx.FetchRemote(ctx, mock, "/repo", "upstream")).To(Succeed())
	})

	It("creates a non-tracking branch", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:checkout -b main --no-track upstream/main": {},
		}}
		Expect(gitx.CreateBranch(ctx, mock, "/repo", "main", "upstream/main", false)).To(Succeed())
	})

	It("merges allowing unrelated histories", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:merge --no-edit -m sync --allow-unrelated-histories upstream/main": {},
		}}
		Expect(gitx.Merge(ctx, mock, "/repo", "upstream/main", "sync", true)).To(Succeed())
	})

	It("rejects an unknown checkout side", func() {
		mock := &MockRunner{}
		Expect(gitx.CheckoutSide(ctx, mock, "/repo", "both", "a.txt")).To(HaveOccurred())
		Expect(mock.Calls).To(BeEmpty())
	})

	It("checks out our side of conflicted paths", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:checkout --ours -- a.txt b.txt": {},
		}}
		Expect(gitx.CheckoutSide(ctx, mock, "/repo", "ours", "a.txt", "b.txt")).To(Succeed())
	})

	It("reports when there was nothing to stash", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:stash push -u -m marker": {Output: "No local changes to save"},
		}}
		created, err := gitx.StashPush(ctx, mock, "/repo", "marker")
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeFalse())
	})

	It("lists stash entries", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:stash list --format=%gd%x09%gs": {Output: "stash@{0}\tOn main: marker\nstash@{1}\tWIP on main: abc"},
		}}
		entries, err := gitx.StashList(ctx, mock, "/repo")
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		Expect(entries[0]).To(Equal(model.StashEntry{Ref: "stash@{0}", Message: "On main: marker"}))
	})

	It("clones with a branch from no directory", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			":clone --branch main https://example.com/a.git /tmp/a": {},
		}}
		Expect(gitx.Clone(ctx, mock, "https://example.com/a.git", "/tmp/a", " main ")).To(Succeed())
	})

	It("detects an in-progress merge", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/merging:rev-parse --quiet --verify MERGE_HEAD": {Output: "abc"},
		}}
		Expect(gitx.MergeInProgress(ctx, mock, "/merging")).To(BeTrue())
		Expect(gitx.MergeInProgress(ctx, mock, "/clean")).To(BeFalse())
	})

	It("checks ref existence by commit", func() {
		mock := &MockRunner{Responses: map[string]MockResponse{
			"/repo:rev-parse --verify --quiet refs/remotes/upstream/main^{commit}": {Output: "abc"},
		}}
		Expect(gitx.RefExists(ctx, mock, "/repo", "refs/remotes/upstream/main")).To(BeTrue())
		Expect(gitx.RefExists(ctx, mock, "/repo", "refs/remotes/upstream/master")).To(BeFalse())
	})
})

var _ = Describe("GitRunner with real git", func() {
	It("detects a real git repo", func() {
		tmpDir, err := os.MkdirTemp("", "gitx-test")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, tmpDir)

		runner := &gitx.GitRunner{}
		ctx := context.Background()

		_, err = runner.Run(ctx, tmpDir, "init")
		Expect(err).NotTo(HaveOccurred())

		ok, err := gitx.IsRepo(ctx, runner, tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})
})
