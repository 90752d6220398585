// SPDX-License-Identifier: MIT
package forksync_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/forkkeeper/internal/conflict"
	"github.com/skaphos/forkkeeper/internal/forksync"
	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/interact"
	"github.com/skaphos/forkkeeper/internal/interact/interacttest"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/syncerr"
	"github.com/skaphos/forkkeeper/internal/vcs/vcstest"
)

const (
	repoDir     = "/work/course/assignment-1"
	upstreamURL = "https://example.com/course/template.git"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctx    context.Context
		fake   *vcstest.Fake
		ui     *interacttest.Recorder
		orch   *forksync.Orchestrator
		states []forksync.State
		opts   forksync.Options
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = vcstest.NewFake()
		fake.RemoteHeads["upstream"] = "main"
		fake.Refs["refs/remotes/origin/main"] = true
		fake.Refs["refs/remotes/upstream/main"] = true
		ui = &interacttest.Recorder{}
		orch = forksync.New(fake, ui, ui, nil)
		states = nil
		orch.OnTransition = func(_ string, s forksync.State) { states = append(states, s) }
		opts = forksync.Options{}
	})

	sync := func() (model.SyncOutcome, error) {
		return orch.Sync(ctx, repoDir, upstreamURL, opts)
	}

	Describe("example scenarios", func() {
		It("merges, commits and pushes a clean repo that is behind", func() {
			fake.Behind = 3
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Updated).To(BeTrue())
			Expect(outcome.DefaultBranch).To(Equal("main"))
			Expect(outcome.BehindCount).To(Equal(3))
			Expect(outcome.Warnings).To(BeEmpty())
			Expect(fake.Called("merge upstream/main")).To(BeTrue())
			Expect(fake.Pushed).To(Equal([]string{"origin/main"}))
			Expect(states).To(Equal([]forksync.State{
				forksync.Idle, forksync.RemoteAttached, forksync.Fetched, forksync.DivergenceChecked,
				forksync.Protected, forksync.BranchSwitched, forksync.Pulled, forksync.Merging,
				forksync.MergeSucceeded, forksync.Committed, forksync.Pushed, forksync.Cleanup, forksync.Done,
			}))
		})

		It("is a no-op when upstream has nothing new and still removes the remote", func() {
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(model.SyncOutcome{Updated: false, DefaultBranch: "main", BehindCount: 0}))
			Expect(fake.RemoteURLs).NotTo(HaveKey("upstream"))
			Expect(fake.Called("merge")).To(BeFalse())
			Expect(fake.Called("stash push")).To(BeFalse())
			Expect(states).To(ContainElement(forksync.NoOpDone))
		})

		It("stashes local edits around the merge and restores them", func() {
			fake.Behind = 2
			fake.LocalEdits = []string{"a.txt"}
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Updated).To(BeTrue())
			Expect(fake.Called("stash push forkkeeper-autostash-")).To(BeTrue())
			Expect(fake.LocalEdits).To(ConsistOf("a.txt"))
			Expect(fake.Stashes).To(BeEmpty())
		})

		It("keeps a file the student modified and upstream deleted without prompting", func() {
			fake.Behind = 1
			fake.MergeConflicts = []model.Conflict{{Path: "b.txt", Code: "UD"}}
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Updated).To(BeTrue())
			Expect(fake.Called("checkout --ours b.txt")).To(BeTrue())
			Expect(fake.Called("rm")).To(BeFalse())
			Expect(ui.Prompted()).To(BeFalse())
			Expect(ui.Contains(interact.LevelInfo, "deleted upstream")).To(BeTrue())
		})

		It("falls through to forced resolution with auto-resolve enabled", func() {
			fake.Behind = 4
			fake.MergeConflicts = []model.Conflict{{Path: "a.txt", Code: "UU"}, {Path: "c.txt", Code: "UU"}}
			fake.Resist["a.txt"] = "both"
			opts.AutoResolveConflicts = true
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Updated).To(BeTrue())
			Expect(ui.Prompted()).To(BeFalse())
			Expect(fake.Called("add -A")).To(BeTrue())
			Expect(outcome.Warnings).To(ContainElement(ContainSubstring("resolved automatically")))
			calls := fake.Calls()
			Expect(indexOf(calls, "checkout --ours a.txt")).To(BeNumerically("<", indexOf(calls, "checkout --theirs a.txt")))
		})

		It("downgrades a push failure to a warning", func() {
			fake.Behind = 1
			fake.FailNext("push", vcstest.GitError(gitx.ErrNetwork, "Could not resolve host", "push"))
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Updated).To(BeTrue())
			Expect(outcome.Warnings).To(HaveLen(1))
			Expect(ui.Contains(interact.LevelWarning, "Push manually")).To(BeTrue())
			Expect(states).NotTo(ContainElement(forksync.Pushed))
		})
	})

	Describe("invariants", func() {
		It("leaves a pre-existing upstream remote in place", func() {
			fake.RemoteURLs["upstream"] = upstreamURL
			fake.Behind = 1
			_, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.RemoteURLs).To(HaveKey("upstream"))
			Expect(fake.Called("remote remove")).To(BeFalse())
		})

		It("keeps an added remote only when asked to", func() {
			opts.KeepUpstreamRemote = true
			_, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.RemoteURLs).To(HaveKeyWithValue("upstream", upstreamURL))
		})

		It("switches back to the original branch", func() {
			fake.Branch = "feature"
			fake.Branches["feature"] = true
			fake.Behind = 2
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Updated).To(BeTrue())
			Expect(fake.Called("checkout main")).To(BeTrue())
			Expect(fake.Branch).To(Equal("feature"))
		})

		It("switches back to the original branch when the merge fails outright", func() {
			fake.Branch = "feature"
			fake.Branches["feature"] = true
			fake.Behind = 2
			fake.FailNext("merge", vcstest.GitError(gitx.ErrUnrelatedHistories, "refusing to merge unrelated histories", "merge"))
			_, err := sync()
			Expect(err).To(HaveOccurred())
			Expect(fake.Branch).To(Equal("feature"))
			Expect(fake.RemoteURLs).NotTo(HaveKey("upstream"))
		})

		It("creates the default branch from origin when it is missing locally", func() {
			fake.Branch = "feature"
			fake.Branches = map[string]bool{"feature": true}
			fake.Behind = 1
			_, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.Called("checkout -b main origin/main")).To(BeTrue())
			Expect(fake.Branch).To(Equal("feature"))
		})

		It("does not switch branches on a detached HEAD", func() {
			fake.Detached = true
			fake.Branch = "abc1234"
			fake.Behind = 1
			_, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.Called("checkout")).To(BeFalse())
		})

		It("warns instead of losing a stash that cannot be popped", func() {
			fake.Behind = 1
			fake.LocalEdits = []string{"a.txt"}
			fake.FailNext("stash pop", errors.New("conflict with stashed changes"))
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Updated).To(BeTrue())
			Expect(fake.Stashes).To(HaveLen(1))
			Expect(outcome.Warnings).To(ContainElement(ContainSubstring("git stash pop")))
			Expect(ui.Contains(interact.LevelWarning, "git stash pop")).To(BeTrue())
		})

		It("returns updated=false on an immediate second run", func() {
			fake.Behind = 3
			first, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Updated).To(BeTrue())

			second, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Updated).To(BeFalse())
		})

		It("cleans up after the context is cancelled at the conflict prompt", func() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(ctx)
			defer cancel()
			fake.Branch = "feature"
			fake.Branches["feature"] = true
			fake.Behind = 1
			fake.LocalEdits = []string{"notes.txt"}
			fake.MergeConflicts = []model.Conflict{{Path: "a.txt", Code: "UU"}}
			ui.Answers = []string{conflict.LabelOurs}
			ui.OnPrompt = func(interacttest.Message) { cancel() }

			outcome, err := sync()
			Expect(err).To(MatchError(context.Canceled))
			Expect(outcome.Updated).To(BeFalse())
			Expect(fake.RemoteURLs).NotTo(HaveKey("upstream"))
			Expect(fake.Stashes).To(BeEmpty())
			Expect(fake.LocalEdits).To(ConsistOf("notes.txt"))
			Expect(fake.MergeInProgress(context.Background(), repoDir)).To(BeFalse())
			Expect(fake.Branch).To(Equal("feature"))
			Expect(states[len(states)-1]).To(Equal(forksync.Aborted))
		})

		It("removes the upstream remote when the run is cancelled before merging", func() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(ctx)
			defer cancel()
			fake.Behind = 1
			fake.LocalEdits = []string{"notes.txt"}
			orch.OnTransition = func(_ string, s forksync.State) {
				if s == forksync.Pulled {
					cancel()
				}
			}
			_, err := sync()
			Expect(err).To(MatchError(context.Canceled))
			Expect(fake.RemoteURLs).NotTo(HaveKey("upstream"))
			Expect(fake.Stashes).To(BeEmpty())
			Expect(fake.LocalEdits).To(ConsistOf("notes.txt"))
		})

		It("restores a pre-existing upstream remote that pointed elsewhere", func() {
			fake.RemoteURLs["upstream"] = "https://example.com/student/own-upstream.git"
			fake.Behind = 1
			tokenURL := gitx.WithToken(upstreamURL, "secret")
			_, err := orch.Sync(ctx, repoDir, tokenURL, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.RemoteURLs).To(HaveKeyWithValue("upstream", "https://example.com/student/own-upstream.git"))
			Expect(fake.Called("remote remove")).To(BeFalse())
		})

		It("restores a replaced upstream url even when the remote is kept", func() {
			fake.RemoteURLs["upstream"] = "https://example.com/student/own-upstream.git"
			opts.KeepUpstreamRemote = true
			fake.FailNext("fetch", vcstest.GitError(gitx.ErrNetwork, "Could not resolve host", "fetch"))
			_, err := sync()
			Expect(err).To(HaveOccurred())
			Expect(fake.RemoteURLs).To(HaveKeyWithValue("upstream", "https://example.com/student/own-upstream.git"))
		})

		It("runs cleanup exactly once on a failure path", func() {
			fake.FailNext("fetch", vcstest.GitError(gitx.ErrNetwork, "Could not resolve host", "fetch"))
			_, err := sync()
			Expect(err).To(HaveOccurred())
			cleanups := 0
			for _, s := range states {
				if s == forksync.Cleanup {
					cleanups++
				}
			}
			Expect(cleanups).To(Equal(1))
			Expect(states[len(states)-1]).To(Equal(forksync.Aborted))
		})
	})

	Describe("boundaries and failures", func() {
		It("refuses to start on a tree that already has conflicts", func() {
			fake.Behind = 1
			fake.ConflictList = []model.Conflict{{Path: "a.txt", Code: "UU"}}
			_, err := sync()
			Expect(syncerr.KindOf(err)).To(Equal(syncerr.WorkingTreeBlocked))
			Expect(fake.Called("stash push")).To(BeFalse())
			Expect(fake.Called("merge")).To(BeFalse())
			Expect(fake.RemoteURLs).NotTo(HaveKey("upstream"))
		})

		It("fails as RemoteUnresolvable when no default branch resolves", func() {
			fake.RemoteHeads = map[string]string{}
			fake.Refs = map[string]bool{}
			_, err := sync()
			Expect(syncerr.KindOf(err)).To(Equal(syncerr.RemoteUnresolvable))
			Expect(syncerr.UserMessage(err)).To(ContainSubstring("example.com/course/template.git"))
			Expect(fake.RemoteURLs).NotTo(HaveKey("upstream"))
		})

		It("falls back to known branch names when HEAD is not advertised", func() {
			fake.RemoteHeads = map[string]string{}
			fake.Refs = map[string]bool{"refs/remotes/upstream/master": true}
			fake.Branches["master"] = true
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.DefaultBranch).To(Equal("master"))
		})

		It("uses an explicit default branch", func() {
			opts.DefaultBranch = "release"
			fake.Branches["release"] = true
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.DefaultBranch).To(Equal("release"))
			Expect(fake.Called("remote show")).To(BeFalse())
		})

		It("propagates authentication failures for the caller to retry", func() {
			fake.FailNext("fetch", vcstest.GitError(gitx.ErrAuth, "Authentication failed", "fetch"))
			_, err := sync()
			Expect(syncerr.KindOf(err)).To(Equal(syncerr.AuthenticationFailed))
		})

		It("keeps going when origin pulls fail", func() {
			fake.Behind = 1
			fake.FailNext("pull --ff-only", vcstest.GitError(gitx.ErrNonFastForward, "Not possible to fast-forward", "pull"))
			fake.FailNext("pull", vcstest.GitError(gitx.ErrNetwork, "Could not resolve host", "pull"))
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Updated).To(BeTrue())
		})

		It("leaves the merge in progress when conflicts survive forced resolution", func() {
			fake.Behind = 1
			fake.LocalEdits = []string{"notes.txt"}
			fake.MergeConflicts = []model.Conflict{{Path: "a.txt", Code: "UU"}}
			fake.Resist["a.txt"] = "both"
			fake.StickyConflicts = true
			opts.AutoResolveConflicts = true
			_, err := sync()
			Expect(syncerr.KindOf(err)).To(Equal(syncerr.MergeUnresolved))
			Expect(fake.MergeInProgress(ctx, repoDir)).To(BeTrue())
			Expect(fake.Called("merge --abort")).To(BeFalse())
			Expect(fake.Called("commit")).To(BeFalse())
			Expect(fake.Stashes).To(HaveLen(1))
			Expect(ui.Contains(interact.LevelWarning, "git stash pop")).To(BeTrue())
			Expect(fake.RemoteURLs).NotTo(HaveKey("upstream"))
		})
	})

	Describe("confirmation", func() {
		BeforeEach(func() {
			opts.Confirm = true
			fake.Behind = 5
		})

		It("returns updated=false when the user declines", func() {
			ui.Answers = []string{forksync.LabelLater}
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Updated).To(BeFalse())
			Expect(outcome.BehindCount).To(Equal(5))
			Expect(fake.Called("merge")).To(BeFalse())
			Expect(states).To(ContainElement(forksync.AwaitingConfirmation))
		})

		It("continues when the user accepts", func() {
			ui.Answers = []string{forksync.LabelUpdate}
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Updated).To(BeTrue())
		})
	})

	Describe("interactive conflict resolution", func() {
		BeforeEach(func() {
			fake.Behind = 1
			fake.MergeConflicts = []model.Conflict{{Path: "a.txt", Code: "UU"}}
		})

		It("resolves globally with the chosen side", func() {
			ui.Answers = []string{conflict.LabelTheirs}
			outcome, err := sync()
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Updated).To(BeTrue())
			Expect(fake.Called("checkout --theirs a.txt")).To(BeTrue())
		})

		It("aborts the merge when the user chooses abort", func() {
			ui.Answers = []string{conflict.LabelAbort}
			_, err := sync()
			Expect(err).To(MatchError(syncerr.ErrMergeAbortedByUser))
			Expect(syncerr.Declined(err)).To(BeTrue())
			Expect(fake.Called("merge --abort")).To(BeTrue())
			Expect(fake.MergeInProgress(ctx, repoDir)).To(BeFalse())
		})

		It("stops without reverting when the user opens the editor", func() {
			ui.Answers = []string{conflict.LabelEditor}
			_, err := sync()
			Expect(syncerr.KindOf(err)).To(Equal(syncerr.ManualResolutionRequested))
			Expect(ui.Opened).To(Equal([]string{repoDir + "/a.txt"}))
			Expect(fake.MergeInProgress(ctx, repoDir)).To(BeTrue())
			Expect(fake.Called("merge --abort")).To(BeFalse())
		})
	})
})

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}
