// SPDX-License-Identifier: MIT
package credentials_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/forkkeeper/internal/credentials"
	"github.com/skaphos/forkkeeper/internal/interact/interacttest"
)

const repoURL = "https://Git.Example.com/course/assignment-1.git"

var _ = Describe("Store", func() {
	var store *credentials.Store

	BeforeEach(func() {
		store = credentials.NewStore(filepath.Join(GinkgoT().TempDir(), "cfg", credentials.DefaultFilename))
	})

	It("returns nothing for an empty store", func() {
		tok, ok, err := store.Get(repoURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(tok).To(BeEmpty())
	})

	It("stores tokens per origin with private permissions", func() {
		Expect(store.Set(repoURL, " secret \n")).To(Succeed())
		tok, ok, err := store.Get("https://git.example.com/other/repo.git")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(tok).To(Equal("secret"))

		info, err := os.Stat(store.Path())
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))

		origins, err := store.Origins()
		Expect(err).NotTo(HaveOccurred())
		Expect(origins).To(Equal([]string{"https://git.example.com"}))
	})

	It("deletes tokens and tolerates unknown origins", func() {
		Expect(store.Set(repoURL, "secret")).To(Succeed())
		Expect(store.Delete(repoURL)).To(Succeed())
		Expect(store.Delete("https://elsewhere.example.com/x.git")).To(Succeed())
		_, ok, err := store.Get(repoURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects empty tokens and non-http remotes", func() {
		Expect(store.Set(repoURL, "  ")).NotTo(Succeed())
		Expect(store.Set("git@example.com:course/a.git", "secret")).NotTo(Succeed())
	})

	It("keeps concurrent writes", func() {
		var wg sync.WaitGroup
		hosts := []string{"https://a.example.com/r.git", "https://b.example.com/r.git", "https://c.example.com/r.git", "https://d.example.com/r.git"}
		for _, host := range hosts {
			wg.Add(1)
			go func(u string) {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(store.Set(u, "tok")).To(Succeed())
			}(host)
		}
		wg.Wait()
		origins, err := store.Origins()
		Expect(err).NotTo(HaveOccurred())
		Expect(origins).To(HaveLen(len(hosts)))
	})
})

var _ = Describe("Provider", func() {
	var (
		ctx      context.Context
		store    *credentials.Store
		recorder *interacttest.Recorder
		provider *credentials.Provider
		env      map[string]string
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = credentials.NewStore(filepath.Join(GinkgoT().TempDir(), credentials.DefaultFilename))
		recorder = &interacttest.Recorder{}
		env = map[string]string{}
		provider = credentials.NewProvider(store, recorder)
		provider.Getenv = func(k string) string { return env[k] }
	})

	It("leaves urls untouched without a token", func() {
		url, err := provider.AuthURL(ctx, repoURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(Equal(repoURL))
	})

	It("prefers the environment over the store", func() {
		Expect(store.Set(repoURL, "stored")).To(Succeed())
		url, err := provider.AuthURL(ctx, repoURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(ContainSubstring("x-access-token:stored@"))

		env[credentials.EnvToken] = "from-env"
		url, err = provider.AuthURL(ctx, repoURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(ContainSubstring("x-access-token:from-env@"))
	})

	It("passes ssh remotes through", func() {
		env[credentials.EnvToken] = "from-env"
		url, err := provider.AuthURL(ctx, "git@example.com:course/a.git")
		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(Equal("git@example.com:course/a.git"))
	})

	It("prompts for a secret on refresh and persists it", func() {
		recorder.Inputs = []string{"fresh"}
		url, err := provider.Refresh(ctx, repoURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(ContainSubstring("x-access-token:fresh@"))
		Expect(recorder.Prompts).To(HaveLen(1))
		Expect(recorder.Prompts[0]).To(ContainSubstring("https://git.example.com"))

		tok, ok, err := store.Get(repoURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(tok).To(Equal("fresh"))
	})

	It("fails refresh when the prompt is dismissed", func() {
		_, err := provider.Refresh(ctx, repoURL)
		Expect(errors.Is(err, credentials.ErrNoToken)).To(BeTrue())
	})
})
