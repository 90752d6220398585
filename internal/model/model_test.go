package model_test

import (
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/forkkeeper/internal/model"
)

var _ = Describe("Conflict", func() {
	DescribeTable("side availability",
		func(code string, deletedByThem, oursMissing, theirsMissing bool) {
			c := model.Conflict{Path: "a.txt", Code: code}
			Expect(c.DeletedByThem()).To(Equal(deletedByThem))
			Expect(c.OursMissing()).To(Equal(oursMissing))
			Expect(c.TheirsMissing()).To(Equal(theirsMissing))
		},
		Entry("both modified", "UU", false, false, false),
		Entry("deleted by them", "UD", true, false, true),
		Entry("deleted by us", "DU", false, true, false),
		Entry("both deleted", "DD", false, true, true),
		Entry("both added", "AA", false, false, false),
	)
})

var _ = Describe("Ignored", func() {
	It("reports failure only when an error was swallowed", func() {
		Expect(model.Ignored{}.Failed()).To(BeFalse())
		Expect(model.Ignored{Op: "remote remove", Err: errors.New("gone")}.Failed()).To(BeTrue())
	})
})

var _ = Describe("SyncOutcome JSON", func() {
	It("omits empty optional fields", func() {
		data, err := json.Marshal(model.SyncOutcome{Updated: false})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).NotTo(ContainSubstring("default_branch"))
		Expect(string(data)).NotTo(ContainSubstring("warnings"))
	})
})
