package bill

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("FormatDate", func() {
	DescribeTable("formats ISO dates",
		func(in, want string) {
			got, err := FormatDate(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("april", "2004-04-04", "4 Avr. 04"),
		Entry("february", "2002-02-02", "2 Fév. 02"),
		Entry("december", "2022-12-25", "25 Déc. 22"),
		Entry("august", "2023-08-01", "1 Aoû. 23"),
	)

	When("the date is not ISO", func() {
		It("should return an error", func() {
			_, err := FormatDate("04/04/2004")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("FormatStatus", func() {
	DescribeTable("known statuses",
		func(s Status, want string) {
			got, err := FormatStatus(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("pending", StatusPending, "En attente"),
		Entry("accepted", StatusAccepted, "Accepté"),
		Entry("refused", StatusRefused, "Refused"),
	)

	It("should fail on an unknown status", func() {
		_, err := FormatStatus("archived")
		Expect(err).To(MatchError(ContainSubstring("archived")))
	})
})

var _ = Describe("SortLatestFirst", func() {
	It("should order dates from latest to earliest", func() {
		bills := []Bill{{Date: "2004-04-04"}, {Date: "2002-02-02"}, {Date: "2003-03-03"}}
		SortLatestFirst(bills)
		Expect([]string{bills[0].Date, bills[1].Date, bills[2].Date}).To(Equal([]string{"2004-04-04", "2003-03-03", "2002-02-02"}))
	})

	It("should keep undated bills after dated ones in input order", func() {
		bills := []Bill{{ID: "a", Date: "bad"}, {ID: "b", Date: "2022-01-01"}, {ID: "c", Date: ""}, {ID: "d", Date: "2022-03-01"}}
		SortLatestFirst(bills)
		ids := make([]string, 0, len(bills))
		for _, b := range bills {
			ids = append(ids, b.ID)
		}
		Expect(ids).To(Equal([]string{"d", "b", "a", "c"}))
	})
})
