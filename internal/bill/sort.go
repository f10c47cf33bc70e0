package bill

import (
	"sort"
	"time"
)

// SortLatestFirst orders bills by date, most recent first. Bills whose date
// does not parse keep their relative order after every dated bill.
func SortLatestFirst(bills []Bill) {
	keys := make(map[string]time.Time, len(bills))
	for _, b := range bills {
		if t, err := ParseDate(b.Date); err == nil {
			keys[b.Date] = t
		}
	}
	sort.SliceStable(bills, func(i, j int) bool {
		ti, iok := keys[bills[i].Date]
		tj, jok := keys[bills[j].Date]
		switch {
		case iok && jok:
			return ti.After(tj)
		case iok:
			return true
		default:
			return false
		}
	})
}
