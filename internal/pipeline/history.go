package pipeline

import (
	"sort"
	"time"
)

// PadToken fills history slots that have no booking. Real vehicles use index+1.
const PadToken = 0

// Interaction is one encoded booking.
type Interaction struct {
	BookingID int64
	UserIdx   int
	ItemIdx   int
	Date      time.Time
}

// ItemToken converts an item index into a history token.
func ItemToken(itemIdx int) int {
	return itemIdx + 1
}

// TokenItem converts a history token back to an item index. ok is false for padding.
func TokenItem(token int) (itemIdx int, ok bool) {
	if token == PadToken {
		return 0, false
	}
	return token - 1, true
}

// BuildHistories returns, for every user index in [0, numUsers), exactly h tokens:
// the most recent bookings first, right-padded with PadToken.
func BuildHistories(interactions []Interaction, numUsers, h int) [][]int {
	byUser := make([][]Interaction, numUsers)
	for _, it := range interactions {
		if it.UserIdx < 0 || it.UserIdx >= numUsers {
			continue
		}
		byUser[it.UserIdx] = append(byUser[it.UserIdx], it)
	}

	out := make([][]int, numUsers)
	for u := range out {
		out[u] = historyFor(byUser[u], h)
	}
	return out
}

func historyFor(items []Interaction, h int) []int {
	sorted := make([]Interaction, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.After(sorted[j].Date)
		}
		return sorted[i].BookingID > sorted[j].BookingID
	})

	seq := make([]int, h)
	for i := 0; i < h && i < len(sorted); i++ {
		seq[i] = ItemToken(sorted[i].ItemIdx)
	}
	return seq
}

// HistoryItems returns the item indices present in a history, skipping padding.
func HistoryItems(history []int) []int {
	out := make([]int, 0, len(history))
	for _, tok := range history {
		if idx, ok := TokenItem(tok); ok {
			out = append(out, idx)
		}
	}
	return out
}
