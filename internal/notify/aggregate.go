package notify

import "sort"

// aggregate concatenates the per-source lists into a single feed ordered
// by descending creation time. The sort is stable so that records with
// equal timestamps keep their source-list order. No deduplication
// happens here: if two sources ever emitted colliding ids, the
// reconciler's prior-feed map is the merge point.
func aggregate(listsBySource [][]Notification) []Notification {
	total := 0
	for _, list := range listsBySource {
		total += len(list)
	}

	feed := make([]Notification, 0, total)
	for _, list := range listsBySource {
		feed = append(feed, list...)
	}

	sort.SliceStable(feed, func(i, j int) bool {
		return feed[i].CreatedAtS > feed[j].CreatedAtS
	})
	return feed
}
