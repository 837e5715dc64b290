package notify

// reconcile merges a freshly aggregated feed against the previously
// persisted feed. Content fields (title, message, action, metadata,
// type) always come from the fresh record; the user-applied read and
// archived flags carry over from the prior record with the same id.
//
// Records present only in the prior feed are discarded: a source record
// that fell outside its relevance window disappears from the feed even
// if it was previously read or archived. No tombstones are kept.
func reconcile(fresh []Notification, prior []Notification) []Notification {
	priorByID := make(map[string]Notification, len(prior))
	for _, record := range prior {
		priorByID[record.ID] = record
	}

	merged := make([]Notification, 0, len(fresh))
	for _, record := range fresh {
		if stored, ok := priorByID[record.ID]; ok {
			record.Read = stored.Read
			record.Archived = stored.Archived
		}
		if record.ID == InactivityAlertID {
			record.Archived = false
		}
		merged = append(merged, record)
	}
	return merged
}
