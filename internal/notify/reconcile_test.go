package notify

import "testing"

func TestReconcilePreservesFlagsAndTakesFreshContent(t *testing.T) {
	prior := []Notification{{
		ID:       "task-1",
		Type:     TypeTask,
		Title:    "old title",
		Message:  "old message",
		Read:     true,
		Archived: false,
	}}
	fresh := []Notification{{
		ID:      "task-1",
		Type:    TypeTask,
		Title:   "new title",
		Message: "new message",
	}}

	merged := reconcile(fresh, prior)
	if len(merged) != 1 {
		t.Fatalf("expected one record, got %d", len(merged))
	}
	if !merged[0].Read {
		t.Fatalf("expected read flag to carry over from prior feed")
	}
	if merged[0].Archived {
		t.Fatalf("expected archived flag to carry over from prior feed")
	}
	if merged[0].Title != "new title" || merged[0].Message != "new message" {
		t.Fatalf("expected content from fresh feed, got %q / %q", merged[0].Title, merged[0].Message)
	}
}

func TestReconcileDropsRecordsAbsentFromFreshFeed(t *testing.T) {
	prior := []Notification{
		{ID: "task-2", Read: true},
		{ID: "task-3", Archived: true},
	}
	fresh := []Notification{{ID: "task-3"}}

	merged := reconcile(fresh, prior)
	if len(merged) != 1 {
		t.Fatalf("expected one record, got %d", len(merged))
	}
	for _, record := range merged {
		if record.ID == "task-2" {
			t.Fatalf("expected task-2 to be dropped without a tombstone")
		}
	}
}

func TestReconcileNewRecordsKeepDefaultFlags(t *testing.T) {
	fresh := []Notification{{ID: "deal-9", Type: TypeDeal}}

	merged := reconcile(fresh, nil)
	if len(merged) != 1 {
		t.Fatalf("expected one record, got %d", len(merged))
	}
	if merged[0].Read || merged[0].Archived {
		t.Fatalf("expected unread, unarchived defaults, got read=%v archived=%v", merged[0].Read, merged[0].Archived)
	}
}

func TestReconcileForcesInactivityAlertUnarchived(t *testing.T) {
	tests := []struct {
		name          string
		priorArchived bool
		priorRead     bool
	}{
		{name: "prior archived", priorArchived: true, priorRead: false},
		{name: "prior archived and read", priorArchived: true, priorRead: true},
		{name: "prior unarchived", priorArchived: false, priorRead: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			prior := []Notification{{
				ID:       InactivityAlertID,
				Type:     TypeSystem,
				Read:     testCase.priorRead,
				Archived: testCase.priorArchived,
			}}
			fresh := []Notification{{ID: InactivityAlertID, Type: TypeSystem}}

			merged := reconcile(fresh, prior)
			if len(merged) != 1 {
				t.Fatalf("expected one record, got %d", len(merged))
			}
			if merged[0].Archived {
				t.Fatalf("inactivity alert must never stay archived")
			}
			if merged[0].Read != testCase.priorRead {
				t.Fatalf("expected read flag %v to carry over, got %v", testCase.priorRead, merged[0].Read)
			}
		})
	}
}
