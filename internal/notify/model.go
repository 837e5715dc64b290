package notify

import (
	"errors"
	"fmt"
	"strings"
)

// Type classifies a notification by the kind of CRM record it points at.
type Type string

const (
	TypeTask     Type = "task"
	TypeEvent    Type = "event"
	TypeContact  Type = "contact"
	TypeCompany  Type = "company"
	TypeDeal     Type = "deal"
	TypeEmail    Type = "email"
	TypeActivity Type = "activity"
	TypeSystem   Type = "system"
	TypeReminder Type = "reminder"
)

// SourceKind identifies the upstream collaborator query a notification
// was derived from. It is also the id namespace prefix.
type SourceKind string

const (
	SourceKindTask       SourceKind = "task"
	SourceKindEvent      SourceKind = "event"
	SourceKindContact    SourceKind = "contact"
	SourceKindCompany    SourceKind = "company"
	SourceKindDeal       SourceKind = "deal"
	SourceKindActivity   SourceKind = "activity"
	SourceKindInactivity SourceKind = "inactivity"
)

// InactivityAlertID is the id of the synthetic singleton produced by the
// inactivity statistic source. The record is not archivable: every
// reconciliation and every persistence write forces archived back to false.
const InactivityAlertID = "inactivity-alert"

const maxIdentifierLength = 190

var (
	// ErrInvalidNotificationID indicates an empty or oversized identifier.
	ErrInvalidNotificationID = errors.New("notify: invalid notification id")
	// ErrInvalidUserID indicates an empty or oversized user identifier.
	ErrInvalidUserID = errors.New("notify: invalid user id")
)

// NotificationID represents a validated notification identifier.
type NotificationID string

// NewNotificationID validates raw input and returns a NotificationID.
func NewNotificationID(rawInput string) (NotificationID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNotificationID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNotificationID, maxIdentifierLength)
	}
	return NotificationID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NotificationID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// SourceRecordID builds the canonical notification id for a source
// record: "{sourceKind}-{sourceId}". Identity is the reconciliation key
// and must be reproducible across refreshes for the same upstream record.
func SourceRecordID(kind SourceKind, sourceID string) string {
	return fmt.Sprintf("%s-%s", kind, sourceID)
}

// Notification is the canonical unit of the feed. Title, message, action
// and metadata are recomputed from the upstream record on every refresh
// cycle; only Read and Archived carry over from persisted state.
type Notification struct {
	ID          string            `json:"id"`
	Type        Type              `json:"type"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Read        bool              `json:"read"`
	Archived    bool              `json:"archived"`
	CreatedAtS  int64             `json:"created_at_s"`
	ActionURL   string            `json:"action_url,omitempty"`
	ActionLabel string            `json:"action_label,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// UnreadCount reports how many records are neither read nor archived.
// The value is always derived from the feed, never stored.
func UnreadCount(feed []Notification) int {
	count := 0
	for _, record := range feed {
		if !record.Read && !record.Archived {
			count++
		}
	}
	return count
}

// enforceInactivityInvariant forces archived=false on the inactivity
// singleton in place, regardless of how the record entered the feed.
func enforceInactivityInvariant(feed []Notification) {
	for index := range feed {
		if feed[index].ID == InactivityAlertID {
			feed[index].Archived = false
		}
	}
}
