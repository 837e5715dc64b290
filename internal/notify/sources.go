package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/MeridianCRM/pulse/backend/internal/crm"
)

const (
	// lookaheadWindow bounds how far into the future due tasks and
	// calendar events remain relevant.
	lookaheadWindow = 7 * 24 * time.Hour
	// recencyWindow bounds how long newly created records count as "new".
	recencyWindow = 24 * time.Hour
)

// Source fetches one kind of attention-worthy record from the CRM and
// maps it into canonical notifications. Implementations apply their own
// relevance filter before returning; they never mutate CRM state.
//
// The canonical mapping is deterministic: the same raw record always
// yields the same id, type, and title. Only the message may depend on
// the current time (urgency phrasing), so it is recomputed every cycle.
type Source interface {
	Kind() SourceKind
	Fetch(ctx context.Context, user UserID, now time.Time) ([]Notification, error)
}

// Sources returns the full set of adapters backed by the given CRM client.
func Sources(client *crm.Client) []Source {
	return []Source{
		&taskSource{client: client},
		&eventSource{client: client},
		&contactSource{client: client},
		&companySource{client: client},
		&dealSource{client: client},
		&activitySource{client: client},
		&inactivitySource{client: client},
	}
}

// startOfDay strips the time-of-day component for date-only comparison.
func startOfDay(value time.Time) time.Time {
	year, month, day := value.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// dayDiff returns the whole-day distance from now to the given moment.
func dayDiff(moment, now time.Time) int {
	return int(startOfDay(moment).Sub(startOfDay(now)) / (24 * time.Hour))
}

// urgencyMessage renders the due/occurs phrasing for date-bearing
// records: same day, next day, or later in the relevance window. The
// task flag switches between task and meeting phrasing.
func urgencyMessage(title string, diff int, isTask bool) string {
	if isTask {
		switch diff {
		case 0:
			return fmt.Sprintf("Task %q is due today", title)
		case 1:
			return fmt.Sprintf("Task %q is due tomorrow", title)
		default:
			return fmt.Sprintf("Task %q is due this week", title)
		}
	}
	switch diff {
	case 0:
		return fmt.Sprintf("Meeting %q is today", title)
	case 1:
		return fmt.Sprintf("Meeting %q is tomorrow", title)
	default:
		return fmt.Sprintf("Meeting %q is this week", title)
	}
}

type taskSource struct {
	client *crm.Client
}

func (s *taskSource) Kind() SourceKind {
	return SourceKindTask
}

func (s *taskSource) Fetch(ctx context.Context, user UserID, now time.Time) ([]Notification, error) {
	tasks, err := s.client.ListTasks(ctx, user.String())
	if err != nil {
		return nil, err
	}

	windowStart := startOfDay(now)
	windowEnd := windowStart.Add(lookaheadWindow)

	records := make([]Notification, 0, len(tasks))
	for _, task := range tasks {
		if task.Status == crm.TaskStatusCompleted {
			continue
		}
		due, err := time.ParseInLocation("2006-01-02", task.DueDate, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("notify: task %s has malformed due date %q: %w", task.ID, task.DueDate, err)
		}
		if due.Before(windowStart) || due.After(windowEnd) {
			continue
		}
		records = append(records, Notification{
			ID:          SourceRecordID(SourceKindTask, task.ID),
			Type:        TypeTask,
			Title:       task.Title,
			Message:     urgencyMessage(task.Title, dayDiff(due, now), true),
			CreatedAtS:  due.Unix(),
			ActionURL:   "/tasks/" + task.ID,
			ActionLabel: "View task",
		})
	}
	return records, nil
}

type eventSource struct {
	client *crm.Client
}

func (s *eventSource) Kind() SourceKind {
	return SourceKindEvent
}

func (s *eventSource) Fetch(ctx context.Context, _ UserID, now time.Time) ([]Notification, error) {
	events, err := s.client.ListCalendarEvents(ctx)
	if err != nil {
		return nil, err
	}

	windowStart := startOfDay(now)
	windowEnd := windowStart.Add(lookaheadWindow)

	records := make([]Notification, 0, len(events))
	for _, event := range events {
		start, err := time.Parse(time.RFC3339, event.StartTime)
		if err != nil {
			return nil, fmt.Errorf("notify: event %s has malformed start time %q: %w", event.ID, event.StartTime, err)
		}
		if start.Before(windowStart) || start.After(windowEnd) {
			continue
		}
		records = append(records, Notification{
			ID:          SourceRecordID(SourceKindEvent, event.ID),
			Type:        TypeEvent,
			Title:       event.Summary,
			Message:     urgencyMessage(event.Summary, dayDiff(start, now), false),
			CreatedAtS:  start.Unix(),
			ActionURL:   "/calendar",
			ActionLabel: "View calendar",
		})
	}
	return records, nil
}

type contactSource struct {
	client *crm.Client
}

func (s *contactSource) Kind() SourceKind {
	return SourceKindContact
}

func (s *contactSource) Fetch(ctx context.Context, _ UserID, now time.Time) ([]Notification, error) {
	contacts, err := s.client.ListContacts(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-recencyWindow)
	records := make([]Notification, 0, len(contacts))
	for _, contact := range contacts {
		createdAt, err := time.Parse(time.RFC3339, contact.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("notify: contact %s has malformed creation time %q: %w", contact.ID, contact.CreatedAt, err)
		}
		if createdAt.Before(cutoff) {
			continue
		}
		records = append(records, Notification{
			ID:          SourceRecordID(SourceKindContact, contact.ID),
			Type:        TypeContact,
			Title:       "New contact",
			Message:     fmt.Sprintf("%s was added to your contacts", contact.Name),
			CreatedAtS:  createdAt.Unix(),
			ActionURL:   "/contacts/" + contact.ID,
			ActionLabel: "View contact",
			Metadata:    map[string]string{"contact_id": contact.ID, "email": contact.Email},
		})
	}
	return records, nil
}

type companySource struct {
	client *crm.Client
}

func (s *companySource) Kind() SourceKind {
	return SourceKindCompany
}

func (s *companySource) Fetch(ctx context.Context, _ UserID, now time.Time) ([]Notification, error) {
	companies, err := s.client.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-recencyWindow)
	records := make([]Notification, 0, len(companies))
	for _, company := range companies {
		createdAt, err := time.Parse(time.RFC3339, company.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("notify: company %s has malformed creation time %q: %w", company.ID, company.CreatedAt, err)
		}
		if createdAt.Before(cutoff) {
			continue
		}
		records = append(records, Notification{
			ID:          SourceRecordID(SourceKindCompany, company.ID),
			Type:        TypeCompany,
			Title:       "New company",
			Message:     fmt.Sprintf("%s was added to your companies", company.Name),
			CreatedAtS:  createdAt.Unix(),
			ActionURL:   "/companies/" + company.ID,
			ActionLabel: "View company",
			Metadata:    map[string]string{"company_id": company.ID},
		})
	}
	return records, nil
}

type dealSource struct {
	client *crm.Client
}

func (s *dealSource) Kind() SourceKind {
	return SourceKindDeal
}

func (s *dealSource) Fetch(ctx context.Context, _ UserID, now time.Time) ([]Notification, error) {
	deals, err := s.client.ListDeals(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-recencyWindow)
	records := make([]Notification, 0, len(deals))
	for _, deal := range deals {
		createdAt, err := time.Parse(time.RFC3339, deal.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("notify: deal %s has malformed creation time %q: %w", deal.ID, deal.CreatedAt, err)
		}
		if createdAt.Before(cutoff) {
			continue
		}
		metadata := map[string]string{"deal_id": deal.ID}
		if deal.CompanyID != "" {
			metadata["company_id"] = deal.CompanyID
		}
		if deal.ContactID != "" {
			metadata["contact_id"] = deal.ContactID
		}
		records = append(records, Notification{
			ID:          SourceRecordID(SourceKindDeal, deal.ID),
			Type:        TypeDeal,
			Title:       "New deal",
			Message:     fmt.Sprintf("Deal %q was created", deal.Name),
			CreatedAtS:  createdAt.Unix(),
			ActionURL:   "/deals/" + deal.ID,
			ActionLabel: "View deal",
			Metadata:    metadata,
		})
	}
	return records, nil
}

// activityKindsOfInterest limits the activity source to interaction
// kinds worth surfacing in the feed.
var activityKindsOfInterest = map[crm.ActivityKind]bool{
	crm.ActivityKindCall:  true,
	crm.ActivityKindEmail: true,
	crm.ActivityKindNote:  true,
}

type activitySource struct {
	client *crm.Client
}

func (s *activitySource) Kind() SourceKind {
	return SourceKindActivity
}

func (s *activitySource) Fetch(ctx context.Context, _ UserID, now time.Time) ([]Notification, error) {
	activities, err := s.client.ListActivities(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-recencyWindow)
	records := make([]Notification, 0, len(activities))
	for _, activity := range activities {
		if !activityKindsOfInterest[activity.Kind] {
			continue
		}
		createdAt, err := time.Parse(time.RFC3339, activity.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("notify: activity %s has malformed creation time %q: %w", activity.ID, activity.CreatedAt, err)
		}
		if createdAt.Before(cutoff) {
			continue
		}
		metadata := map[string]string{"activity_kind": string(activity.Kind)}
		actionURL := "/activities"
		switch {
		case activity.DealID != "":
			metadata["deal_id"] = activity.DealID
			actionURL = "/deals/" + activity.DealID
		case activity.CompanyID != "":
			metadata["company_id"] = activity.CompanyID
			actionURL = "/companies/" + activity.CompanyID
		case activity.ContactID != "":
			metadata["contact_id"] = activity.ContactID
			actionURL = "/contacts/" + activity.ContactID
		}
		records = append(records, Notification{
			ID:          SourceRecordID(SourceKindActivity, activity.ID),
			Type:        TypeActivity,
			Title:       fmt.Sprintf("New %s activity", activity.Kind),
			Message:     activity.Subject,
			CreatedAtS:  createdAt.Unix(),
			ActionURL:   actionURL,
			ActionLabel: "View activity",
			Metadata:    metadata,
		})
	}
	return records, nil
}

type inactivitySource struct {
	client *crm.Client
}

func (s *inactivitySource) Kind() SourceKind {
	return SourceKindInactivity
}

// Fetch wraps the scalar inactive-company count into the singleton
// inactivity alert. A zero count yields no record at all.
func (s *inactivitySource) Fetch(ctx context.Context, _ UserID, now time.Time) ([]Notification, error) {
	count, err := s.client.InactivityStatistic(ctx)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}
	return []Notification{{
		ID:          InactivityAlertID,
		Type:        TypeSystem,
		Title:       "Inactive companies",
		Message:     fmt.Sprintf("%d companies have had no recent activity", count),
		CreatedAtS:  now.Unix(),
		ActionURL:   "/companies?filter=inactive",
		ActionLabel: "Review companies",
	}}, nil
}
