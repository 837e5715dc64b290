package crm

// ActivityKind enumerates the activity types the CRM records.
type ActivityKind string

const (
	ActivityKindCall    ActivityKind = "call"
	ActivityKindEmail   ActivityKind = "email"
	ActivityKindNote    ActivityKind = "note"
	ActivityKindMeeting ActivityKind = "meeting"
)

// TaskStatus enumerates task workflow states.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Task is a CRM task record as returned by the task query.
type Task struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Status  TaskStatus `json:"status"`
	DueDate string     `json:"due_date"` // YYYY-MM-DD
}

// CalendarEvent is a scheduled meeting or appointment.
type CalendarEvent struct {
	ID        string `json:"id"`
	Summary   string `json:"summary"`
	StartTime string `json:"start_time"` // RFC 3339
}

// Contact is a CRM contact record.
type Contact struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"` // RFC 3339
}

// Company is a CRM company record.
type Company struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"` // RFC 3339
}

// Deal is a CRM deal record.
type Deal struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CompanyID string `json:"company_id,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
	CreatedAt string `json:"created_at"` // RFC 3339
}

// Activity is a logged interaction (call, email, note, ...) optionally
// linked to a contact, company, or deal.
type Activity struct {
	ID        string       `json:"id"`
	Kind      ActivityKind `json:"type"`
	Subject   string       `json:"subject"`
	ContactID string       `json:"contact_id,omitempty"`
	CompanyID string       `json:"company_id,omitempty"`
	DealID    string       `json:"deal_id,omitempty"`
	CreatedAt string       `json:"created_at"` // RFC 3339
}

type taskListResponse struct {
	Tasks []Task `json:"tasks"`
}

type eventListResponse struct {
	Events []CalendarEvent `json:"events"`
}

type contactListResponse struct {
	Contacts []Contact `json:"contacts"`
}

type companyListResponse struct {
	Companies []Company `json:"companies"`
}

type dealListResponse struct {
	Deals []Deal `json:"deals"`
}

type activityListResponse struct {
	Activities []Activity `json:"activities"`
}

type inactivityStatisticResponse struct {
	Count int `json:"count"`
}
