package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// AuthError indicates that the CRM API rejected the configured
// credentials (HTTP 401). Callers treat it as an expected empty result
// rather than a failure worth logging.
type AuthError struct {
	Endpoint string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("crm: unauthenticated (401) on %s", e.Endpoint)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Client is a thin read-only HTTP client for the CRM collaborator APIs.
// It handles Bearer token authentication and JSON decoding; every query
// it exposes is independently failable and side-effect free.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a CRM API client. baseURL is the root URL of the
// CRM API (e.g. https://crm.internal.example.com); token is the API
// token used for Bearer authentication.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

// ListTasks returns the open tasks assigned to the given user.
func (c *Client) ListTasks(ctx context.Context, assigneeID string) ([]Task, error) {
	path := "/api/tasks?assignee=" + url.QueryEscape(assigneeID)
	var response taskListResponse
	if err := c.get(ctx, path, &response); err != nil {
		return nil, err
	}
	return response.Tasks, nil
}

// ListCalendarEvents returns the upcoming calendar events visible to the
// configured token.
func (c *Client) ListCalendarEvents(ctx context.Context) ([]CalendarEvent, error) {
	var response eventListResponse
	if err := c.get(ctx, "/api/calendar/events", &response); err != nil {
		return nil, err
	}
	return response.Events, nil
}

// ListContacts returns contacts ordered by creation time, newest first.
func (c *Client) ListContacts(ctx context.Context) ([]Contact, error) {
	var response contactListResponse
	if err := c.get(ctx, "/api/contacts", &response); err != nil {
		return nil, err
	}
	return response.Contacts, nil
}

// ListCompanies returns companies ordered by creation time, newest first.
func (c *Client) ListCompanies(ctx context.Context) ([]Company, error) {
	var response companyListResponse
	if err := c.get(ctx, "/api/companies", &response); err != nil {
		return nil, err
	}
	return response.Companies, nil
}

// ListDeals returns deals ordered by creation time, newest first.
func (c *Client) ListDeals(ctx context.Context) ([]Deal, error) {
	var response dealListResponse
	if err := c.get(ctx, "/api/deals", &response); err != nil {
		return nil, err
	}
	return response.Deals, nil
}

// ListActivities returns recent activity records, newest first.
func (c *Client) ListActivities(ctx context.Context) ([]Activity, error) {
	var response activityListResponse
	if err := c.get(ctx, "/api/activities", &response); err != nil {
		return nil, err
	}
	return response.Activities, nil
}

// InactivityStatistic returns the number of companies with no recent
// activity recorded against them.
func (c *Client) InactivityStatistic(ctx context.Context) (int, error) {
	var response inactivityStatisticResponse
	if err := c.get(ctx, "/api/statistics/inactive-companies", &response); err != nil {
		return 0, err
	}
	return response.Count, nil
}

// get performs an authenticated GET request and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, result any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("crm: creating request for %s: %w", path, err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("crm: executing GET %s: %w", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized {
		return &AuthError{Endpoint: path}
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return fmt.Errorf("crm: unexpected status %d on GET %s: %s", response.StatusCode, path, string(body))
	}

	if result == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(result); err != nil {
		return fmt.Errorf("crm: decoding response from GET %s: %w", path, err)
	}
	return nil
}
