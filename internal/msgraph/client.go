package msgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/christopherklint97/shiftfill/internal/shifts"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// Client reads a team schedule straight from Microsoft Graph.
type Client struct {
	token      string
	teamID     string
	baseURL    string
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
	logger     *slog.Logger
}

// NewClient creates a new Graph API client for one team's schedule.
func NewClient(token, teamID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		token:   token,
		teamID:  teamID,
		baseURL: graphBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoff: backoff,
		logger:  logger,
	}
}

// shiftsResponse represents the Graph API schedule/shifts response.
type shiftsResponse struct {
	Value    []shifts.GraphShift `json:"value"`
	NextLink string              `json:"@odata.nextLink"`
}

// FetchShifts retrieves the team schedule and keeps the shifts belonging to
// the user behind email. An empty email keeps everyone's shifts.
func (c *Client) FetchShifts(ctx context.Context, email string) ([]shifts.RawShift, error) {
	if c.teamID == "" {
		return nil, fmt.Errorf("graph.team_id is not configured")
	}

	userID := ""
	if email != "" {
		id, err := c.UserID(ctx, email)
		if err != nil {
			return nil, err
		}
		userID = id
	}

	requestURL := c.baseURL + "/teams/" + url.PathEscape(c.teamID) + "/schedule/shifts"
	var all []shifts.GraphShift
	for requestURL != "" {
		var page shiftsResponse
		if err := c.get(ctx, requestURL, &page); err != nil {
			return nil, fmt.Errorf("fetching schedule: %w", err)
		}
		all = append(all, page.Value...)
		requestURL = page.NextLink
	}

	kept := shifts.FilterPersonal(all, userID)
	c.logger.Debug("graph schedule fetched", "received", len(all), "kept", len(kept), "user_id", userID)
	if len(kept) == 0 {
		return nil, shifts.ErrNoShifts
	}
	return kept, nil
}

// UserID resolves a user principal name or email to its directory id.
func (c *Client) UserID(ctx context.Context, email string) (string, error) {
	var user struct {
		ID string `json:"id"`
	}
	requestURL := c.baseURL + "/users/" + url.PathEscape(email) + "?$select=id"
	if err := c.get(ctx, requestURL, &user); err != nil {
		return "", fmt.Errorf("looking up user %s: %w", email, err)
	}
	if user.ID == "" {
		return "", fmt.Errorf("looking up user %s: empty id", email)
	}
	return user.ID, nil
}

func (c *Client) get(ctx context.Context, requestURL string, out any) error {
	var resp *http.Response
	maxRetries := 3
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return fmt.Errorf("creating graph request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err = c.httpClient.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("graph API request failed: %w", err)
			}
			time.Sleep(c.backoff(attempt))
			continue
		}

		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("graph API returned status %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.logger.Debug("graph API retrying", "status", resp.StatusCode, "attempt", attempt+1)
			time.Sleep(c.backoff(attempt))
			continue
		}
		break
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading graph response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("graph API error", "status", resp.StatusCode, "response", truncateStr(string(body), 400))
		return &shifts.APIError{Status: resp.StatusCode, Message: truncateStr(string(body), 200)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing graph response: %w", err)
	}
	return nil
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
