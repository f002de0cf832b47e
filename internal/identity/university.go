package identity

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

// Profile is the identity a student-mode ticket is issued under.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Directory resolves a student id to a profile.
type Directory interface {
	Lookup(ctx context.Context, studentID string) (Profile, error)
}

var (
	ErrNotConfigured   = errors.New("university API is not configured")
	ErrStudentNotFound = errors.New("Student not found")
	ErrMissingName     = errors.New("Missing firstnameTh/lastnameTh from University API")
)

const errorBodyLimit = 300

type universityResponse struct {
	Data *struct {
		StudentCode string `json:"studentCode"`
		FirstnameTh string `json:"firstnameTh"`
		LastnameTh  string `json:"lastnameTh"`
	} `json:"data"`
}

// UniversityClient looks students up with GET {baseURL}/{id} and the
// authKey header.
type UniversityClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewUniversityClient(baseURL, apiKey string, timeout time.Duration) *UniversityClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &UniversityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *UniversityClient) Lookup(ctx context.Context, studentID string) (Profile, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return Profile{}, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(studentID), nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("authKey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("university API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		detail := ""
		if len(body) > 0 {
			detail = " - " + string(body)
		}
		return Profile{}, fmt.Errorf("University API error %d%s", resp.StatusCode, detail)
	}

	var payload universityResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Profile{}, fmt.Errorf("university API response: %w", err)
	}
	if payload.Data == nil {
		return Profile{}, ErrStudentNotFound
	}
	first := strings.TrimSpace(payload.Data.FirstnameTh)
	last := strings.TrimSpace(payload.Data.LastnameTh)
	if first == "" || last == "" {
		return Profile{}, ErrMissingName
	}
	id := payload.Data.StudentCode
	if id == "" {
		id = studentID
	}
	return Profile{ID: id, DisplayName: first + " " + last}, nil
}
