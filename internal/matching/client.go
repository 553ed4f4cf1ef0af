package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const matchPath = "/api/v1/matching/match/secret-coffee"

// HTTPClient calls the remote matching service over HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient returns a client for the service rooted at baseURL.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type matchRequest struct {
	Participants []matchParticipant `json:"participants"`
}

type matchParticipant struct {
	EmployeeID       string   `json:"employee_id"`
	Department       string   `json:"department,omitempty"`
	ExcludedPartners []string `json:"excluded_partners"`
}

type matchResponse struct {
	Pairs []struct {
		Employee1ID string `json:"employee1_id"`
		Employee2ID string `json:"employee2_id"`
	} `json:"pairs"`
}

// Match posts the candidates and decodes the returned pairs. Any transport,
// status or decoding failure yields an Unavailable result.
func (c *HTTPClient) Match(ctx context.Context, candidates []Candidate) Result {
	req := matchRequest{Participants: make([]matchParticipant, 0, len(candidates))}
	for _, cand := range candidates {
		excluded := cand.Avoid
		if excluded == nil {
			excluded = []string{}
		}
		req.Participants = append(req.Participants, matchParticipant{
			EmployeeID:       cand.ID,
			Department:       cand.Group,
			ExcludedPartners: excluded,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Unavailable(&ExternalServiceError{Op: "encode request", Err: err})
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+matchPath, bytes.NewReader(body))
	if err != nil {
		return Unavailable(&ExternalServiceError{Op: "build request", Err: err})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Unavailable(&ExternalServiceError{Op: "match", Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Unavailable(&ExternalServiceError{
			Op:         "match",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(snippet))),
		})
	}

	var decoded matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Unavailable(&ExternalServiceError{Op: "decode response", Err: err})
	}
	if len(decoded.Pairs) == 0 {
		return Unavailable(&ExternalServiceError{Op: "match", Err: errors.New("no pairs returned")})
	}

	pairs := make([]Pair, 0, len(decoded.Pairs))
	for _, p := range decoded.Pairs {
		pairs = append(pairs, Pair{A: p.Employee1ID, B: p.Employee2ID})
	}
	return Matched(pairs)
}
