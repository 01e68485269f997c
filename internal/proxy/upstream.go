package proxy

import (
	"fmt"
	"io"
	"net/http"
)

// UpstreamClient forwards sanitised OData GET requests to the Bloxs data
// feed. Grounded on the teacher's UpstreamClient, trimmed to the single
// request shape this proxy ever issues (a bearer-authenticated GET).
type UpstreamClient struct {
	Client  *http.Client
	BaseURL string
}

// NewUpstreamClient builds an UpstreamClient against baseURL using client.
func NewUpstreamClient(client *http.Client, baseURL string) *UpstreamClient {
	return &UpstreamClient{Client: client, BaseURL: baseURL}
}

// upstreamResult is what the router needs from a completed upstream call.
type upstreamResult struct {
	Status int
	Body   []byte
}

// Fetch issues GET <BaseURL>/odatafeed/<path><query> with jwt as a bearer
// and Accept: application/json — spec.md §6 "Data".
func (u *UpstreamClient) Fetch(r *http.Request, path, query, jwt string) (*upstreamResult, error) {
	url := fmt.Sprintf("%s/odatafeed/%s%s", u.BaseURL, path, query)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	req.Header.Set("Accept", "application/json")

	resp, err := u.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upstream body: %w", err)
	}

	return &upstreamResult{Status: resp.StatusCode, Body: body}, nil
}
