package alertcenter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	acapi "google.golang.org/api/alertcenter/v1beta1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

// Scope is the OAuth scope the alerts.list call needs.
const Scope = acapi.AppsAlertsScope

const defaultEndpoint = "https://alertcenter.googleapis.com/"

// GoogleOptions configure the Alert Center client.
type GoogleOptions struct {
	// Endpoint overrides the API base URL, mainly for tests.
	Endpoint       string
	UserAgent      string
	RequestTimeout time.Duration
}

// GoogleLister lists alerts through the Alert Center v1beta1 REST API.
// Alerts are kept as the bytes the API returned so fields the generated
// client does not know about reach the sink unchanged.
type GoogleLister struct {
	client    *http.Client
	listURL   string
	userAgent string
	timeout   time.Duration
}

type listResponse struct {
	Alerts        []json.RawMessage `json:"alerts"`
	NextPageToken string            `json:"nextPageToken"`
}

// NewGoogleLister builds the authenticated HTTP client. Authentication comes
// from clientOpts, typically option.WithTokenSource.
func NewGoogleLister(ctx context.Context, opts GoogleOptions, clientOpts ...option.ClientOption) (*GoogleLister, error) {
	all := make([]option.ClientOption, 0, len(clientOpts)+1)
	all = append(all, option.WithScopes(Scope))
	all = append(all, clientOpts...)

	client, _, err := htransport.NewClient(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create alert center client: %w", err)
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GoogleLister{
		client:    client,
		listURL:   endpoint + "v1beta1/alerts",
		userAgent: opts.UserAgent,
		timeout:   timeout,
	}, nil
}

// ListPage executes one alerts.list call.
func (g *GoogleLister) ListPage(ctx context.Context, req PageRequest) (Page, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("alt", "json")
	params.Set("prettyPrint", "false")
	params.Set("filter", req.Filter)
	params.Set("pageSize", strconv.Itoa(req.PageSize))
	if req.PageToken != "" {
		params.Set("pageToken", req.PageToken)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.listURL+"?"+params.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build list request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if g.userAgent != "" {
		httpReq.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Page{}, fmt.Errorf("list alerts: %w", err)
	}
	defer googleapi.CloseBody(resp)

	if err := googleapi.CheckResponse(resp); err != nil {
		return Page{}, err
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, fmt.Errorf("decode alerts page: %w", err)
	}

	return Page{Alerts: body.Alerts, NextPageToken: body.NextPageToken}, nil
}

var _ Lister = (*GoogleLister)(nil)
