// Package digitalocean is the remote API client used by the droplet lifecycle.
// It wraps godo with bearer-token auth, per-request logging and an error
// taxonomy that separates HTTP failures from transport failures.
package digitalocean

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digitalocean/godo"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the public DigitalOcean API endpoint.
const DefaultBaseURL = "https://api.digitalocean.com/"

const perPage = 200

// Options configures a Client.
type Options struct {
	Token     string
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client issues authenticated requests against the DigitalOcean API.
type Client struct {
	godo *godo.Client
}

// NewClient creates a client authenticated with a static bearer token.
func NewClient(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("api token cannot be empty")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	httpClient := &http.Client{
		Timeout: opts.Timeout,
		Transport: &loggingTransport{
			base: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
				Base:   http.DefaultTransport,
			},
		},
	}

	clientOpts := []godo.ClientOpt{godo.SetBaseURL(baseURL)}
	if opts.UserAgent != "" {
		clientOpts = append(clientOpts, godo.SetUserAgent(opts.UserAgent))
	}

	c, err := godo.New(httpClient, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create godo client")
	}

	slog.Info("do_client_created", "base_url", baseURL)
	return &Client{godo: c}, nil
}

// GetDroplet fetches the live state of a droplet.
func (c *Client) GetDroplet(ctx context.Context, id int) (*Droplet, error) {
	d, _, err := c.godo.Droplets.Get(ctx, id)
	if err != nil {
		return nil, classify(http.MethodGet, fmt.Sprintf("/v2/droplets/%d", id), err)
	}
	if d == nil {
		return nil, fmt.Errorf("digitalocean: GET /v2/droplets/%d returned no droplet", id)
	}
	return fromGodoDroplet(d), nil
}

// ListDropletsByTag returns every droplet carrying tag.
func (c *Client) ListDropletsByTag(ctx context.Context, tag string) ([]Droplet, error) {
	var out []Droplet
	opt := &godo.ListOptions{Page: 1, PerPage: perPage}
	for {
		page, resp, err := c.godo.Droplets.ListByTag(ctx, tag, opt)
		if err != nil {
			return nil, classify(http.MethodGet, "/v2/droplets?tag_name="+url.QueryEscape(tag), err)
		}
		for i := range page {
			out = append(out, *fromGodoDroplet(&page[i]))
		}
		if lastPage(resp) {
			return out, nil
		}
		opt.Page++
	}
}

// CreateDroplet creates a droplet. It returns as soon as the API accepts the
// request; the droplet is usually still "new" at that point.
func (c *Client) CreateDroplet(ctx context.Context, req *CreateRequest) (*Droplet, error) {
	keys := make([]godo.DropletCreateSSHKey, 0, len(req.SSHKeys))
	for _, fp := range req.SSHKeys {
		keys = append(keys, godo.DropletCreateSSHKey{Fingerprint: fp})
	}

	d, _, err := c.godo.Droplets.Create(ctx, &godo.DropletCreateRequest{
		Name:       req.Name,
		Region:     req.Region,
		Size:       req.Size,
		Image:      godo.DropletCreateImage{ID: req.ImageID},
		SSHKeys:    keys,
		Backups:    req.Backups,
		IPv6:       req.IPv6,
		Monitoring: req.Monitoring,
		Tags:       req.Tags,
	})
	if err != nil {
		return nil, classify(http.MethodPost, "/v2/droplets", err)
	}
	if d == nil {
		return nil, fmt.Errorf("digitalocean: POST /v2/droplets returned no droplet")
	}
	return fromGodoDroplet(d), nil
}

// DeleteDroplet permanently destroys a droplet.
func (c *Client) DeleteDroplet(ctx context.Context, id int) error {
	if _, err := c.godo.Droplets.Delete(ctx, id); err != nil {
		return classify(http.MethodDelete, fmt.Sprintf("/v2/droplets/%d", id), err)
	}
	return nil
}

// ListPrivateImages returns all user images (GET /v2/images?private=true).
func (c *Client) ListPrivateImages(ctx context.Context) ([]Image, error) {
	var out []Image
	opt := &godo.ListOptions{Page: 1, PerPage: perPage}
	for {
		page, resp, err := c.godo.Images.ListUser(ctx, opt)
		if err != nil {
			return nil, classify(http.MethodGet, "/v2/images?private=true", err)
		}
		for _, img := range page {
			out = append(out, Image{
				ID:        img.ID,
				Name:      img.Name,
				CreatedAt: parseTime(img.Created),
			})
		}
		if lastPage(resp) {
			return out, nil
		}
		opt.Page++
	}
}

// ListSnapshots returns all droplet snapshots.
func (c *Client) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	var out []Snapshot
	opt := &godo.ListOptions{Page: 1, PerPage: perPage}
	for {
		page, resp, err := c.godo.Snapshots.ListDroplet(ctx, opt)
		if err != nil {
			return nil, classify(http.MethodGet, "/v2/snapshots?resource_type=droplet", err)
		}
		for _, s := range page {
			out = append(out, Snapshot{
				ID:         s.ID,
				Name:       s.Name,
				ResourceID: s.ResourceID,
				CreatedAt:  parseTime(s.Created),
			})
		}
		if lastPage(resp) {
			return out, nil
		}
		opt.Page++
	}
}

// GetAction fetches an action by id.
func (c *Client) GetAction(ctx context.Context, id int) (*Action, error) {
	a, _, err := c.godo.Actions.Get(ctx, id)
	if err != nil {
		return nil, classify(http.MethodGet, fmt.Sprintf("/v2/actions/%d", id), err)
	}
	if a == nil {
		return nil, fmt.Errorf("digitalocean: GET /v2/actions/%d returned no action", id)
	}
	return fromGodoAction(a), nil
}

// PostDropletAction starts an action (shutdown, power_off, snapshot) on a droplet.
func (c *Client) PostDropletAction(ctx context.Context, dropletID int, action ActionRequest) (*Action, error) {
	var root struct {
		Action *godo.Action `json:"action"`
	}
	path := fmt.Sprintf("v2/droplets/%d/actions", dropletID)
	if err := c.do(ctx, http.MethodPost, path, action, &root); err != nil {
		return nil, err
	}
	if root.Action == nil {
		return nil, fmt.Errorf("digitalocean: %s action on droplet %d returned no action", action.Type, dropletID)
	}
	return fromGodoAction(root.Action), nil
}

// do sends body as JSON to path and decodes the response into v.
func (c *Client) do(ctx context.Context, method, path string, body, v any) error {
	req, err := c.godo.NewRequest(ctx, method, path, body)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	if _, err := c.godo.Do(ctx, req, v); err != nil {
		return classify(method, "/"+path, err)
	}
	return nil
}

// classify maps godo and net/http failures onto APIError and TransportError.
// godo reports any 2xx as success, which covers the 204 of a delete.
func classify(method, path string, err error) error {
	var errResp *godo.ErrorResponse
	if errors.As(err, &errResp) {
		apiErr := &APIError{
			Method:    method,
			Path:      path,
			Body:      errResp.Message,
			RequestID: errResp.RequestID,
		}
		if errResp.Response != nil {
			apiErr.StatusCode = errResp.Response.StatusCode
			if rb, ok := errResp.Response.Body.(*rawBody); ok && len(rb.raw) > 0 {
				apiErr.Body = string(rb.raw)
			}
		}
		return apiErr
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &TransportError{Method: method, Path: path, Err: urlErr.Err}
	}

	return errors.Wrapf(err, "digitalocean: %s %s", method, path)
}

func lastPage(resp *godo.Response) bool {
	return resp == nil || resp.Links == nil || resp.Links.IsLastPage()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func fromGodoDroplet(d *godo.Droplet) *Droplet {
	return &Droplet{
		ID:     d.ID,
		Name:   d.Name,
		Status: d.Status,
		Locked: d.Locked,
		Tags:   d.Tags,
	}
}

func fromGodoAction(a *godo.Action) *Action {
	return &Action{
		ID:     a.ID,
		Type:   a.Type,
		Status: a.Status,
	}
}
