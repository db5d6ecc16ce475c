package gitlab_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/ci-admission/internal/domain"
)

const perPage = 100

// Client lists the runners a project can use through the GitLab REST API.
type Client struct {
	baseUrl string
	token   string
	hc      *http.Client
	retry   time.Duration
}

func New(baseUrl string, token string, timeout time.Duration) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseUrl: trimSlash(baseUrl),
		token:   token,
		hc:      &http.Client{Transport: tr, Timeout: timeout},
		retry:   5 * time.Second,
	}
}

type runnerDTO struct {
	ID          int64    `json:"id"`
	Description string   `json:"description"`
	RunnerType  string   `json:"runner_type"`
	Paused      bool     `json:"paused"`
	Online      bool     `json:"online"`
	Status      string   `json:"status"`
	TagList     []string `json:"tag_list"`
	RunUntagged bool     `json:"run_untagged"`
	AccessLevel string   `json:"access_level"`
}

func (c *Client) OnlineRunners(ctx context.Context, projectID int64) ([]domain.Runner, error) {
	var list []runnerDTO
	page := "1"
	for page != "" {
		var batch []runnerDTO
		listURL := fmt.Sprintf("%s/api/v4/projects/%d/runners?status=online&per_page=%d&page=%s", c.baseUrl, projectID, perPage, page)
		hdr, err := c.getJSON(ctx, listURL, &batch)
		if err != nil {
			return nil, err
		}
		list = append(list, batch...)
		page = hdr.Get("X-Next-Page")
	}

	out := make([]domain.Runner, 0, len(list))
	for _, r := range list {
		// the list endpoint omits tags and access level
		var d runnerDTO
		detailURL := fmt.Sprintf("%s/api/v4/runners/%d", c.baseUrl, r.ID)
		if _, err := c.getJSON(ctx, detailURL, &d); err != nil {
			return nil, err
		}
		out = append(out, toRunner(d))
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, url string, dst any) (http.Header, error) {
	var hdr http.Header
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("PRIVATE-TOKEN", c.token)

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}

		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if sec, _ := strconv.Atoi(ra); sec > 0 {
					select {
					case <-time.After(time.Duration(sec) * time.Second):
					case <-ctx.Done():
						return ctx.Err()
					}
					return fmt.Errorf("retry after due to 429")
				}
			}

			return fmt.Errorf("gitlab 429")
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("gitlab %s", resp.Status)
		}

		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("gitlab %s", resp.Status))
		}

		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", url, err))
		}
		hdr = resp.Header
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 300 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = c.retry

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return hdr, nil
}

func toRunner(d runnerDTO) domain.Runner {
	return domain.Runner{
		ID:          d.ID,
		Description: d.Description,
		Type:        mapRunnerType(d.RunnerType),
		Tags:        d.TagList,
		RunUntagged: d.RunUntagged,
		Paused:      d.Paused,
		Online:      d.Online || d.Status == "online",
		AccessLevel: mapAccessLevel(d.AccessLevel),
	}
}

func mapRunnerType(s string) domain.RunnerType {
	switch s {
	case "instance_type":
		return domain.InstanceRunner
	case "group_type":
		return domain.GroupRunner
	default:
		return domain.ProjectRunner
	}
}

func mapAccessLevel(s string) domain.AccessLevel {
	if s == "ref_protected" {
		return domain.RefProtected
	}
	return domain.NotProtected
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

var _ domain.RunnerRegistry = (*Client)(nil)
