package cluster

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/sealed_scores/internal/httputil"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

// HTTPCluster submits computations to a remote cluster gateway. The remote
// side posts callbacks back to the API, so AwaitCallback never yields.
type HTTPCluster struct {
	client   *httputil.ServiceClient
	identity Identity
	log      *logger.Logger
}

var _ Cluster = (*HTTPCluster)(nil)

// NewHTTPCluster constructs a remote cluster adapter.
func NewHTTPCluster(endpoint, apiKey string, timeout time.Duration, identity Identity, log *logger.Logger) (*HTTPCluster, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("cluster endpoint required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("cluster-http")
	}
	apiKey = strings.TrimSpace(apiKey)
	client := httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL:    endpoint,
		Timeout:    timeout,
		MaxRetries: -1,
		Token:      func() (string, error) { return apiKey, nil },
	})
	return &HTTPCluster{client: client, identity: identity, log: log}, nil
}

func (c *HTTPCluster) Identity() (Identity, bool) {
	return c.identity, c.identity.Configured()
}

// SubmitJob posts the computation and requires an explicit acceptance.
func (c *HTTPCluster) SubmitJob(ctx context.Context, comp Computation) error {
	resp, err := c.client.Post(ctx, "/v1/computations", comp)
	if err != nil {
		return fmt.Errorf("submit computation: %w", err)
	}
	defer resp.Body.Close()

	body, _, err := httputil.ReadAllWithLimit(resp.Body, 64<<10)
	if err != nil {
		return fmt.Errorf("read cluster response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("cluster status %d: %s", resp.StatusCode, strings.TrimSpace(gjson.GetBytes(body, "error").String()))
	}
	if !gjson.GetBytes(body, "accepted").Bool() {
		reason := gjson.GetBytes(body, "error").String()
		if reason == "" {
			reason = "not accepted"
		}
		return fmt.Errorf("cluster rejected offset %d: %s", comp.Offset, reason)
	}

	c.log.WithField("offset", comp.Offset).
		WithField("queue_position", gjson.GetBytes(body, "queue_position").Int()).
		Debug("computation accepted by cluster")
	return nil
}

func (c *HTTPCluster) AwaitCallback(ctx context.Context) (Callback, error) {
	return Callback{}, ErrCallbacksPushed
}
