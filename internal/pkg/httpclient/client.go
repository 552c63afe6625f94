package httpclient

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// Client wraps resty for outbound marketplace API calls. Transport-level
// retries stay here; status-code handling belongs to the callers, which
// map statuses into the failure taxonomy.
type Client struct {
	r *resty.Client
}

// New creates a client with defaults suited to marketplace APIs: a
// bounded timeout and a couple of retries on connection errors only.
func New() *Client {
	r := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &Client{r: r}
}

// WithTimeout sets a custom timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.r.SetTimeout(d)
	return c
}

// WithHeader sets a header applied to every request.
func (c *Client) WithHeader(key, value string) *Client {
	c.r.SetHeader(key, value)
	return c
}

// Request returns a new resty Request for chaining.
func (c *Client) Request() *resty.Request {
	return c.r.R()
}

// Raw returns the underlying resty client for advanced usage.
func (c *Client) Raw() *resty.Client {
	return c.r
}
