package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-settlements/app/metrics"
)

const maxResponseBytes = 1 << 20

type railRequest struct {
	rail      string
	operation string
	method    string
	url       string
	headers   map[string]string
	body      io.Reader
}

// do performs one rail call and returns the body of a 2xx response. Transport
// failures are reported as unavailable, non-2xx responses are classified by
// status code.
func do(ctx context.Context, client *http.Client, r railRequest) (body []byte, err error) {
	started := time.Now()
	defer func() { metrics.ObserveRailRequest(r.rail, r.operation, started, err) }()

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, r.body)
	if err != nil {
		return nil, err
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, unavailable(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(r.operation, resp.StatusCode, body)
	}
	return body, nil
}

func jsonBody(v interface{}) (io.Reader, error) {
	if v == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(encoded), nil
}

func joinURL(baseURL, path string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
}

func headerValue(headers http.Header, name string) string {
	if headers == nil {
		return ""
	}
	return strings.TrimSpace(headers.Get(name))
}
