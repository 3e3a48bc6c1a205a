package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// httpTransport implements Transport over HTTP JSON-RPC with round-robin
// plus health-based endpoint selection and failover across a pool of
// nodes (e.g. several providers behind ETHEREUM_NODE_URL).
type httpTransport struct {
	endpoints []string
	health    HealthTracker
	client    *http.Client
	requestID atomic.Int64

	mu           sync.Mutex
	currentIndex int
}

func NewHTTPTransport(endpoints []string, timeout time.Duration, health HealthTracker) (Transport, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	if health == nil {
		health = NewHealthTracker()
	}
	return &httpTransport{
		endpoints: endpoints,
		health:    health,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (t *httpTransport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var lastErr error
	attempted := make(map[string]bool, len(t.endpoints))

	for len(attempted) < len(t.endpoints) {
		endpoint := t.nextHealthy(attempted)
		if endpoint == "" {
			break
		}
		attempted[endpoint] = true

		result, err := t.callOne(ctx, endpoint, method, params)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all RPC endpoints failed for %s: %w", method, lastErr)
}

func (t *httpTransport) CallBatch(ctx context.Context, requests []Request) ([]json.RawMessage, []error, error) {
	if len(requests) == 0 {
		return nil, nil, nil
	}

	var lastErr error
	attempted := make(map[string]bool, len(t.endpoints))

	for len(attempted) < len(t.endpoints) {
		endpoint := t.nextHealthy(attempted)
		if endpoint == "" {
			break
		}
		attempted[endpoint] = true

		results, errs, err := t.callBatchOne(ctx, endpoint, requests)
		if err == nil {
			return results, errs, nil
		}
		lastErr = err
	}
	return nil, nil, fmt.Errorf("all RPC endpoints failed for batch of %d: %w", len(requests), lastErr)
}

func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *httpTransport) callOne(ctx context.Context, endpoint, method string, params interface{}) (json.RawMessage, error) {
	start := time.Now()
	id := t.requestID.Add(1)

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := t.post(ctx, endpoint, body)
	if err != nil {
		t.health.RecordFailure(endpoint, err)
		return nil, err
	}

	var rpcResp response
	if err := json.Unmarshal(resp, &rpcResp); err != nil {
		t.health.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		t.health.RecordFailure(endpoint, rpcResp.Error)
		return nil, fmt.Errorf("JSON-RPC error: %s", rpcResp.Error.Message)
	}

	t.health.RecordSuccess(endpoint, time.Since(start).Milliseconds())
	return rpcResp.Result, nil
}

func (t *httpTransport) callBatchOne(ctx context.Context, endpoint string, requests []Request) ([]json.RawMessage, []error, error) {
	start := time.Now()

	batch := make([]map[string]interface{}, len(requests))
	for i, r := range requests {
		batch[i] = map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      t.requestID.Add(1),
			"method":  r.Method,
			"params":  r.Params,
		}
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal batch: %w", err)
	}

	resp, err := t.post(ctx, endpoint, body)
	if err != nil {
		t.health.RecordFailure(endpoint, err)
		return nil, nil, err
	}

	var batchResp []response
	if err := json.Unmarshal(resp, &batchResp); err != nil {
		t.health.RecordFailure(endpoint, err)
		return nil, nil, fmt.Errorf("unmarshal batch response: %w", err)
	}

	results := make([]json.RawMessage, len(requests))
	errs := make([]error, len(requests))
	for i := range requests {
		if i >= len(batchResp) {
			errs[i] = fmt.Errorf("missing response for batch element %d", i)
			continue
		}
		if batchResp[i].Error != nil {
			errs[i] = fmt.Errorf("JSON-RPC error: %s", batchResp[i].Error.Message)
			continue
		}
		results[i] = batchResp[i].Result
	}

	t.health.RecordSuccess(endpoint, time.Since(start).Milliseconds())
	return results, errs, nil
}

func (t *httpTransport) post(ctx context.Context, endpoint string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (t *httpTransport) nextHealthy(attempted map[string]bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < len(t.endpoints); i++ {
		idx := (t.currentIndex + i) % len(t.endpoints)
		endpoint := t.endpoints[idx]
		if attempted[endpoint] {
			continue
		}
		if t.health.IsHealthy(endpoint) {
			t.currentIndex = (idx + 1) % len(t.endpoints)
			return endpoint
		}
	}
	for _, e := range t.endpoints {
		if !attempted[e] {
			return e
		}
	}
	return ""
}

var _ Transport = (*httpTransport)(nil)
