package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/budprat/agentic-5-sub002/pkg/httputil"
	"github.com/budprat/agentic-5-sub002/runtime/logger"
	metrics "github.com/budprat/agentic-5-sub002/runtime/metrics/prometheus"
)

// RPCPath is the HTTP path receiving JSON-RPC POSTs on an agent.
const RPCPath = "/a2a"

// MetadataTimeoutMS is the metadata key carrying a per-call timeout
// override in milliseconds.
const MetadataTimeoutMS = "timeout_ms"

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithUnaryTimeout sets the default deadline for unary calls.
func WithUnaryTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.unaryTimeout = d }
}

// WithStreamingTimeout sets the default deadline for streaming calls.
func WithStreamingTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.streamingTimeout = d }
}

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff sets the exponential backoff base and cap.
func WithBackoff(base, ceiling time.Duration) ClientOption {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffCap = ceiling
	}
}

// Client calls external A2A agents through a shared connection pool.
// It is safe for concurrent use.
type Client struct {
	pool             *Pool
	unaryTimeout     time.Duration
	streamingTimeout time.Duration
	maxRetries       int
	backoffBase      time.Duration
	backoffCap       time.Duration
	reqID            int64

	mu    sync.RWMutex
	cards map[string]*AgentCard
}

// NewClient creates a Client backed by pool.
func NewClient(pool *Pool, opts ...ClientOption) *Client {
	c := &Client{
		pool:             pool,
		unaryTimeout:     httputil.DefaultUnaryTimeout,
		streamingTimeout: httputil.DefaultStreamingTimeout,
		maxRetries:       3,
		backoffBase:      500 * time.Millisecond,
		backoffCap:       10 * time.Second,
		cards:            make(map[string]*AgentCard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) nextID() int64 {
	return atomic.AddInt64(&c.reqID, 1)
}

// callTimeout resolves the deadline for one call, honoring a metadata
// override.
func callTimeout(def time.Duration, metadata map[string]any) time.Duration {
	if metadata == nil {
		return def
	}
	switch v := metadata[MetadataTimeoutMS].(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Millisecond
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Millisecond
		}
	}
	return def
}

// backoff returns the sleep before retry attempt n (0-based), capped and
// jittered to avoid thundering herds.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffBase << attempt
	if d > c.backoffCap || d <= 0 {
		d = c.backoffCap
	}
	if quarter := int64(d) / 4; quarter > 0 {
		d -= time.Duration(rand.Int63n(quarter))
	}
	return d
}

// Discover fetches the agent card from the well-known path. Cards are
// cached per endpoint after the first successful fetch.
func (c *Client) Discover(ctx context.Context, endpoint string) (*AgentCard, error) {
	endpoint = strings.TrimRight(endpoint, "/")

	c.mu.RLock()
	if card, ok := c.cards[endpoint]; ok {
		c.mu.RUnlock()
		return card, nil
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.unaryTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		endpoint+AgentCardPath, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("a2a: discover: %w", err)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.pool.Acquire(endpoint).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("a2a: discover: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("a2a: discover: status %d", resp.StatusCode)
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("a2a: decode agent card: %w", err)
	}

	c.mu.Lock()
	c.cards[endpoint] = &card
	c.mu.Unlock()

	return &card, nil
}

// HealthCheck probes endpoint and returns availability.
func (c *Client) HealthCheck(ctx context.Context, endpoint string) bool {
	return c.pool.Probe(ctx, strings.TrimRight(endpoint, "/"))
}

// rpcOnce performs a single JSON-RPC POST without retries.
func (c *Client) rpcOnce(ctx context.Context, endpoint, method string, params, result any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("a2a: marshal params: %w", err)
	}

	rpcReq := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID(),
		Method:  method,
		Params:  paramsJSON,
	}

	body, err := json.Marshal(rpcReq)
	if err != nil {
		return fmt.Errorf("a2a: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint+RPCPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("a2a: %s: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.pool.Acquire(endpoint).Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return &RPCError{Code: CodeAgentUnavailable,
			Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("a2a: %s: status %d", method, resp.StatusCode)
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("a2a: %s: decode response: %w", method, err)
	}

	if rpcResp.Error != nil {
		return &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("a2a: %s: decode result: %w", method, err)
		}
	}

	return nil
}

// rpcCall performs a JSON-RPC POST with retries for transient failures.
func (c *Client) rpcCall(ctx context.Context, endpoint, method string, params, result any, timeout time.Duration) error {
	endpoint = strings.TrimRight(endpoint, "/")

	var lastErr error
	attempts := 0
	start := time.Now()

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		attempts++

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.rpcOnce(callCtx, endpoint, method, params, result)
		cancel()

		if err == nil {
			metrics.RecordDispatch(method, "success", time.Since(start).Seconds())
			return nil
		}
		lastErr = err

		kind, retryable := classifyError(err)
		if !retryable || attempt == c.maxRetries {
			metrics.RecordDispatch(method, "error", time.Since(start).Seconds())
			return &ClientError{
				Kind:      kind,
				Endpoint:  endpoint,
				Method:    method,
				Attempts:  attempts,
				Retryable: retryable,
				Cause:     err,
			}
		}

		logger.DispatchError(endpoint, method, attempt+1, err)
		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			metrics.RecordDispatch(method, "error", time.Since(start).Seconds())
			return &ClientError{
				Kind:     ErrorKindCancelled,
				Endpoint: endpoint,
				Method:   method,
				Attempts: attempts,
				Cause:    ctx.Err(),
			}
		}
	}

	return lastErr
}

// SendMessage issues a unary message/send and returns the settled task.
func (c *Client) SendMessage(ctx context.Context, endpoint string, params *SendMessageRequest) (*Task, error) {
	timeout := callTimeout(c.unaryTimeout, params.Metadata)
	var task Task
	if err := c.rpcCall(ctx, endpoint, MethodSendMessage, params, &task, timeout); err != nil {
		return nil, err
	}
	return &task, nil
}

// SendMessageStream issues message/stream and returns a channel of
// events. The channel is closed when the stream ends, the deadline
// passes, or the context is canceled.
func (c *Client) SendMessageStream(ctx context.Context, endpoint string, params *SendMessageRequest) (<-chan StreamEvent, error) {
	endpoint = strings.TrimRight(endpoint, "/")
	timeout := callTimeout(c.streamingTimeout, params.Metadata)

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("a2a: marshal params: %w", err)
	}

	rpcReq := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID(),
		Method:  MethodSendStreamingMessage,
		Params:  paramsJSON,
	}

	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("a2a: marshal request: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost,
		endpoint+RPCPath, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("a2a: stream: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	otel.GetTextMapPropagator().Inject(streamCtx, propagation.HeaderCarrier(httpReq.Header))

	logger.Dispatch(endpoint, MethodSendStreamingMessage, params.Message.TaskID)

	resp, err := c.pool.Acquire(endpoint).Do(httpReq) //nolint:bodyclose // closed in goroutine below
	if err != nil {
		cancel()
		kind, retryable := classifyError(err)
		return nil, &ClientError{
			Kind:      kind,
			Endpoint:  endpoint,
			Method:    MethodSendStreamingMessage,
			Attempts:  1,
			Retryable: retryable,
			Cause:     err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("a2a: stream: status %d", resp.StatusCode)
	}

	start := time.Now()
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer cancel()
		defer resp.Body.Close()
		ReadSSE(streamCtx, resp.Body, ch)
		metrics.RecordDispatch(MethodSendStreamingMessage, "success", time.Since(start).Seconds())
	}()

	return ch, nil
}

// GetTask retrieves a task by ID via tasks/get.
func (c *Client) GetTask(ctx context.Context, endpoint, taskID string) (*Task, error) {
	var task Task
	if err := c.rpcCall(ctx, endpoint, MethodGetTask, GetTaskRequest{ID: taskID}, &task, c.unaryTimeout); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask cancels a task by ID via tasks/cancel.
func (c *Client) CancelTask(ctx context.Context, endpoint, taskID string) error {
	return c.rpcCall(ctx, endpoint, MethodCancelTask, CancelTaskRequest{ID: taskID}, nil, c.unaryTimeout)
}

// ListTasks lists tasks via tasks/list.
func (c *Client) ListTasks(ctx context.Context, endpoint string, params *ListTasksRequest) ([]*Task, error) {
	var resp ListTasksResponse
	if err := c.rpcCall(ctx, endpoint, MethodListTasks, params, &resp, c.unaryTimeout); err != nil {
		return nil, err
	}
	tasks := make([]*Task, len(resp.Tasks))
	for i := range resp.Tasks {
		tasks[i] = &resp.Tasks[i]
	}
	return tasks, nil
}

// ReadSSE reads SSE events from r and sends parsed StreamEvents to ch.
func ReadSSE(ctx context.Context, r io.Reader, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(r)
	var buf strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, ":") {
			continue // SSE comment
		}

		if strings.HasPrefix(line, "data:") {
			appendDataLine(&buf, line)
			continue
		}

		// Empty line terminates the current event.
		if line == "" && buf.Len() > 0 {
			if !emitEvent(ctx, buf.String(), ch) {
				return
			}
			buf.Reset()
		}
	}

	// Handle any remaining buffered data.
	if buf.Len() > 0 {
		emitEvent(ctx, buf.String(), ch)
	}
}

// appendDataLine extracts the data payload from an SSE "data:" line and
// appends it to buf, joining multiple data lines with newlines per the
// SSE framing rules.
func appendDataLine(buf *strings.Builder, line string) {
	d := line[len("data:"):]
	if d != "" && d[0] == ' ' {
		d = d[1:]
	}
	if buf.Len() > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString(d)
}

// emitEvent parses data as a stream event and sends it to ch.
// Returns false if the context is canceled and the caller should stop.
func emitEvent(ctx context.Context, data string, ch chan<- StreamEvent) bool {
	evt, ok := ParseStreamEvent([]byte(data))
	if !ok {
		return true
	}
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
