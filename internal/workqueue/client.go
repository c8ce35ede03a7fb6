// Package workqueue implements the client side of the remote work-queue
// protocol: leasing work descriptors, heartbeating long leases, and
// acknowledging or failing them, plus the long-running Worker loop that
// turns descriptors into coordinator tasks.
package workqueue

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Descriptor is a leased unit of remote work: an opaque lease token and
// the payload the workflow task is constructed from. Delivery is
// at-least-once; if the lease expires unacknowledged the queue may
// re-issue the descriptor to another worker, so execution must tolerate
// duplicates.
type Descriptor struct {
	// TaskID doubles as the lease token for heartbeat/finish/error calls.
	TaskID  string
	Payload map[string]any
}

// Str returns a payload field as a string ("" when absent).
func (d *Descriptor) Str(key string) string {
	s, _ := d.Payload[key].(string)
	return s
}

// Int returns a payload field as an int64, accepting both JSON numbers
// and numeric strings.
func (d *Descriptor) Int(key string) (int64, bool) {
	switch v := d.Payload[key].(type) {
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Client speaks to one named queue URL. The wire schema beyond
// "has work / no work / lease token" is owned by the server and treated
// as opaque here.
type Client struct {
	// QueueURL is the base URL of the named queue, for example
	// http://host/api/work_queue/run-pdiff.
	QueueURL string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Timeout bounds each protocol call. Defaults to 30s.
	Timeout time.Duration
}

// ErrBadQueueResponse indicates the queue answered with a non-200
// status or a body that did not decode.
var ErrBadQueueResponse = errors.New("bad work queue response")

// Lease polls the queue for one work descriptor. A nil descriptor with
// a nil error means the queue is empty.
func (c *Client) Lease(ctx context.Context) (*Descriptor, error) {
	body, err := c.post(ctx, "/lease", url.Values{})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Error any `json:"error"`
		Tasks []struct {
			TaskID  stdjson.RawMessage `json:"task_id"`
			Payload stdjson.RawMessage `json:"payload"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQueueResponse, err)
	}
	if truthy(resp.Error) {
		return nil, fmt.Errorf("%w: error=%v", ErrBadQueueResponse, resp.Error)
	}
	if len(resp.Tasks) == 0 {
		return nil, nil
	}

	task := resp.Tasks[0]
	d := &Descriptor{TaskID: decodeTaskID(task.TaskID)}
	if d.TaskID == "" {
		return nil, fmt.Errorf("%w: lease without task_id", ErrBadQueueResponse)
	}
	d.Payload, err = decodePayload(task.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQueueResponse, err)
	}
	return d, nil
}

// Heartbeat reports liveness and progress for a held lease so the queue
// does not expire it mid-execution.
func (c *Client) Heartbeat(ctx context.Context, taskID, message string, index int) error {
	_, err := c.post(ctx, "/heartbeat", url.Values{
		"task_id": {taskID},
		"message": {message},
		"index":   {strconv.Itoa(index)},
	})
	return err
}

// Finish acknowledges successful completion of a lease. Acknowledgment
// is idempotent on the server: finishing an already-finished or expired
// lease is harmless.
func (c *Client) Finish(ctx context.Context, taskID string) error {
	_, err := c.post(ctx, "/finish", url.Values{
		"task_id": {taskID},
	})
	return err
}

// Error reports that executing a lease failed, letting the queue decide
// whether to retry the item elsewhere or mark it permanently failed.
func (c *Client) Error(ctx context.Context, taskID, message string) error {
	_, err := c.post(ctx, "/error", url.Values{
		"task_id": {taskID},
		"message": {message},
	})
	return err
}

func (c *Client) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.QueueURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBadQueueResponse, resp.StatusCode)
	}
	return body, nil
}

// decodeTaskID accepts string or numeric lease tokens.
func decodeTaskID(raw stdjson.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n stdjson.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// decodePayload accepts either a JSON object or a JSON-encoded string
// containing an object; the latter is how older queue servers ship it.
func decodePayload(raw stdjson.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("payload is neither object nor string")
	}
	if s == "" {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, fmt.Errorf("string payload did not decode: %v", err)
	}
	return obj, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		return true
	}
}
