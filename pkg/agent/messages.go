package agent

import (
	"context"
	"encoding/json"

	"github.com/openfroyo/stratum/pkg/fault"
)

// State is the subset of get_state the orchestrator acts on. Unknown
// fields are kept in Raw.
type State struct {
	AgentID      string `json:"agent_id"`
	JobState     string `json:"job_state"`
	ProcessState string `json:"process_state,omitempty"`
	Deployment   string `json:"deployment,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Run starts a long-running operation and waits for it with the client's
// task timeout.
func (c *Client) Run(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	task, err := c.SendLongRunning(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return c.WaitFor(ctx, task, c.opts.TaskTimeout)
}

// Ping checks that the agent answers.
func (c *Client) Ping(ctx context.Context) error {
	var pong string
	return c.sendInto(ctx, &pong, "ping")
}

// GetState returns the agent's view of the instance.
func (c *Client) GetState(ctx context.Context) (*State, error) {
	raw, err := c.Send(ctx, "get_state")
	if err != nil {
		return nil, err
	}
	var st State
	if err := decodeValue("get_state", raw, &st); err != nil {
		return nil, err
	}
	st.Raw = raw
	return &st, nil
}

// CancelTask asks the agent to cancel a running task. Agents may ignore
// the request, so callers should keep waiting for a terminal state.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	_, err := c.Send(ctx, "cancel_task", taskID)
	return err
}

// ListDisk returns the disk cids the agent has mounted.
func (c *Client) ListDisk(ctx context.Context) ([]string, error) {
	var disks []string
	if err := c.sendInto(ctx, &disks, "list_disk"); err != nil {
		return nil, err
	}
	return disks, nil
}

// Start starts the instance's jobs.
func (c *Client) Start(ctx context.Context) error {
	_, err := c.Send(ctx, "start")
	return err
}

// Apply applies a new instance spec.
func (c *Client) Apply(ctx context.Context, spec map[string]interface{}) (json.RawMessage, error) {
	return c.Run(ctx, "apply", spec)
}

// Drain prepares the instance for an update or shutdown.
func (c *Client) Drain(ctx context.Context, drainType string, spec map[string]interface{}) (json.RawMessage, error) {
	if spec == nil {
		return c.Run(ctx, "drain", drainType)
	}
	return c.Run(ctx, "drain", drainType, spec)
}

// Stop stops the instance's jobs.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.Run(ctx, "stop")
	return err
}

// MountDisk mounts a persistent disk inside the VM.
func (c *Client) MountDisk(ctx context.Context, diskCID string) error {
	_, err := c.Run(ctx, "mount_disk", diskCID)
	return err
}

// UnmountDisk unmounts a persistent disk inside the VM.
func (c *Client) UnmountDisk(ctx context.Context, diskCID string) error {
	_, err := c.Run(ctx, "unmount_disk", diskCID)
	return err
}

func (c *Client) sendInto(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	raw, err := c.Send(ctx, method, args...)
	if err != nil {
		return err
	}
	return decodeValue(method, raw, out)
}

func decodeValue(method string, raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fault.NewAgent("unexpected agent answer", err).
			WithOperation(method).
			WithDetail("value", raw)
	}
	return nil
}
