package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/telemetry"
)

// TaskState is the lifecycle state of an agent task.
type TaskState string

// Task states. Everything except running is terminal.
const (
	TaskRunning   TaskState = "running"
	TaskDone      TaskState = "done"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Task is a handle to work the agent performs asynchronously.
type Task struct {
	ID     string
	Method string
	State  TaskState

	// Result holds the agent's value once the task is done.
	Result json.RawMessage

	// Exception holds the agent's error payload once the task failed.
	Exception json.RawMessage
}

// Terminal reports whether the task has reached a final state.
func (t *Task) Terminal() bool {
	return t.State != TaskRunning
}

// taskStatus is the value shape of a running task, both when it is
// started and when it is polled.
type taskStatus struct {
	State       string `json:"state"`
	AgentTaskID string `json:"agent_task_id"`
}

func parseTaskStatus(value json.RawMessage) (taskStatus, bool) {
	var st taskStatus
	if len(value) == 0 || value[0] != '{' {
		return st, false
	}
	if err := json.Unmarshal(value, &st); err != nil {
		return st, false
	}
	return st, st.State != ""
}

// SendLongRunning starts an asynchronous agent operation. An agent that
// completes the operation synchronously yields an already done task.
func (c *Client) SendLongRunning(ctx context.Context, method string, args ...interface{}) (*Task, error) {
	value, err := c.Send(ctx, method, args...)
	if err != nil {
		return nil, err
	}

	task := &Task{Method: method}
	if st, ok := parseTaskStatus(value); ok && TaskState(st.State) == TaskRunning {
		if st.AgentTaskID == "" {
			return nil, fault.NewAgent("agent reported a running task without an id", nil).
				WithOperation(method).
				WithDetail("value", value)
		}
		task.ID = st.AgentTaskID
		task.State = TaskRunning
		c.logger.Debug().
			Str("method", method).
			Str("agent_task_id", task.ID).
			Msg("Agent task started")
		return task, nil
	}

	task.State = TaskDone
	task.Result = value
	return task, nil
}

// WaitFor polls the task until it reaches a terminal state or timeout
// elapses. The process checkpoint runs before every poll and its error,
// returned unchanged, aborts the wait. On timeout the remote task is left
// running and a TaskTimeout error is returned. A non-positive timeout uses
// the client's configured task timeout.
func (c *Client) WaitFor(ctx context.Context, task *Task, timeout time.Duration) (json.RawMessage, error) {
	if task.Terminal() {
		return task.outcome()
	}
	if timeout <= 0 {
		timeout = c.opts.TaskTimeout
	}

	ctx, span := c.opts.Tracer.StartAgentSpan(ctx, c.opts.AgentID, task.Method)
	defer span.End()
	span.SetAttributes(telemetry.AttrAgentTaskID.String(task.ID))

	finish := c.opts.Metrics.AgentTaskStarted(task.Method)
	logger := c.logger.With().
		Str("method", task.Method).
		Str("agent_task_id", task.ID).
		Logger()

	result, err := c.poll(ctx, task, timeout)

	state := string(task.State)
	if fault.IsTaskTimeout(err) {
		state = "timeout"
	}
	finish(state)

	telemetry.FinishSpan(span, err)
	if err != nil {
		logger.Error().Err(err).Str("state", state).Msg("Agent task did not finish")
		return nil, err
	}
	logger.Info().Str("state", state).Msg("Agent task finished")
	return result, nil
}

func (c *Client) poll(ctx context.Context, task *Task, timeout time.Duration) (json.RawMessage, error) {
	interval := backoff.NewExponentialBackOff()
	interval.InitialInterval = c.opts.Poll.Interval
	interval.Multiplier = c.opts.Poll.Multiplier
	interval.MaxInterval = c.opts.Poll.MaxInterval
	interval.RandomizationFactor = 0
	interval.Reset()

	checkpoint := c.opts.Process.Checkpoint()
	deadline := c.opts.Clock.Now().Add(timeout)

	for {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}

		remaining := deadline.Sub(c.opts.Clock.Now())
		if remaining <= 0 {
			return nil, fault.NewTaskTimeout(
				fmt.Sprintf("agent task %s (%s) still running after %s", task.ID, task.Method, timeout), nil).
				WithOperation(task.Method).
				WithDetail("agent_task_id", task.ID)
		}

		wait := interval.NextBackOff()
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-c.opts.Clock.After(wait):
		case <-ctx.Done():
			return nil, fault.NewTransport(fmt.Sprintf("waiting for agent task %s interrupted", task.ID), ctx.Err()).
				WithRetryable(false).
				WithOperation(task.Method)
		}

		c.opts.Metrics.RecordAgentPoll(task.Method)
		value, err := c.send(ctx, "get_task", []interface{}{task.ID})
		if err != nil {
			if f, ok := fault.As(err); ok && fault.IsAgent(err) {
				task.State = TaskFailed
				task.Exception, _ = f.Details["exception"].(json.RawMessage)
				f.WithOperation(task.Method).WithDetail("agent_task_id", task.ID)
			}
			return nil, err
		}

		st, ok := parseTaskStatus(value)
		if ok {
			telemetry.AddEvent(telemetry.SpanFromContext(ctx), "agent.poll", telemetry.AttrAgentState.String(st.State))
			switch TaskState(st.State) {
			case TaskRunning:
				continue
			case TaskCancelled:
				task.State = TaskCancelled
				return task.outcome()
			}
		}

		task.State = TaskDone
		task.Result = value
		return task.outcome()
	}
}

// outcome returns the result of a terminal task.
func (t *Task) outcome() (json.RawMessage, error) {
	switch t.State {
	case TaskDone:
		return t.Result, nil
	case TaskCancelled:
		return nil, fault.NewAgent(fmt.Sprintf("agent task %s was cancelled", t.ID), nil).
			WithOperation(t.Method).
			WithDetail("agent_task_id", t.ID).
			WithDetail("state", string(TaskCancelled))
	case TaskFailed:
		return nil, exceptionError(t.Method, t.Exception).WithDetail("agent_task_id", t.ID)
	default:
		return nil, fault.NewInvalidArgument(fmt.Sprintf("agent task %s is still %s", t.ID, t.State), nil)
	}
}
