package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/openfroyo/stratum/pkg/clock"
	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/process"
)

func startsTask(id string) func(int, Request) (int, string) {
	return func(int, Request) (int, string) {
		return http.StatusOK, `{"value":{"state":"running","agent_task_id":"` + id + `"}}`
	}
}

func TestSendLongRunningReturnsRunningTask(t *testing.T) {
	a := newFakeAgent(t)
	a.handle("apply", startsTask("t-1"))
	c := newTestClient(t, a.server.URL, fastOptions())

	task, err := c.SendLongRunning(context.Background(), "apply", map[string]interface{}{"job": "web"})
	if err != nil {
		t.Fatalf("SendLongRunning() error = %v", err)
	}
	if task.ID != "t-1" || task.State != TaskRunning || task.Terminal() {
		t.Errorf("task = %+v, want running t-1", task)
	}
	if n := len(a.calls("get_task")); n != 0 {
		t.Errorf("SendLongRunning polled %d times, want 0", n)
	}
}

func TestSendLongRunningSynchronousAnswer(t *testing.T) {
	a := newFakeAgent(t)
	a.handle("prepare", func(int, Request) (int, string) { return http.StatusOK, `{"value":"prepared"}` })
	c := newTestClient(t, a.server.URL, fastOptions())

	task, err := c.SendLongRunning(context.Background(), "prepare")
	if err != nil {
		t.Fatalf("SendLongRunning() error = %v", err)
	}
	if task.State != TaskDone {
		t.Fatalf("State = %q, want done", task.State)
	}
	result, err := c.WaitFor(context.Background(), task, time.Second)
	if err != nil || string(result) != `"prepared"` {
		t.Errorf("WaitFor() = %s, %v", result, err)
	}
	if n := len(a.calls("get_task")); n != 0 {
		t.Errorf("WaitFor on a done task polled %d times", n)
	}
}

func TestWaitForDone(t *testing.T) {
	a := newFakeAgent(t)
	a.handle("apply", startsTask("t-1"))
	a.handle("get_task", func(n int, req Request) (int, string) {
		if len(req.Arguments) != 1 || req.Arguments[0] != "t-1" {
			return http.StatusOK, `{"exception":"wrong task"}`
		}
		if n < 3 {
			return http.StatusOK, `{"value":{"state":"running","agent_task_id":"t-1"}}`
		}
		return http.StatusOK, `{"value":{"applied":true}}`
	})
	c := newTestClient(t, a.server.URL, fastOptions())

	ctx := context.Background()
	task, err := c.SendLongRunning(ctx, "apply", map[string]interface{}{})
	if err != nil {
		t.Fatalf("SendLongRunning() error = %v", err)
	}
	result, err := c.WaitFor(ctx, task, time.Minute)
	if err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}
	if string(result) != `{"applied":true}` {
		t.Errorf("result = %s", result)
	}
	if task.State != TaskDone {
		t.Errorf("State = %q, want done", task.State)
	}
	if n := len(a.calls("get_task")); n != 3 {
		t.Errorf("polled %d times, want 3", n)
	}
}

func TestWaitForFailed(t *testing.T) {
	a := newFakeAgent(t)
	a.handle("drain", startsTask("t-2"))
	a.handle("get_task", func(int, Request) (int, string) {
		return http.StatusOK, `{"exception":{"message":"drain script exited 1","code":1}}`
	})
	c := newTestClient(t, a.server.URL, fastOptions())

	_, err := c.Drain(context.Background(), "update", nil)
	f, ok := fault.As(err)
	if !ok || f.Kind != fault.KindAgent {
		t.Fatalf("Drain() error = %v, want AgentError", err)
	}
	if f.Operation != "drain" || f.Details["agent_task_id"] != "t-2" {
		t.Errorf("error context = %q %v", f.Operation, f.Details)
	}
	raw, _ := f.Details["exception"].(json.RawMessage)
	if string(raw) != `{"message":"drain script exited 1","code":1}` {
		t.Errorf("exception = %s", raw)
	}
}

func TestWaitForCancelled(t *testing.T) {
	a := newFakeAgent(t)
	a.handle("stop", startsTask("t-3"))
	a.handle("get_task", func(int, Request) (int, string) {
		return http.StatusOK, `{"value":{"state":"cancelled","agent_task_id":"t-3"}}`
	})
	c := newTestClient(t, a.server.URL, fastOptions())

	err := c.Stop(context.Background())
	f, ok := fault.As(err)
	if !ok || f.Kind != fault.KindAgent || f.Details["state"] != "cancelled" {
		t.Fatalf("Stop() error = %v, want AgentError with state cancelled", err)
	}
}

func TestWaitForTimesOutWithoutCancelling(t *testing.T) {
	a := newFakeAgent(t)
	a.handle("apply", startsTask("t-4"))
	a.handle("get_task", func(int, Request) (int, string) {
		return http.StatusOK, `{"value":{"state":"running","agent_task_id":"t-4"}}`
	})

	fake := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	opts := fastOptions()
	opts.Clock = fake
	opts.Poll = PollPolicy{Interval: time.Second, Multiplier: 1}
	c := newTestClient(t, a.server.URL, opts)

	ctx := context.Background()
	task, err := c.SendLongRunning(ctx, "apply", map[string]interface{}{})
	if err != nil {
		t.Fatalf("SendLongRunning() error = %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := c.WaitFor(ctx, task, 10*time.Second)
		errc <- err
	}()

	for i := 0; i < 10; i++ {
		fake.WaitForTimers(1)
		fake.Advance(time.Second)
	}

	select {
	case err := <-errc:
		if !fault.IsTaskTimeout(err) {
			t.Fatalf("WaitFor() error = %v, want TaskTimeout", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("WaitFor() did not return after the timeout elapsed")
	}

	if n := len(a.calls("get_task")); n != 10 {
		t.Errorf("polled %d times, want 10", n)
	}
	if n := len(a.calls("cancel_task")); n != 0 {
		t.Errorf("sent %d cancel_task requests on timeout, want 0", n)
	}
	if task.State != TaskRunning {
		t.Errorf("State = %q, a timed out task stays running", task.State)
	}
}

func TestWaitForPollIntervalBacksOff(t *testing.T) {
	a := newFakeAgent(t)
	a.handle("apply", startsTask("t-5"))
	a.handle("get_task", func(n int, _ Request) (int, string) {
		if n < 4 {
			return http.StatusOK, `{"value":{"state":"running","agent_task_id":"t-5"}}`
		}
		return http.StatusOK, `{"value":"ok"}`
	})

	fake := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	opts := fastOptions()
	opts.Clock = fake
	opts.Poll = PollPolicy{Interval: time.Second, Multiplier: 2, MaxInterval: 4 * time.Second}
	c := newTestClient(t, a.server.URL, opts)

	ctx := context.Background()
	task, err := c.SendLongRunning(ctx, "apply", map[string]interface{}{})
	if err != nil {
		t.Fatalf("SendLongRunning() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.WaitFor(ctx, task, time.Minute)
		done <- err
	}()

	// 1s, 2s, 4s, then capped at 4s
	for _, step := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second} {
		fake.WaitForTimers(1)
		fake.Advance(step - time.Millisecond)
		if n := fake.PendingCount(); n != 1 {
			t.Fatalf("timer fired before %s elapsed", step)
		}
		fake.Advance(time.Millisecond)
	}

	if err := <-done; err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}
	if n := len(a.calls("get_task")); n != 4 {
		t.Errorf("polled %d times, want 4", n)
	}
}

func TestWaitForCheckpointAborts(t *testing.T) {
	a := newFakeAgent(t)
	a.handle("apply", startsTask("t-6"))

	errAborted := errors.New("deployment task cancelled")
	p := process.New(process.Options{
		Checkpoint: func(context.Context) error { return errAborted },
	})
	opts := fastOptions()
	opts.Process = p
	c := newTestClient(t, a.server.URL, opts)

	ctx := context.Background()
	task, err := c.SendLongRunning(ctx, "apply", map[string]interface{}{})
	if err != nil {
		t.Fatalf("SendLongRunning() error = %v", err)
	}
	if _, err := c.WaitFor(ctx, task, time.Minute); !errors.Is(err, errAborted) {
		t.Errorf("WaitFor() error = %v, want checkpoint error", err)
	}
	if n := len(a.calls("get_task")); n != 0 {
		t.Errorf("polled %d times after checkpoint abort", n)
	}
}

func TestWaitForContextCancel(t *testing.T) {
	a := newFakeAgent(t)
	a.handle("apply", startsTask("t-7"))
	a.handle("get_task", func(int, Request) (int, string) {
		return http.StatusOK, `{"value":{"state":"running","agent_task_id":"t-7"}}`
	})
	c := newTestClient(t, a.server.URL, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	task, err := c.SendLongRunning(ctx, "apply", map[string]interface{}{})
	if err != nil {
		t.Fatalf("SendLongRunning() error = %v", err)
	}
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = c.WaitFor(ctx, task, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WaitFor() error = %v, want context.Canceled in chain", err)
	}
}

func TestLongRunningMessages(t *testing.T) {
	tests := []struct {
		method   string
		call     func(c *Client) error
		wantArgs int
	}{
		{"mount_disk", func(c *Client) error { return c.MountDisk(context.Background(), "disk-1") }, 1},
		{"unmount_disk", func(c *Client) error { return c.UnmountDisk(context.Background(), "disk-1") }, 1},
		{"apply", func(c *Client) error {
			_, err := c.Apply(context.Background(), map[string]interface{}{"job": "web"})
			return err
		}, 1},
		{"drain", func(c *Client) error {
			_, err := c.Drain(context.Background(), "shutdown", nil)
			return err
		}, 1},
		{"stop", func(c *Client) error { return c.Stop(context.Background()) }, 0},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			a := newFakeAgent(t)
			a.handle(tt.method, startsTask("t-8"))
			a.handle("get_task", func(int, Request) (int, string) { return http.StatusOK, `{"value":{}}` })
			c := newTestClient(t, a.server.URL, fastOptions())

			if err := tt.call(c); err != nil {
				t.Fatalf("%s error = %v", tt.method, err)
			}
			calls := a.calls(tt.method)
			if len(calls) != 1 {
				t.Fatalf("expected 1 %s request, got %d", tt.method, len(calls))
			}
			if got := calls[0].Arguments; len(got) != tt.wantArgs {
				t.Errorf("arguments = %v, want %d", got, tt.wantArgs)
			}
			if n := len(a.calls("get_task")); n != 1 {
				t.Errorf("expected 1 poll, got %d", n)
			}
		})
	}
}
