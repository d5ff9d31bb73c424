package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestInvoke_Success(t *testing.T) {
	r := New()
	res := r.Invoke(context.Background(), "planner", func(ctx context.Context) (json.RawMessage, error) {
		Step(ctx)
		Step(ctx)
		return json.RawMessage(`{"ok":true}`), nil
	})

	if !res.Success {
		t.Fatalf("Invoke() failed: %s", res.Error)
	}
	if string(res.Data) != `{"ok":true}` {
		t.Errorf("Data = %s", res.Data)
	}
	if res.Steps != 2 {
		t.Errorf("Steps = %d, want 2", res.Steps)
	}
	if res.AgentID != "planner" || res.Error != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestInvoke_Error(t *testing.T) {
	boom := errors.New("provider exploded")
	res := New().Invoke(context.Background(), "analyst", func(ctx context.Context) (json.RawMessage, error) {
		Step(ctx)
		return nil, boom
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err, boom) || res.Error != boom.Error() {
		t.Errorf("Err = %v, Error = %q", res.Err, res.Error)
	}
	if res.Steps != 1 {
		t.Errorf("Steps = %d, want 1", res.Steps)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	r := New(WithTimeout(50 * time.Millisecond))

	stopped := make(chan struct{})
	start := time.Now()
	res := r.Invoke(context.Background(), "backend", func(ctx context.Context) (json.RawMessage, error) {
		<-ctx.Done()
		close(stopped)
		return nil, ctx.Err()
	})

	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if !errors.Is(res.Err, ErrAgentTimeout) {
		t.Errorf("Err = %v, want ErrAgentTimeout", res.Err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Invoke took %v", elapsed)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Error("call context was not cancelled")
	}
}

func TestInvoke_IgnoringCallStillTimesOut(t *testing.T) {
	r := New(WithTimeout(20 * time.Millisecond))
	release := make(chan struct{})
	defer close(release)

	res := r.Invoke(context.Background(), "frontend", func(ctx context.Context) (json.RawMessage, error) {
		<-release
		return nil, nil
	})
	if !errors.Is(res.Err, ErrAgentTimeout) {
		t.Errorf("Err = %v, want ErrAgentTimeout", res.Err)
	}
}

func TestInvoke_ParentCancelIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New().Invoke(ctx, "qa", func(ctx context.Context) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if errors.Is(res.Err, ErrAgentTimeout) {
		t.Error("parent cancellation reported as timeout")
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
}

func TestInvoke_Panic(t *testing.T) {
	res := New().Invoke(context.Background(), "reviewer", func(ctx context.Context) (json.RawMessage, error) {
		panic("nil map")
	})
	if res.Success || res.Err == nil {
		t.Errorf("panic not converted to failure: %+v", res)
	}
}

func TestInvoke_Observer(t *testing.T) {
	var seen []Result
	r := New(WithObserver(func(res Result) { seen = append(seen, res) }))
	r.Invoke(context.Background(), "a", func(ctx context.Context) (json.RawMessage, error) { return nil, nil })
	if len(seen) != 1 || seen[0].AgentID != "a" {
		t.Errorf("observer saw %+v", seen)
	}
}

func TestStep_OutsideInvoke(t *testing.T) {
	Step(context.Background())
}

func TestNew_DefaultTimeout(t *testing.T) {
	if got := New().Timeout(); got != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", got, DefaultTimeout)
	}
	if got := New(WithTimeout(0)).Timeout(); got != DefaultTimeout {
		t.Errorf("zero timeout override = %v", got)
	}
}
