package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastCfg(maxRetries int) RetryConfig {
	return RetryConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     16 * time.Millisecond,
		MaxRetries:   maxRetries,
	}
}

func waitState(t *testing.T, m *Manager, symbol string, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := m.StateOf(symbol); st == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	st, _ := m.StateOf(symbol)
	t.Fatalf("symbol %s never reached %s (stuck at %s)", symbol, want, st)
}

func TestBackoffDelaySchedule(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 16 * time.Second, MaxRetries: 8}
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		16 * time.Second,
		16 * time.Second,
	}
	for i, w := range want {
		if got := BackoffDelay(cfg, i+1); got != w {
			t.Errorf("failure %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestConnectSuccessResetsFailures(t *testing.T) {
	var attempts atomic.Int32
	dial := func(ctx context.Context, symbol string) error {
		// fail twice, then succeed
		if attempts.Add(1) <= 2 {
			return errors.New("handshake refused")
		}
		return nil
	}
	m := NewManager(context.Background(), fastCfg(8), dial, nil)
	m.Request("NIFTY24000CE")

	waitState(t, m, "NIFTY24000CE", StateConnected)
	_, failures, _, ok := m.Info("NIFTY24000CE")
	if !ok || failures != 0 {
		t.Errorf("consecutive failures should reset on Connected, got %d", failures)
	}
	m.Close()
}

func TestRetriesExhaustedEndsDisconnected(t *testing.T) {
	dial := func(ctx context.Context, symbol string) error {
		return errors.New("always down")
	}
	m := NewManager(context.Background(), fastCfg(3), dial, nil)
	m.Request("NIFTY24000CE")

	waitState(t, m, "NIFTY24000CE", StateDisconnected)
	m.Close()
}

func TestDropReconnectsFromOne(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context, symbol string) error {
		dials.Add(1)
		return nil
	}
	m := NewManager(context.Background(), fastCfg(8), dial, nil)
	m.Request("BANKNIFTY51000CE")
	waitState(t, m, "BANKNIFTY51000CE", StateConnected)

	m.MarkDropped("BANKNIFTY51000CE")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && dials.Load() < 2 {
		time.Sleep(time.Millisecond)
	}
	if dials.Load() < 2 {
		t.Fatal("drop should trigger a reconnect attempt")
	}
	waitState(t, m, "BANKNIFTY51000CE", StateConnected)

	// the reconnect cycle after a successful Connected starts from one failure,
	// i.e. the initial delay again
	_, failures, _, _ := m.Info("BANKNIFTY51000CE")
	if failures != 0 {
		t.Errorf("failures should be reset after reconnect, got %d", failures)
	}
	m.Close()
}

func TestRequestsCoalesce(t *testing.T) {
	block := make(chan struct{})
	var dials atomic.Int32
	dial := func(ctx context.Context, symbol string) error {
		dials.Add(1)
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}
	m := NewManager(context.Background(), fastCfg(8), dial, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Request("NIFTY24000CE")
		}()
	}
	wg.Wait()
	time.Sleep(20 * time.Millisecond)

	if got := dials.Load(); got != 1 {
		t.Errorf("10 concurrent requests must coalesce into 1 wire connection, got %d", got)
	}
	close(block)
	m.Close()
}

func TestStopPredicateEndsRetrying(t *testing.T) {
	keep := atomic.Bool{}
	keep.Store(true)
	dial := func(ctx context.Context, symbol string) error {
		return errors.New("down")
	}
	m := NewManager(context.Background(), fastCfg(100), dial, func(symbol string) bool {
		return keep.Load()
	})
	m.Request("NIFTY24000CE")

	// let it churn through a few backoff cycles, then pull the plug
	time.Sleep(10 * time.Millisecond)
	keep.Store(false)

	waitState(t, m, "NIFTY24000CE", StateDisconnected)
	m.Close()
}

func TestDisposeIsTerminal(t *testing.T) {
	started := make(chan struct{}, 1)
	dial := func(ctx context.Context, symbol string) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	m := NewManager(context.Background(), fastCfg(8), dial, nil)
	m.Request("NIFTY24000CE")
	<-started

	m.Dispose("NIFTY24000CE")
	if st, tracked := m.StateOf("NIFTY24000CE"); tracked {
		t.Errorf("disposed symbol should no longer be tracked, state=%s", st)
	}

	// a fresh request after dispose starts a new machine
	m.Request("NIFTY24000CE")
	if _, tracked := m.StateOf("NIFTY24000CE"); !tracked {
		t.Error("re-request after dispose should create a new connection")
	}
	m.Close()
}

func TestStateStrings(t *testing.T) {
	states := map[State]string{
		StateDisconnected: "DISCONNECTED",
		StateConnecting:   "CONNECTING",
		StateConnected:    "CONNECTED",
		StateReconnecting: "RECONNECTING",
		StateBackingOff:   "BACKING_OFF",
		StateDisposing:    "DISPOSING",
	}
	for st, want := range states {
		if st.String() != want {
			t.Errorf("%d: expected %s, got %s", st, want, st.String())
		}
	}
}
