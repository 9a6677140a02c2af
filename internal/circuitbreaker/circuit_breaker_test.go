package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var errBackendDown = errors.New("backend down")

func newTestBreaker(cfg Config) *CircuitBreaker {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	return New(cfg, logger)
}

func fail(context.Context) error    { return errBackendDown }
func succeed(context.Context) error { return nil }

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name        string
		scenario    func(t *testing.T, cb *CircuitBreaker)
		expectedEnd State
	}{
		{
			name: "closed_to_open_after_max_failures",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				for i := 0; i < 3; i++ {
					if err := cb.Execute(context.Background(), fail); !errors.Is(err, errBackendDown) {
						t.Errorf("Expected backend error, got %v", err)
					}
				}
			},
			expectedEnd: StateOpen,
		},
		{
			name: "open_rejects_without_calling",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				for i := 0; i < 3; i++ {
					cb.Execute(context.Background(), fail)
				}
				called := false
				err := cb.Execute(context.Background(), func(context.Context) error {
					called = true
					return nil
				})
				if !errors.Is(err, ErrCircuitBreakerOpen) {
					t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
				}
				if called {
					t.Error("Expected function not to run while open")
				}
			},
			expectedEnd: StateOpen,
		},
		{
			name: "half_open_to_closed_on_success",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				for i := 0; i < 3; i++ {
					cb.Execute(context.Background(), fail)
				}
				time.Sleep(60 * time.Millisecond)
				if err := cb.Execute(context.Background(), succeed); err != nil {
					t.Errorf("Expected success, got %v", err)
				}
			},
			expectedEnd: StateClosed,
		},
		{
			name: "half_open_to_open_on_failure",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				for i := 0; i < 3; i++ {
					cb.Execute(context.Background(), fail)
				}
				time.Sleep(60 * time.Millisecond)
				cb.Execute(context.Background(), fail)
			},
			expectedEnd: StateOpen,
		},
		{
			name: "failures_reset_on_success",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				for i := 0; i < 2; i++ {
					cb.Execute(context.Background(), fail)
				}
				cb.Execute(context.Background(), succeed)
				for i := 0; i < 2; i++ {
					cb.Execute(context.Background(), fail)
				}
			},
			expectedEnd: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := newTestBreaker(Config{
				MaxFailures: 3,
				Timeout:     50 * time.Millisecond,
				MaxRequests: 1,
			})

			tt.scenario(t, cb)

			if cb.State() != tt.expectedEnd {
				t.Errorf("Expected final state %s, got %s", tt.expectedEnd, cb.State())
			}
		})
	}
}

func TestIsFailureClassifier(t *testing.T) {
	errConflict := errors.New("409 conflict")

	cb := newTestBreaker(Config{
		MaxFailures: 1,
		Timeout:     time.Minute,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errConflict)
		},
	})

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return errConflict })
		if !errors.Is(err, errConflict) {
			t.Fatalf("Expected conflict error to pass through, got %v", err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected breaker to stay closed on rejections, got %s", cb.State())
	}

	m := cb.Metrics()
	if m.TotalFailures != 0 || m.TotalSuccesses != 5 {
		t.Errorf("Unexpected metrics: %+v", m)
	}
}

func TestContextCanceledIsNotAFailure(t *testing.T) {
	cb := newTestBreaker(Config{MaxFailures: 1, Timeout: time.Minute})

	cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })

	if cb.State() != StateClosed {
		t.Errorf("Expected closed, got %s", cb.State())
	}
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	cb := newTestBreaker(Config{MaxFailures: 1, Timeout: 20 * time.Millisecond, MaxRequests: 1})
	cb.Execute(context.Background(), fail)
	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected second probe to be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("Expected probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful probe, got %s", cb.State())
	}
}

func TestStateChangeCallbacks(t *testing.T) {
	var mu sync.Mutex
	var changes [][2]State
	notified := make(chan struct{}, 4)

	cb := newTestBreaker(Config{
		MaxFailures: 2,
		Timeout:     time.Minute,
		OnStateChange: func(name string, from State, to State) {
			mu.Lock()
			changes = append(changes, [2]State{from, to})
			mu.Unlock()
			notified <- struct{}{}
		},
	})

	cb.Execute(context.Background(), fail)
	cb.Execute(context.Background(), fail)

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("Expected state change callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0] != [2]State{StateClosed, StateOpen} {
		t.Errorf("Expected closed->open, got %v", changes)
	}
}

func TestStateChangeCallbackPanic(t *testing.T) {
	var calls atomic.Int32

	cb := newTestBreaker(Config{
		MaxFailures: 1,
		Timeout:     time.Minute,
		OnStateChange: func(name string, from State, to State) {
			calls.Add(1)
			panic("test panic")
		},
	})

	cb.Execute(context.Background(), fail)
	time.Sleep(50 * time.Millisecond)

	if cb.State() != StateOpen {
		t.Errorf("Expected StateOpen after failure, got %s", cb.State())
	}
	if calls.Load() == 0 {
		t.Error("Expected callback to be called even though it panics")
	}
}

func TestReset(t *testing.T) {
	cb := newTestBreaker(Config{MaxFailures: 2, Timeout: time.Minute})

	cb.Execute(context.Background(), fail)
	cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected StateOpen, got %s", cb.State())
	}

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("Expected StateClosed after reset, got %s", cb.State())
	}
	if m := cb.Metrics(); m.Failures != 0 {
		t.Errorf("Expected failures to be 0 after reset, got %d", m.Failures)
	}
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Errorf("Expected success after reset, got %v", err)
	}
}

func TestConcurrentMetricsStayConsistent(t *testing.T) {
	cb := newTestBreaker(Config{MaxFailures: 1000, Timeout: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if (i+j)%3 == 0 {
					cb.Execute(context.Background(), fail)
				} else {
					cb.Execute(context.Background(), succeed)
				}
			}
		}(i)
	}
	wg.Wait()

	m := cb.Metrics()
	if m.TotalRequests != 1000 {
		t.Errorf("Expected 1000 requests, got %d", m.TotalRequests)
	}
	if m.TotalRequests != m.TotalFailures+m.TotalSuccesses {
		t.Errorf("Inconsistent metrics: %+v", m)
	}
}

func TestConfigDefaults(t *testing.T) {
	cb := newTestBreaker(Config{})

	if cb.maxFailures != 5 || cb.timeout != 30*time.Second || cb.maxRequests != 1 {
		t.Errorf("Unexpected defaults: %s timeout=%s maxRequests=%d", cb, cb.timeout, cb.maxRequests)
	}
}
