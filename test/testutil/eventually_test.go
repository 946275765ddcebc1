package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestEventually_ConditionTrueImmediately(t *testing.T) {
	t.Parallel()

	result := Eventually(t, func() bool {
		return true
	}, WithTimeout(100*time.Millisecond))

	if !result {
		t.Error("Expected Eventually to return true when condition is immediately true")
	}
}

func TestEventually_ConditionBecomesTrueAfterDelay(t *testing.T) {
	t.Parallel()

	var counter int32
	result := Eventually(t, func() bool {
		return atomic.AddInt32(&counter, 1) >= 3
	}, WithTimeout(1*time.Second), WithInterval(10*time.Millisecond))

	if !result {
		t.Error("Expected Eventually to return true when condition becomes true")
	}
}

func TestEventually_Timeout(t *testing.T) {
	t.Parallel()

	// Use a mock T to capture the error
	mockT := &mockTB{}

	result := Eventually(mockT, func() bool {
		return false
	}, WithTimeout(50*time.Millisecond), WithInterval(10*time.Millisecond))

	if result {
		t.Error("Expected Eventually to return false on timeout")
	}
	if !mockT.failed {
		t.Error("Expected Eventually to call Errorf on timeout")
	}
}

func TestEventually_CustomMessage(t *testing.T) {
	t.Parallel()

	mockT := &mockTB{}

	Eventually(mockT, func() bool {
		return false
	}, WithTimeout(50*time.Millisecond), WithInterval(10*time.Millisecond),
		WithMessage("widget never became ready"))

	if !mockT.failed {
		t.Fatal("Expected Eventually to call Errorf on timeout")
	}
}

func TestWaitForClose_ChannelCloses(t *testing.T) {
	t.Parallel()

	ch := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(ch)
	}()

	ok := WaitForClose(t, ch, 100*time.Millisecond)
	if !ok {
		t.Error("Expected WaitForClose to succeed")
	}
}

func TestWaitForClose_ValueIsNotClose(t *testing.T) {
	t.Parallel()

	mockT := &mockTB{}
	ch := make(chan int, 1)
	ch <- 42

	ok := WaitForClose(mockT, ch, 100*time.Millisecond)
	if ok {
		t.Error("Expected WaitForClose to report false for a plain receive")
	}
	if mockT.failed {
		t.Error("A plain receive is not a timeout and must not call Errorf")
	}
}

func TestWaitForClose_Timeout(t *testing.T) {
	t.Parallel()

	mockT := &mockTB{}
	ch := make(chan int)

	ok := WaitForClose(mockT, ch, 50*time.Millisecond)
	if ok {
		t.Error("Expected WaitForClose to fail on timeout")
	}
	if !mockT.failed {
		t.Error("Expected WaitForClose to call Errorf on timeout")
	}
}

// mockTB is a mock testing.TB for testing timeout behavior.
type mockTB struct {
	testing.TB
	failed bool
}

func (m *mockTB) Helper() {}

func (m *mockTB) Errorf(format string, args ...interface{}) {
	m.failed = true
}
