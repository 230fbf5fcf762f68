package module

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyClosesOnMarkReady(t *testing.T) {
	u := NewUnit()
	select {
	case <-u.Ready():
		t.Fatal("Ready must not be closed before MarkReady is called")
	default:
	}

	u.MarkReady()
	select {
	case <-u.Ready():
	case <-time.After(time.Second):
		t.Fatal("Ready channel did not close after MarkReady")
	}

	// calling MarkReady again must not panic on a second close.
	assert.NotPanics(t, func() { u.MarkReady() })
}

func TestStopSignalsQuitAndDoneWaitsForLaunchedGoroutines(t *testing.T) {
	u := NewUnit()
	started := make(chan struct{})
	finished := make(chan struct{})

	u.Launch(func() {
		close(started)
		<-u.Quit()
		close(finished)
	})

	<-started
	select {
	case <-u.Done():
		t.Fatal("Done must not close before Stop is called")
	default:
	}

	u.Stop()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("launched goroutine did not observe Quit after Stop")
	}

	select {
	case <-u.Done():
	case <-time.After(time.Second):
		t.Fatal("Done did not close after all launched goroutines returned")
	}
}

func TestStopIsSafeToCallMultipleTimes(t *testing.T) {
	u := NewUnit()
	u.Launch(func() { <-u.Quit() })

	assert.NotPanics(t, func() {
		u.Stop()
		u.Stop()
	})
	select {
	case <-u.Done():
	case <-time.After(time.Second):
		t.Fatal("Done did not close after repeated Stop calls")
	}
}

func TestDoSerializesConcurrentMutations(t *testing.T) {
	u := NewUnit()
	counter := 0
	const n = 200

	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			err := u.Do(func() error {
				current := counter
				counter = current + 1
				return nil
			})
			require.NoError(t, err)
			done <- struct{}{}
		}()
	}

	for i := 0; i < n; i++ {
		<-done
	}
	assert.Equal(t, n, counter, "Do must serialize every mutation with no lost updates")
}

func TestDoPropagatesErrorFromClosure(t *testing.T) {
	u := NewUnit()
	sentinel := assert.AnError
	err := u.Do(func() error { return sentinel })
	assert.Equal(t, sentinel, err)
}
