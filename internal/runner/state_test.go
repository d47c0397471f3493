package runner

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/torosent/stampede/internal/loadpattern"
)

func TestRunStateCancelReasonVisibleWithFlag(t *testing.T) {
	pattern, err := loadpattern.NewConstant(loadpattern.Concurrency, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 200; i++ {
		rs := newRunState("", pattern, time.Second)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			rs.Cancel("iteration budget exhausted")
		}()
		go func() {
			defer wg.Done()
			for !rs.Cancelled() {
				runtime.Gosched()
			}
			if rs.Reason() == "" {
				t.Error("Cancelled() is true but Reason() is empty")
			}
		}()
		wg.Wait()
	}
}

func TestRunStateCancelKeepsFirstReason(t *testing.T) {
	pattern, err := loadpattern.NewConstant(loadpattern.Concurrency, 1)
	if err != nil {
		t.Fatal(err)
	}
	rs := newRunState("01HSTAMPEDERUN", pattern, 0)
	if !rs.Cancel("context cancelled") {
		t.Fatal("first Cancel() = false, want true")
	}
	if rs.Cancel("drain") {
		t.Fatal("second Cancel() = true, want false")
	}
	if rs.ID != "01HSTAMPEDERUN" {
		t.Errorf("ID = %q, want the supplied run ID", rs.ID)
	}
	if rs.Reason() != "context cancelled" {
		t.Errorf("Reason() = %q", rs.Reason())
	}
	select {
	case <-rs.CancelRequested():
	default:
		t.Fatal("CancelRequested() not closed")
	}
}
