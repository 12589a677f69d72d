package schedule

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventscope/internal/log"
)

func init() {
	log.SetOutput(io.Discard)
}

type fakeTarget struct {
	sweeps, refreshes atomic.Int32
}

func (f *fakeTarget) Sweep() int {
	f.sweeps.Add(1)
	return 2
}

func (f *fakeTarget) RefreshCatalog() { f.refreshes.Add(1) }

func TestSchedulerRunsJobs(t *testing.T) {
	target := &fakeTarget{}
	s, err := New(target, "@every 1s", "@every 1s")
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return target.sweeps.Load() > 0 && target.refreshes.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestEmptySpecDisablesJob(t *testing.T) {
	s, err := New(&fakeTarget{}, "", "*/15 * * * *")
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestBadSpec(t *testing.T) {
	_, err := New(&fakeTarget{}, "every so often", "")
	assert.Error(t, err)
}

func TestPanickingJobIsRecovered(t *testing.T) {
	s, err := New(panicTarget{}, "@every 1s", "")
	require.NoError(t, err)
	s.Start()
	time.Sleep(1200 * time.Millisecond)
	s.Stop()
}

type panicTarget struct{}

func (panicTarget) Sweep() int      { panic("boom") }
func (panicTarget) RefreshCatalog() {}
