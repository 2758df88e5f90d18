package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
)

// --- Test helpers ---

func makeUnits(n int) []domain.TaskUnit {
	units := make([]domain.TaskUnit, n)
	for i := range units {
		units[i] = domain.TaskUnit{
			Index:  i,
			Prompt: fmt.Sprintf("prompt-%d", i),
			Model:  domain.ModelFast,
		}
	}
	return units
}

// fakeExecutor は並列数の最大値と呼び出し回数を記録する Executor です。
type fakeExecutor struct {
	delay  func(u domain.TaskUnit) time.Duration
	failAt map[int]bool

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeExecutor) Execute(ctx context.Context, u domain.TaskUnit) (*domain.ImageResponse, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.delay != nil {
		time.Sleep(f.delay(u))
	}
	if f.failAt[u.Index] {
		return nil, fmt.Errorf("quota exceeded for %s", u.Prompt)
	}
	return &domain.ImageResponse{Data: []byte(u.Prompt), MimeType: "image/png"}, nil
}

// recorder はスケジューラのイベントを記録する Observer です。
type recorder struct {
	mu       sync.Mutex
	waves    []Wave
	settled  []domain.TaskResult
	started  []int
	summary  *Summary
	batchIDs map[string]bool
}

func newRecorder() *recorder {
	return &recorder{batchIDs: make(map[string]bool)}
}

func (r *recorder) BatchStarted(ctx context.Context, batchID string, units int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchIDs[batchID] = true
}

func (r *recorder) WaveStarted(ctx context.Context, batchID string, wave Wave) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waves = append(r.waves, wave)
}

func (r *recorder) UnitStarted(ctx context.Context, batchID string, unit domain.TaskUnit, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, unit.Index)
}

func (r *recorder) UnitSettled(ctx context.Context, batchID string, result domain.TaskResult, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, result)
}

func (r *recorder) BatchFinished(ctx context.Context, batchID string, summary Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &summary
}

func (r *recorder) waveSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sizes := make([]int, len(r.waves))
	for i, w := range r.waves {
		sizes[i] = w.Size
	}
	return sizes
}
