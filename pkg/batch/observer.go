package batch

import (
	"context"
	"time"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
)

// Wave は同時に開始し、まとめて待ち合わせる TaskUnit の区間です。
type Wave struct {
	Number int `json:"number"`
	Start  int `json:"start"`
	Size   int `json:"size"`
}

// Summary はバッチ終了時の集計です。
type Summary struct {
	Counts
	Waves    int           `json:"waves"`
	Duration time.Duration `json:"duration"`
	Canceled bool          `json:"canceled"`
}

// Observer はスケジューラの進行イベントを受け取ります。
// UnitSettled はスロットが終端状態になった直後、バッチ完了を待たずに呼ばれます。
// 呼び出しはワーカーの goroutine から並行に行われるため、実装側で同期してください。
type Observer interface {
	BatchStarted(ctx context.Context, batchID string, units int)
	WaveStarted(ctx context.Context, batchID string, wave Wave)
	UnitStarted(ctx context.Context, batchID string, unit domain.TaskUnit, inFlight int)
	UnitSettled(ctx context.Context, batchID string, result domain.TaskResult, inFlight int)
	BatchFinished(ctx context.Context, batchID string, summary Summary)
}

// ObserverFuncs は必要なイベントだけを関数で受け取るための Observer 実装です。
type ObserverFuncs struct {
	OnBatchStarted  func(ctx context.Context, batchID string, units int)
	OnWaveStarted   func(ctx context.Context, batchID string, wave Wave)
	OnUnitStarted   func(ctx context.Context, batchID string, unit domain.TaskUnit, inFlight int)
	OnUnitSettled   func(ctx context.Context, batchID string, result domain.TaskResult, inFlight int)
	OnBatchFinished func(ctx context.Context, batchID string, summary Summary)
}

func (o ObserverFuncs) BatchStarted(ctx context.Context, batchID string, units int) {
	if o.OnBatchStarted != nil {
		o.OnBatchStarted(ctx, batchID, units)
	}
}

func (o ObserverFuncs) WaveStarted(ctx context.Context, batchID string, wave Wave) {
	if o.OnWaveStarted != nil {
		o.OnWaveStarted(ctx, batchID, wave)
	}
}

func (o ObserverFuncs) UnitStarted(ctx context.Context, batchID string, unit domain.TaskUnit, inFlight int) {
	if o.OnUnitStarted != nil {
		o.OnUnitStarted(ctx, batchID, unit, inFlight)
	}
}

func (o ObserverFuncs) UnitSettled(ctx context.Context, batchID string, result domain.TaskResult, inFlight int) {
	if o.OnUnitSettled != nil {
		o.OnUnitSettled(ctx, batchID, result, inFlight)
	}
}

func (o ObserverFuncs) BatchFinished(ctx context.Context, batchID string, summary Summary) {
	if o.OnBatchFinished != nil {
		o.OnBatchFinished(ctx, batchID, summary)
	}
}

// Observers は複数の Observer に同じイベントを順に配送します。
type Observers []Observer

func (obs Observers) BatchStarted(ctx context.Context, batchID string, units int) {
	for _, o := range obs {
		o.BatchStarted(ctx, batchID, units)
	}
}

func (obs Observers) WaveStarted(ctx context.Context, batchID string, wave Wave) {
	for _, o := range obs {
		o.WaveStarted(ctx, batchID, wave)
	}
}

func (obs Observers) UnitStarted(ctx context.Context, batchID string, unit domain.TaskUnit, inFlight int) {
	for _, o := range obs {
		o.UnitStarted(ctx, batchID, unit, inFlight)
	}
}

func (obs Observers) UnitSettled(ctx context.Context, batchID string, result domain.TaskResult, inFlight int) {
	for _, o := range obs {
		o.UnitSettled(ctx, batchID, result, inFlight)
	}
}

func (obs Observers) BatchFinished(ctx context.Context, batchID string, summary Summary) {
	for _, o := range obs {
		o.BatchFinished(ctx, batchID, summary)
	}
}

var (
	_ Observer = ObserverFuncs{}
	_ Observer = Observers{}
)
