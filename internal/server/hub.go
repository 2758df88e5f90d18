package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/batch"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
)

// Event は SSE で配信するバッチの進行イベントです。
type Event struct {
	Type     string         `json:"type"`
	BatchID  string         `json:"batch_id"`
	Index    *int           `json:"index,omitempty"`
	Status   string         `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
	InFlight int            `json:"in_flight"`
	Wave     *batch.Wave    `json:"wave,omitempty"`
	Summary  *batch.Summary `json:"summary,omitempty"`
}

const (
	EventWave     = "wave"
	EventSettled  = "settled"
	EventFinished = "finished"
)

// Hub はバッチ ID をトピックとして SSE の購読者を管理します。
//
// 購読・解除・配信はすべて Run の goroutine で直列に処理します。
// 購読者のチャネルが詰まっている場合、そのメッセージは捨てられます。
// スケジューラのワーカーをブロックしないよう、Publish も満杯時は捨てます。
type Hub struct {
	topics map[string]map[chan []byte]struct{}

	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan topicMessage

	closed chan struct{}
}

type subscription struct {
	ch    chan []byte
	topic string
}

type topicMessage struct {
	topic string
	msg   []byte
}

// NewHub は Hub を生成します。配信には Run の起動が必要です。
func NewHub() *Hub {
	return &Hub{
		topics:      make(map[string]map[chan []byte]struct{}),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan topicMessage, 256),
		closed:      make(chan struct{}),
	}
}

// Run は ctx が終了するまでイベントループを回します。
func (h *Hub) Run(ctx context.Context) {
	defer close(h.closed)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.subscribe:
			subs, ok := h.topics[s.topic]
			if !ok {
				subs = make(map[chan []byte]struct{})
				h.topics[s.topic] = subs
			}
			subs[s.ch] = struct{}{}
		case s := <-h.unsubscribe:
			if subs, ok := h.topics[s.topic]; ok {
				delete(subs, s.ch)
				if len(subs) == 0 {
					delete(h.topics, s.topic)
				}
			}
		case tm := <-h.publish:
			for ch := range h.topics[tm.topic] {
				select {
				case ch <- tm.msg:
				default:
					// 読み取りが追いつかない購読者には送らない
				}
			}
		}
	}
}

// Subscribe は ch を topic の購読者として登録します。ch の所有者は呼び出し側です。
// Hub が停止している場合は false を返します。
func (h *Hub) Subscribe(ctx context.Context, ch chan []byte, topic string) bool {
	select {
	case h.subscribe <- subscription{ch: ch, topic: topic}:
		return true
	case <-h.closed:
	case <-ctx.Done():
	}
	return false
}

func (h *Hub) Unsubscribe(ch chan []byte, topic string) {
	select {
	case h.unsubscribe <- subscription{ch: ch, topic: topic}:
	case <-h.closed:
	}
}

// Publish は msg を topic の購読者に配信するよう予約します。
func (h *Hub) Publish(topic string, msg []byte) {
	select {
	case h.publish <- topicMessage{topic: topic, msg: msg}:
	default:
		slog.Warn("SSEイベントを破棄しました", "topic", topic)
	}
}

func (h *Hub) publishEvent(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		slog.ErrorContext(ctx, "SSEイベントのエンコードに失敗しました", "error", err)
		return
	}
	h.Publish(ev.BatchID, b)
}

func (h *Hub) BatchStarted(context.Context, string, int) {}

func (h *Hub) UnitStarted(context.Context, string, domain.TaskUnit, int) {}

func (h *Hub) WaveStarted(ctx context.Context, batchID string, wave batch.Wave) {
	h.publishEvent(ctx, Event{Type: EventWave, BatchID: batchID, Wave: &wave})
}

func (h *Hub) UnitSettled(ctx context.Context, batchID string, r domain.TaskResult, inFlight int) {
	index := r.Index
	h.publishEvent(ctx, Event{
		Type:     EventSettled,
		BatchID:  batchID,
		Index:    &index,
		Status:   string(r.Status),
		Error:    r.Error,
		InFlight: inFlight,
	})
}

func (h *Hub) BatchFinished(ctx context.Context, batchID string, s batch.Summary) {
	h.publishEvent(ctx, Event{Type: EventFinished, BatchID: batchID, Summary: &s})
}

var _ batch.Observer = (*Hub)(nil)
