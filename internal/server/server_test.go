package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/batch"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/generator"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/refstore"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/settings"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/studio"
)

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) multipart(t *testing.T, path string, files map[string][]byte, field string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	buf := new(bytes.Buffer)
	mw := multipart.NewWriter(buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) waitCurrent(t *testing.T) *studio.Batch {
	t.Helper()
	b, err := e.studio.Current()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = b.Wait(ctx)
	require.NoError(t, ctx.Err(), "batch did not finish")
	return b
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t, "")

	w := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "studio_tasks_in_flight")
}

func TestSettingsAPI(t *testing.T) {
	e := newTestEnv(t, "")

	v := decode[settingsView](t, e.do(t, http.MethodGet, "/api/settings", nil))
	assert.False(t, v.HasAPIKey)

	w := e.do(t, http.MethodPut, "/api/settings", map[string]string{"api_key": " k ", "brand_context": "earthy"})
	require.Equal(t, http.StatusOK, w.Code)
	v = decode[settingsView](t, w)
	assert.True(t, v.HasAPIKey)
	assert.Equal(t, "earthy", v.BrandContext)

	key, err := e.settings.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "k", key, "API キーそのものは返さない")
	assert.NotContains(t, w.Body.String(), `"k"`)

	t.Run("検証成功", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/settings/verify", map[string]string{"api_key": "good"})
		assert.Equal(t, http.StatusOK, w.Code)
	})
	t.Run("検証失敗は 401", func(t *testing.T) {
		e.model.pingErr = assert.AnError
		defer func() { e.model.pingErr = nil }()
		w := e.do(t, http.MethodPost, "/api/settings/verify", map[string]string{"api_key": "bad"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
	t.Run("空のキーは 412", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/settings/verify", map[string]string{"api_key": ""})
		assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	})
}

func TestReferencesAPI(t *testing.T) {
	e := newTestEnv(t, "")

	w := e.multipart(t, "/api/references", map[string][]byte{
		"mug.png":  pngData(t, 40, 20),
		"note.txt": []byte("hello"),
	}, "files", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report struct {
		Accepted []struct {
			ID    string `json:"id"`
			Width int    `json:"width"`
		} `json:"accepted"`
		Skipped []struct {
			Name string `json:"name"`
		} `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Accepted, 1)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "note.txt", report.Skipped[0].Name)
	assert.Equal(t, 40, report.Accepted[0].Width)

	w = e.do(t, http.MethodGet, "/api/references", nil)
	assert.Contains(t, w.Body.String(), report.Accepted[0].ID)

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/api/references/"+report.Accepted[0].ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/references/"+report.Accepted[0].ID, nil).Code)

	t.Run("ファイルなしは 400", func(t *testing.T) {
		w := e.multipart(t, "/api/references", nil, "files", map[string]string{"x": "y"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Fetcher 未設定の URL 追加は 501", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/references/url", map[string]string{"url": "https://8.8.8.8/a.png"})
		assert.Equal(t, http.StatusNotImplemented, w.Code)
		w = e.do(t, http.MethodPost, "/api/references/url", map[string]string{"url": " "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/api/references", nil).Code)
}

func TestQuoteAPI(t *testing.T) {
	e := newTestEnv(t, "")

	q := decode[quoteView](t, e.do(t, http.MethodPost, "/api/quote", map[string]any{
		"lines": []map[string]any{{"prompt": "mug", "count": 3}},
	}))
	assert.Equal(t, "$0.117", q.Total)
	assert.Equal(t, 3, q.Images)

	q = decode[quoteView](t, e.do(t, http.MethodPost, "/api/quote", map[string]any{
		"lines": []map[string]any{{"prompt": "mug", "resolution": "4k"}},
	}))
	assert.Equal(t, "N/A", q.Total)
	assert.Equal(t, []int{0}, q.Unavailable)

	t.Run("1行の枚数が上限を超えると 400", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/quote", map[string]any{
			"lines": []map[string]any{{"prompt": "mug", "count": 3_000_000}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "out of range")
	})

	t.Run("モデル名と大文字の解像度を受け付ける", func(t *testing.T) {
		q := decode[quoteView](t, e.do(t, http.MethodPost, "/api/quote", map[string]any{
			"lines": []map[string]any{{"prompt": "mug", "model": "gemini-3-pro-image-preview", "resolution": "2K"}},
		}))
		assert.Equal(t, "$0.134", q.Total)
		assert.Empty(t, q.Unavailable)
	})

	t.Run("未知のモデルは 400", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/quote", map[string]any{
			"lines": []map[string]any{{"prompt": "mug", "model": "dall-e"}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPromptsAPI(t *testing.T) {
	e := newTestEnv(t, "key")
	e.model.reply = "A mug on a rustic oak table\nA mug by a rainy window"

	w := e.do(t, http.MethodPost, "/api/prompts", map[string]any{"count": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[struct {
		Prompts []string `json:"prompts"`
	}](t, w)
	assert.Len(t, got.Prompts, 2)

	w = e.do(t, http.MethodPost, "/api/prompts", map[string]any{"count": 13})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	t.Run("スタイルプリセットを指定できる", func(t *testing.T) {
		styles := decode[struct {
			Styles []generator.StylePreset `json:"styles"`
		}](t, e.do(t, http.MethodGet, "/api/styles", nil))
		require.NotEmpty(t, styles.Styles)
		assert.Equal(t, "premium_luxury", styles.Styles[0].ID)

		w := e.do(t, http.MethodPost, "/api/prompts", map[string]any{"count": 2, "styles": []string{"japandi", "natural_wood"}})
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = e.do(t, http.MethodPost, "/api/prompts", map[string]any{"count": 2, "styles": []string{"vaporwave"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBatchesAPI(t *testing.T) {
	t.Run("API キーがなければ 412", func(t *testing.T) {
		e := newTestEnv(t, "")
		w := e.do(t, http.MethodPost, "/api/batches", map[string]any{"lines": []map[string]any{{"prompt": "mug"}}})
		assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	})

	t.Run("バッチがなければ 404", func(t *testing.T) {
		e := newTestEnv(t, "key")
		assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/batches/current", nil).Code)
		assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/batches/current", nil).Code)
		assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/batches/current/events", nil).Code)
	})

	t.Run("未対応の組み合わせは 400", func(t *testing.T) {
		e := newTestEnv(t, "key")
		w := e.do(t, http.MethodPost, "/api/batches", map[string]any{"lines": []map[string]any{{"prompt": "mug", "model": "fast", "resolution": "4k"}}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("1行の枚数が上限を超えると 400 でバッチは作られない", func(t *testing.T) {
		e := newTestEnv(t, "key")
		w := e.do(t, http.MethodPost, "/api/batches", map[string]any{"lines": []map[string]any{{"prompt": "mug", "count": 3_000_000}}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/batches/current", nil).Code)
	})

	t.Run("モデル名と大文字の解像度で投入できる", func(t *testing.T) {
		e := newTestEnv(t, "key")
		w := e.do(t, http.MethodPost, "/api/batches", map[string]any{"lines": []map[string]any{
			{"prompt": "mug", "model": "gemini-3-pro-image-preview", "resolution": "2K"},
		}})
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		b := e.waitCurrent(t)
		require.Len(t, b.Units(), 1)
		assert.Equal(t, domain.ModelPremium, b.Units()[0].Model)
		assert.Equal(t, domain.Resolution2K, b.Units()[0].Resolution)
		assert.Equal(t, 1, e.model.callCount(domain.GeminiImageModelPro))
	})

	t.Run("投入から結果画像の取得まで", func(t *testing.T) {
		e := newTestEnv(t, "key")
		w := e.do(t, http.MethodPost, "/api/batches", map[string]any{
			"lines": []map[string]any{
				{"prompt": "mug on oak", "count": 2},
				{"prompt": "mug that will fail"},
			},
		})
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		e.waitCurrent(t)

		v := decode[studio.View](t, e.do(t, http.MethodGet, "/api/batches/current", nil))
		assert.True(t, v.Done)
		assert.Equal(t, 2, v.Counts.Succeeded)
		assert.Equal(t, 1, v.Counts.Failed)
		require.Len(t, v.Results, 3)
		assert.Contains(t, v.Results[2].Error, "quota exceeded")

		img := e.do(t, http.MethodGet, "/api/batches/current/results/0/image", nil)
		assert.Equal(t, http.StatusOK, img.Code)
		assert.Equal(t, "image/png", img.Header().Get("Content-Type"))
		assert.Equal(t, "generated", img.Body.String())

		assert.Equal(t, http.StatusConflict, e.do(t, http.MethodGet, "/api/batches/current/results/2/image", nil).Code)
		assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/batches/current/results/9/image", nil).Code)
		assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/batches/current/results/x/image", nil).Code)

		events := e.do(t, http.MethodGet, "/api/batches/current/events", nil)
		assert.Equal(t, http.StatusOK, events.Code)
		assert.Contains(t, events.Body.String(), "event:snapshot")
		assert.Contains(t, events.Body.String(), `"done":true`)
	})
}

func TestBatchEvents_Stream(t *testing.T) {
	e := newTestEnv(t, "key")
	e.model.gate = make(chan struct{})

	ts := httptest.NewServer(e.server.Handler())
	defer ts.Close()

	w := e.do(t, http.MethodPost, "/api/batches", map[string]any{"lines": []map[string]any{{"prompt": "mug on oak", "count": 3}}})
	require.Equal(t, http.StatusAccepted, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/batches/current/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var (
		snapshots int
		settled   int
		finished  bool
		released  bool
	)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "event:snapshot" {
			snapshots++
			if !released {
				// 購読開始後に生成を進める
				close(e.model.gate)
				released = true
			}
		}
		if strings.HasPrefix(line, "data:") && strings.Contains(line, `"type":"settled"`) {
			settled++
		}
		if strings.HasPrefix(line, "data:") && strings.Contains(line, `"type":"finished"`) {
			assert.Equal(t, 3, settled, "finished より前に全件の settled が届く")
			finished = true
		}
	}

	assert.Equal(t, 2, snapshots, "開始時と終了時のスナップショット")
	assert.Equal(t, 3, settled)
	assert.True(t, finished)
	assert.True(t, e.waitCurrent(t).View().Done)
}

func TestBatchEvents_FinishGrace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	// Hub を Observer に登録しないので finished イベントは届かない
	sched, err := batch.NewScheduler(2)
	require.NoError(t, err)
	model := &fakeModel{gate: make(chan struct{})}
	st := settings.New(settings.NewMemoryStore())
	require.NoError(t, st.SetAPIKey("key"))
	factory := func(context.Context, string) (generator.Model, error) { return model, nil }
	s := studio.New(st, refstore.New(), sched, factory)
	srv := New(s, hub, prometheus.NewRegistry(), 1<<20)
	srv.finishGrace = 50 * time.Millisecond

	b, err := s.Submit(ctx, studio.SubmitRequest{Lines: []domain.PromptLine{{Prompt: "mug", Count: 2}}})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ts.URL+"/api/batches/current/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var snapshots []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "event:snapshot" && len(snapshots) == 0 {
			close(model.gate)
		}
		if strings.HasPrefix(line, "data:") {
			snapshots = append(snapshots, line)
		}
	}

	require.NoError(t, reqCtx.Err(), "猶予時間の経過後にストリームが閉じる")
	require.Len(t, snapshots, 2)
	assert.Contains(t, snapshots[1], `"done":true`)
	<-b.Finished()
}

func TestCancelAPI(t *testing.T) {
	e := newTestEnv(t, "key")
	e.model.gate = make(chan struct{})

	w := e.do(t, http.MethodPost, "/api/batches", map[string]any{"lines": []map[string]any{
		{"prompt": "mug", "count": 3},
		{"prompt": "mug on oak", "count": 2},
	}})
	require.Equal(t, http.StatusAccepted, w.Code)

	assert.Equal(t, http.StatusAccepted, e.do(t, http.MethodDelete, "/api/batches/current", nil).Code)
	close(e.model.gate)

	b := e.waitCurrent(t)
	v := b.View()
	assert.True(t, v.Done)
	assert.NotEmpty(t, v.Error)
	assert.Equal(t, 0, v.Counts.Pending)
	assert.Equal(t, 5, v.Counts.Succeeded+v.Counts.Failed)
}

func TestListingsAPI(t *testing.T) {
	e := newTestEnv(t, "key")
	e.model.reply = `{"title":"Oak Mug","description":"Story","tags":"oak, mug","category":"Kitchen"}`

	w := e.multipart(t, "/api/listings", map[string][]byte{"mug.png": pngData(t, 30, 30)}, "image", map[string]string{"context": "oak and walnut"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var l struct {
		Title string   `json:"title"`
		Tags  []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &l))
	assert.Equal(t, "Oak Mug", l.Title)
	assert.Equal(t, []string{"oak", "mug"}, l.Tags)

	t.Run("画像でないファイルは 400", func(t *testing.T) {
		w := e.multipart(t, "/api/listings", map[string][]byte{"a.txt": []byte("text")}, "image", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("画像なしは 400", func(t *testing.T) {
		w := e.multipart(t, "/api/listings", nil, "image", map[string]string{"context": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
