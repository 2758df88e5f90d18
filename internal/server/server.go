// Package server は Studio の操作を HTTP API として公開します。
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/batch"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/generator"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/imgutil"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/pricing"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/refstore"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/studio"
)

// Server は HTTP ハンドラ群です。
type Server struct {
	studio    *studio.Studio
	hub       *Hub
	gatherer  prometheus.Gatherer
	maxUpload int64
	engine    *gin.Engine

	// finishGrace はバッチ終了後に finished イベントを待つ時間です。
	finishGrace time.Duration
}

const defaultFinishGrace = 2 * time.Second

// New はルーティング済みの Server を生成します。maxUpload はファイル1件あたりの上限です。
func New(st *studio.Studio, hub *Hub, gatherer prometheus.Gatherer, maxUpload int64) *Server {
	s := &Server{
		studio:    st,
		hub:       hub,
		gatherer:  gatherer,
		maxUpload: maxUpload,

		finishGrace: defaultFinishGrace,
	}
	s.engine = s.routes()
	return s
}

// Handler は http.Server に渡すハンドラです。
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.MaxMultipartMemory = 4 * s.maxUpload

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	{
		api.GET("/settings", s.getSettings)
		api.PUT("/settings", s.putSettings)
		api.POST("/settings/verify", s.verifyCredential)

		api.GET("/references", s.listReferences)
		api.POST("/references", s.uploadReferences)
		api.DELETE("/references", s.resetReferences)
		api.POST("/references/url", s.addReferenceURL)
		api.DELETE("/references/:id", s.removeReference)

		api.GET("/styles", s.listStyles)
		api.POST("/prompts", s.draftPrompts)
		api.POST("/quote", s.quote)

		api.POST("/batches", s.submitBatch)
		api.GET("/batches/current", s.currentBatch)
		api.DELETE("/batches/current", s.cancelBatch)
		api.GET("/batches/current/events", s.streamEvents)
		api.GET("/batches/current/results/:index/image", s.resultImage)

		api.POST("/listings", s.draftListing)
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		slog.DebugContext(c.Request.Context(), "HTTPリクエスト",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status())
	}
}

// writeError はエラーの種類を HTTP ステータスに対応付けて返します。
func writeError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, generator.ErrMissingCredential):
		status = http.StatusPreconditionFailed
	case errors.Is(err, studio.ErrNoPrompts),
		errors.Is(err, studio.ErrUnsupported),
		errors.Is(err, studio.ErrCountOutOfRange),
		errors.Is(err, generator.ErrInvalidCount),
		errors.Is(err, generator.ErrEmptyPrompt),
		errors.Is(err, generator.ErrUnknownStyle),
		errors.Is(err, batch.ErrInvalidBatch),
		errors.Is(err, refstore.ErrUnsafeURL),
		errors.Is(err, imgutil.ErrDecode):
		status = http.StatusBadRequest
	case errors.Is(err, studio.ErrNoBatch):
		status = http.StatusNotFound
	case errors.Is(err, refstore.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, refstore.ErrNoFetcher):
		status = http.StatusNotImplemented
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "リクエストの処理に失敗しました", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// --- settings ---

type settingsView struct {
	HasAPIKey    bool   `json:"has_api_key"`
	BrandContext string `json:"brand_context"`
}

type settingsUpdate struct {
	APIKey       *string `json:"api_key"`
	BrandContext *string `json:"brand_context"`
}

func (s *Server) settingsView() (settingsView, error) {
	key, err := s.studio.Settings().APIKey()
	if err != nil {
		return settingsView{}, err
	}
	brand, err := s.studio.Settings().BrandContext()
	if err != nil {
		return settingsView{}, err
	}
	return settingsView{HasAPIKey: key != "", BrandContext: brand}, nil
}

func (s *Server) getSettings(c *gin.Context) {
	v, err := s.settingsView()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) putSettings(c *gin.Context) {
	var req settingsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	st := s.studio.Settings()
	if req.APIKey != nil {
		if err := st.SetAPIKey(*req.APIKey); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if req.BrandContext != nil {
		if err := st.SetBrandContext(*req.BrandContext); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	s.getSettings(c)
}

func (s *Server) verifyCredential(c *gin.Context) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	err := s.studio.VerifyCredential(c.Request.Context(), req.APIKey)
	switch {
	case errors.Is(err, generator.ErrMissingCredential):
		writeError(c, err)
	case err != nil:
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"valid": true})
	}
}

// --- references ---

func (s *Server) listReferences(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"references": s.studio.References().Snapshot()})
}

func (s *Server) uploadReferences(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		badRequest(c, "no files")
		return
	}

	uploads := make([]refstore.Upload, 0, len(files))
	for _, fh := range files {
		data, err := s.readFile(fh)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		uploads = append(uploads, refstore.Upload{Name: fh.Filename, Data: data})
	}

	report := s.studio.References().Add(c.Request.Context(), uploads...)
	c.JSON(http.StatusOK, report)
}

// readFile は上限を1バイト超えるところまでだけ読み込みます。上限超過の判定は refstore が行います。
func (s *Server) readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, s.maxUpload+1))
}

func (s *Server) resetReferences(c *gin.Context) {
	s.studio.References().Reset()
	c.Status(http.StatusNoContent)
}

func (s *Server) addReferenceURL(c *gin.Context) {
	var req struct {
		URL string `json:"url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		badRequest(c, "url is required")
		return
	}
	ref, err := s.studio.References().AddFromURL(c.Request.Context(), strings.TrimSpace(req.URL))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ref)
}

func (s *Server) removeReference(c *gin.Context) {
	if !s.studio.References().Remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "reference not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// --- prompts / quote ---

type draftPromptsRequest struct {
	ProductContext   *string  `json:"product_context"`
	StyleDirectives  string   `json:"style_directives"`
	Styles           []string `json:"styles"`
	BrandContext     string   `json:"brand_context"`
	Instruction      string   `json:"instruction"`
	PreserveIdentity bool     `json:"preserve_identity"`
	Count            int      `json:"count"`
}

func (s *Server) listStyles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"styles": generator.StylePresets})
}

func (s *Server) draftPrompts(c *gin.Context) {
	var req draftPromptsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	prompts, err := s.studio.DraftPrompts(c.Request.Context(), domain.PromptDraftRequest{
		ProductContext:   req.ProductContext,
		StyleDirectives:  req.StyleDirectives,
		Styles:           req.Styles,
		BrandContext:     req.BrandContext,
		Instruction:      req.Instruction,
		PreserveIdentity: req.PreserveIdentity,
		Count:            req.Count,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompts": prompts})
}

type quoteView struct {
	Total       string        `json:"total"`
	TotalMicros pricing.Price `json:"total_micros"`
	Images      int           `json:"images"`
	Unavailable []int         `json:"unavailable,omitempty"`
}

func (s *Server) quote(c *gin.Context) {
	var req struct {
		Lines []domain.PromptLine `json:"lines"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	q, err := s.studio.Quote(req.Lines)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quoteView{
		Total:       pricing.Format(q.Total, len(q.Unavailable) == 0),
		TotalMicros: q.Total,
		Images:      q.Images,
		Unavailable: q.Unavailable,
	})
}

// --- batches ---

func (s *Server) submitBatch(c *gin.Context) {
	var req studio.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	b, err := s.studio.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, b.View())
}

func (s *Server) currentBatch(c *gin.Context) {
	b, err := s.studio.Current()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b.View())
}

func (s *Server) cancelBatch(c *gin.Context) {
	if err := s.studio.Cancel(); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) resultImage(c *gin.Context) {
	b, err := s.studio.Current()
	if err != nil {
		writeError(c, err)
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		badRequest(c, "index must be an integer")
		return
	}
	r, ok := b.Projection().Get(index)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such result"})
		return
	}
	if r.Status != domain.StatusSucceeded || r.Payload == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "result is not available", "status": r.Status})
		return
	}
	c.Data(http.StatusOK, r.Payload.MimeType, r.Payload.Data)
}

// streamEvents は現在のバッチのスナップショットを送り、以降の進行イベントを SSE で配信します。
// バッチが終了すると最終スナップショットを送って接続を閉じます。
func (s *Server) streamEvents(c *gin.Context) {
	b, err := s.studio.Current()
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	msgCh := make(chan []byte, 64)
	if !s.hub.Subscribe(ctx, msgCh, b.ID()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event hub is not running"})
		return
	}
	defer s.hub.Unsubscribe(msgCh, b.ID())

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	finished := b.Finished()
	select {
	case <-finished:
		// 終了済みのバッチはスナップショット1件で完結する
		c.SSEvent("snapshot", b.View())
		c.Writer.Flush()
		return
	default:
	}
	c.SSEvent("snapshot", b.View())
	c.Writer.Flush()

	var grace <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgCh:
			c.SSEvent("progress", string(msg))
			c.Writer.Flush()
			if isFinishedEvent(msg) {
				c.SSEvent("snapshot", b.View())
				c.Writer.Flush()
				return
			}
		case <-finished:
			// finished イベントが捨てられた場合に備えて少しだけ待つ
			finished = nil
			grace = time.After(s.finishGrace)
		case <-grace:
			slog.WarnContext(ctx, "finished イベントを受信できませんでした", "batch_id", b.ID())
			c.SSEvent("snapshot", b.View())
			c.Writer.Flush()
			return
		}
	}
}

func isFinishedEvent(msg []byte) bool {
	var ev struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(msg, &ev) == nil && ev.Type == EventFinished
}

// --- listings ---

func (s *Server) draftListing(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		badRequest(c, "image is required")
		return
	}
	data, err := s.readFile(fh)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if int64(len(data)) > s.maxUpload {
		writeError(c, refstore.ErrTooLarge)
		return
	}

	listing, err := s.studio.DraftListing(c.Request.Context(), data, c.PostForm("context"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}
