package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"epic-issues/internal/config"
	"epic-issues/internal/export"
	"epic-issues/internal/intent"
	"epic-issues/internal/matcher"
	"epic-issues/internal/observability"
	"epic-issues/internal/pending"
	"epic-issues/internal/service"
	"epic-issues/internal/store"
	"epic-issues/internal/tag"
	"epic-issues/pkg/mq"
)

// MaxBodyBytes bounds submission and optimistic request bodies.
const MaxBodyBytes = 1 << 20

// ToastHeader carries the JSON encoded toast of a mutation response.
const ToastHeader = "X-Toast"

type Options struct {
	Config   config.Config
	Exporter *export.Exporter
	Metrics  *observability.Metrics
	// Events is subscribed to by /events clients. Nil disables the route.
	Events mq.Subscriber
	Logger *zap.Logger
}

type Server struct {
	svc      *service.Service
	exporter *export.Exporter
	cfg      config.Config
	metrics  *observability.Metrics
	events   mq.Subscriber
	log      *zap.Logger
	engine   *gin.Engine
}

func New(svc *service.Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics(nil)
	}
	s := &Server{
		svc:      svc,
		exporter: opts.Exporter,
		cfg:      opts.Config,
		metrics:  opts.Metrics,
		events:   opts.Events,
		log:      opts.Logger,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.instrument())

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.GET("/schema", func(c *gin.Context) { c.JSON(http.StatusOK, s.svc.Schema()) })

	issues := r.Group("/issues", limitBody(MaxBodyBytes))
	issues.GET("", s.handleList)
	issues.POST("", s.handleAction)
	issues.POST("/optimistic", s.handleOptimistic)
	issues.GET("/:tag", s.handleDetail)
	issues.POST("/:tag", s.handleIssueAction)
	issues.GET("/:tag/next", s.handleNeighbor(s.svc.Next))
	issues.GET("/:tag/prev", s.handleNeighbor(s.svc.Prev))

	if s.exporter != nil {
		r.GET("/export", s.handleExport)
	}
	if s.events != nil {
		r.GET("/events", s.handleEvents)
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			s.log.Error("request", fields...)
		default:
			s.log.Debug("request", fields...)
		}
	}
}

func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		s.metrics.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		s.metrics.RequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func (s *Server) handleList(c *gin.Context) {
	q := matcher.ParseQuery(c.Request.URL.Query(), s.cfg.DefaultTake)
	page, err := s.svc.List(c.Request.Context(), q, 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type optimisticRequest struct {
	Query    *matcher.Query     `json:"query"`
	Inflight []pending.Inflight `json:"inflight"`
	// Selected and Select are optional; when either is set the response
	// carries the resolved selection.
	Selected []string `json:"selected"`
	Select   string   `json:"select" binding:"omitempty,oneof=page all none"`
}

func (s *Server) handleOptimistic(c *gin.Context) {
	// an absent take keeps the default page size; an explicit 0 lists all
	req := optimisticRequest{Query: &matcher.Query{Take: s.cfg.DefaultTake}}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, bodyError(err))
		return
	}
	q := matcher.Query{Take: s.cfg.DefaultTake}
	if req.Query != nil {
		q = *req.Query
		q.Skip, q.Take = max(q.Skip, 0), max(q.Take, 0)
	}
	v, err := s.svc.Optimistic(c.Request.Context(), q, req.Inflight)
	if err != nil {
		s.fail(c, err)
		return
	}
	if req.Selected != nil || req.Select != "" {
		v.Select(req.Selected, req.Select)
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleAction(c *gin.Context) {
	sub, err := s.decode(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.apply(c, sub, nil)
}

func (s *Server) handleIssueAction(c *gin.Context) {
	t, ok := s.target(c, "")
	if !ok {
		return
	}
	sub, err := s.decode(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.apply(c, sub, &t)
}

func (s *Server) apply(c *gin.Context, sub intent.Submission, t *tag.Tag) {
	res, err := s.svc.Apply(c.Request.Context(), sub, t)
	if res.Toast != nil {
		setToast(c, res.Toast)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	switch sub.Intent() {
	case intent.KindCreate, intent.KindCreateInline, intent.KindCreateSamples:
		status = http.StatusCreated
	}
	if res.Redirect != "" {
		c.Header("Location", res.Redirect)
	}
	c.JSON(status, gin.H{
		"intent":   res.Intent,
		"issue":    res.Issue,
		"created":  res.Created,
		"affected": res.Affected,
		"redirect": res.Redirect,
		// a successful bulk action empties the client's selection
		"clearSelection": sub.Intent() == intent.KindBulkEdit || sub.Intent() == intent.KindBulkDelete,
	})
}

// decode accepts a JSON body or a URL-encoded form.
func (s *Server) decode(c *gin.Context) (intent.Submission, error) {
	dec := s.svc.Decoder()
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, bodyError(err)
		}
		return dec.Decode(raw)
	}
	if err := c.Request.ParseForm(); err != nil {
		return nil, bodyError(err)
	}
	return dec.DecodeForm(c.Request.PostForm)
}

// bodyError keeps oversized bodies distinct from malformed ones.
func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return &intent.ValidationError{Fields: map[string][]string{"body": {err.Error()}}}
}

// target parses the :tag path parameter. A non-canonical tag redirects to
// the canonical path with suffix appended.
func (s *Server) target(c *gin.Context, suffix string) (tag.Tag, bool) {
	t, err := s.svc.Parser().Parse(c.Param("tag"))
	if err == nil {
		return t, true
	}
	var re *tag.RedirectError
	if errors.As(err, &re) {
		loc := "/issues/" + re.Canonical.String() + suffix
		if raw := c.Request.URL.RawQuery; raw != "" {
			loc += "?" + raw
		}
		code := http.StatusFound
		if c.Request.Method != http.MethodGet {
			code = http.StatusPermanentRedirect
		}
		c.Redirect(code, loc)
		return tag.Tag{}, false
	}
	s.fail(c, err)
	return tag.Tag{}, false
}

func (s *Server) handleDetail(c *gin.Context) {
	t, ok := s.target(c, "")
	if !ok {
		return
	}
	it, err := s.svc.Get(c.Request.Context(), t)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (s *Server) handleNeighbor(step func(context.Context, tag.Tag) (tag.Tag, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		suffix := c.FullPath()[strings.LastIndex(c.FullPath(), "/"):]
		t, ok := s.target(c, suffix)
		if !ok {
			return
		}
		n, err := step(c.Request.Context(), t)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Redirect(http.StatusFound, "/issues/"+n.String())
	}
}

func (s *Server) handleExport(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "json"))
	switch format {
	case "json", "csv", "pdf":
	default:
		s.fail(c, &intent.ValidationError{Fields: map[string][]string{"format": {"format must be json, csv or pdf"}}})
		return
	}
	q := matcher.ParseQuery(c.Request.URL.Query(), 0)
	b, err := s.exporter.Export(c.Request.Context(), format, q.Filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=issues.%s", format))
	c.Data(http.StatusOK, export.ContentType(format), b)
}

// fail maps err onto a status code and a JSON error body.
func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	var ve *intent.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": ve.Fields})
	case errors.Is(err, tag.ErrInvalidIdentifier):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, tag.ErrUnknownProject), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrMutationRejected):
		if c.Writer.Header().Get(ToastHeader) == "" {
			setToast(c, &service.Toast{Type: "error", Description: "Something went wrong"})
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": service.ErrMutationRejected.Error()})
	default:
		s.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func setToast(c *gin.Context, t *service.Toast) {
	b, err := json.Marshal(t)
	if err != nil {
		return
	}
	c.Header(ToastHeader, string(b))
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEvents streams service events to a websocket client until either
// side goes away.
func (s *Server) handleEvents(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	out := make(chan []byte, 16)
	cancel, err := s.events.Subscribe(service.EventsTopic, func(b []byte) error {
		select {
		case out <- b:
		default:
			s.log.Warn("dropping event for slow websocket client")
		}
		return nil
	})
	if err != nil {
		s.log.Error("subscribe events", zap.Error(err))
		return
	}
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Debug("websocket client connected", zap.String("remote", c.Request.RemoteAddr))
	for {
		select {
		case <-closed:
			s.log.Debug("websocket client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		case b := <-out:
			if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
