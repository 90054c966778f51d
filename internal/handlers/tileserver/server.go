package tileserver

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb/geojson"

	"gridmap/internal/cache"
	"gridmap/internal/grid"
	"gridmap/internal/imagery"
	"gridmap/internal/session"
)

// MaxFrameEdge bounds the frame size a client can ask for, in pixels
const MaxFrameEdge = 4096

// MapSession is the part of a map session the server drives
type MapSession interface {
	Frame() []session.DrawItem
	View() grid.ViewState
	Resize(width, height int)
	CenterAt(pos grid.GlobalPosition)
	Centered() bool
	SetZoom(zoom float64) bool
	ZoomLimits() (min, max float64)
	SetTargetAtPixel(px, py float64) (session.TargetMarker, bool)
	Target() (session.TargetMarker, bool)
	ClearTarget()
}

// TileStore reads tiles without requesting them and retries failed ones
type TileStore interface {
	Peek(h grid.RegionHandle) cache.TileView
	Retry(h grid.RegionHandle) bool
}

// StatsFunc reports counters for /stats
type StatsFunc func() map[string]interface{}

// Options configures a Server
type Options struct {
	DevMode bool

	// EncodedTiles bounds the PNG-encoded tiles kept for /tiles
	EncodedTiles int
}

// Server exposes a map session over local HTTP
type Server struct {
	session MapSession
	tiles   TileStore
	stats   StatsFunc
	devMode bool

	// encoded PNGs keyed by handle and ref
	encoded *lru.Cache[string, []byte]

	router  *gin.Engine
	httpSrv *http.Server
	url     string
}

// NewServer creates a tile server. stats may be nil.
func NewServer(s MapSession, tiles TileStore, stats StatsFunc, opts Options) (*Server, error) {
	if !opts.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.EncodedTiles <= 0 {
		opts.EncodedTiles = cache.DefaultEncodedTiles
	}

	encoded, err := lru.New[string, []byte](opts.EncodedTiles)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile encode cache: %w", err)
	}

	srv := &Server{
		session: s,
		tiles:   tiles,
		stats:   stats,
		devMode: opts.DevMode,
		encoded: encoded,
	}
	srv.router = srv.routes()
	return srv, nil
}

// Handler returns the HTTP handler, e.g. for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// URL returns the base URL once Start has run
func (s *Server) URL() string {
	return s.url
}

// corsMiddleware allows any local page to read frames and tiles
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware())
	if s.devMode {
		r.Use(gin.Logger())
	}

	r.GET("/frame", s.handleFrame)
	r.GET("/frame.png", s.handleFramePNG)
	r.GET("/frame.geojson", s.handleFrameGeoJSON)
	r.GET("/tiles/:handle", s.handleTile)
	r.POST("/tiles/:handle/retry", s.handleRetryTile)
	r.GET("/view", s.handleGetView)
	r.POST("/view", s.handleSetView)
	r.GET("/target", s.handleGetTarget)
	r.POST("/target", s.handleSetTarget)
	r.DELETE("/target", s.handleClearTarget)
	r.GET("/stats", s.handleStats)
	return r
}

// resize applies optional width and height query parameters
func (s *Server) resize(c *gin.Context) bool {
	ws, hs := c.Query("width"), c.Query("height")
	if ws == "" && hs == "" {
		return true
	}
	w, errW := strconv.Atoi(ws)
	h, errH := strconv.Atoi(hs)
	if errW != nil || errH != nil || w <= 0 || h <= 0 || w > MaxFrameEdge || h > MaxFrameEdge {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("width and height must be between 1 and %d", MaxFrameEdge)})
		return false
	}
	s.session.Resize(w, h)
	return true
}

func (s *Server) handleFrame(c *gin.Context) {
	if !s.resize(c) {
		return
	}
	items := s.session.Frame()
	if items == nil {
		items = []session.DrawItem{}
	}
	c.JSON(http.StatusOK, gin.H{
		"view":     s.session.View(),
		"centered": s.session.Centered(),
		"items":    items,
	})
}

func (s *Server) handleFramePNG(c *gin.Context) {
	if !s.resize(c) {
		return
	}
	view := s.session.View()
	img := imagery.Compose(view.Width, view.Height, s.session.Frame(), imagery.DefaultComposeOptions())

	var buf bytes.Buffer
	if err := imagery.Encode(&buf, img, imagery.FormatPNG); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// handleFrameGeoJSON returns the visible regions as world-space polygons and
// the markers as points
func (s *Server) handleFrameGeoJSON(c *gin.Context) {
	if !s.resize(c) {
		return
	}
	view := s.session.View()

	fc := geojson.NewFeatureCollection()
	for _, item := range s.session.Frame() {
		var f *geojson.Feature
		if item.Kind == session.KindTile {
			f = geojson.NewFeature(item.Handle.Bound(view.RegionSize).ToPolygon())
			f.Properties = geojson.Properties{
				"handle": item.Handle.String(),
				"state":  item.State.String(),
			}
		} else {
			center := item.Rect.Min.Add(item.Rect.Max).Div(2)
			f = geojson.NewFeature(view.PixelToWorld(float64(center.X), float64(center.Y)).Point())
			f.Properties = geojson.Properties{
				"handle": item.Handle.String(),
			}
		}
		f.Properties["kind"] = item.Kind.String()
		if item.Label != "" {
			f.Properties["label"] = item.Label
		}
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/geo+json", data)
}

func (s *Server) handleTile(c *gin.Context) {
	h, err := grid.ParseHandle(c.Param("handle"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view := s.tiles.Peek(h)
	if view.State != cache.Ready || view.Image == nil {
		c.JSON(http.StatusNotFound, gin.H{"handle": h, "state": view.State})
		return
	}

	key := h.String() + "|" + view.Ref
	data, ok := s.encoded.Get(key)
	if !ok {
		var buf bytes.Buffer
		if err := imagery.Encode(&buf, view.Image, imagery.FormatPNG); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		data = buf.Bytes()
		s.encoded.Add(key, data)
	}
	c.Header("Cache-Control", "max-age=300")
	c.Data(http.StatusOK, "image/png", data)
}

// handleRetryTile starts a new download for a failed tile
func (s *Server) handleRetryTile(c *gin.Context) {
	h, err := grid.ParseHandle(c.Param("handle"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.tiles.Retry(h) {
		view := s.tiles.Peek(h)
		c.JSON(http.StatusConflict, gin.H{"handle": h, "state": view.State, "error": "only failed tiles can be retried"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"handle": h, "state": s.tiles.Peek(h).State})
}

func (s *Server) handleGetView(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.View())
}

type viewRequest struct {
	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`
	Zoom *float64 `json:"zoom"`
}

func (s *Server) handleSetView(c *gin.Context) {
	var req viewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (req.X == nil) != (req.Y == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "x and y must be given together"})
		return
	}

	if req.Zoom != nil && !s.session.SetZoom(*req.Zoom) {
		min, max := s.session.ZoomLimits()
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("zoom %g outside %g..%g", *req.Zoom, min, max)})
		return
	}
	if req.X != nil {
		s.session.CenterAt(grid.GlobalPosition{X: *req.X, Y: *req.Y})
	}
	c.JSON(http.StatusOK, s.session.View())
}

func (s *Server) handleGetTarget(c *gin.Context) {
	t, ok := s.session.Target()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no target set"})
		return
	}
	c.JSON(http.StatusOK, t)
}

type targetRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s *Server) handleSetTarget(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	marker, known := s.session.SetTargetAtPixel(req.X, req.Y)
	c.JSON(http.StatusOK, gin.H{"target": marker, "known": known})
}

func (s *Server) handleClearTarget(c *gin.Context) {
	s.session.ClearTarget()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStats(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.stats())
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves in the background
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start tile server: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	s.url = fmt.Sprintf("http://127.0.0.1:%d", port)
	log.Printf("[TileServer] Listening on %s", s.url)

	s.httpSrv = &http.Server{Handler: s.router}
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[TileServer] Stopped: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting for open requests until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
