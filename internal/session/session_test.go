package session

import (
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"gridmap/internal/cache"
	"gridmap/internal/common"
	"gridmap/internal/grid"
	"gridmap/internal/regions"
)

type fakeCache struct {
	mu        sync.Mutex
	requests  map[grid.RegionHandle][]string
	views     map[grid.RegionHandle]cache.TileView
	listeners []func(grid.RegionHandle)
	onClose   func()
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		requests: make(map[grid.RegionHandle][]string),
		views:    make(map[grid.RegionHandle]cache.TileView),
	}
}

func (c *fakeCache) Request(h grid.RegionHandle, ref string) cache.TileView {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[h] = append(c.requests[h], ref)
	if v, ok := c.views[h]; ok {
		return v
	}
	if ref == "" {
		return cache.TileView{Handle: h, State: cache.Absent}
	}
	return cache.TileView{Handle: h, State: cache.Pending, Ref: ref}
}

func (c *fakeCache) OnInvalidate(fn func(grid.RegionHandle)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *fakeCache) Close() {
	if c.onClose != nil {
		c.onClose()
	}
}

func (c *fakeCache) set(v cache.TileView) {
	c.mu.Lock()
	c.views[v.Handle] = v
	listeners := append([]func(grid.RegionHandle){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(v.Handle)
	}
}

func (c *fakeCache) requested(h grid.RegionHandle) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.requests[h]...)
}

// refSource resolves a ref for every region known to the store
type refSource struct {
	store *regions.Store
}

func (s refSource) Ref(h grid.RegionHandle) string {
	r, ok := s.store.Lookup(h)
	if !ok || !r.HasMapImage() {
		return ""
	}
	return "ref-" + r.ImageID.String()
}

type fakeBlocks struct {
	calls chan common.TileBounds
	err   error
}

func (b *fakeBlocks) RequestBlocks(bounds common.TileBounds) error {
	b.calls <- bounds
	return b.err
}

type fixture struct {
	session *Session
	cache   *fakeCache
	store   *regions.Store
	blocks  *fakeBlocks
}

func newFixture(t *testing.T, self SelfLocator, prefetch bool) *fixture {
	t.Helper()

	v := grid.NewViewport(grid.ViewportConfig{RegionSize: 256, MinZoom: 0.5, MaxZoom: 6, Zoom: 1, Width: 512, Height: 512})
	f := &fixture{
		cache:  newFakeCache(),
		store:  regions.NewStore(),
		blocks: &fakeBlocks{calls: make(chan common.TileBounds, 8)},
	}

	s, err := New(Config{
		Viewport: v,
		Cache:    f.cache,
		Source:   refSource{store: f.store},
		Regions:  f.store,
		Self:     self,
		Blocks:   f.blocks,
		Prefetch: prefetch,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.session = s
	return f
}

func (f *fixture) putRegion(gx, gy uint32, name string) regions.Region {
	r := regions.Region{Handle: grid.PackHandle(gx, gy), Name: name, ImageID: uuid.New(), Access: regions.AccessPG}
	f.store.Put(r)
	return r
}

func TestNew_RequiresCollaborators(t *testing.T) {
	v := grid.NewViewport(grid.DefaultViewportConfig())
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no viewport", Config{Cache: newFakeCache(), Source: refSource{regions.NewStore()}}},
		{"no cache", Config{Viewport: v, Source: refSource{regions.NewStore()}}},
		{"no source", Config{Viewport: v, Cache: newFakeCache()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestFrame_EmptyUntilCentered(t *testing.T) {
	f := newFixture(t, nil, false)
	if items := f.session.Frame(); items != nil {
		t.Errorf("Frame() before centering = %d items, want none", len(items))
	}
	if f.session.Centered() {
		t.Error("Centered() = true before CenterAt")
	}
}

func TestFrame_TilesThenMarkers(t *testing.T) {
	self := SelfLocatorFunc(func() (grid.RegionHandle, float64, float64, bool) {
		return grid.PackHandle(256, 256), 128, 128, true
	})
	f := newFixture(t, self, false)
	f.putRegion(256, 256, "Ahern")
	f.session.CenterAt(grid.GlobalPosition{X: 300, Y: 300})

	if _, known := f.session.SetTargetAtPixel(256, 256); !known {
		t.Fatal("target region should be known")
	}

	items := f.session.Frame()
	if len(items) != 11 {
		t.Fatalf("got %d items, want 9 tiles + self + target", len(items))
	}
	for i, it := range items[:9] {
		if it.Kind != KindTile {
			t.Fatalf("item %d kind = %s, want tile", i, it.Kind)
		}
	}
	if items[0].Handle != grid.PackHandle(0, 0) {
		t.Errorf("first tile = %s, want 0,0", items[0].Handle)
	}

	center := items[4]
	if center.Handle != grid.PackHandle(256, 256) || center.Rect != image.Rect(212, 44, 468, 300) {
		t.Errorf("center tile = %s %v", center.Handle, center.Rect)
	}
	if !center.Current {
		t.Error("center tile should be marked as the current region")
	}
	if center.Label != "Ahern" {
		t.Errorf("center label = %q, want Ahern", center.Label)
	}
	if center.State != cache.Pending {
		t.Errorf("center state = %s, want pending", center.State)
	}
	if items[0].State != cache.Absent {
		t.Errorf("unknown region state = %s, want absent", items[0].State)
	}

	selfItem := items[9]
	if selfItem.Kind != KindSelf {
		t.Fatalf("item 9 kind = %s, want self", selfItem.Kind)
	}
	// (384, 384) in world is 84 px right of and 84 px above the view center
	if c := selfItem.Rect.Min.Add(image.Pt(MarkerSize/2, MarkerSize/2)); c != image.Pt(340, 172) {
		t.Errorf("self marker center = %v, want (340,172)", c)
	}

	target := items[10]
	if target.Kind != KindTarget {
		t.Fatalf("item 10 kind = %s, want target", target.Kind)
	}
	if target.Label != "Ahern (44, 44)" {
		t.Errorf("target label = %q, want %q", target.Label, "Ahern (44, 44)")
	}

	if got := f.cache.requested(grid.PackHandle(0, 0)); len(got) != 1 || got[0] != "" {
		t.Errorf("requests for unknown region = %q, want one empty ref", got)
	}
}

func TestFrame_SelfMarkerOnlyWhenVisible(t *testing.T) {
	self := SelfLocatorFunc(func() (grid.RegionHandle, float64, float64, bool) {
		return grid.PackHandle(256000, 256000), 10, 10, true
	})
	f := newFixture(t, self, false)
	f.session.CenterAt(grid.GlobalPosition{X: 300, Y: 300})

	for _, it := range f.session.Frame() {
		if it.Kind == KindSelf {
			t.Fatal("self marker drawn for a region outside the view")
		}
		if it.Current {
			t.Errorf("%s marked current", it.Handle)
		}
	}
}

func TestFrame_LabelsHiddenWhenZoomedOut(t *testing.T) {
	f := newFixture(t, nil, false)
	f.putRegion(256, 256, "Ahern")
	f.session.CenterAt(grid.GlobalPosition{X: 300, Y: 300})

	if !f.session.SetZoom(3) {
		t.Fatal("SetZoom(3) rejected")
	}
	for _, it := range f.session.Frame() {
		if it.Label != "" {
			t.Errorf("%s has label %q at zoom 3", it.Handle, it.Label)
		}
	}
}

func TestFrame_FailedTileHasNoLabel(t *testing.T) {
	f := newFixture(t, nil, false)
	r := f.putRegion(256, 256, "Ahern")
	f.session.CenterAt(grid.GlobalPosition{X: 300, Y: 300})
	f.cache.set(cache.TileView{Handle: r.Handle, State: cache.Failed, Err: errors.New("boom")})

	for _, it := range f.session.Frame() {
		if it.Handle == r.Handle && it.Label != "" {
			t.Errorf("failed tile label = %q, want none", it.Label)
		}
	}
}

func TestSession_InvalidationRedraws(t *testing.T) {
	f := newFixture(t, nil, false)

	redraws := make(chan struct{}, 4)
	f.session.OnRedraw(func() { redraws <- struct{}{} })

	f.cache.set(cache.TileView{Handle: grid.PackHandle(0, 0), State: cache.Ready})

	select {
	case <-redraws:
	case <-time.After(time.Second):
		t.Fatal("invalidation did not trigger a redraw")
	}
}

func TestSession_Zoom(t *testing.T) {
	f := newFixture(t, nil, false)

	var zooms []float64
	f.session.OnZoomChanged(func(z float64) { zooms = append(zooms, z) })

	tests := []struct {
		name     string
		zoom     float64
		accepted bool
	}{
		{"in range", 2, true},
		{"too far out", 7, false},
		{"too far in", 0.25, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.session.SetZoom(tt.zoom); got != tt.accepted {
				t.Errorf("SetZoom(%v) = %v, want %v", tt.zoom, got, tt.accepted)
			}
		})
	}

	if !f.session.ZoomBy(ZoomStep) {
		t.Error("ZoomBy(step) rejected")
	}
	if len(zooms) != 2 || zooms[0] != 2 || zooms[1] != 2.25 {
		t.Errorf("zoom listener got %v, want [2 2.25]", zooms)
	}
	if got := f.session.View().Zoom; got != 2.25 {
		t.Errorf("zoom = %v, want 2.25", got)
	}
}

func TestSession_Pan(t *testing.T) {
	f := newFixture(t, nil, false)
	f.session.CenterAt(grid.GlobalPosition{X: 1000, Y: 1000})

	redrawn := false
	f.session.OnRedraw(func() { redrawn = true })
	f.session.Pan(10, -20)

	c := f.session.View().Center
	if c.X != 990 || c.Y != 980 {
		t.Errorf("center = %+v, want {990 980}", c)
	}
	if !redrawn {
		t.Error("Pan did not redraw")
	}
}

func TestSession_TargetOnUnknownRegion(t *testing.T) {
	f := newFixture(t, nil, false)
	f.session.CenterAt(grid.GlobalPosition{X: 300, Y: 300})

	fired := 0
	f.session.OnTargetChanged(func(TargetMarker) { fired++ })

	marker, known := f.session.SetTargetAtPixel(256, 256)
	if known {
		t.Error("unknown region reported as known")
	}
	if fired != 0 {
		t.Errorf("target listener fired %d times, want 0", fired)
	}
	if marker.Handle != grid.PackHandle(256, 256) || marker.LocalX != 44 || marker.LocalY != 44 {
		t.Errorf("marker = %+v", marker)
	}
	if marker.Label != "" {
		t.Errorf("label = %q, want none", marker.Label)
	}

	f.putRegion(256, 256, "Ahern")
	if _, known := f.session.SetTargetAtPixel(256, 256); !known || fired != 1 {
		t.Errorf("known = %v fired = %d, want true and 1", known, fired)
	}

	f.session.ClearTarget()
	if _, ok := f.session.Target(); ok {
		t.Error("Target() still set after ClearTarget")
	}
	for _, it := range f.session.Frame() {
		if it.Kind == KindTarget {
			t.Error("target marker drawn after ClearTarget")
		}
	}
}

func TestSession_Prefetch(t *testing.T) {
	tests := []struct {
		name     string
		prefetch bool
		region   regions.Region
		want     bool
	}{
		{"eligible", true, regions.Region{ImageID: uuid.New(), Access: regions.AccessMature}, true},
		{"disabled", false, regions.Region{ImageID: uuid.New(), Access: regions.AccessMature}, false},
		{"no image", true, regions.Region{Access: regions.AccessMature}, false},
		{"nonexistent", true, regions.Region{ImageID: uuid.New(), Access: regions.AccessNonExistent}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, tt.prefetch)
			tt.region.Handle = grid.PackHandle(512000, 512000)
			f.store.Put(tt.region)

			got := len(f.cache.requested(tt.region.Handle)) > 0
			if got != tt.want {
				t.Errorf("prefetched = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_BlockRequests(t *testing.T) {
	f := newFixture(t, nil, false)
	f.session.CenterAt(grid.GlobalPosition{X: 300, Y: 300})

	f.session.Frame()
	f.session.Frame()

	select {
	case b := <-f.blocks.calls:
		want := common.TileBounds{MinCol: 0, MaxCol: 2, MinRow: 0, MaxRow: 2}
		if b != want {
			t.Errorf("bounds = %+v, want %+v", b, want)
		}
	case <-time.After(time.Second):
		t.Fatal("no block request")
	}
	select {
	case b := <-f.blocks.calls:
		t.Errorf("duplicate block request %+v", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_FailedBlockRequestRetried(t *testing.T) {
	f := newFixture(t, nil, false)
	f.blocks.err = errors.New("not connected")
	f.session.CenterAt(grid.GlobalPosition{X: 300, Y: 300})

	f.session.Frame()
	<-f.blocks.calls

	deadline := time.After(time.Second)
	for {
		f.session.Frame()
		select {
		case <-f.blocks.calls:
			return
		case <-deadline:
			t.Fatal("failed block range was never requested again")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type orderedShutdown struct {
	order *[]string
}

func (o orderedShutdown) Shutdown() { *o.order = append(*o.order, "manager") }

func TestSession_CloseOrder(t *testing.T) {
	var order []string
	fc := newFakeCache()
	fc.onClose = func() { order = append(order, "cache") }

	s, err := New(Config{
		Viewport: grid.NewViewport(grid.DefaultViewportConfig()),
		Cache:    fc,
		Source:   refSource{regions.NewStore()},
		Manager:  orderedShutdown{order: &order},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Close()
	s.Close()

	if len(order) != 2 || order[0] != "manager" || order[1] != "cache" {
		t.Errorf("close order = %v, want [manager cache]", order)
	}
}

func TestKind_String(t *testing.T) {
	for k, want := range map[Kind]string{KindTile: "tile", KindSelf: "self", KindTarget: "target"} {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
