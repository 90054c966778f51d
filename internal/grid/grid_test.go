package grid

import (
	"math"
	"testing"
)

func TestHandle_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		gx, gy uint32
	}{
		{"origin", 0, 0},
		{"typical", 256000, 256512},
		{"x only", 1 << 20, 0},
		{"y only", 0, 1 << 20},
		{"max", math.MaxUint32, math.MaxUint32},
		{"asymmetric", 1, math.MaxUint32 - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := PackHandle(tt.gx, tt.gy)
			gx, gy := h.Grid()
			if gx != tt.gx || gy != tt.gy {
				t.Errorf("Grid() = (%d, %d), want (%d, %d)", gx, gy, tt.gx, tt.gy)
			}
			if uint64(h) != uint64(tt.gx)<<32|uint64(tt.gy) {
				t.Errorf("handle = %#x, want gx<<32|gy", uint64(h))
			}
		})
	}
}

func TestHandle_Index(t *testing.T) {
	h := HandleFromIndex(1000, 1001, 256)
	gx, gy := h.Grid()
	if gx != 256000 || gy != 256256 {
		t.Errorf("Grid() = (%d, %d), want (256000, 256256)", gx, gy)
	}
	ix, iy := h.Index(256)
	if ix != 1000 || iy != 1001 {
		t.Errorf("Index() = (%d, %d), want (1000, 1001)", ix, iy)
	}
}

func TestGlobalToRegionHandle(t *testing.T) {
	tests := []struct {
		name           string
		x, y           float64
		wantGX, wantGY uint32
		wantLX, wantLY float64
	}{
		{"inside first region", 10, 20, 0, 0, 10, 20},
		{"on boundary", 256, 512, 256, 512, 0, 0},
		{"typical", 256000 + 128.5, 256000 + 3.25, 256000, 256000, 128.5, 3.25},
		{"just below boundary", 255.999, 511.5, 0, 256, 255.999, 255.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, lx, ly := GlobalToRegionHandle(tt.x, tt.y, 256)
			gx, gy := h.Grid()
			if gx != tt.wantGX || gy != tt.wantGY {
				t.Errorf("grid = (%d, %d), want (%d, %d)", gx, gy, tt.wantGX, tt.wantGY)
			}
			if math.Abs(lx-tt.wantLX) > 1e-9 || math.Abs(ly-tt.wantLY) > 1e-9 {
				t.Errorf("local = (%v, %v), want (%v, %v)", lx, ly, tt.wantLX, tt.wantLY)
			}
		})
	}
}

func TestGlobalToRegionHandle_FloorLaw(t *testing.T) {
	inputs := []float64{
		-1e-20, -0.5, -1, -255.5, -256, -256.25, -1e6 - 0.125,
		0, 0.25, 255.75, 256, 1e9 + 0.5, -3.999e7,
	}
	for _, x := range inputs {
		for _, y := range inputs {
			_, lx, ly := GlobalToRegionHandle(x, y, 256)
			if lx < 0 || lx >= 256 {
				t.Errorf("x=%v: localX = %v, want in [0, 256)", x, lx)
			}
			if ly < 0 || ly >= 256 {
				t.Errorf("y=%v: localY = %v, want in [0, 256)", y, ly)
			}
		}
	}
}

func TestGlobalToRegionHandle_NegativeFloors(t *testing.T) {
	// truncation would put -10 into region 0 with local -10
	_, lx, _ := GlobalToRegionHandle(-10, 0, 256)
	if lx != 246 {
		t.Errorf("localX = %v, want 246", lx)
	}
	if got := RegionOrigin(-10, 256); got != -256 {
		t.Errorf("RegionOrigin(-10) = %v, want -256", got)
	}
}

func TestGlobalFromRegion(t *testing.T) {
	pos := GlobalPosition{X: 256*1000 + 17.5, Y: 256*999 + 200}
	h, lx, ly := GlobalToRegionHandle(pos.X, pos.Y, 256)
	if got := GlobalFromRegion(h, lx, ly); got != pos {
		t.Errorf("GlobalFromRegion = %+v, want %+v", got, pos)
	}
}

func TestViewport_SetZoom(t *testing.T) {
	v := NewViewport(ViewportConfig{RegionSize: 256, MinZoom: 0.5, MaxZoom: 6, Zoom: 1, Width: 100, Height: 100})

	tests := []struct {
		name     string
		zoom     float64
		accepted bool
		wantZoom float64
		wantEdge int
	}{
		{"in range", 2, true, 2, 128},
		{"too small", 0.25, false, 2, 128},
		{"too large", 6.5, false, 2, 128},
		{"min", 0.5, true, 0.5, 512},
		{"max", 6, true, 6, 42},
		{"NaN", math.NaN(), false, 6, 42},
		{"fractional", 1.25, true, 1.25, 204},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.SetZoom(tt.zoom); got != tt.accepted {
				t.Errorf("SetZoom(%v) = %v, want %v", tt.zoom, got, tt.accepted)
			}
			s := v.State()
			if s.Zoom != tt.wantZoom {
				t.Errorf("zoom = %v, want %v", s.Zoom, tt.wantZoom)
			}
			if s.EdgePixels != tt.wantEdge {
				t.Errorf("edge pixels = %d, want %d", s.EdgePixels, tt.wantEdge)
			}
			if s.PixelsPerMeter != 1/tt.wantZoom {
				t.Errorf("pixels per meter = %v, want %v", s.PixelsPerMeter, 1/tt.wantZoom)
			}
		})
	}
}

func TestViewport_EdgeClampsToOnePixel(t *testing.T) {
	v := NewViewport(ViewportConfig{RegionSize: 1, MinZoom: 0.5, MaxZoom: 100, Zoom: 50, Width: 10, Height: 10})
	if got := v.State().EdgePixels; got != 1 {
		t.Errorf("edge pixels = %d, want 1", got)
	}
}

func TestViewport_WorldToPixel(t *testing.T) {
	v := NewViewport(ViewportConfig{RegionSize: 256, Zoom: 1, MinZoom: 0.5, MaxZoom: 6, Width: 512, Height: 512})
	v.SetCenter(GlobalPosition{X: 300, Y: 300})

	tests := []struct {
		name   string
		pos    GlobalPosition
		px, py float64
	}{
		{"center", GlobalPosition{300, 300}, 256, 256},
		{"east", GlobalPosition{310, 300}, 266, 256},
		{"north is up", GlobalPosition{300, 310}, 256, 246},
		{"region origin", GlobalPosition{256, 256}, 212, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			px, py := v.WorldToPixel(tt.pos)
			if px != tt.px || py != tt.py {
				t.Errorf("WorldToPixel = (%v, %v), want (%v, %v)", px, py, tt.px, tt.py)
			}
			back := v.PixelToWorld(px, py)
			if math.Abs(back.X-tt.pos.X) > 1e-9 || math.Abs(back.Y-tt.pos.Y) > 1e-9 {
				t.Errorf("PixelToWorld = %+v, want %+v", back, tt.pos)
			}
		})
	}
}

func TestViewport_Pan(t *testing.T) {
	v := NewViewport(ViewportConfig{RegionSize: 256, Zoom: 2, MinZoom: 0.5, MaxZoom: 6, Width: 100, Height: 100})
	v.SetCenter(GlobalPosition{X: 1000, Y: 1000})

	v.Pan(10, 5)

	c := v.Center()
	if c.X != 980 || c.Y != 1010 {
		t.Errorf("center = %+v, want {980 1010}", c)
	}
}

func TestViewport_PanFollowsDrawnScale(t *testing.T) {
	// 256/1.25 rounds down to 204 edge pixels
	v := NewViewport(ViewportConfig{RegionSize: 256, Zoom: 1.25, MinZoom: 0.5, MaxZoom: 6, Width: 2000, Height: 2000})
	start := GlobalPosition{X: 256000, Y: 256000}
	v.SetCenter(start)

	v.Pan(1000, -300)

	px, py := v.WorldToPixel(start)
	if math.Abs(px-2000) > 1e-6 || math.Abs(py-700) > 1e-6 {
		t.Errorf("dragged point drawn at (%v, %v), want (2000, 700)", px, py)
	}
}

func TestViewState_WorldBounds(t *testing.T) {
	v := NewViewport(ViewportConfig{RegionSize: 256, Zoom: 1, MinZoom: 0.5, MaxZoom: 6, Width: 200, Height: 100})
	v.SetCenter(GlobalPosition{X: 1000, Y: 500})

	b := v.State().WorldBounds()
	if b.Min[0] != 900 || b.Max[0] != 1100 || b.Min[1] != 450 || b.Max[1] != 550 {
		t.Errorf("WorldBounds = %+v, want [900,450]-[1100,550]", b)
	}
}

func TestParseHandle(t *testing.T) {
	tests := []struct {
		in      string
		want    RegionHandle
		wantErr bool
	}{
		{"256000,256512", PackHandle(256000, 256512), false},
		{" 0 , 256 ", PackHandle(0, 256), false},
		{"4294967295,0", PackHandle(math.MaxUint32, 0), false},
		{"256000", 0, true},
		{"a,b", 0, true},
		{"4294967296,0", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHandle(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHandle(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseHandle(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestRegionHandle_TextRoundTrip(t *testing.T) {
	h := PackHandle(256000, 255744)
	text, err := h.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	var back RegionHandle
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if back != h {
		t.Errorf("round trip = %s, want %s", back, h)
	}
}
