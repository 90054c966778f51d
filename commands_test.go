package main

import (
	"testing"
	"time"

	"gridmap/internal/cache"
	"gridmap/internal/config"
	"gridmap/internal/grid"
	"gridmap/internal/session"
)

func TestParsePosition(t *testing.T) {
	tests := []struct {
		in      string
		want    grid.GlobalPosition
		wantErr bool
	}{
		{"256128,256384", grid.GlobalPosition{X: 256128, Y: 256384}, false},
		{" 1.5 , -2 ", grid.GlobalPosition{X: 1.5, Y: -2}, false},
		{"256128", grid.GlobalPosition{}, true},
		{"a,b", grid.GlobalPosition{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePosition(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePosition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parsePosition() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{"1024x768", 1024, 768, false},
		{"64X48", 64, 48, false},
		{"0x10", 0, 0, true},
		{"10", 0, 0, true},
		{"5000x10", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, err := parseSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if w != tt.w || h != tt.h {
				t.Errorf("parseSize() = %dx%d, want %dx%d", w, h, tt.w, tt.h)
			}
		})
	}
}

func TestSetSetting(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		check   func(*config.Settings) bool
		wantErr bool
	}{
		{"number", "zoom", "2", func(s *config.Settings) bool { return s.Zoom == 2 }, false},
		{"string", "tileSource", "external", func(s *config.Settings) bool { return s.TileSource == "external" }, false},
		{"nested", "cache.maxSizeMB", "500", func(s *config.Settings) bool { return s.Cache.MaxSizeMB == 500 }, false},
		{"omitted while zero", "lastCenterX", "10", func(s *config.Settings) bool { return s.LastCenterX == 10 }, false},
		{"unknown key", "colour", "red", nil, true},
		{"unknown nested key", "cache.colour", "red", nil, true},
		{"wrong type", "maxParallel", "many", nil, true},
		{"fails validation", "tileSource", "ftp", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := config.DefaultSettings()
			got, err := setSetting(base, tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("setSetting() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if !tt.check(got) {
				t.Errorf("setSetting(%s, %s) = %+v", tt.key, tt.value, got)
			}
			if got.RegionSize != base.RegionSize {
				t.Error("other settings changed")
			}
		})
	}
}

func TestCountTiles(t *testing.T) {
	items := []session.DrawItem{
		{Kind: session.KindTile, State: cache.Ready},
		{Kind: session.KindTile, State: cache.Failed},
		{Kind: session.KindTile, State: cache.Pending},
		{Kind: session.KindTile, State: cache.Absent},
		{Kind: session.KindSelf},
		{Kind: session.KindTarget},
	}

	got := countTiles(items)
	want := frameProgress{Total: 4, Ready: 1, Failed: 1, Pending: 1, Absent: 1}
	if got != want {
		t.Errorf("countTiles() = %+v, want %+v", got, want)
	}
}

func TestFrameProgress_Settled(t *testing.T) {
	tests := []struct {
		name  string
		p     frameProgress
		quiet time.Duration
		want  bool
	}{
		{"all done", frameProgress{Total: 2, Ready: 1, Failed: 1}, 0, true},
		{"pending", frameProgress{Total: 2, Ready: 1, Pending: 1}, time.Hour, false},
		{"absent waits for metadata", frameProgress{Total: 2, Ready: 1, Absent: 1}, time.Second, false},
		{"absent after quiet period", frameProgress{Total: 2, Ready: 1, Absent: 1}, metadataWait, true},
		{"empty frame", frameProgress{}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Settled(tt.quiet); got != tt.want {
				t.Errorf("Settled(%s) = %v, want %v", tt.quiet, got, tt.want)
			}
		})
	}
}
