package naming

import "testing"

func TestTargetLabel(t *testing.T) {
	tests := []struct {
		name   string
		region string
		x, y   float64
		want   string
	}{
		{"typical", "Ahern", 128.4, 3.6, "Ahern (128, 4)"},
		{"half rounds away from zero", "Ahern", 2.5, 0.5, "Ahern (3, 1)"},
		{"unknown region", "", 10, 10, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TargetLabel(tt.region, tt.x, tt.y); got != tt.want {
				t.Errorf("TargetLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeCoordinate(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{256000, "256000"},
		{1.25, "1p25"},
		{-10.5, "m10p5"},
	}
	for _, tt := range tests {
		if got := SanitizeCoordinate(tt.in); got != tt.want {
			t.Errorf("SanitizeCoordinate(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Ahern", "ahern"},
		{"  Da Boom  ", "da_boom"},
		{"Isle of Wyld!!", "isle_of_wyld"},
		{"***", ""},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGenerateSnapshotFilename(t *testing.T) {
	tests := []struct {
		name   string
		region string
		want   string
	}{
		{"named region", "Da Boom", "asset_da_boom_z1p25.png"},
		{"unnamed", "", "asset_256128_m4p5_z1p25.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateSnapshotFilename("asset", tt.region, 256128, -4.5, 1.25, "png")
			if got != tt.want {
				t.Errorf("GenerateSnapshotFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}
