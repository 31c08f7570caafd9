package types

import "testing"

// TestFeedDescriptorID verifies identity strings for modified and bare feeds.
func TestFeedDescriptorID(t *testing.T) {
	tests := []struct {
		name string
		feed FeedDescriptor
		want string
	}{
		{
			name: "region with modifier joins with slash",
			feed: FeedDescriptor{Region: "CONUS", Modifier: "PrecipRate_00.00"},
			want: "CONUS/PrecipRate_00.00",
		},
		{
			name: "bare region without modifier",
			feed: FeedDescriptor{Region: "ProbSevere"},
			want: "ProbSevere",
		},
		{
			name: "julian-tree satellite product",
			feed: FeedDescriptor{Region: "GLM-L2-LCFA", Layout: LayoutJulianTree},
			want: "GLM-L2-LCFA",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.feed.ID(); got != tt.want {
				t.Errorf("ID() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestFeedDescriptorProduct verifies the short name used in logs and the status API.
func TestFeedDescriptorProduct(t *testing.T) {
	withModifier := FeedDescriptor{Region: "CONUS", Modifier: "MergedReflectivityQCComposite_00.50"}
	if got := withModifier.Product(); got != "MergedReflectivityQCComposite_00.50" {
		t.Errorf("Product() = %q, want the modifier", got)
	}

	bare := FeedDescriptor{Region: "ProbSevere"}
	if got := bare.Product(); got != "ProbSevere" {
		t.Errorf("Product() = %q, want the region when no modifier is set", got)
	}
}

// TestCandidateRecordBasename verifies final-path-element extraction from object keys.
func TestCandidateRecordBasename(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{
			name: "nested date-tree key",
			key:  "CONUS/PrecipRate_00.00/20250101/MRMS_PrecipRate_00.00_20250101-120039.grib2.gz",
			want: "MRMS_PrecipRate_00.00_20250101-120039.grib2.gz",
		},
		{
			name: "key without any slash",
			key:  "standalone.grib2.gz",
			want: "standalone.grib2.gz",
		},
		{
			name: "empty key",
			key:  "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := CandidateRecord{Key: tt.key}
			if got := rec.Basename(); got != tt.want {
				t.Errorf("Basename() = %q, want %q", got, tt.want)
			}
		})
	}
}
