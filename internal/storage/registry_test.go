package storage

import (
	"reflect"
	"sort"
	"strings"
	"testing"
)

func TestLookupProvider(t *testing.T) {
	for _, name := range []string{
		ProviderAWSS3, ProviderR2, ProviderSpaces, ProviderVultr, ProviderLinode,
		ProviderMinIO, ProviderOSS, ProviderCOS, ProviderLocal,
	} {
		d, ok := LookupProvider(name)
		if !ok {
			t.Fatalf("provider %s not registered", name)
		}
		if d.Name != name {
			t.Errorf("descriptor name mismatch: %s vs %s", d.Name, name)
		}
		if d.DisplayName == "" {
			t.Errorf("provider %s has no display name", name)
		}
	}

	if _, ok := LookupProvider("azure-blob"); ok {
		t.Error("expected unknown provider to miss")
	}
	if d, ok := LookupProvider("  aws-s3  "); !ok || d.Name != ProviderAWSS3 {
		t.Error("expected lookup to trim surrounding whitespace")
	}
}

func TestProviderNamesSorted(t *testing.T) {
	names := ProviderNames()
	if len(names) != 9 {
		t.Fatalf("expected 9 providers, got %d: %v", len(names), names)
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("expected sorted names, got %v", names)
	}
}

func TestMissingFields(t *testing.T) {
	aws, _ := LookupProvider(ProviderAWSS3)

	tests := []struct {
		name string
		cfg  ProviderConfig
		want []string
	}{
		{
			name: "AllMissing",
			cfg:  ProviderConfig{Provider: ProviderAWSS3},
			want: []string{"aws_access_key_id", "aws_secret_access_key", "aws_region", "aws_bucket"},
		},
		{
			name: "PartiallyMissing",
			cfg: ProviderConfig{
				Provider:    ProviderAWSS3,
				AccessKeyID: "AKID",
				Region:      "us-east-1",
			},
			want: []string{"aws_secret_access_key", "aws_bucket"},
		},
		{
			name: "BlankCountsAsMissing",
			cfg: ProviderConfig{
				Provider:        ProviderAWSS3,
				AccessKeyID:     "   ",
				SecretAccessKey: "secret",
				Region:          "us-east-1",
				Bucket:          "media",
			},
			want: []string{"aws_access_key_id"},
		},
		{
			name: "Complete",
			cfg: ProviderConfig{
				Provider:        ProviderAWSS3,
				AccessKeyID:     "AKID",
				SecretAccessKey: "secret",
				Region:          "us-east-1",
				Bucket:          "media",
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := aws.MissingFields(&tt.cfg)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMissingFieldsR2NamesAccountID(t *testing.T) {
	r2, _ := LookupProvider(ProviderR2)
	got := r2.MissingFields(&ProviderConfig{
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Bucket:          "media",
	})
	if !reflect.DeepEqual(got, []string{"r2_account_id"}) {
		t.Errorf("expected [r2_account_id], got %v", got)
	}
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		provider string
		want     Capabilities
	}{
		{provider: ProviderAWSS3, want: Capabilities{Acceleration: true, Versioning: true}},
		{provider: ProviderR2, want: Capabilities{Transform: true}},
		{provider: ProviderSpaces, want: Capabilities{}},
		{provider: ProviderVultr, want: Capabilities{}},
		{provider: ProviderLinode, want: Capabilities{}},
		{provider: ProviderMinIO, want: Capabilities{Versioning: true}},
		{provider: ProviderOSS, want: Capabilities{Versioning: true, Transform: true}},
		{provider: ProviderCOS, want: Capabilities{Versioning: true, Transform: true}},
		{provider: ProviderLocal, want: Capabilities{}},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			d, ok := LookupProvider(tt.provider)
			if !ok {
				t.Fatalf("provider %s not registered", tt.provider)
			}
			if d.Capabilities != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, d.Capabilities)
			}
		})
	}
}

func TestEndpointConstruction(t *testing.T) {
	tests := []struct {
		provider string
		cfg      ProviderConfig
		want     string
	}{
		{
			provider: ProviderAWSS3,
			cfg:      ProviderConfig{Region: "eu-west-1"},
			want:     "https://s3.eu-west-1.amazonaws.com",
		},
		{
			provider: ProviderAWSS3,
			cfg:      ProviderConfig{Region: "eu-west-1", UseAcceleration: true},
			want:     "https://s3-accelerate.amazonaws.com",
		},
		{
			provider: ProviderR2,
			cfg:      ProviderConfig{AccountID: "abc123"},
			want:     "https://abc123.r2.cloudflarestorage.com",
		},
		{
			provider: ProviderSpaces,
			cfg:      ProviderConfig{Region: "nyc3"},
			want:     "https://nyc3.digitaloceanspaces.com",
		},
		{
			provider: ProviderVultr,
			cfg:      ProviderConfig{Region: "ewr1"},
			want:     "https://ewr1.vultrobjects.com",
		},
		{
			provider: ProviderLinode,
			cfg:      ProviderConfig{Region: "us-east-1"},
			want:     "https://us-east-1.linodeobjects.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.provider+"_"+tt.want, func(t *testing.T) {
			d, _ := LookupProvider(tt.provider)
			if d.endpoint == nil {
				t.Fatalf("provider %s has no endpoint rule", tt.provider)
			}
			if got := d.endpoint(&tt.cfg); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTransformURL(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		url       string
		transform Transform
		want      string
	}{
		{
			name:      "R2WidthHeight",
			provider:  ProviderR2,
			url:       "https://cdn.example.com/media/a.png",
			transform: Transform{Width: 300, Height: 200},
			want:      "https://cdn.example.com/media/a.png?height=200&width=300",
		},
		{
			name:      "R2FullPipeline",
			provider:  ProviderR2,
			url:       "https://cdn.example.com/a.png",
			transform: Transform{Width: 300, Quality: 80, Format: "webp"},
			want:      "https://cdn.example.com/a.png?format=webp&quality=80&width=300",
		},
		{
			name:      "OSSResizeQuality",
			provider:  ProviderOSS,
			url:       "https://bkt.oss-cn-hangzhou.aliyuncs.com/a.png",
			transform: Transform{Width: 300, Height: 200, Quality: 80},
			want:      "https://bkt.oss-cn-hangzhou.aliyuncs.com/a.png?x-oss-process=image%2Fresize%2Cw_300%2Ch_200%2Fquality%2Cq_80",
		},
		{
			name:      "COSThumbnailFormat",
			provider:  ProviderCOS,
			url:       "https://bkt.cos.ap-guangzhou.myqcloud.com/a.png",
			transform: Transform{Width: 300, Height: 200, Format: "webp"},
			want:      "https://bkt.cos.ap-guangzhou.myqcloud.com/a.png?imageMogr2/thumbnail/300x200/format/webp",
		},
		{
			name:      "COSWidthOnly",
			provider:  ProviderCOS,
			url:       "https://bkt.cos.ap-guangzhou.myqcloud.com/a.png",
			transform: Transform{Width: 300},
			want:      "https://bkt.cos.ap-guangzhou.myqcloud.com/a.png?imageMogr2/thumbnail/300x",
		},
		{
			name:      "AppendsToExistingQuery",
			provider:  ProviderR2,
			url:       "https://cdn.example.com/a.png?v=2",
			transform: Transform{Width: 100},
			want:      "https://cdn.example.com/a.png?v=2&width=100",
		},
		{
			name:      "NoDialectPassesThrough",
			provider:  ProviderSpaces,
			url:       "https://media.nyc3.digitaloceanspaces.com/a.png",
			transform: Transform{Width: 300},
			want:      "https://media.nyc3.digitaloceanspaces.com/a.png",
		},
		{
			name:      "ZeroTransformPassesThrough",
			provider:  ProviderR2,
			url:       "https://cdn.example.com/a.png",
			transform: Transform{},
			want:      "https://cdn.example.com/a.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := LookupProvider(tt.provider)
			if !ok {
				t.Fatalf("provider %s not registered", tt.provider)
			}
			if got := d.TransformURL(tt.url, tt.transform); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestPublicURLPatterns(t *testing.T) {
	cfg := &ProviderConfig{Bucket: "media", Region: "us-east-1", AccountID: "acct9"}

	tests := []struct {
		provider string
		contains string
	}{
		{provider: ProviderAWSS3, contains: "media.s3.us-east-1.amazonaws.com"},
		{provider: ProviderR2, contains: "acct9.r2.cloudflarestorage.com/media"},
		{provider: ProviderSpaces, contains: "media.us-east-1.digitaloceanspaces.com"},
		{provider: ProviderVultr, contains: "media.us-east-1.vultrobjects.com"},
		{provider: ProviderLinode, contains: "media.us-east-1.linodeobjects.com"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			d, _ := LookupProvider(tt.provider)
			if d.publicURL == nil {
				t.Fatalf("provider %s has no public URL rule", tt.provider)
			}
			got := d.publicURL(cfg, "dir/a.png")
			if !strings.Contains(got, tt.contains) {
				t.Errorf("expected URL containing %s, got %s", tt.contains, got)
			}
			if !strings.HasSuffix(got, "/dir/a.png") {
				t.Errorf("expected URL ending in key, got %s", got)
			}
		})
	}
}
