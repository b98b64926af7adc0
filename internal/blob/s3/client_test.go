package s3blob

import (
	"context"
	"testing"
)

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"localhost:9000", false, "http://localhost:9000"},
		{"s3.ap-south-1.amazonaws.com", true, "https://s3.ap-south-1.amazonaws.com"},
		{"http://minio:9000", true, "http://minio:9000"},
		{"https://e2.example.com", false, "https://e2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.endpoint, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.endpoint, tt.useSSL, got, tt.want)
		}
	}
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	if _, err := New(context.Background(), ClientConfig{Region: "ap-south-1"}); err == nil {
		t.Error("expected error without bucket")
	}
	if _, err := New(context.Background(), ClientConfig{Bucket: "b"}); err == nil {
		t.Error("expected error without region")
	}
}
