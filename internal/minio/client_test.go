package minio

import (
	"testing"

	"github.com/google/uuid"
)

func TestObjectName(t *testing.T) {
	id := uuid.MustParse("6f1f4a4e-2c1b-4a55-9d0e-0e5c0b1d2f3a")

	tests := []struct {
		fileName string
		want     string
	}{
		{"photo-thumbnail.webp", id.String() + "/photo-thumbnail.webp"},
		{"My Holiday (1).JPG", id.String() + "/My_Holiday_1.jpg"},
		{"/tmp/upload-123/img.png", id.String() + "/img.png"},
		{"???.png", id.String() + "/image.png"},
	}

	for _, tt := range tests {
		if got := ObjectName(id, tt.fileName); got != tt.want {
			t.Errorf("ObjectName(%q) = %q, want %q", tt.fileName, got, tt.want)
		}
	}
}
