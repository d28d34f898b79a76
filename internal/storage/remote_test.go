package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestIsMinIONotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, true},
		{"head not found", minio.ErrorResponse{Code: "NotFound", StatusCode: 404}, true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, false},
		{"plain error", errors.New("connection refused"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isMinIONotFound(tt.err))
		})
	}
}

func TestIsS3NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", awserr.New(s3.ErrCodeNoSuchKey, "missing", nil), true},
		{"head not found", awserr.New("NotFound", "Not Found", nil), true},
		{"wrapped", fmt.Errorf("open: %w", awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)), true},
		{"no such bucket", awserr.New(s3.ErrCodeNoSuchBucket, "missing bucket", nil), false},
		{"plain error", errors.New("timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isS3NotFound(tt.err))
		})
	}
}
