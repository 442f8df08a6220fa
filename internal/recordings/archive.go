package recordings

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4PresignedRequest, error)
}

// v4PresignedRequest mirrors the fields we need from the SDK's presigned
// request so tests can fake the presigner.
type v4PresignedRequest struct {
	URL string
}

// Archive keeps a copy of every fetched recording in the object store so the
// audio survives provider retention limits and can be replayed from the app.
type Archive struct {
	client    s3API
	presigner s3Presigner
	bucket    string
	urlTTL    time.Duration
	logger    *logging.Logger
}

func NewArchive(client *s3.Client, bucket string, urlTTL time.Duration, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Default()
	}
	a := &Archive{bucket: bucket, urlTTL: urlTTL, logger: logger}
	if client != nil {
		a.client = client
		a.presigner = &sdkPresigner{inner: s3.NewPresignClient(client)}
	}
	return a
}

// NewArchiveWithAPI is used by tests.
func NewArchiveWithAPI(client s3API, presigner s3Presigner, bucket string, urlTTL time.Duration, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Default()
	}
	return &Archive{client: client, presigner: presigner, bucket: bucket, urlTTL: urlTTL, logger: logger}
}

// Enabled reports whether an object store is configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.client != nil && a.bucket != ""
}

// Store uploads the audio and returns the object key.
func (a *Archive) Store(ctx context.Context, callSid string, rec *Recording) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	key := fmt.Sprintf("recordings/%s.%s", callSid, rec.Extension)
	contentType := rec.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(rec.Audio),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("recordings: archive put: %w", err)
	}
	return key, nil
}

// PresignGet returns a time-limited playback URL for an archived recording.
func (a *Archive) PresignGet(ctx context.Context, key string) (string, error) {
	if !a.Enabled() || a.presigner == nil {
		return "", fmt.Errorf("recordings: archive not configured")
	}
	req, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(a.urlTTL))
	if err != nil {
		return "", fmt.Errorf("recordings: presign: %w", err)
	}
	return req.URL, nil
}

type sdkPresigner struct {
	inner *s3.PresignClient
}

func (p *sdkPresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4PresignedRequest, error) {
	out, err := p.inner.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &v4PresignedRequest{URL: out.URL}, nil
}
