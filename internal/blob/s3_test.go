package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type mockS3 struct {
	putFn func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error)
	getFn func(ctx context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error)
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return m.putFn(ctx, in)
}

func (m *mockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return m.getFn(ctx, in)
}

func TestS3Store_Put(t *testing.T) {
	var got *s3.PutObjectInput
	store := &S3Store{bucket: "notes", client: &mockS3{
		putFn: func(_ context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			got = in
			return &s3.PutObjectOutput{}, nil
		},
	}}

	id, err := store.Put(context.Background(), []byte("data"), "notes/a.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if id != IDForPath("notes/a.pdf") {
		t.Errorf("id = %s, want %s", id, IDForPath("notes/a.pdf"))
	}
	if aws.ToString(got.Bucket) != "notes" || aws.ToString(got.Key) != id {
		t.Errorf("bucket/key = %s/%s", aws.ToString(got.Bucket), aws.ToString(got.Key))
	}
	if aws.ToString(got.ContentType) != "application/pdf" {
		t.Errorf("ContentType = %s", aws.ToString(got.ContentType))
	}
}

func TestS3Store_Get(t *testing.T) {
	store := &S3Store{bucket: "notes", client: &mockS3{
		getFn: func(_ context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{
				Body:        io.NopCloser(bytes.NewReader([]byte("data"))),
				ContentType: aws.String("image/png"),
			}, nil
		},
	}}

	data, ct, err := store.Get(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(data) != "data" || ct != "image/png" {
		t.Errorf("got (%q, %q)", data, ct)
	}
}

func TestS3Store_Get_NoSuchKey(t *testing.T) {
	store := &S3Store{bucket: "notes", client: &mockS3{
		getFn: func(context.Context, *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return nil, &types.NoSuchKey{}
		},
	}}

	_, _, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNewS3Store_AppliesRegionAndCredentials(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	var lo awsconfig.LoadOptions
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				t.Fatalf("load options fn error: %v", err)
			}
		}
		return aws.Config{Region: lo.Region}, nil
	}

	store, err := NewS3Store(context.Background(), S3Config{
		Bucket: "notes", Region: "eu-west-1", Endpoint: "http://127.0.0.1:9000",
		AccessKey: "minioadmin", SecretKey: "minioadmin",
	})
	if err != nil {
		t.Fatalf("NewS3Store error: %v", err)
	}
	if store.bucket != "notes" {
		t.Errorf("bucket = %s", store.bucket)
	}
	if lo.Region != "eu-west-1" {
		t.Errorf("region = %q, want eu-west-1", lo.Region)
	}
	if lo.Credentials == nil {
		t.Error("static credentials were not applied")
	}
}

func TestNewS3Store_LoadError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("boom")
	}

	if _, err := NewS3Store(context.Background(), S3Config{Bucket: "notes"}); err == nil {
		t.Fatal("expected error, got nil")
	}
}
