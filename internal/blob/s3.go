package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config はS3互換ストレージへの接続設定。
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // MinIOなどを使う場合に指定する
	AccessKey string
	SecretKey string
}

// s3API はS3Storeが使用するS3クライアントの操作。
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// テストで差し替えられるようにする
var loadDefaultAWSConfig = config.LoadDefaultConfig

// S3Store はS3バケットにアセットを保存する。オブジェクトキーはBlob IDそのもの。
type S3Store struct {
	client s3API
	bucket string
}

// NewS3Store はS3Storeを生成する。
// アクセスキーが空の場合はAWS SDKの既定の認証情報チェーンを使う。
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Put はアセットをオブジェクトとして保存する。
func (s *S3Store) Put(ctx context.Context, data []byte, path, contentType string) (string, error) {
	id := IDForPath(path)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(id),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"source-path": path},
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", path, err)
	}
	return id, nil
}

// Get はオブジェクトを取得する。
func (s *S3Store) Get(ctx context.Context, id string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get object %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read object %s: %w", id, err)
	}
	return data, aws.ToString(out.ContentType), nil
}

var _ Store = (*S3Store)(nil)
