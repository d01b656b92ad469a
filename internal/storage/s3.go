package storage

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "io"
    "os"
    "path/filepath"

    "github.com/aws/aws-sdk-go-v2/aws"
    awscfg "github.com/aws/aws-sdk-go-v2/config"
    "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
    "github.com/aws/aws-sdk-go-v2/service/s3"
    s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
    "github.com/gabriel-vasile/mimetype"
    "github.com/rs/zerolog/log"

    "github.com/local/ocrworker/internal/config"
)

// multipart threshold for artifact uploads
const largeObjectBytes = 8 << 20

// Gateway wraps the S3 client for page images and result artifacts.
// Objects are written with SSE-KMS when a key id is configured; anon
// mapping and audit artifacts are additionally sealed client-side before
// they reach this layer.
type Gateway struct {
    client   *s3.Client
    uploader *manager.Uploader
    bucket   string
    kmsKeyID string
}

// NewGateway builds the gateway from the ambient AWS credential chain.
func NewGateway(ctx context.Context, cfg config.S3Config) (*Gateway, error) {
    if cfg.Bucket == "" {
        return nil, fmt.Errorf("s3 bucket name not configured")
    }
    awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
    if err != nil {
        return nil, fmt.Errorf("load aws config: %w", err)
    }
    cli := s3.NewFromConfig(awsCfg)
    return &Gateway{
        client:   cli,
        uploader: manager.NewUploader(cli),
        bucket:   cfg.Bucket,
        kmsKeyID: cfg.KMSKeyID,
    }, nil
}

// Put stores one artifact under key. Content type is detected from the
// payload when empty. Large payloads go through the multipart uploader.
func (g *Gateway) Put(ctx context.Context, key string, data []byte, contentType string) error {
    if contentType == "" {
        contentType = mimetype.Detect(data).String()
    }
    if len(data) >= largeObjectBytes {
        return g.putLarge(ctx, key, bytes.NewReader(data), contentType)
    }
    in := &s3.PutObjectInput{
        Bucket:      aws.String(g.bucket),
        Key:         aws.String(key),
        Body:        bytes.NewReader(data),
        ContentType: aws.String(contentType),
    }
    g.applySSE(&in.ServerSideEncryption, &in.SSEKMSKeyId)
    if _, err := g.client.PutObject(ctx, in); err != nil {
        return fmt.Errorf("put s3 object %s: %w", key, err)
    }
    log.Debug().Str("key", key).Int("size", len(data)).Str("content_type", contentType).Msg("uploaded artifact")
    return nil
}

func (g *Gateway) putLarge(ctx context.Context, key string, r io.Reader, contentType string) error {
    in := &s3.PutObjectInput{
        Bucket:      aws.String(g.bucket),
        Key:         aws.String(key),
        Body:        r,
        ContentType: aws.String(contentType),
    }
    g.applySSE(&in.ServerSideEncryption, &in.SSEKMSKeyId)
    if _, err := g.uploader.Upload(ctx, in); err != nil {
        return fmt.Errorf("multipart upload %s: %w", key, err)
    }
    return nil
}

func (g *Gateway) applySSE(sse *s3types.ServerSideEncryption, kmsKey **string) {
    if g.kmsKeyID == "" { return }
    *sse = s3types.ServerSideEncryptionAwsKms
    *kmsKey = aws.String(g.kmsKeyID)
}

// Get fetches an object body.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, error) {
    out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
        Bucket: aws.String(g.bucket),
        Key:    aws.String(key),
    })
    if err != nil {
        return nil, fmt.Errorf("get s3 object %s: %w", key, err)
    }
    defer out.Body.Close()
    data, err := io.ReadAll(out.Body)
    if err != nil {
        return nil, fmt.Errorf("read s3 object %s: %w", key, err)
    }
    return data, nil
}

// Download fetches an object into a local file, creating parent dirs.
func (g *Gateway) Download(ctx context.Context, key, path string) error {
    data, err := g.Get(ctx, key)
    if err != nil { return err }
    if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
        return fmt.Errorf("create download dir: %w", err)
    }
    if err := os.WriteFile(path, data, 0o644); err != nil {
        return fmt.Errorf("write %s: %w", path, err)
    }
    return nil
}

// Exists reports whether the key is present.
func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
    _, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
        Bucket: aws.String(g.bucket),
        Key:    aws.String(key),
    })
    if err != nil {
        var nf *s3types.NotFound
        if errors.As(err, &nf) { return false, nil }
        return false, fmt.Errorf("head s3 object %s: %w", key, err)
    }
    return true, nil
}
