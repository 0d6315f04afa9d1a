// Package archive uploads relayed transcripts to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

const (
	queueSize     = 32
	maxAttempts   = 4
	uploadTimeout = 30 * time.Second
)

// ErrQueueFull is returned when a transcript cannot be queued.
var ErrQueueFull = errors.New("archive queue full")

// Config holds S3 connection settings.
type Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Transcript is the archived record of one relayed utterance.
type Transcript struct {
	Timestamp time.Time `json:"ts"`
	BeaconID  string    `json:"beacon_id"`
	Operator  string    `json:"operator,omitempty"`
	Text      string    `json:"text"`
	Payload   string    `json:"payload"`
	LevelDB   float64   `json:"level_db"`
}

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads transcripts in the background with retry.
type Archiver struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	queue   chan Transcript
	backoff func() *util.Backoff
}

// NewClient creates an S3 client for cfg.
func NewClient(cfg Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// New creates an Archiver that writes to bucket under prefix.
func New(client ObjectPutter, bucket, prefix string) *Archiver {
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		queue:  make(chan Transcript, queueSize),
		backoff: func() *util.Backoff {
			return util.NewBackoff(2*time.Second, 30*time.Second)
		},
	}
}

// Enqueue queues t for upload without blocking.
func (a *Archiver) Enqueue(t Transcript) error {
	select {
	case a.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run uploads queued transcripts until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.queue:
			a.upload(ctx, t)
		}
	}
}

func (a *Archiver) upload(ctx context.Context, t Transcript) {
	key := a.Key(t)
	body, err := json.Marshal(t)
	if err != nil {
		slog.Error("failed to encode transcript", "error", err)
		return
	}

	backoff := a.backoff()
	for attempt := 1; ; attempt++ {
		err = a.put(ctx, key, body)
		if err == nil {
			slog.Info("transcript archived", "s3_key", key)
			return
		}
		if attempt == maxAttempts {
			slog.Error("transcript archive failed", "s3_key", key, "attempts", attempt, "error", err)
			return
		}

		delay := backoff.Next()
		slog.Warn("transcript archive failed, retrying", "s3_key", key, "attempt", attempt, "retry_in", delay, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (a *Archiver) put(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeoutCause(ctx, uploadTimeout, errors.New("s3 upload timeout"))
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return util.WrapError("upload transcript", err)
	}
	return nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Key returns the object key for t: <prefix>/YYYY/MM/DD/HHMMSS.mmm-<beacon>.json.
func (a *Archiver) Key(t Transcript) string {
	ts := t.Timestamp.UTC()
	name := fmt.Sprintf("%s-%s.json", ts.Format("150405.000"), unsafeKeyChars.ReplaceAllString(t.BeaconID, "_"))
	return path.Join(a.prefix, ts.Format("2006/01/02"), name)
}
