// Package archive uploads committed snapshots to object storage.
//
// An Uploader is registered as a promotion listener on a partition's
// snapshot store. Promotions are queued and uploaded by a background
// worker, so the partition task is never blocked on the network. The
// snapshot directory is pinned with a reservation for the duration of the
// upload; a snapshot superseded before its upload started is skipped.
//
// Upload failures are logged and dropped: archival is an offsite copy, not
// part of the commit protocol.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"flowmill/internal/logging"
	"flowmill/internal/snapshot"
)

const manifestName = ".manifest"

// API is the slice of the S3 client the uploader needs.
type API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config configures an Uploader.
type Config struct {
	// Bucket receives the snapshot objects. Required.
	Bucket string

	// Prefix is prepended to every object key. May be empty.
	Prefix string

	// Concurrency bounds parallel file uploads per snapshot. Defaults to 4.
	Concurrency int

	// RateBytesPerSec throttles upload throughput. Zero means unlimited.
	RateBytesPerSec int

	// QueueDepth bounds promotions waiting to upload. Defaults to 4; when
	// the queue is full the new promotion is dropped and logged, and the
	// promotions already queued are kept.
	QueueDepth int

	// NodeID is recorded in the manifest.
	NodeID string

	// Logger for structured logging. If nil, logging is disabled.
	Logger *slog.Logger
}

// manifest describes an uploaded snapshot. Stored msgpack-encoded under
// <prefix>/<partition>/<id>/.manifest as the final object of an upload, so
// its presence marks the upload complete.
type manifest struct {
	SnapshotID string    `msgpack:"snapshotId"`
	Checksum   uint64    `msgpack:"checksum"`
	Files      []string  `msgpack:"files"`
	NodeID     string    `msgpack:"nodeId"`
	SessionID  string    `msgpack:"sessionId"`
	UploadedAt time.Time `msgpack:"uploadedAt"`
}

// NewClient builds an S3 client from the ambient AWS configuration.
func NewClient(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Uploader archives one partition's committed snapshots.
type Uploader struct {
	cfg       Config
	partition int
	client    API
	limiter   *rate.Limiter
	logger    *slog.Logger

	queue chan snapshot.Persisted
	done  chan struct{}
}

// NewUploader creates an uploader for a partition and starts its worker.
// The client is shared across partitions.
func NewUploader(cfg Config, partition int, client API) *Uploader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 4
	}
	var limiter *rate.Limiter
	if cfg.RateBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateBytesPerSec), cfg.RateBytesPerSec)
	}
	u := &Uploader{
		cfg:       cfg,
		partition: partition,
		client:    client,
		limiter:   limiter,
		logger: logging.Default(cfg.Logger).With(
			"component", "snapshot-archiver", "partition", partition),
		queue: make(chan snapshot.Persisted, cfg.QueueDepth),
		done:  make(chan struct{}),
	}
	go u.run()
	return u
}

// OnNewSnapshot queues a promotion for upload. Never blocks the partition
// task: with a full queue the promotion is dropped and logged.
func (u *Uploader) OnNewSnapshot(p snapshot.Persisted) {
	select {
	case u.queue <- p:
	default:
		u.logger.Warn("archive queue full, skipping snapshot", "snapshot", p.ID().String())
	}
}

// Close stops accepting promotions and waits for the worker to upload every
// promotion already queued.
func (u *Uploader) Close() {
	close(u.queue)
	<-u.done
}

func (u *Uploader) run() {
	defer close(u.done)
	for p := range u.queue {
		if err := u.upload(context.Background(), p); err != nil {
			u.logger.Warn("snapshot archival failed", "snapshot", p.ID().String(), "error", err)
		}
	}
}

func (u *Uploader) upload(ctx context.Context, p snapshot.Persisted) error {
	res, err := p.Reserve()
	if err != nil {
		// Already superseded and removed; a newer promotion is queued or done.
		u.logger.Debug("skipping archival of vanished snapshot", "snapshot", p.ID().String())
		return nil
	}
	defer res.Release()

	session := uuid.NewString()
	started := time.Now()

	entries, err := os.ReadDir(p.Path())
	if err != nil {
		return err
	}

	var files []string
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Concurrency)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		files = append(files, name)
		g.Go(func() error {
			return u.putFile(ctx, p, name)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m := manifest{
		SnapshotID: p.ID().String(),
		Checksum:   p.Checksum(),
		Files:      files,
		NodeID:     u.cfg.NodeID,
		SessionID:  session,
		UploadedAt: time.Now().UTC(),
	}
	body, err := msgpack.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := u.put(ctx, u.key(p.ID(), manifestName), bytes.NewReader(body)); err != nil {
		return err
	}

	u.logger.Info("archived snapshot",
		"snapshot", p.ID().String(),
		"files", len(files),
		"session", session,
		"took", time.Since(started))
	return nil
}

func (u *Uploader) putFile(ctx context.Context, p snapshot.Persisted, name string) error {
	f, err := os.Open(filepath.Clean(filepath.Join(p.Path(), name)))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var body io.Reader = f
	if u.limiter != nil {
		body = &throttledReader{r: f, limiter: u.limiter, ctx: ctx}
	}
	return u.put(ctx, u.key(p.ID(), name), body)
}

func (u *Uploader) put(ctx context.Context, key string, body io.Reader) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (u *Uploader) key(id snapshot.ID, name string) string {
	key := strconv.Itoa(u.partition) + "/" + id.String() + "/" + name
	if u.cfg.Prefix != "" {
		key = u.cfg.Prefix + "/" + key
	}
	return key
}

// throttledReader paces reads through a shared byte-rate limiter.
type throttledReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

var _ snapshot.PersistedListener = (*Uploader)(nil)
