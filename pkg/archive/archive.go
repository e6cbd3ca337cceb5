// Package archive copies an agent's complete transition history to MinIO
// when the agent is deleted.
//
// A deleted agent has no outbound transitions, so its history is final. The
// [Archiver] handler watches post_transition events and, once an agent
// reaches the deleted state, uploads the history as one JSON [Document] to
// <bucket>/<prefix>/<agent_id>.json.
//
//	arch, err := archive.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	svc := lifecycle.NewService()
//	svc.OnEvent(lifecycle.EventPostTransition, arch.Handler(svc))
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/Walrus94/DevCycle-sub001/pkg/errors"
	"github.com/Walrus94/DevCycle-sub001/pkg/lifecycle"
)

const tracerName = "github.com/Walrus94/DevCycle-sub001/pkg/archive"

// ObjectStore is the subset of [*minio.Client] used by [Archiver].
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var _ ObjectStore = (*minio.Client)(nil)

// HistorySource yields an agent's in-memory history. [*lifecycle.Service]
// implements it.
type HistorySource interface {
	History(id lifecycle.AgentID, limit int) []lifecycle.StateTransition
}

// Document is the archived form of one agent's history.
type Document struct {
	AgentID     string                      `json:"agent_id"`
	FinalState  lifecycle.State             `json:"final_state"`
	ArchivedAt  time.Time                   `json:"archived_at"`
	Transitions []lifecycle.StateTransition `json:"transitions"`
}

// Archiver uploads agent histories. It is safe for concurrent use.
type Archiver struct {
	store  ObjectStore
	bucket string
	region string
	prefix string
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	bucketReady bool
}

// New validates cfg and connects to MinIO. Connectivity is checked with
// BucketExists, which also tells whether the bucket still needs creating.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"archive: invalid configuration")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"archive: failed to create client")
	}

	a := NewFromStore(client, &cfg, logger)
	exists, err := client.BucketExists(ctx, a.bucket)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"archive: failed to connect to server")
	}
	a.bucketReady = exists
	return a, nil
}

// NewFromStore wraps an existing store, typically a mock in tests. A nil
// cfg uses [DefaultConfig].
func NewFromStore(store ObjectStore, cfg *Config, logger *slog.Logger) *Archiver {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Archiver{
		store:  store,
		bucket: bucket,
		region: cfg.Region,
		prefix: cfg.Prefix,
		tracer: otel.Tracer(tracerName),
		logger: logger,
		now:    time.Now,
	}
}

// ObjectName returns the object key for id's archive.
func (a *Archiver) ObjectName(id lifecycle.AgentID) string {
	return path.Join(a.prefix, id.String()+".json")
}

// Handler returns a post_transition handler that archives src's history
// for every agent that reaches [lifecycle.StateDeleted]. Other events are
// ignored.
func (a *Archiver) Handler(src HistorySource) lifecycle.Handler {
	return func(ctx context.Context, e lifecycle.Event) error {
		if e.Name != lifecycle.EventPostTransition || !e.Transition.To.IsTerminal() {
			return nil
		}
		return a.Archive(ctx, e.AgentID, src.History(e.AgentID, 0))
	}
}

// Archive uploads history as id's archive document, replacing any earlier
// upload.
func (a *Archiver) Archive(ctx context.Context, id lifecycle.AgentID, history []lifecycle.StateTransition) error {
	doc := Document{
		AgentID:     id.String(),
		ArchivedAt:  a.now().UTC(),
		Transitions: history,
	}
	if n := len(history); n > 0 {
		doc.FinalState = history[n-1].To
	}
	if doc.Transitions == nil {
		doc.Transitions = []lifecycle.StateTransition{}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeValidation, "archive: history is not JSON-serializable")
	}

	object := a.ObjectName(id)
	ctx, span := a.startSpan(ctx, "Archive", "PUT "+a.bucket+"/"+object)
	span.SetAttributes(attribute.String("agent.id", id.String()))
	err = a.upload(ctx, object, body)
	finishSpan(span, err)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "archive: history archived",
		"agent_id", id.String(),
		"object", object,
		"transitions", len(history),
	)
	return nil
}

func (a *Archiver) upload(ctx context.Context, object string, body []byte) error {
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := a.store.PutObject(ctx, a.bucket, object, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return wrapError(err, "archive: upload failed")
	}
	return nil
}

// Load downloads and decodes id's archive document.
func (a *Archiver) Load(ctx context.Context, id lifecycle.AgentID) (Document, error) {
	object := a.ObjectName(id)
	ctx, span := a.startSpan(ctx, "Load", "GET "+a.bucket+"/"+object)

	doc, err := a.load(ctx, object)
	finishSpan(span, err)
	return doc, err
}

func (a *Archiver) load(ctx context.Context, object string) (Document, error) {
	var doc Document
	obj, err := a.store.GetObject(ctx, a.bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return doc, wrapError(err, "archive: download failed")
	}
	defer obj.Close()

	if err := json.NewDecoder(obj).Decode(&doc); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return doc, sserr.Wrapf(err, sserr.CodeNotFoundAgent, "archive: no archive for %s", object)
		}
		return doc, wrapError(err, "archive: decode failed")
	}
	return doc, nil
}

// ensureBucket creates the bucket once per Archiver.
func (a *Archiver) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bucketReady {
		return nil
	}

	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return wrapError(err, "archive: bucket check failed")
	}
	if !exists {
		err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
		if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
			return wrapError(err, "archive: create bucket failed")
		}
		a.logger.InfoContext(ctx, "archive: bucket created", "bucket", a.bucket)
	}
	a.bucketReady = true
	return nil
}

func (a *Archiver) startSpan(ctx context.Context, operation, statement string) (context.Context, trace.Span) {
	ctx, span := a.tracer.Start(ctx, "minio."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", a.bucket),
		attribute.String("db.statement", statement),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
