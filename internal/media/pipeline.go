// Package media turns local files into remote, model-consumable references
// and owns their upload, readiness and cleanup lifecycle.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/geminibot/internal/compose"
)

var (
	ErrNotFound         = errors.New("media file not found")
	ErrUpload           = errors.New("media upload failed")
	ErrReadinessTimeout = errors.New("media file did not become active")
)

var errNotReady = errors.New("remote file not active yet")

// RemoteState mirrors the processing state reported by the file service.
type RemoteState string

const (
	RemoteProcessing RemoteState = "PROCESSING"
	RemoteActive     RemoteState = "ACTIVE"
	RemoteFailed     RemoteState = "FAILED"
)

// RemoteFile is a handle returned by the file service.
type RemoteFile struct {
	Name  string
	URI   string
	State RemoteState
}

// FileService is the remote file store the model reads attachments from.
type FileService interface {
	Upload(ctx context.Context, path, mimeType string) (RemoteFile, error)
	Get(ctx context.Context, name string) (RemoteFile, error)
	Delete(ctx context.Context, name string) error
}

const (
	DefaultPollAttempts   = 30
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultConcurrency    = 2
	DefaultCleanupTimeout = 30 * time.Second
)

type Options struct {
	PollAttempts   int
	PollInterval   time.Duration
	Concurrency    int
	CleanupTimeout time.Duration
	// RemoveFile deletes a local file. Defaults to os.Remove.
	RemoveFile func(path string) error
}

func (o Options) withDefaults() Options {
	if o.PollAttempts <= 0 {
		o.PollAttempts = DefaultPollAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = DefaultCleanupTimeout
	}
	if o.RemoveFile == nil {
		o.RemoveFile = os.Remove
	}
	return o
}

type Pipeline struct {
	files FileService
	opts  Options
	log   zerolog.Logger
}

func NewPipeline(files FileService, opts Options, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		files: files,
		opts:  opts.withDefaults(),
		log:   log,
	}
}

// Batch owns every asset created for one generation request. Release must
// be called exactly once after the request finishes, whatever its outcome.
type Batch struct {
	id       string
	pipeline *Pipeline
	log      zerolog.Logger

	mu     sync.Mutex
	assets []*Asset
	parts  []compose.Part
	paths  []string
}

func (p *Pipeline) NewBatch() *Batch {
	id := uuid.NewString()
	return &Batch{
		id:       id,
		pipeline: p,
		log:      p.log.With().Str("batch", id).Logger(),
	}
}

// Ingest uploads every input and waits for all of them to become active.
// Missing files are skipped. Any other failure releases everything the
// batch created and returns the error; the returned batch is then nil.
func (p *Pipeline) Ingest(ctx context.Context, inputs []Input) (*Batch, error) {
	b := p.NewBatch()
	b.log.Info().Int("files", len(inputs)).Msg("Processing media files")

	assets := make([]*Asset, len(inputs))
	for i, in := range inputs {
		assets[i] = b.track(in)
	}

	ready := make([]bool, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, a := range assets {
		g.Go(func() error {
			err := b.ingest(gctx, a)
			if errors.Is(err, ErrNotFound) {
				b.log.Warn().Str("path", a.Path).Msg("Media file not found, skipping")
				return nil
			}
			if err != nil {
				return err
			}
			ready[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		b.log.Error().Err(err).Msg("Media ingestion failed, rolling back")
		b.Release(ctx)
		return nil, err
	}

	b.mu.Lock()
	b.parts = b.parts[:0]
	b.paths = b.paths[:0]
	for i, a := range assets {
		if ready[i] {
			b.parts = append(b.parts, a.Part())
			b.paths = append(b.paths, a.Path)
		}
	}
	b.mu.Unlock()
	return b, nil
}

// IngestFile uploads one file outside of any batch and waits for it to
// become active. On failure the remote asset, if any, and the local file
// are removed. A successful asset is released with ReleaseAsset.
func (p *Pipeline) IngestFile(ctx context.Context, in Input) (*Asset, error) {
	b := p.NewBatch()
	a := b.track(in)
	if err := b.ingest(ctx, a); err != nil {
		if !errors.Is(err, ErrNotFound) {
			b.Release(ctx)
		}
		return nil, err
	}
	return a, nil
}

// ReleaseAsset deletes an asset returned by IngestFile, remote copy first.
// Releasing the same asset again is a no-op.
func (p *Pipeline) ReleaseAsset(ctx context.Context, a *Asset) {
	if a == nil {
		return
	}
	b := p.NewBatch()
	b.assets = []*Asset{a}
	b.Release(ctx)
}

// Add ingests a single file into the batch and returns its reference. On
// failure the asset stays tracked so Release still cleans it up.
func (b *Batch) Add(ctx context.Context, in Input) (compose.Part, error) {
	a := b.track(in)
	if err := b.ingest(ctx, a); err != nil {
		return compose.Part{}, err
	}

	part := a.Part()
	b.mu.Lock()
	b.parts = append(b.parts, part)
	b.paths = append(b.paths, a.Path)
	b.mu.Unlock()
	return part, nil
}

// Parts returns the ready references in input order.
func (b *Batch) Parts() []compose.Part {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]compose.Part(nil), b.parts...)
}

// Paths returns the local paths behind Parts.
func (b *Batch) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...)
}

// Assets returns a snapshot of every tracked asset.
func (b *Batch) Assets() []Asset {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Asset, len(b.assets))
	for i, a := range b.assets {
		out[i] = *a
	}
	return out
}

func (b *Batch) track(in Input) *Asset {
	a := &Asset{Path: in.Path, MIMEType: in.MIMEType, State: Created}
	b.mu.Lock()
	b.assets = append(b.assets, a)
	b.mu.Unlock()
	return a
}

// ingest drives one asset through upload and readiness polling. Only the
// calling goroutine touches a until it returns.
func (b *Batch) ingest(ctx context.Context, a *Asset) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUpload, a.Path, err)
	}

	info, err := os.Stat(a.Path)
	if err != nil {
		a.State = Failed
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, a.Path)
		}
		return fmt.Errorf("%w: stat %s: %w", ErrUpload, a.Path, err)
	}
	if info.IsDir() {
		a.State = Failed
		return fmt.Errorf("%w: %s is a directory", ErrNotFound, a.Path)
	}
	a.Size = info.Size()
	a.MIMEType = ResolveMIME(a.MIMEType, a.Path)

	log := b.log.With().Str("path", a.Path).Str("mime", a.MIMEType).Logger()
	log.Info().Int64("size", a.Size).Msg("Uploading file")

	a.State = Uploading
	remote, err := b.pipeline.files.Upload(ctx, a.Path, a.MIMEType)
	if remote.Name != "" {
		a.RemoteName = remote.Name
		a.URI = remote.URI
	}
	if err != nil {
		a.State = Failed
		return fmt.Errorf("%w: %s: %w", ErrUpload, a.Path, err)
	}
	a.State = Pending

	ready, err := b.pipeline.awaitActive(ctx, remote.Name)
	if err != nil {
		a.State = Failed
		return err
	}
	if ready.URI != "" {
		a.URI = ready.URI
	}
	a.State = Active
	log.Info().Str("name", a.RemoteName).Str("uri", a.URI).Msg("File uploaded and active")
	return nil
}

// awaitActive polls the remote file at a fixed interval until it reports
// ACTIVE, the attempt budget runs out, or ctx is done.
func (p *Pipeline) awaitActive(ctx context.Context, name string) (RemoteFile, error) {
	file, err := backoff.Retry(ctx,
		func() (RemoteFile, error) {
			f, err := p.files.Get(ctx, name)
			if err != nil {
				return f, backoff.Permanent(fmt.Errorf("%w: get %s: %w", ErrUpload, name, err))
			}
			switch f.State {
			case RemoteActive:
				return f, nil
			case RemoteFailed:
				return f, backoff.Permanent(fmt.Errorf("%w: %s: remote processing failed", ErrUpload, name))
			}
			return f, errNotReady
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.opts.PollInterval)),
		backoff.WithMaxTries(uint(p.opts.PollAttempts)),
	)
	switch {
	case err == nil:
		return file, nil
	case errors.Is(err, errNotReady):
		return file, fmt.Errorf("%w: %s after %d attempts", ErrReadinessTimeout, name, p.opts.PollAttempts)
	case errors.Is(err, ErrUpload):
		return file, err
	}
	return file, fmt.Errorf("%w: %s: %w", ErrUpload, name, err)
}

// Release deletes every remote asset the batch created, then every local
// file it was given. It ignores the caller's cancellation, logs failures
// per asset and never touches an asset twice.
func (b *Batch) Release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.pipeline.opts.CleanupTimeout)
	defer cancel()

	b.mu.Lock()
	assets := append([]*Asset(nil), b.assets...)
	b.mu.Unlock()

	var remote, local int
	for _, a := range assets {
		b.mu.Lock()
		doRemote := a.uploaded() && !a.remoteReleased
		a.remoteReleased = a.remoteReleased || doRemote
		b.mu.Unlock()
		if !doRemote {
			continue
		}
		if err := b.pipeline.files.Delete(ctx, a.RemoteName); err != nil {
			b.log.Error().Err(err).Str("name", a.RemoteName).Msg("Error deleting uploaded file")
			continue
		}
		b.mu.Lock()
		a.State = Deleted
		b.mu.Unlock()
		remote++
	}

	for _, a := range assets {
		b.mu.Lock()
		doLocal := !a.localReleased
		a.localReleased = true
		b.mu.Unlock()
		if !doLocal {
			continue
		}
		if err := b.pipeline.opts.RemoveFile(a.Path); err != nil {
			if !os.IsNotExist(err) {
				b.log.Error().Err(err).Str("path", a.Path).Msg("Error deleting local media file")
			}
			continue
		}
		local++
	}

	b.log.Info().Int("remote", remote).Int("local", local).Msg("Released media batch")
}
