// Package fetch resolves a model identifier to a ready-to-export SegFormer
// model and its preprocessing configuration.
//
// Repository files are retrieved through a Downloader (normally a
// *hub.Client, which owns the local cache). Weights must be published as
// safetensors, either a single model.safetensors or a sharded
// model.safetensors.index.json. The returned model is always in eval mode.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/born-ml/segport/internal/hub"
	"github.com/born-ml/segport/internal/loader"
	"github.com/born-ml/segport/internal/nn"
	"github.com/born-ml/segport/internal/parallel"
	"github.com/born-ml/segport/internal/preprocess"
	"github.com/born-ml/segport/internal/segformer"
	"github.com/born-ml/segport/internal/tensor"
)

// DefaultTimeout bounds a whole fetch when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Minute

// ErrResourceUnavailable wraps every fetch failure: network errors, unknown
// identifiers, rejected credentials and repositories whose contents do not
// describe a SegFormer model.
var ErrResourceUnavailable = errors.New("resource unavailable")

// errIncompatible marks repositories that exist but cannot be loaded.
var errIncompatible = errors.New("incompatible repository schema")

// Downloader makes a repository file available locally and returns its path.
type Downloader interface {
	Download(ctx context.Context, repo, revision, file string) (string, error)
}

// Options configures a Fetcher.
type Options struct {
	Revision string
	Timeout  time.Duration
	Parallel parallel.Config
	Logger   *slog.Logger
}

// Fetcher loads SegFormer models from a model repository.
type Fetcher struct {
	dl       Downloader
	revision string
	timeout  time.Duration
	par      parallel.Config
	log      *slog.Logger
}

// New creates a Fetcher that retrieves files through dl.
func New(dl Downloader, opts Options) *Fetcher {
	f := &Fetcher{
		dl:       dl,
		revision: opts.Revision,
		timeout:  opts.Timeout,
		par:      opts.Parallel,
		log:      opts.Logger,
	}
	if f.revision == "" {
		f.revision = hub.DefaultRevision
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	return f
}

// Fetch downloads and loads modelID. The model is switched to eval mode
// before it is returned. Every error wraps ErrResourceUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, modelID string) (*segformer.Model, *preprocess.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	model, pre, err := f.fetch(ctx, modelID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrResourceUnavailable, modelID, err)
	}
	return model, pre, nil
}

func (f *Fetcher) fetch(ctx context.Context, modelID string) (*segformer.Model, *preprocess.Config, error) {
	if err := hub.ValidateRepoID(modelID); err != nil {
		return nil, nil, err
	}
	f.log.Info("Fetching model", "model", modelID, "revision", f.revision)

	data, err := f.read(ctx, modelID, segformer.ConfigFileName)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := segformer.ParseConfig(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errIncompatible, err)
	}

	data, err = f.read(ctx, modelID, preprocess.FileName)
	if err != nil {
		return nil, nil, err
	}
	pre, err := preprocess.Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errIncompatible, err)
	}

	weights, err := f.loadWeights(ctx, modelID)
	if err != nil {
		return nil, nil, err
	}
	mapped, err := loader.MapWeights(loader.NewSegFormerMapper(), weights)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errIncompatible, err)
	}
	if unused := segformer.UnusedWeights(cfg, keys(mapped)); len(unused) > 0 {
		f.log.Debug("Checkpoint weights not used by the network", "count", len(unused), "first", unused[0])
	}

	model, err := segformer.New(cfg, nn.StateDict(mapped))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errIncompatible, err)
	}
	model.Eval()

	f.log.Info("Model loaded",
		"model", modelID,
		"num_labels", model.NumLabels(),
		"parameters", model.NumParameters(),
		"weights", len(mapped))
	return model, pre, nil
}

// loadWeights reads model.safetensors, falling back to a sharded checkpoint.
func (f *Fetcher) loadWeights(ctx context.Context, modelID string) (map[string]*tensor.RawTensor, error) {
	path, err := f.dl.Download(ctx, modelID, f.revision, loader.SingleFileName)
	if err == nil {
		weights, err := loader.LoadSafeTensors(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errIncompatible, err)
		}
		return weights, nil
	}
	if !errors.Is(err, hub.ErrNotFound) {
		return nil, err
	}

	f.log.Debug("No single-file checkpoint, trying sharded index", "model", modelID)
	indexPath, err := f.dl.Download(ctx, modelID, f.revision, loader.IndexFileName)
	if errors.Is(err, hub.ErrNotFound) {
		return nil, fmt.Errorf("%w: no %s or %s in repository", errIncompatible, loader.SingleFileName, loader.IndexFileName)
	}
	if err != nil {
		return nil, err
	}

	data, err := readFile(indexPath)
	if err != nil {
		return nil, err
	}
	idx, err := loader.ParseShardIndex(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errIncompatible, err)
	}
	shards := idx.Shards()
	err = parallel.ForEach(len(shards), func(i int) error {
		_, err := f.dl.Download(ctx, modelID, f.revision, shards[i])
		return err
	}, f.par)
	if err != nil {
		return nil, err
	}

	weights, err := loader.LoadSharded(indexPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errIncompatible, err)
	}
	return weights, nil
}

func (f *Fetcher) read(ctx context.Context, modelID, file string) ([]byte, error) {
	path, err := f.dl.Download(ctx, modelID, f.revision, file)
	if err != nil {
		return nil, err
	}
	return readFile(path)
}
