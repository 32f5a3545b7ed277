package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"shroomdump/internal/batch"
	"shroomdump/internal/bundle"
	"shroomdump/internal/extvars"
	"shroomdump/internal/logging"
	"shroomdump/internal/services"
)

const (
	// GamedataDir holds downloaded gamedata documents under the download dir.
	GamedataDir = "gamedata"
	// GamedataBundle is the bundle of all gamedata documents under the output dir.
	GamedataBundle = "gamedata" + bundle.Extension

	gamedataConcurrency = 4
)

type document struct {
	name string
	url  string
}

func (p *Pipeline) runStandard(ctx context.Context, url string, steps *stepper, progress func(context.Context) func(batch.Progress)) (ModeSummary, error) {
	ms := ModeSummary{Mode: ModeStandard}
	started := p.now()

	var vars extvars.StandardVariables
	err := steps.run(ctx, "Fetch external variables", func(ctx context.Context) error {
		set, err := p.loadVariables(ctx, url)
		if err != nil {
			return err
		}
		vars = extvars.ExtractStandard(set)
		return vars.Require()
	})
	if err != nil {
		return p.finishMode(ctx, &ms, started, err)
	}

	var downloaded []Item
	err = steps.run(ctx, "Download gamedata", func(ctx context.Context) error {
		docs := sortedDocuments(vars.Documents())
		dir := filepath.Join(p.cfg.Paths.DownloadDir, GamedataDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.KindSetup, "prepare gamedata directory", dir, "", err)
		}

		outcome := batch.Run(ctx, docs, func(ctx context.Context, doc document) (Item, error) {
			dest := filepath.Join(dir, doc.name)
			size, err := p.fetcher.Download(ctx, doc.url, dest)
			if err != nil {
				return Item{}, err
			}
			return Item{Name: doc.name, Kind: GamedataDir, Source: dest, Size: size}, nil
		}, batch.Options{
			Concurrency: gamedataConcurrency,
			OnProgress:  progress(ctx),
			Label:       "Downloading gamedata",
		})
		for _, failure := range outcome.Failed {
			ms.Failed = append(ms.Failed, Item{
				Name:   failure.Item.name,
				Kind:   GamedataDir,
				Source: failure.Item.url,
				Err:    failure.Err,
			})
		}
		downloaded = outcome.Results()
		if len(downloaded) == 0 {
			return services.Wrap(services.KindFetch, "download gamedata", dir, "no document could be downloaded", ctx.Err())
		}
		return nil
	})
	if err != nil {
		return p.finishMode(ctx, &ms, started, err)
	}

	err = steps.run(ctx, "Package gamedata", func(ctx context.Context) error {
		items, err := p.packageGamedata(ctx, downloaded)
		if err != nil {
			ms.Failed = append(ms.Failed, failAll(downloaded, err)...)
			return err
		}
		ms.Succeeded = append(ms.Succeeded, items...)
		return nil
	})
	return p.finishMode(ctx, &ms, started, err)
}

func sortedDocuments(docs map[string]string) []document {
	out := make([]document, 0, len(docs))
	for name, url := range docs {
		out = append(out, document{name: name, url: url})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// packageGamedata bundles the downloaded documents into one gamedata bundle
// and returns the items annotated with the bundle location.
func (p *Pipeline) packageGamedata(ctx context.Context, items []Item) ([]Item, error) {
	builder := bundle.NewBuilder()
	for _, item := range items {
		data, err := os.ReadFile(item.Source)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", item.Name, err)
		}
		if err := builder.Add(item.Name, data); err != nil {
			return nil, err
		}
	}
	data, err := builder.Finalize()
	if err != nil {
		return nil, err
	}
	out := filepath.Join(p.cfg.Paths.OutputDir, GamedataBundle)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if err := bundle.WriteFile(out, data); err != nil {
		return nil, err
	}

	digest := bundle.Digest(data)
	packaged := make([]Item, len(items))
	for i, item := range items {
		item.Output = out
		item.Digest = digest
		item.Entries = len(items)
		packaged[i] = item
	}
	logging.WithContext(ctx, p.logger).Info("gamedata bundle written",
		logging.String("path", out),
		logging.Int("documents", len(items)),
		logging.Int64("bytes", int64(len(data))),
	)
	return packaged, nil
}

func failAll(items []Item, err error) []Item {
	out := make([]Item, len(items))
	for i, item := range items {
		item.Err = err
		out[i] = item
	}
	return out
}
