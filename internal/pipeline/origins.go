package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shroomdump/internal/archive"
	"shroomdump/internal/batch"
	"shroomdump/internal/bundle"
	"shroomdump/internal/clientcache"
	"shroomdump/internal/discovery"
	"shroomdump/internal/extvars"
	"shroomdump/internal/logging"
	"shroomdump/internal/services"
)

// ClientInfo identifies the client archive to download.
type ClientInfo struct {
	Version     string
	DownloadURL string
	Platform    string
}

// ParseClientURLs picks the client for platform from the client URL document,
// which carries "shockwave-<platform>-version" and "shockwave-<platform>".
func ParseClientURLs(doc map[string]any, platform string) (ClientInfo, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	if platform == "" {
		platform = "windows"
	}
	versionKey := "shockwave-" + platform + "-version"
	urlKey := "shockwave-" + platform
	version := stringField(doc, versionKey)
	if version == "" {
		return ClientInfo{}, services.Wrap(services.KindFetch, "read client urls", versionKey, "missing from client URL document", nil)
	}
	url := stringField(doc, urlKey)
	if url == "" {
		return ClientInfo{}, services.Wrap(services.KindFetch, "read client urls", urlKey, "missing from client URL document", nil)
	}
	return ClientInfo{Version: version, DownloadURL: url, Platform: platform}, nil
}

func stringField(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSpace(fmt.Sprint(v))
	default:
		return ""
	}
}

func (p *Pipeline) runOrigins(ctx context.Context, url string, steps *stepper, progress func(context.Context) func(batch.Progress)) (ModeSummary, error) {
	ms := ModeSummary{Mode: ModeOrigins}
	started := p.now()
	logger := logging.WithContext(ctx, p.logger)

	var vars extvars.OriginsVariables
	err := steps.run(ctx, "Fetch Origins external variables", func(ctx context.Context) error {
		set, err := p.loadVariables(ctx, url)
		if err != nil {
			return err
		}
		vars = extvars.ExtractOrigins(set)
		logger.Info("origins variables",
			logging.String("figure_data", vars.FigurePartListURL),
			logging.String("external_texts", vars.ExternalTextsURL),
			logging.String("flash_dynamic_download", vars.FlashDynamicDownloadURL),
			logging.Int("cast_entries", len(vars.CastEntries)),
			logging.Int("room_casts", len(vars.RoomCasts)),
		)
		return vars.Require()
	})
	if err != nil {
		return p.finishMode(ctx, &ms, started, err)
	}

	var clientDir string
	err = steps.run(ctx, "Download from Origins server", func(ctx context.Context) error {
		figureData := filepath.Join(p.cfg.Paths.DownloadDir, FigureDataName)
		if _, err := p.fetcher.Download(ctx, vars.FigurePartListURL, figureData); err != nil {
			return err
		}
		logger.Info("figure data downloaded", logging.String("path", figureData))

		dir, err := p.ensureClient(ctx)
		if err != nil {
			return err
		}
		clientDir = dir
		return nil
	})
	if err != nil {
		return p.finishMode(ctx, &ms, started, err)
	}

	var assets []discovery.Asset
	err = steps.run(ctx, "Discover assets", func(ctx context.Context) error {
		found, err := discovery.Discover(clientDir, discovery.Options{
			MaxDepth: p.cfg.Extraction.MaxDepth,
			Exclude:  p.cfg.Extraction.Exclude,
			Logger:   logging.WithContext(ctx, p.logger),
		})
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("%s: %w", clientDir, discovery.ErrNoAssets)
		}
		assets = found
		return nil
	})
	if err != nil {
		return p.finishMode(ctx, &ms, started, err)
	}

	err = steps.run(ctx, "Extract assets", func(ctx context.Context) error {
		if err := p.extractor.EnsureAvailable(ctx); err != nil {
			return err
		}
		claimed, collisions := p.claimOutputs(assets)
		for _, item := range collisions {
			logging.WarnWithContext(logger, "asset skipped, output path already claimed", "asset_output_collision",
				logging.String("source", item.Source),
				logging.String("output", item.Output),
				logging.Error(item.Err),
				logging.String(logging.FieldImpact, "only the first asset with this name is bundled"),
			)
		}
		ms.Failed = append(ms.Failed, collisions...)
		for _, partition := range discovery.PartitionAssets(claimed) {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.extractPartition(ctx, &ms, partition, progress(ctx))
		}
		return nil
	})
	if err != nil {
		return p.finishMode(ctx, &ms, started, err)
	}

	err = steps.run(ctx, "Generate figure map", func(ctx context.Context) error {
		if _, err := p.writeFigureMap(ctx, ms.Succeeded); err != nil {
			return services.Wrap(services.KindExtraction, "write figure map", p.cfg.Paths.OutputDir, "", err)
		}
		return nil
	})
	return p.finishMode(ctx, &ms, started, err)
}

func (p *Pipeline) finishMode(ctx context.Context, ms *ModeSummary, started time.Time, err error) (ModeSummary, error) {
	fatal := handleModeError(ctx, p.logger, ms, err)
	ms.Duration = p.now().Sub(started)
	return *ms, fatal
}

// ensureClient downloads and unpacks the client archive unless a previously
// unpacked copy of the same version exists.
func (p *Pipeline) ensureClient(ctx context.Context) (string, error) {
	logger := logging.WithContext(ctx, p.logger)

	var doc map[string]any
	if err := p.fetcher.JSON(ctx, p.cfg.Origins.ClientURLsEndpoint, &doc); err != nil {
		return "", err
	}
	client, err := ParseClientURLs(doc, p.cfg.Origins.Platform)
	if err != nil {
		return "", err
	}
	logger.Info("latest origins client", logging.String("version", client.Version), logging.String("platform", client.Platform))

	clientDir := clientcache.Dir(p.cfg.Paths.DownloadDir, client.Version)
	if info, err := os.Stat(clientDir); err == nil && info.IsDir() {
		logger.Info("origins client already unpacked, skipping download", logging.String("path", clientDir))
		return clientDir, nil
	}

	ext := archive.FormatFromName(client.DownloadURL).Extension()
	if ext == "" {
		ext = archive.FormatZip.Extension()
	}
	archivePath := clientcache.ArchivePath(p.cfg.Paths.DownloadDir, client.Version, ext)
	logger.Info("downloading origins client", logging.String("url", client.DownloadURL))
	size, err := p.fetcher.Download(ctx, client.DownloadURL, archivePath)
	if err != nil {
		return "", err
	}

	logger.Info("unpacking origins client", logging.String("archive", archivePath), logging.Int64("bytes", size))
	files, err := archive.Extract(archivePath, clientDir)
	if err != nil {
		return "", services.Wrap(services.KindFetch, "unpack client", archivePath, "", err)
	}
	if err := os.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debug("failed to remove client archive", logging.Error(err))
	}
	logger.Info("origins client unpacked", logging.String("path", clientDir), logging.Int("files", files))
	return clientDir, nil
}

func (p *Pipeline) extractPartition(ctx context.Context, ms *ModeSummary, partition discovery.Partition, onProgress func(batch.Progress)) {
	concurrency := p.cfg.Extraction.DCRConcurrency
	if partition.Container == discovery.ContainerCCT {
		concurrency = p.cfg.Extraction.CCTConcurrency
	}
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("extracting partition",
		logging.String("partition", partition.Label()),
		logging.Int("assets", len(partition.Assets)),
		logging.Int("concurrency", concurrency),
	)

	outcome := batch.Run(ctx, partition.Assets, p.extractAsset, batch.Options{
		Concurrency: concurrency,
		OnProgress:  onProgress,
		Label:       "Extracting " + partition.Label(),
	})
	for _, success := range outcome.Succeeded {
		ms.Succeeded = append(ms.Succeeded, success.Result)
	}
	for _, failure := range outcome.Failed {
		ms.Failed = append(ms.Failed, Item{
			Name:      failure.Item.BaseName,
			Kind:      string(failure.Item.Kind),
			Container: string(failure.Item.Container),
			Source:    failure.Item.Path,
			Err:       failure.Err,
		})
	}
}

// bundlePath is <output>/<kind>/<base>.bundle.
func (p *Pipeline) bundlePath(asset discovery.Asset) string {
	return filepath.Join(p.cfg.Paths.OutputDir, string(asset.Kind), asset.BaseName+bundle.Extension)
}

func assetDumpDir(asset discovery.Asset) string {
	return filepath.Join(filepath.Dir(asset.Path), asset.BaseName)
}

// claimOutputs gives each bundle path and dump directory to the first asset
// in discovery order that maps to it. Later assets are returned as failures
// and never reach the decoder.
func (p *Pipeline) claimOutputs(assets []discovery.Asset) ([]discovery.Asset, []Item) {
	owners := make(map[string]string, 2*len(assets))
	claimed := make([]discovery.Asset, 0, len(assets))
	var collisions []Item
	for _, asset := range assets {
		out := p.bundlePath(asset)
		dump := assetDumpDir(asset)
		owner, taken := owners[out]
		if !taken {
			owner, taken = owners[dump]
		}
		if taken {
			collisions = append(collisions, Item{
				Name:      asset.BaseName,
				Kind:      string(asset.Kind),
				Container: string(asset.Container),
				Source:    asset.Path,
				Output:    out,
				Err:       services.Wrap(services.KindExtraction, "claim output", asset.RelPath, "bundle path already used by "+owner, nil),
			})
			continue
		}
		owners[out] = asset.RelPath
		owners[dump] = asset.RelPath
		claimed = append(claimed, asset)
	}
	return claimed, collisions
}

// extractAsset decodes one container and writes its bundle.
func (p *Pipeline) extractAsset(ctx context.Context, asset discovery.Asset) (Item, error) {
	ctx = services.WithAsset(ctx, asset.BaseName)
	logger := logging.WithContext(ctx, p.logger)
	item := Item{
		Name:      asset.BaseName,
		Kind:      string(asset.Kind),
		Container: string(asset.Container),
		Source:    asset.Path,
	}

	dump := assetDumpDir(asset)
	res, err := p.extractor.ExtractFile(ctx, asset.Path, dump)
	if err != nil {
		return item, err
	}
	if !res.Success {
		if err := writeManifest(dump, asset.Path, p.projectURL); err != nil {
			logger.Debug("failed to write extraction manifest", logging.Error(err))
		}
		return item, services.Wrap(services.KindExtraction, "extract", asset.RelPath, "decoder produced no files", res.ExitErr)
	}

	data, entries, err := buildAssetBundle(asset, res.Files)
	if err != nil {
		return item, services.Wrap(services.KindExtraction, "package", asset.RelPath, "", err)
	}
	out := p.bundlePath(asset)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return item, fmt.Errorf("create output directory: %w", err)
	}
	if err := bundle.WriteFile(out, data); err != nil {
		return item, err
	}

	item.Output = out
	item.Digest = bundle.Digest(data)
	item.Size = int64(len(data))
	item.Entries = entries
	logger.Debug("bundle written",
		logging.String("path", out),
		logging.Int("entries", entries),
		logging.Int64("bytes", item.Size),
	)
	return item, nil
}
