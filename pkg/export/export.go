// Package export writes run reports to a local directory or to
// S3-compatible storage.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/scopeoor/pkg/config"
	"github.com/ethpandaops/scopeoor/pkg/report"
	"github.com/ethpandaops/scopeoor/pkg/store"
)

// ErrNoBackend is returned when no export backend is enabled.
var ErrNoBackend = errors.New("no export backend enabled")

// Exporter writes run reports to a storage backend.
type Exporter interface {
	// Preflight verifies that the backend is reachable and writable.
	Preflight(ctx context.Context) error

	// Export writes one report as run-<id>.<format>.
	Export(ctx context.Context, rep *report.RunReport) error
}

// New creates the exporter of the enabled backend.
func New(log logrus.FieldLogger, cfg *config.ExportConfig) (Exporter, error) {
	switch {
	case cfg.S3.Enabled:
		return NewS3Exporter(log, &cfg.S3, cfg.Format)
	case cfg.Local.Enabled:
		return NewLocalExporter(log, &cfg.Local, cfg.Format)
	default:
		return nil, ErrNoBackend
	}
}

// Encode renders rep in format, json or yaml.
func Encode(rep *report.RunReport, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", config.FormatJSON:
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding json: %w", err)
		}

		return append(data, '\n'), nil
	case config.FormatYAML:
		data, err := yaml.Marshal(rep)
		if err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}

		return data, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// FileName is the document name of a run report.
func FileName(runID int, format string) string {
	ext := strings.ToLower(format)
	if ext == "" {
		ext = config.FormatJSON
	}

	return fmt.Sprintf("run-%d.%s", runID, ext)
}

// ExportAll builds and exports the reports of runIDs with at most
// concurrency exports in flight. The first failure cancels the rest.
func ExportAll(
	ctx context.Context,
	log logrus.FieldLogger,
	engine store.Engine,
	exp Exporter,
	runIDs []int,
	concurrency int,
) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var exported atomic.Int64

	for _, runID := range runIDs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			rep, err := report.Build(gCtx, engine, runID)
			if err != nil {
				return fmt.Errorf("building report for run %d: %w", runID, err)
			}

			if err := exp.Export(gCtx, rep); err != nil {
				return fmt.Errorf("exporting run %d: %w", runID, err)
			}

			exported.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.WithField("runs", exported.Load()).Info("Export completed")

	return nil
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "application/octet-stream"
	}

	switch ext {
	case ".yaml", ".yml":
		return "application/yaml"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}
