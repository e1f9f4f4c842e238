package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/scopeoor/pkg/config"
	"github.com/ethpandaops/scopeoor/pkg/fsutil"
	"github.com/ethpandaops/scopeoor/pkg/report"
)

// localExporter implements Exporter for a local directory.
type localExporter struct {
	log    logrus.FieldLogger
	cfg    *config.LocalExportConfig
	owner  *fsutil.Owner
	format string
}

// Ensure interface compliance.
var _ Exporter = (*localExporter)(nil)

// NewLocalExporter creates an exporter writing into cfg.Dir.
func NewLocalExporter(
	log logrus.FieldLogger,
	cfg *config.LocalExportConfig,
	format string,
) (Exporter, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("local export directory is required")
	}

	owner, err := fsutil.ParseOwner(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("parsing export owner: %w", err)
	}

	return &localExporter{
		log:    log.WithField("component", "local-exporter"),
		cfg:    cfg,
		owner:  owner,
		format: format,
	}, nil
}

// Preflight creates the export directory and checks it is writable.
func (e *localExporter) Preflight(_ context.Context) error {
	if err := fsutil.MkdirAll(e.cfg.Dir, 0o755, e.owner); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	f, err := os.CreateTemp(e.cfg.Dir, ".scopeoor-write-test-*")
	if err != nil {
		return fmt.Errorf("writing test file to %s: %w", e.cfg.Dir, err)
	}

	name := f.Name()
	_ = f.Close()

	return os.Remove(name)
}

func (e *localExporter) Export(ctx context.Context, rep *report.RunReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(rep, e.format)
	if err != nil {
		return err
	}

	if err := fsutil.MkdirAll(e.cfg.Dir, 0o755, e.owner); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	path := filepath.Join(e.cfg.Dir, FileName(rep.RunID(), e.format))

	if err := fsutil.WriteFileAtomic(path, data, 0o644, e.owner); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"run_id": rep.RunID(),
		"path":   path,
		"size":   units.HumanSize(float64(len(data))),
	}).Info("Report written")

	return nil
}
