package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/scopeoor/pkg/config"
	"github.com/ethpandaops/scopeoor/pkg/record"
	"github.com/ethpandaops/scopeoor/pkg/report"
	"github.com/ethpandaops/scopeoor/pkg/store"
)

func newLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func sampleReport(runID int) *report.RunReport {
	start := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	rep := &report.RunReport{
		Run: record.TestRun{
			Event: record.Event{
				Name:      "sample",
				StartTime: start,
				Status:    record.StatusPass,
			},
			Meta: map[string]string{"env": "ci"},
		},
		Numeric: []record.NumericMeasurement{{Name: "v", Value: 1.5, Unit: "V"}},
	}
	rep.Run.RunID = runID

	return rep
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakeS3) PutObject(
	_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.objects == nil {
		f.objects = make(map[string][]byte)
		f.types = make(map[string]string)
	}

	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)

	return &s3.PutObjectOutput{}, nil
}

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{name: "default prefix", prefix: "", want: "scopeoor/runs/run-7.json"},
		{name: "custom prefix", prefix: "lab/bench", want: "lab/bench/run-7.json"},
		{name: "trailing slash stripped", prefix: "lab/", want: "lab/run-7.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &s3Exporter{cfg: &config.S3ExportConfig{Prefix: tt.prefix}}
			assert.Equal(t, tt.want, e.resolveKey(FileName(7, "json")))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		path       string
		wantPrefix string
	}{
		{path: "runs/run-1.json", wantPrefix: "application/json"},
		{path: "runs/run-1.yaml", wantPrefix: "application/yaml"},
		{path: "runs/README", wantPrefix: "application/octet-stream"},
		{path: "runs/notes.txt", wantPrefix: "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Contains(t, detectContentType(tt.path), tt.wantPrefix)
		})
	}
}

func TestEncode(t *testing.T) {
	rep := sampleReport(3)

	data, err := Encode(rep, "json")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	run, ok := decoded["run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3.0, run["run_id"])
	assert.Equal(t, "sample", run["name"])

	data, err = Encode(rep, "yaml")
	require.NoError(t, err)

	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))

	run, ok = fromYAML["run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, run["run_id"])

	_, err = Encode(rep, "xml")
	assert.Error(t, err)
}

func TestLocalExporter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")

	exp, err := NewLocalExporter(newLogger(), &config.LocalExportConfig{Enabled: true, Dir: dir}, "yaml")
	require.NoError(t, err)

	require.NoError(t, exp.Preflight(context.Background()))
	require.NoError(t, exp.Export(context.Background(), sampleReport(12)))

	data, err := os.ReadFile(filepath.Join(dir, "run-12.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: sample")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")

	_, err = NewLocalExporter(newLogger(), &config.LocalExportConfig{Dir: dir, Owner: "root"}, "json")
	assert.Error(t, err)
}

func TestS3Exporter(t *testing.T) {
	fake := &fakeS3{}
	exp := &s3Exporter{
		log:    newLogger(),
		cfg:    &config.S3ExportConfig{Bucket: "results", Prefix: "lab"},
		format: "json",
		client: fake,
	}

	require.NoError(t, exp.Preflight(context.Background()))
	require.NoError(t, exp.Export(context.Background(), sampleReport(4)))

	assert.Contains(t, fake.objects, "lab/.scopeoor-write-test")
	require.Contains(t, fake.objects, "lab/run-4.json")
	assert.Contains(t, fake.types["lab/run-4.json"], "application/json")

	fake.err = errors.New("access denied")
	assert.Error(t, exp.Preflight(context.Background()))
}

func TestNew(t *testing.T) {
	_, err := New(newLogger(), &config.ExportConfig{})
	assert.ErrorIs(t, err, ErrNoBackend)

	exp, err := New(newLogger(), &config.ExportConfig{
		Format: "json",
		Local:  config.LocalExportConfig{Enabled: true, Dir: t.TempDir()},
	})
	require.NoError(t, err)
	assert.IsType(t, &localExporter{}, exp)

	exp, err = New(newLogger(), &config.ExportConfig{
		Format: "json",
		S3:     config.S3ExportConfig{Enabled: true, Bucket: "b"},
	})
	require.NoError(t, err)
	assert.IsType(t, &s3Exporter{}, exp)
}

func TestExportAll(t *testing.T) {
	ctx := context.Background()
	e := store.NewEngine(newLogger())

	require.NoError(t, e.Connect(ctx, "sqlite://:memory:"))
	t.Cleanup(func() { _ = e.Disconnect() })

	var runIDs []int

	for _, name := range []string{"a", "b", "c"} {
		runID, err := e.StartRun(ctx, name, nil)
		require.NoError(t, err)
		require.NoError(t, e.EndRun(ctx))

		runIDs = append(runIDs, runID)
	}

	fake := &fakeS3{}
	exp := &s3Exporter{
		log:    newLogger(),
		cfg:    &config.S3ExportConfig{Bucket: "results"},
		format: "json",
		client: fake,
	}

	require.NoError(t, ExportAll(ctx, newLogger(), e, exp, runIDs, 2))
	assert.Len(t, fake.objects, 3)

	for _, runID := range runIDs {
		assert.Contains(t, fake.objects, exp.resolveKey(FileName(runID, "json")))
	}

	err := ExportAll(ctx, newLogger(), e, exp, []int{404}, 2)
	assert.ErrorIs(t, err, report.ErrRunNotFound)
}
