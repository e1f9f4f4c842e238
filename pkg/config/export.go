package config

import (
	"fmt"
	"strings"

	"github.com/ethpandaops/scopeoor/pkg/fsutil"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ExportConfig configures where run reports are written. Only one backend
// may be enabled at a time.
type ExportConfig struct {
	Format      string            `yaml:"format" mapstructure:"format"`
	Concurrency int               `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
	Local       LocalExportConfig `yaml:"local,omitempty" mapstructure:"local"`
	S3          S3ExportConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
}

// LocalExportConfig writes reports into a directory.
type LocalExportConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
	// Owner optionally sets "UID:GID" ownership of written reports.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// S3ExportConfig uploads reports to S3-compatible storage.
type S3ExportConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// Validate checks the export settings.
func (c *ExportConfig) Validate() error {
	switch strings.ToLower(c.Format) {
	case FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("export.format %q: must be %s or %s", c.Format, FormatJSON, FormatYAML)
	}

	if c.Local.Enabled && c.S3.Enabled {
		return fmt.Errorf("export: cannot enable both local and s3")
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("export.s3.bucket is required when s3 export is enabled")
	}

	if c.Local.Enabled && c.Local.Dir == "" {
		return fmt.Errorf("export.local.dir is required when local export is enabled")
	}

	if _, err := fsutil.ParseOwner(c.Local.Owner); err != nil {
		return fmt.Errorf("export.local.owner: %w", err)
	}

	return nil
}
