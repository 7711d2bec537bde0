// Package config loads the vdisk-tool configuration file. Documents are
// validated against an embedded JSON schema before they are decoded, and
// zero values are filled from DefaultConfig.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
	k8syaml "sigs.k8s.io/yaml"
)

const (
	DefaultLogLevel           = "info"
	DefaultDrive              = 0x80
	DefaultDiskDrive          = 0x80
	DefaultMaxTransferSectors = 127
	DefaultMediaID            = 1
	DefaultVendorGUID         = "6f1d4c2b-8a3e-4b57-9c60-d1e2f3a4b5c6"
	DefaultImageSectorSize    = 2048
	DefaultDiskSectorSize     = 512
	DefaultFormat             = "text"
)

// Output formats accepted by the inspect command.
var Formats = []string{"text", "json", "yaml"}

//go:embed schema/config.schema.json
var schemaJSON []byte

const schemaURL = "config.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Config is the vdisk-tool configuration.
type Config struct {
	LogLevel string        `yaml:"log_level" json:"log_level"`
	BIOS     BIOSConfig    `yaml:"bios" json:"bios"`
	UEFI     UEFIConfig    `yaml:"uefi" json:"uefi"`
	Builder  BuilderConfig `yaml:"builder" json:"builder"`
	Output   OutputConfig  `yaml:"output" json:"output"`
}

// BIOSConfig controls the INT 13h front end.
type BIOSConfig struct {
	// Drive is the number the virtual disk answers to.
	Drive uint8 `yaml:"drive" json:"drive"`
	// DiskDrive is the real drive holding the image.
	DiskDrive uint8 `yaml:"disk_drive" json:"disk_drive"`
	// DriveMap redirects a drive number to DiskDrive. Zero disables it.
	DriveMap           uint8  `yaml:"drive_map" json:"drive_map"`
	MaxTransferSectors uint16 `yaml:"max_transfer_sectors" json:"max_transfer_sectors"`
	CDROM              bool   `yaml:"cdrom" json:"cdrom"`
}

// UEFIConfig controls the Block I/O front end.
type UEFIConfig struct {
	MediaID    uint32 `yaml:"media_id" json:"media_id"`
	VendorGUID string `yaml:"vendor_guid" json:"vendor_guid"`
	Removable  bool   `yaml:"removable" json:"removable"`
}

// BareFilesystem selects a FAT filesystem starting at sector 0 of the disk.
// Zero cannot be used for this since it means "unset" and takes the default.
const BareFilesystem = -1

// BuilderConfig holds the defaults of the build command.
type BuilderConfig struct {
	ImageSectorSize uint32 `yaml:"image_sector_size" json:"image_sector_size"`
	DiskSectorSize  uint32 `yaml:"disk_sector_size" json:"disk_sector_size"`
	Partition       int    `yaml:"partition" json:"partition"`
	SkipBootCatalog bool   `yaml:"skip_boot_catalog" json:"skip_boot_catalog"`
}

// PartitionIndex returns the partition in the form builder.Options takes:
// 1-based, or 0 for a bare filesystem.
func (b BuilderConfig) PartitionIndex() int {
	if b.Partition == BareFilesystem {
		return 0
	}
	return b.Partition
}

// OutputConfig holds the defaults of the inspect command.
type OutputConfig struct {
	Format string `yaml:"format" json:"format"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		BIOS: BIOSConfig{
			Drive:              DefaultDrive,
			DiskDrive:          DefaultDiskDrive,
			MaxTransferSectors: DefaultMaxTransferSectors,
		},
		UEFI: UEFIConfig{
			MediaID:    DefaultMediaID,
			VendorGUID: DefaultVendorGUID,
		},
		Builder: BuilderConfig{
			ImageSectorSize: DefaultImageSectorSize,
			DiskSectorSize:  DefaultDiskSectorSize,
			Partition:       1,
		},
		Output: OutputConfig{
			Format: DefaultFormat,
		},
	}
}

// Merge merges the provided config with defaults, using defaults for zero values.
func (c Config) Merge(defaults Config) Config {
	merged := c

	if merged.LogLevel == "" {
		merged.LogLevel = defaults.LogLevel
	}

	// Drive numbers below 80h are floppies and never a valid default, so zero
	// means unset. DriveMap keeps zero as "disabled".
	if merged.BIOS.Drive == 0 {
		merged.BIOS.Drive = defaults.BIOS.Drive
	}
	if merged.BIOS.DiskDrive == 0 {
		merged.BIOS.DiskDrive = defaults.BIOS.DiskDrive
	}
	if merged.BIOS.MaxTransferSectors == 0 {
		merged.BIOS.MaxTransferSectors = defaults.BIOS.MaxTransferSectors
	}

	if merged.UEFI.MediaID == 0 {
		merged.UEFI.MediaID = defaults.UEFI.MediaID
	}
	if merged.UEFI.VendorGUID == "" {
		merged.UEFI.VendorGUID = defaults.UEFI.VendorGUID
	}

	if merged.Builder.ImageSectorSize == 0 {
		merged.Builder.ImageSectorSize = defaults.Builder.ImageSectorSize
	}
	if merged.Builder.DiskSectorSize == 0 {
		merged.Builder.DiskSectorSize = defaults.Builder.DiskSectorSize
	}
	if merged.Builder.Partition == 0 {
		merged.Builder.Partition = defaults.Builder.Partition
	}

	if merged.Output.Format == "" {
		merged.Output.Format = defaults.Output.Format
	}

	return merged
}

// Validate checks the cross-field rules the schema cannot express.
func (c Config) Validate() error {
	if c.Builder.DiskSectorSize == 0 || c.Builder.ImageSectorSize%c.Builder.DiskSectorSize != 0 {
		return fmt.Errorf("image sector size %d is not a multiple of disk sector size %d",
			c.Builder.ImageSectorSize, c.Builder.DiskSectorSize)
	}
	if _, err := uuid.Parse(c.UEFI.VendorGUID); err != nil {
		return fmt.Errorf("invalid vendor GUID %q: %w", c.UEFI.VendorGUID, err)
	}
	if !slices.Contains(Formats, c.Output.Format) {
		return fmt.Errorf("unsupported output format %q (supported: %s)", c.Output.Format, strings.Join(Formats, ", "))
	}
	if c.BIOS.DriveMap != 0 && c.BIOS.DriveMap == c.BIOS.DiskDrive {
		return fmt.Errorf("drive map %02Xh must differ from disk drive", c.BIOS.DriveMap)
	}
	return nil
}

// VendorUUID returns the parsed vendor GUID. It panics on a config that did
// not pass Validate.
func (c Config) VendorUUID() uuid.UUID {
	return uuid.MustParse(c.UEFI.VendorGUID)
}

// Load reads, validates and decodes the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes a YAML configuration document.
func Parse(data []byte) (Config, error) {
	if err := ValidateDocument(data); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidateDocument checks a YAML document against the configuration schema.
func ValidateDocument(data []byte) error {
	sch, err := loadSchema()
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	js, err := k8syaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	var doc any
	if err := json.Unmarshal(js, &doc); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("failed to load config schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile config schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}
