package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("log level=%q want %q", cfg.LogLevel, DefaultLogLevel)
	}
	if cfg.BIOS.Drive != 0x80 || cfg.BIOS.DiskDrive != 0x80 || cfg.BIOS.DriveMap != 0 {
		t.Errorf("bios=%+v", cfg.BIOS)
	}
	if cfg.Builder.ImageSectorSize != 2048 || cfg.Builder.DiskSectorSize != 512 {
		t.Errorf("builder=%+v", cfg.Builder)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.VendorUUID().String(); got != DefaultVendorGUID {
		t.Errorf("vendor=%s want %s", got, DefaultVendorGUID)
	}
}

func TestConfigMerge(t *testing.T) {
	cfg := Config{
		BIOS:    BIOSConfig{Drive: 0xE0, CDROM: true},
		Builder: BuilderConfig{ImageSectorSize: 512},
		Output:  OutputConfig{Pretty: true},
	}
	merged := cfg.Merge(DefaultConfig())

	if merged.BIOS.Drive != 0xE0 || !merged.BIOS.CDROM {
		t.Errorf("explicit bios values lost: %+v", merged.BIOS)
	}
	if merged.BIOS.MaxTransferSectors != DefaultMaxTransferSectors {
		t.Errorf("max transfer=%d want %d", merged.BIOS.MaxTransferSectors, DefaultMaxTransferSectors)
	}
	if merged.Builder.ImageSectorSize != 512 || merged.Builder.DiskSectorSize != DefaultDiskSectorSize {
		t.Errorf("builder=%+v", merged.Builder)
	}
	if merged.Output.Format != DefaultFormat || !merged.Output.Pretty {
		t.Errorf("output=%+v", merged.Output)
	}
	if merged.LogLevel != DefaultLogLevel || merged.UEFI.MediaID != DefaultMediaID {
		t.Errorf("defaults not applied: %+v", merged)
	}
}

func TestParse(t *testing.T) {
	doc := `
log_level: debug
bios:
  drive: 0xe0
  disk_drive: 0x80
  drive_map: 0x81
  cdrom: true
uefi:
  media_id: 9
builder:
  image_sector_size: 4096
  partition: 2
output:
  format: yaml
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.BIOS.Drive != 0xE0 || cfg.BIOS.DriveMap != 0x81 || !cfg.BIOS.CDROM {
		t.Errorf("cfg=%+v", cfg)
	}
	if cfg.UEFI.MediaID != 9 || cfg.UEFI.VendorGUID != DefaultVendorGUID {
		t.Errorf("uefi=%+v", cfg.UEFI)
	}
	if cfg.Builder.ImageSectorSize != 4096 || cfg.Builder.DiskSectorSize != 512 || cfg.Builder.Partition != 2 {
		t.Errorf("builder=%+v", cfg.Builder)
	}
	if cfg.Output.Format != "yaml" {
		t.Errorf("format=%q", cfg.Output.Format)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("cfg=%+v want defaults", cfg)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", "bios:\n  drives: 1\n", "schema validation failed"},
		{"unknown section", "network: {}\n", "schema validation failed"},
		{"bad level", "log_level: verbose\n", "schema validation failed"},
		{"drive too large", "bios:\n  drive: 300\n", "schema validation failed"},
		{"bad format", "output:\n  format: xml\n", "schema validation failed"},
		{"bad guid", "uefi:\n  vendor_guid: not-a-guid\n", "schema validation failed"},
		{"sector ratio", "builder:\n  image_sector_size: 512\n  disk_sector_size: 4096\n", "not a multiple"},
		{"map equals disk", "bios:\n  drive_map: 0x80\n", "must differ"},
		{"not yaml", "bios: [\n", "failed to parse YAML"},
		{"partition below sentinel", "builder:\n  partition: -2\n", "schema validation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v want %q", err, tt.want)
			}
		})
	}
}

func TestParse_Partition(t *testing.T) {
	tests := []struct {
		doc       string
		partition int
		index     int
	}{
		{"", 1, 1},
		{"builder:\n  partition: 0\n", 1, 1},
		{"builder:\n  partition: 3\n", 3, 3},
		{"builder:\n  partition: -1\n", BareFilesystem, 0},
	}
	for _, tt := range tests {
		c, err := Parse([]byte(tt.doc))
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.doc, err)
		}
		if c.Builder.Partition != tt.partition || c.Builder.PartitionIndex() != tt.index {
			t.Errorf("Parse(%q) partition=%d index=%d want %d/%d", tt.doc, c.Builder.Partition, c.Builder.PartitionIndex(), tt.partition, tt.index)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "vdisk.yml")
	if err := os.WriteFile(p, []byte("output:\n  pretty: true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Output.Pretty || cfg.Output.Format != DefaultFormat {
		t.Errorf("output=%+v", cfg.Output)
	}

	if _, err := Load(filepath.Join(dir, "missing.yml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}

	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(bad, []byte("log_level: loud\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), bad) {
		t.Fatalf("err=%v want it to name %s", err, bad)
	}
}
