package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
	"github.com/spf13/cobra"
)

// helper: execute a cobra command and capture output.
func execCmd(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// fixture is a host disk, a chain mapping 8 image sectors onto it and the
// image file the chain was built from.
type fixture struct {
	disk, chain, image string
	apparent           []byte // image as the virtual disk presents it
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()

	disk := make([]byte, 400*512)
	for i := range disk {
		disk[i] = byte(i>>9) ^ byte(i*5)
	}
	var image []byte
	image = append(image, disk[100*512:116*512]...)
	image = append(image, disk[300*512:316*512]...)

	head := &chain.ChainHead{
		OSParam:         chain.OSParam{ImagePath: "/ISO/installer.iso", ImageSize: uint64(len(image))},
		DiskDrive:       0x80,
		DiskSectorSize:  512,
		ImageSectorSize: 2048,
		RealImageSize:   uint64(len(image)),
	}
	images := []chain.ImageChunk{
		{ImageStartSector: 0, ImageEndSector: 3, DiskStartSector: 100, DiskEndSector: 115},
		{ImageStartSector: 4, ImageEndSector: 7, DiskStartSector: 300, DiskEndSector: 315},
	}
	overrides := []chain.OverrideChunk{chain.NewOverrideChunk(16, []byte("PATCHED"))}
	blob, err := chain.Serialize(head, images, overrides, nil, nil)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	f := fixture{
		disk:  filepath.Join(dir, "disk.img"),
		chain: filepath.Join(dir, "chain.bin"),
		image: filepath.Join(dir, "installer.iso"),
	}
	for path, data := range map[string][]byte{f.disk: disk, f.chain: blob, f.image: image} {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	f.apparent = append([]byte(nil), image...)
	copy(f.apparent[16:], "PATCHED")
	return f
}
