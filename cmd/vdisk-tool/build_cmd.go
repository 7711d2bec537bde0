package main

import (
	"fmt"
	"os"

	"github.com/open-edge-platform/os-image-vdisk/internal/builder"
	"github.com/open-edge-platform/os-image-vdisk/internal/hostdisk"
	"github.com/open-edge-platform/os-image-vdisk/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Build command flags
var (
	buildOutput          string
	buildPartition       int
	buildOverrides       overrideList
	buildImageSectorSize uint32
	buildDiskSectorSize  uint32
	buildDiskDrive       uint8
	buildDriveMap        uint8
	buildSkipCatalog     bool
)

// createBuildCommand creates the build subcommand
func createBuildCommand() *cobra.Command {
	buildCmd := &cobra.Command{
		Use:   "build [flags] DISK IMAGE_PATH",
		Short: "builds a chain blob for an image file on a disk",
		Long: `Build locates IMAGE_PATH inside the FAT filesystem of a partition
on DISK, maps its cluster chain onto image chunks and writes the serialized
chain head, chunk tables and OS parameter block to the output file.`,
		Args:              cobra.ExactArgs(2),
		RunE:              executeBuild,
		ValidArgsFunction: fileCompletion,
	}

	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "",
		"File the chain blob is written to (required)")
	buildCmd.Flags().IntVar(&buildPartition, "partition", 0,
		"1-based partition holding the FAT filesystem, -1 for a bare filesystem (default from configuration)")
	buildCmd.Flags().Var(&buildOverrides, "override",
		"Patch image bytes at OFFSET with HEX data; may be repeated")
	buildCmd.Flags().Uint32Var(&buildImageSectorSize, "image-sector-size", 0,
		"Apparent sector size of the virtual disk (default from configuration)")
	buildCmd.Flags().Uint32Var(&buildDiskSectorSize, "disk-sector-size", 0,
		"Sector size of DISK (default from configuration)")
	buildCmd.Flags().Uint8Var(&buildDiskDrive, "disk-drive", 0,
		"BIOS drive number of DISK (default from configuration)")
	buildCmd.Flags().Uint8Var(&buildDriveMap, "drive-map", 0,
		"BIOS drive number redirected to DISK (default from configuration)")
	buildCmd.Flags().BoolVar(&buildSkipCatalog, "skip-boot-catalog", false,
		"Do not capture the El Torito boot catalog")
	_ = buildCmd.MarkFlagRequired("output")

	return buildCmd
}

// buildOptions merges the command flags over the configuration.
func buildOptions(imagePath string) builder.Options {
	opts := builder.Options{
		Partition:       cfg.Builder.PartitionIndex(),
		ImagePath:       imagePath,
		ImageSectorSize: cfg.Builder.ImageSectorSize,
		DiskSectorSize:  cfg.Builder.DiskSectorSize,
		DiskDrive:       uint32(cfg.BIOS.DiskDrive),
		DriveMap:        uint32(cfg.BIOS.DriveMap),
		Overrides:       buildOverrides,
		SkipBootCatalog: cfg.Builder.SkipBootCatalog || buildSkipCatalog,
	}
	switch {
	case buildPartition < 0:
		opts.Partition = 0
	case buildPartition > 0:
		opts.Partition = buildPartition
	}
	if buildImageSectorSize != 0 {
		opts.ImageSectorSize = buildImageSectorSize
	}
	if buildDiskSectorSize != 0 {
		opts.DiskSectorSize = buildDiskSectorSize
	}
	if buildDiskDrive != 0 {
		opts.DiskDrive = uint32(buildDiskDrive)
	}
	if buildDriveMap != 0 {
		opts.DriveMap = uint32(buildDriveMap)
	}
	return opts
}

// executeBuild handles the build command execution logic
func executeBuild(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	diskPath, imagePath := args[0], args[1]
	opts := buildOptions(imagePath)
	log.Infof("Building chain for %s on %s (partition %d)", imagePath, diskPath, opts.Partition)

	host, err := hostdisk.Open(diskPath, opts.DiskSectorSize)
	if err != nil {
		return err
	}
	defer host.Close()

	res, err := builder.Build(host, opts)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	if err := os.WriteFile(buildOutput, res.Blob, 0o644); err != nil {
		return fmt.Errorf("write chain: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "wrote %s: %d bytes\n", buildOutput, len(res.Blob))
	fmt.Fprintf(out, "  image:     %s (%d bytes, %d sectors of %d bytes)\n",
		imagePath, res.Head.RealImageSize, res.Head.TotalSectors(), res.Head.ImageSectorSize)
	fmt.Fprintf(out, "  fragments: %d extents in %d image chunks\n", len(res.Extents), len(res.Images))
	fmt.Fprintf(out, "  overrides: %d\n", len(opts.Overrides))
	if res.Head.BootCatalog != 0 {
		fmt.Fprintf(out, "  catalog:   sector %d\n", res.Head.BootCatalog)
	}
	return nil
}
