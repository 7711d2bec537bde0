package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"slices"

	"github.com/open-edge-platform/os-image-vdisk/internal/frontend/bios"
	"github.com/open-edge-platform/os-image-vdisk/internal/frontend/uefi"
	"github.com/open-edge-platform/os-image-vdisk/internal/utils/logger"
	"github.com/open-edge-platform/os-image-vdisk/internal/vdisk"
	"github.com/spf13/cobra"
)

// Read command flags
var (
	readLBA    uint64
	readCount  uint64 = 1
	readVia    string = vdisk.ViaBIOS
	readOutput string
)

// createReadCommand creates the read subcommand
func createReadCommand() *cobra.Command {
	readCmd := &cobra.Command{
		Use:   "read [flags] DISK CHAIN_FILE",
		Short: "reads sectors of a virtual disk",
		Long: `Read publishes the virtual disk described by CHAIN_FILE over DISK
through the selected firmware front end and reads COUNT apparent sectors
starting at LBA. The data is written to the output file, or hex-dumped to
standard output.`,
		Args: cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(vdisk.Vias, readVia) {
				return fmt.Errorf("unsupported --via %q (supported: bios, uefi)", readVia)
			}
			if readCount == 0 {
				return usageError("--count must be at least 1")
			}
			return nil
		},
		RunE:              executeRead,
		ValidArgsFunction: fileCompletion,
	}

	readCmd.Flags().Uint64Var(&readLBA, "lba", 0, "First apparent sector to read")
	readCmd.Flags().Uint64Var(&readCount, "count", 1, "Number of apparent sectors to read")
	readCmd.Flags().StringVar(&readVia, "via", vdisk.ViaBIOS, "Front end to read through: bios or uefi")
	readCmd.Flags().StringVarP(&readOutput, "output", "o", "", "Write the sectors to this file instead of dumping them")

	return readCmd
}

// sessionOptions builds the front end options from the configuration.
func sessionOptions(via string) vdisk.Options {
	return vdisk.Options{
		Via: via,
		BIOS: bios.Config{
			Drive:              cfg.BIOS.Drive,
			MaxTransferSectors: cfg.BIOS.MaxTransferSectors,
			CDROM:              cfg.BIOS.CDROM,
		},
		UEFI: uefi.Config{
			MediaID:   cfg.UEFI.MediaID,
			Removable: cfg.UEFI.Removable,
		},
		VendorGUID: cfg.VendorUUID(),
	}
}

// executeRead handles the read command execution logic
func executeRead(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	diskPath, chainPath := args[0], args[1]

	s, err := vdisk.Open(diskPath, chainPath, sessionOptions(readVia))
	if err != nil {
		return fmt.Errorf("open virtual disk: %w", err)
	}
	defer s.Close()
	if s.DevicePath != nil {
		log.Debugf("device path: %x", s.DevicePath)
	}

	log.Infof("Reading %d sectors at LBA %d via %s", readCount, readLBA, readVia)
	buf := make([]byte, readCount*uint64(s.SectorSize()))
	if err := s.ReadSectors(readLBA, readCount, buf); err != nil {
		return fmt.Errorf("read failed: %w", err)
	}

	if readOutput != "" {
		if err := os.WriteFile(readOutput, buf, 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(buf), readOutput)
		return nil
	}

	dump := hex.Dumper(cmd.OutOrStdout())
	defer dump.Close()
	_, err = dump.Write(buf)
	return err
}
