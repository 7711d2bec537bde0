package main

import (
	"fmt"

	"github.com/open-edge-platform/os-image-vdisk/internal/config"
	"github.com/open-edge-platform/os-image-vdisk/internal/utils/logger"
	"github.com/spf13/cobra"
)

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [flags] CONFIG_FILE",
		Short: "Validate a configuration file",
		Long: `Validate a vdisk-tool configuration file against the schema and the
cross-field rules without running any other command. The configuration file
must be in YAML format.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeValidate,
		ValidArgsFunction: fileCompletion,
	}

	return validateCmd
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	configPath := args[0]

	log.Infof("validating configuration file: %s", configPath)

	c, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %v", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration validation successful: %s\n", configPath)
	fmt.Fprintf(out, "  BIOS:    drive %02Xh over disk %02Xh, max %d sectors per transfer\n",
		c.BIOS.Drive, c.BIOS.DiskDrive, c.BIOS.MaxTransferSectors)
	if c.BIOS.DriveMap != 0 {
		fmt.Fprintf(out, "  Map:     %02Xh -> %02Xh\n", c.BIOS.DriveMap, c.BIOS.DiskDrive)
	}
	fmt.Fprintf(out, "  UEFI:    media %d, vendor %s\n", c.UEFI.MediaID, c.UEFI.VendorGUID)
	partition := fmt.Sprintf("partition %d", c.Builder.Partition)
	if c.Builder.PartitionIndex() == 0 {
		partition = "bare filesystem"
	}
	fmt.Fprintf(out, "  Builder: %d byte image sectors over %d byte disk sectors, %s\n",
		c.Builder.ImageSectorSize, c.Builder.DiskSectorSize, partition)
	fmt.Fprintf(out, "  Output:  %s\n", c.Output.Format)
	return nil
}
