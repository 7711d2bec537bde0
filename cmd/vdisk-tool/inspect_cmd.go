package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/open-edge-platform/os-image-vdisk/internal/chaininspect"
	"github.com/open-edge-platform/os-image-vdisk/internal/config"
	"github.com/open-edge-platform/os-image-vdisk/internal/utils/logger"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// cmd needs only these two methods.
type inspector interface {
	Inspect(chainPath string) (*chaininspect.Summary, error)
	DisplaySummary(w io.Writer, summary *chaininspect.Summary)
}

// Allow tests to inject a fake inspector.
var newInspector = func() inspector {
	return chaininspect.NewInspector()
}

// Output format command flags
var (
	outputFormat string = "text" // Output format for the inspection results
	prettyJSON   bool   = false  // Pretty-print JSON output
)

// createInspectCommand creates the inspect subcommand
func createInspectCommand() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect [flags] CHAIN_FILE",
		Short: "inspects a chain blob",
		Long: `Inspect decodes a serialized chain blob and prints the chain head,
the OS parameter block and the image, override and virtual chunk tables,
along with any table defects that would fail reads at boot.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("format") {
				outputFormat = cfg.Output.Format
			}
			if !cmd.Flags().Changed("pretty") {
				prettyJSON = cfg.Output.Pretty
			}
			if !slices.Contains(config.Formats, outputFormat) {
				return fmt.Errorf("unsupported --format %q (supported: text, json, yaml)", outputFormat)
			}
			return nil
		},
		RunE:              executeInspect,
		ValidArgsFunction: fileCompletion,
	}

	// Add flags
	inspectCmd.Flags().StringVar(&outputFormat, "format", "text",
		"Specify the output format for the inspection results")

	inspectCmd.Flags().BoolVar(&prettyJSON, "pretty", false,
		"Pretty-print JSON output (only for --format json)")

	return inspectCmd
}

// executeInspect handles the inspect command execution logic
func executeInspect(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	chainFile := args[0]
	log.Infof("Inspecting chain file: %s", chainFile)

	inspector := newInspector()

	summary, err := inspector.Inspect(chainFile)
	if err != nil {
		return fmt.Errorf("chain inspection failed: %v", err)
	}
	for _, f := range summary.Findings {
		log.Warnf("%s: %s", chainFile, f)
	}

	return writeInspectionResult(cmd, inspector, summary, outputFormat, prettyJSON)
}

func writeInspectionResult(cmd *cobra.Command, in inspector, summary *chaininspect.Summary, format string, pretty bool) error {
	out := cmd.OutOrStdout()

	switch format {
	case "text":
		in.DisplaySummary(out, summary)
		return nil

	case "json":
		var (
			b   []byte
			err error
		)
		if pretty {
			b, err = json.MarshalIndent(summary, "", "  ")
		} else {
			b, err = json.Marshal(summary)
		}
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(b))
		return nil

	case "yaml":
		b, err := yaml.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(b))
		return nil

	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
