package chaininspect

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/open-edge-platform/os-image-vdisk/internal/builder"
)

// PrintSummary prints a human-readable summary of a chain blob to the given writer.
func PrintSummary(w io.Writer, summary *Summary) {

	if summary == nil {
		log.Errorf("PrintSummary: summary is nil")
		return
	}
	h := summary.Head

	// Header
	fmt.Fprintln(w, "Chain Summary")
	fmt.Fprintln(w, "=============")
	kv := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if summary.File != "" {
		fmt.Fprintf(kv, "File:\t%s\n", summary.File)
	}
	fmt.Fprintf(kv, "Size:\t%s (%d bytes)\n", humanBytes(summary.SizeBytes), summary.SizeBytes)
	fmt.Fprintf(kv, "Version:\t%d\n", summary.Version)
	fmt.Fprintf(kv, "Image size:\t%s (%d bytes real, %d bytes virtual)\n",
		humanBytes(int64(h.ImageSize())), h.RealImageSize, h.VirtImageSize)
	fmt.Fprintf(kv, "Sectors:\t%d x %d bytes (disk %d bytes, ratio %d)\n",
		summary.TotalSectors, h.ImageSectorSize, h.DiskSectorSize, summary.SectorRatio)
	fmt.Fprintf(kv, "Disk drive:\t%02Xh\n", h.DiskDrive)
	if h.DriveMap != 0 {
		fmt.Fprintf(kv, "Drive map:\t%02Xh -> %02Xh\n", h.DriveMap, h.DiskDrive)
	}
	if h.BootCatalog != 0 {
		fmt.Fprintf(kv, "Boot catalog:\tsector %d (%s)\n", h.BootCatalog, summary.BootCatalog)
	} else {
		fmt.Fprintf(kv, "Boot catalog:\t-\n")
	}
	_ = kv.Flush()

	// OS parameter block
	p := h.OSParam
	fmt.Fprintln(w)
	fmt.Fprintln(w, "OS Parameters")
	fmt.Fprintln(w, "-------------")
	kv = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(kv, "Image path:\t%s\n", emptyIfWhitespace(p.ImagePath))
	fmt.Fprintf(kv, "Image size:\t%d bytes\n", p.ImageSize)
	fmt.Fprintf(kv, "Disk size:\t%s\n", humanBytes(int64(p.DiskSize)))
	fmt.Fprintf(kv, "Partition:\t%d (%s)\n", p.PartitionID, schemeName(p.PartitionType))
	if p.DiskGUID != uuid.Nil {
		fmt.Fprintf(kv, "Disk GUID:\t%s\n", p.DiskGUID)
	}
	fmt.Fprintf(kv, "Disk signature:\t%X\n", p.DiskSignature[:])
	_ = kv.Flush()

	// Image chunks
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Image Chunks")
	fmt.Fprintln(w, "------------")
	if len(summary.Images) == 0 {
		fmt.Fprintln(w, "(none)")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "IDX\tIMAGE START\tIMAGE END\tDISK START\tDISK END\tSIZE")
		for i, c := range summary.Images {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%s\n", i,
				c.ImageStartSector, c.ImageEndSector, c.DiskStartSector, c.DiskEndSector,
				humanBytes(int64(c.Sectors())*int64(h.ImageSectorSize)))
		}
		_ = tw.Flush()
	}

	if len(summary.Overrides) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Override Chunks")
		fmt.Fprintln(w, "---------------")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "IDX\tOFFSET\tSIZE\tDATA")
		for i, o := range summary.Overrides {
			fmt.Fprintf(tw, "%d\t%#x\t%d\t%s\n", i, o.ImageOffset, o.Size, emptyIfWhitespace(o.Preview))
		}
		_ = tw.Flush()
	}

	if len(summary.Virtuals) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Virtual Chunks")
		fmt.Fprintln(w, "--------------")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "IDX\tMEM SECTORS\tMEM OFFSET\tREMAP SECTORS\tORIGIN")
		for i, v := range summary.Virtuals {
			remap, origin := "-", "-"
			if v.HasRemap() {
				remap = fmt.Sprintf("[%d, %d)", v.RemapSectorStart, v.RemapSectorEnd)
				origin = fmt.Sprintf("%d", v.OrgSectorStart)
			}
			fmt.Fprintf(tw, "%d\t[%d, %d)\t%#x\t%s\t%s\n", i,
				v.MemSectorStart, v.MemSectorEnd, v.MemSectorOffset, remap, origin)
		}
		_ = tw.Flush()
		fmt.Fprintf(w, "Memory: %d bytes at offset %#x\n", summary.MemoryBytes, summary.MemoryOffset)
	}

	if len(summary.Findings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Findings")
		fmt.Fprintln(w, "--------")
		for _, f := range summary.Findings {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
}

func schemeName(t uint16) string {
	switch t {
	case builder.SchemeMBR:
		return "MBR"
	case builder.SchemeGPT:
		return "GPT"
	default:
		return fmt.Sprintf("type %d", t)
	}
}

func humanBytes(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func emptyIfWhitespace(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return strings.TrimSpace(s)
}
