// Package chaininspect decodes a chain blob into a summary for display or
// machine-readable output.
package chaininspect

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/open-edge-platform/os-image-vdisk/internal/builder"
	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
	"github.com/open-edge-platform/os-image-vdisk/internal/chunkmap"
	"github.com/open-edge-platform/os-image-vdisk/internal/utils/logger"
)

var log = logger.Logger()

// previewLen is how many leading data bytes are shown for overrides and the
// boot catalog.
const previewLen = 16

// Summary describes one chain blob.
type Summary struct {
	File      string `json:"file,omitempty" yaml:"file,omitempty"`
	SizeBytes int64  `json:"sizeBytes" yaml:"sizeBytes"`
	Version   uint16 `json:"version" yaml:"version"`

	Head         *chain.ChainHead `json:"head" yaml:"head"`
	TotalSectors uint64           `json:"totalSectors" yaml:"totalSectors"`
	SectorRatio  uint32           `json:"sectorRatio" yaml:"sectorRatio"`
	BootCatalog  string           `json:"bootCatalogPreview,omitempty" yaml:"bootCatalogPreview,omitempty"`

	Images    []chain.ImageChunk   `json:"imageChunks" yaml:"imageChunks"`
	Overrides []Override           `json:"overrideChunks" yaml:"overrideChunks"`
	Virtuals  []chain.VirtualChunk `json:"virtualChunks" yaml:"virtualChunks"`

	MemoryOffset uint32 `json:"memoryOffset" yaml:"memoryOffset"`
	MemoryBytes  int    `json:"memoryBytes" yaml:"memoryBytes"`

	// Findings lists table problems that do not stop the blob from parsing
	// but would fail reads at boot.
	Findings []string `json:"findings,omitempty" yaml:"findings,omitempty"`
}

// Override is one override chunk with a hex preview of its data.
type Override struct {
	ImageOffset uint64 `json:"imageOffset" yaml:"imageOffset"`
	Size        uint32 `json:"size" yaml:"size"`
	Preview     string `json:"preview" yaml:"preview"`
}

// Inspector reads chain files from disk.
type Inspector struct{}

// NewInspector returns an Inspector.
func NewInspector() *Inspector { return &Inspector{} }

// Inspect reads and summarizes the chain blob at path.
func (i *Inspector) Inspect(path string) (*Summary, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}
	s, err := Summarize(buf)
	if err != nil {
		return nil, err
	}
	s.File = path
	log.Debugf("inspected %s: %d image, %d override, %d virtual chunks",
		path, len(s.Images), len(s.Overrides), len(s.Virtuals))
	return s, nil
}

// DisplaySummary prints s as text.
func (i *Inspector) DisplaySummary(w io.Writer, s *Summary) {
	PrintSummary(w, s)
}

// Summarize parses buf and describes it. A blob that does not parse is an
// error; table defects the engine would trip over are reported as findings.
func Summarize(buf []byte) (*Summary, error) {
	view, err := chain.Parse(buf)
	if err != nil {
		return nil, err
	}
	h := view.Head()
	s := &Summary{
		SizeBytes:    int64(len(buf)),
		Version:      view.Version(),
		Head:         h,
		TotalSectors: h.TotalSectors(),
		SectorRatio:  h.ImageSectorSize / h.DiskSectorSize,
		Images:       view.ImageChunks(),
		Virtuals:     view.VirtualChunks(),
		MemoryOffset: view.MemoryOffset(),
		MemoryBytes:  len(view.Memory()),
	}
	if h.BootCatalog != 0 {
		s.BootCatalog = hex.EncodeToString(view.BootCatalogSector()[:previewLen])
	}
	overrides := view.OverrideChunks()
	for i := range overrides {
		o := &overrides[i]
		data := o.Bytes()
		s.Overrides = append(s.Overrides, Override{
			ImageOffset: o.ImageOffset,
			Size:        o.Size,
			Preview:     hex.EncodeToString(data[:min(len(data), previewLen)]),
		})
	}

	if err := builder.ValidateImageChunks(s.Images, s.TotalSectors, uint64(s.SectorRatio)); err != nil {
		s.Findings = append(s.Findings, err.Error())
	}
	if err := builder.ValidateOverrides(overrides, h.ImageSize()); err != nil {
		s.Findings = append(s.Findings, err.Error())
	}
	if err := builder.ValidateVirtualChunks(s.Virtuals, s.MemoryOffset, s.MemoryBytes, h.ImageSectorSize); err != nil {
		s.Findings = append(s.Findings, err.Error())
	}
	if _, err := chunkmap.New(view); err != nil {
		s.Findings = append(s.Findings, err.Error())
	}
	if h.ImageSize()%uint64(h.ImageSectorSize) != 0 {
		s.Findings = append(s.Findings, fmt.Sprintf("image size %d is not a whole number of %d byte sectors", h.ImageSize(), h.ImageSectorSize))
	}
	return s, nil
}
