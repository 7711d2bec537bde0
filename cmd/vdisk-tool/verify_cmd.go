package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
	"github.com/open-edge-platform/os-image-vdisk/internal/utils/logger"
	"github.com/open-edge-platform/os-image-vdisk/internal/vdisk"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// verifyBatch is the number of apparent sectors one worker reads at a time.
const verifyBatch = 64

// reportLimit caps how many mismatching sectors are listed.
const reportLimit = 8

// Verify command flags
var (
	verifyVia      string = vdisk.ViaBIOS
	verifyWorkers  int    = 4
	verifyProgress bool   = true
)

// createVerifyCommand creates the verify subcommand
func createVerifyCommand() *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify [flags] DISK CHAIN_FILE IMAGE_FILE",
		Short: "compares a virtual disk with the image it maps",
		Long: `Verify reads the whole virtual disk described by CHAIN_FILE over
DISK through the selected front end and compares it with IMAGE_FILE. Bytes
patched by override chunks are compared against the patch, and sectors served
by virtual chunks are skipped.`,
		Args: cobra.ExactArgs(3),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(vdisk.Vias, verifyVia) {
				return fmt.Errorf("unsupported --via %q (supported: bios, uefi)", verifyVia)
			}
			if verifyWorkers < 1 {
				return usageError("--workers must be at least 1")
			}
			return nil
		},
		RunE:              executeVerify,
		ValidArgsFunction: fileCompletion,
	}

	verifyCmd.Flags().StringVar(&verifyVia, "via", vdisk.ViaBIOS, "Front end to read through: bios or uefi")
	verifyCmd.Flags().IntVar(&verifyWorkers, "workers", 4, "Number of parallel readers")
	verifyCmd.Flags().BoolVar(&verifyProgress, "progress", true, "Show a progress bar")

	return verifyCmd
}

// expectation is the content the virtual disk must present.
type expectation struct {
	image      io.ReaderAt
	size       uint64 // bytes of the real image
	sectorSize uint64
	overrides  []chain.OverrideChunk
	virtuals   []chain.VirtualChunk
}

// expected fills dst with the image content of sectors [lba, lba+count),
// zero-padded past the real image, with overrides applied.
func (e *expectation) expected(lba, count uint64, dst []byte) error {
	clear(dst)
	off := lba * e.sectorSize
	if off < e.size {
		n := min(uint64(len(dst)), e.size-off)
		if _, err := e.image.ReadAt(dst[:n], int64(off)); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read image at %d: %w", off, err)
		}
	}
	end := off + uint64(len(dst))
	for i := range e.overrides {
		o := &e.overrides[i]
		if o.End() <= off || o.ImageOffset >= end {
			continue
		}
		lo, hi := max(o.ImageOffset, off), min(o.End(), end)
		copy(dst[lo-off:hi-off], o.Bytes()[lo-o.ImageOffset:hi-o.ImageOffset])
	}
	return nil
}

// comparedBytes returns how many leading bytes of sector s are checked:
// none for sectors served by virtual chunks, a prefix for the tail sector.
func (e *expectation) comparedBytes(s uint64) uint64 {
	for _, v := range e.virtuals {
		if s >= v.SpanStart() && s < v.SpanEnd() {
			return 0
		}
	}
	off := s * e.sectorSize
	if off >= e.size {
		return 0
	}
	return min(e.sectorSize, e.size-off)
}

// executeVerify handles the verify command execution logic
func executeVerify(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	diskPath, chainPath, imagePath := args[0], args[1], args[2]

	s, err := vdisk.Open(diskPath, chainPath, sessionOptions(verifyVia))
	if err != nil {
		return fmt.Errorf("open virtual disk: %w", err)
	}
	defer s.Close()

	img, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer img.Close()
	fi, err := img.Stat()
	if err != nil {
		return fmt.Errorf("stat image: %w", err)
	}

	head := s.Head()
	if uint64(fi.Size()) != head.RealImageSize {
		log.Warnf("image is %d bytes, chain records %d", fi.Size(), head.RealImageSize)
	}
	exp := &expectation{
		image:      img,
		size:       min(uint64(fi.Size()), head.RealImageSize),
		sectorSize: uint64(s.SectorSize()),
		overrides:  s.View().OverrideChunks(),
		virtuals:   s.View().VirtualChunks(),
	}

	total := s.TotalSectors()
	batches := int((total + verifyBatch - 1) / verifyBatch)
	log.Infof("Verifying %d sectors via %s with %d workers", total, verifyVia, verifyWorkers)

	var bar *progressbar.ProgressBar
	if verifyProgress {
		bar = progressbar.NewOptions(batches,
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("verify"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	jobs := make(chan uint64, batches)
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		mismatches []uint64
		readErr    error
	)

	for i := 0; i < verifyWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := make([]byte, verifyBatch*exp.sectorSize)
			want := make([]byte, verifyBatch*exp.sectorSize)
			for lba := range jobs {
				n := min(verifyBatch, total-lba)
				bad, err := verifyRange(s, exp, lba, n, got[:n*exp.sectorSize], want[:n*exp.sectorSize])

				mu.Lock()
				if err != nil && readErr == nil {
					readErr = err
				}
				mismatches = append(mismatches, bad...)
				mu.Unlock()

				if bar != nil {
					if err := bar.Add(1); err != nil {
						log.Errorf("failed to add to progress bar: %v", err)
					}
				}
			}
		}()
	}

	for lba := uint64(0); lba < total; lba += verifyBatch {
		jobs <- lba
	}
	close(jobs)
	wg.Wait()
	if bar != nil {
		_ = bar.Finish()
	}

	if readErr != nil {
		return fmt.Errorf("verify failed: %w", readErr)
	}
	out := cmd.OutOrStdout()
	if len(mismatches) > 0 {
		slices.Sort(mismatches)
		shown := mismatches[:min(len(mismatches), reportLimit)]
		return fmt.Errorf("%d of %d sectors differ from %s, first at %v", len(mismatches), total, imagePath, shown)
	}
	fmt.Fprintf(out, "verified %d sectors of %d bytes via %s: virtual disk matches %s\n",
		total, exp.sectorSize, verifyVia, imagePath)
	return nil
}

// verifyRange reads one batch through the session and returns the
// mismatching sectors.
func verifyRange(s *vdisk.Session, exp *expectation, lba, count uint64, got, want []byte) ([]uint64, error) {
	if err := s.ReadSectors(lba, count, got); err != nil {
		return nil, err
	}
	if err := exp.expected(lba, count, want); err != nil {
		return nil, err
	}
	var bad []uint64
	ss := exp.sectorSize
	for i := uint64(0); i < count; i++ {
		n := exp.comparedBytes(lba + i)
		if n == 0 {
			continue
		}
		if !bytes.Equal(got[i*ss:i*ss+n], want[i*ss:i*ss+n]) {
			bad = append(bad, lba+i)
		}
	}
	return bad, nil
}
