package builder

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
)

// ParseOverride parses "OFFSET:HEXBYTES" into an override chunk. OFFSET is a
// byte offset in the image, decimal or 0x-prefixed.
func ParseOverride(s string) (chain.OverrideChunk, error) {
	off, data, ok := strings.Cut(s, ":")
	if !ok {
		return chain.OverrideChunk{}, fmt.Errorf("override %q: want OFFSET:HEX", s)
	}
	offset, err := strconv.ParseUint(strings.TrimSpace(off), 0, 64)
	if err != nil {
		return chain.OverrideChunk{}, fmt.Errorf("override %q: bad offset: %w", s, err)
	}
	b, err := hex.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return chain.OverrideChunk{}, fmt.Errorf("override %q: bad data: %w", s, err)
	}
	if len(b) == 0 || len(b) > chain.OverrideDataSize {
		return chain.OverrideChunk{}, fmt.Errorf("override %q: %d bytes, want 1..%d", s, len(b), chain.OverrideDataSize)
	}
	return chain.NewOverrideChunk(offset, b), nil
}
