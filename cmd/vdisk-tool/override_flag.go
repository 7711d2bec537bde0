package main

import (
	"fmt"
	"strings"

	"github.com/open-edge-platform/os-image-vdisk/internal/builder"
	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
	"github.com/spf13/pflag"
)

// overrideList collects repeated --override OFFSET:HEX flags.
type overrideList []chain.OverrideChunk

var _ pflag.Value = (*overrideList)(nil)

func (o *overrideList) String() string {
	parts := make([]string, 0, len(*o))
	for i := range *o {
		c := &(*o)[i]
		parts = append(parts, fmt.Sprintf("%#x:%x", c.ImageOffset, c.Bytes()))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (o *overrideList) Set(s string) error {
	c, err := builder.ParseOverride(s)
	if err != nil {
		return err
	}
	*o = append(*o, c)
	return nil
}

func (o *overrideList) Type() string { return "OFFSET:HEX" }
