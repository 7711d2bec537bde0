package builder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/google/uuid"
)

// Partition table schemes as recorded in the OS parameter block.
const (
	SchemeMBR uint16 = 0
	SchemeGPT uint16 = 1
)

// PartitionTabler is the part of a go-diskfs disk the builder needs.
type PartitionTabler interface {
	GetPartitionTable() (partition.Table, error)
}

// Partition locates the partition holding the image file.
type Partition struct {
	Number   int       `json:"number" yaml:"number"`
	Scheme   uint16    `json:"scheme" yaml:"scheme"`
	Type     string    `json:"type" yaml:"type"`
	StartLBA uint64    `json:"startLba" yaml:"startLba"`
	EndLBA   uint64    `json:"endLba" yaml:"endLba"`
	DiskGUID uuid.UUID `json:"diskGuid" yaml:"diskGuid"`
}

// LocatePartition returns partition number (1-based, ordered by start LBA)
// of the disk's GPT or MBR table.
func LocatePartition(d PartitionTabler, number int) (Partition, error) {
	pt, err := d.GetPartitionTable()
	if err != nil {
		return Partition{}, fmt.Errorf("get partition table: %w", err)
	}

	var parts []Partition
	switch t := pt.(type) {
	case *gpt.Table:
		var diskGUID uuid.UUID
		if t.GUID != "" {
			if diskGUID, err = uuid.Parse(t.GUID); err != nil {
				return Partition{}, fmt.Errorf("disk GUID %q: %w", t.GUID, err)
			}
		}
		for _, p := range t.Partitions {
			if p.Start == 0 && p.End == 0 {
				continue
			}
			parts = append(parts, Partition{
				Scheme:   SchemeGPT,
				Type:     strings.ToUpper(string(p.Type)),
				StartLBA: p.Start,
				EndLBA:   p.End,
				DiskGUID: diskGUID,
			})
		}
	case *mbr.Table:
		for _, p := range t.Partitions {
			if p.Size == 0 {
				continue
			}
			parts = append(parts, Partition{
				Scheme:   SchemeMBR,
				Type:     fmt.Sprintf("0x%02x", p.Type),
				StartLBA: uint64(p.Start),
				EndLBA:   uint64(p.Start) + uint64(p.Size) - 1,
			})
		}
	default:
		return Partition{}, fmt.Errorf("unsupported partition table type: %T", t)
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].StartLBA < parts[j].StartLBA })
	if number < 1 || number > len(parts) {
		return Partition{}, fmt.Errorf("partition %d not found (disk has %d)", number, len(parts))
	}
	p := parts[number-1]
	p.Number = number
	return p, nil
}
