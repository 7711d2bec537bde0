package main

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRead_ToFile(t *testing.T) {
	f := newFixture(t)

	for _, via := range []string{"bios", "uefi"} {
		t.Run(via, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "sectors.bin")
			stdout, err := execCmd(t, createReadCommand(), "--via", via, "--lba", "0", "--count", "8", "-o", out, f.disk, f.chain)
			if err != nil {
				t.Fatalf("read: %v\n%s", err, stdout)
			}
			got, err := os.ReadFile(out)
			if err != nil {
				t.Fatalf("read output: %v", err)
			}
			if !bytes.Equal(got, f.apparent) {
				t.Fatalf("sectors differ from the apparent image")
			}
			if !strings.Contains(stdout, "wrote 16384 bytes") {
				t.Fatalf("stdout=%q", stdout)
			}
		})
	}
}

func TestRead_HexDump(t *testing.T) {
	f := newFixture(t)

	out, err := execCmd(t, createReadCommand(), "--lba", "0", f.disk, f.chain)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := hex.Dump(f.apparent[:2048])
	if out != want {
		t.Fatalf("hex dump differs:\n%s", out[:min(len(out), 400)])
	}
}

func TestRead_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad via", []string{"--via", "pxe", f.disk, f.chain}, "unsupported --via"},
		{"zero count", []string{"--count", "0", f.disk, f.chain}, "--count"},
		{"past end", []string{"--lba", "7", "--count", "2", f.disk, f.chain}, "read failed"},
		{"missing chain", []string{f.disk, filepath.Join(t.TempDir(), "none.bin")}, "open virtual disk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execCmd(t, createReadCommand(), tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v want %q", err, tt.want)
			}
		})
	}
}
