// Command mkfs packs a directory of user programs into a fresh disk
// image: it creates <target>/fs.img, formats it, and copies every file
// in <source> into the image's root directory under its extension-
// stripped name.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bariona/peaCore/fs"
)

const (
	imageName = "fs.img"
	imageSize = 32 * 1024 * 1024
	// inodeBitmapBlocks is one block of inode bitmap, 4096 inodes;
	// plenty for a packed image of user programs.
	inodeBitmapBlocks = 1
)

var (
	sourceDir string
	targetDir string

	// totalBlocks defaults to the full image; a smaller count formats
	// only a visible prefix of it, the shape the kernel's own test
	// images use.
	totalBlocks uint32
)

var rootCmd = &cobra.Command{
	Use:   "mkfs --source <dir> --target <dir>",
	Short: "Pack a directory of programs into a disk image",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pack(sourceDir, targetDir, totalBlocks)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&sourceDir, "source", "s", "", "directory of programs to pack")
	rootCmd.Flags().StringVarP(&targetDir, "target", "t", "", "directory the image is written to")
	rootCmd.Flags().Uint32Var(&totalBlocks, "blocks", imageSize/fs.BSIZE, "block count visible to the formatted filesystem")
	rootCmd.MarkFlagRequired("source")
	rootCmd.MarkFlagRequired("target")
}

// pack creates and formats the image, then copies every regular file in
// source into its root directory.
func pack(source, target string, blocks uint32) error {
	img, err := os.OpenFile(filepath.Join(target, imageName), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	defer img.Close()
	if err := img.Truncate(imageSize); err != nil {
		return fmt.Errorf("size image: %w", err)
	}

	device := fs.NewFileBlockDevice(img)
	fsys := fs.Create(device, blocks, inodeBitmapBlocks)
	root := fsys.RootInode()

	entries, err := os.ReadDir(source)
	if err != nil {
		return fmt.Errorf("read source dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := stripExtension(entry.Name())
		data, err := os.ReadFile(filepath.Join(source, entry.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		inode, ok := root.Create(name)
		if !ok {
			return fmt.Errorf("duplicate name %q in image", name)
		}
		if n := inode.WriteAt(0, data); n != len(data) {
			return fmt.Errorf("short write packing %s: %d of %d bytes", name, n, len(data))
		}
		log.Printf("packed %s (%d bytes)", name, len(data))
	}

	fsys.Cache.SyncAll()
	return nil
}

// stripExtension drops everything from the first '.' onward, so
// "hello_world.elf" is packed as "hello_world".
func stripExtension(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
