// Command mkfs packs a directory of host ELF files into an EFS image,
// the Go equivalent of easy-fs-fuse's packer (easy-fs-fuse/src/main.rs):
// for every file stem found under --source, it opens <stem>.elf under
// --target and writes its bytes into a file of that stem in the new
// image's root directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rvcore/teachos/internal/blockdev"
	"github.com/rvcore/teachos/internal/fs"
)

// totalBlocks is the fixed image size: 4MiB at 512 bytes/block, matching
// TOTAL_BLOCKS in the source packer.
const totalBlocks = 8192

func main() {
	source := flag.String("source", "", "directory of built ELF binaries, named by app stem")
	target := flag.String("target", "", "directory to write fs.img into")
	flag.Parse()

	if *source == "" || *target == "" {
		fmt.Fprintln(os.Stderr, "mkfs: --source and --target are required")
		os.Exit(1)
	}
	if err := pack(*source, *target); err != nil {
		fmt.Fprintln(os.Stderr, "mkfs:", err)
		os.Exit(1)
	}
}

func pack(source, target string) error {
	imgPath := filepath.Join(target, "fs.img")
	dev, err := blockdev.OpenFile(0, imgPath, totalBlocks)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer dev.Close()

	cache := fs.NewCache(dev)
	// inodeBitmapRatio chosen so inode_bitmap_blocks comes out to exactly
	// 1, matching EasyFileSystem::create(block_file, TOTAL_BLOCKS, 1).
	efs := fs.Format(cache, totalBlocks, totalBlocks)
	root := fs.RootInode(efs)

	stems, err := appStems(source)
	if err != nil {
		return fmt.Errorf("read source dir: %w", err)
	}

	for _, stem := range stems {
		elfPath := filepath.Join(target, stem+".elf")
		data, err := os.ReadFile(elfPath)
		if err != nil {
			continue // no matching built ELF for this stem; skip, matching the source's if-let-Ok guard
		}
		ino, ok := root.Create(stem)
		if !ok {
			return fmt.Errorf("create %q in image: already exists", stem)
		}
		ino.WriteAt(0, data)
	}

	for _, name := range root.Ls() {
		fmt.Println(name)
	}
	return nil
}

// appStems returns the file-name stems (basename minus extension) of
// every entry in dir, matching read_dir(source).map(file_stem).
func appStems(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	stems := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		stems = append(stems, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	return stems, nil
}
