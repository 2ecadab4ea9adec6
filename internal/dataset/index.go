// Package dataset indexes a YOLO-layout detection dataset and materializes
// per-fold manifests for the trainer.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// imageExts are the image extensions recognized by the index scan.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Index is the stable, deterministic enumeration of dataset samples.
// Stems are sorted so the same dataset snapshot always yields the same
// ordering, which the fold planner's determinism depends on.
type Index struct {
	Root  string
	Stems []string
}

// Scan enumerates image stems under <root>/images. Nested directories are
// skipped: a flat images/ directory is the expected layout.
func Scan(root string) (*Index, error) {
	imagesDir := filepath.Join(root, "images")
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil, fmt.Errorf("scan dataset: %w", err)
	}

	stems := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if imageExts[ext] {
			stems = append(stems, e.Name())
		}
	}
	sort.Strings(stems)

	return &Index{Root: root, Stems: stems}, nil
}

// Size returns the number of indexed samples.
func (idx *Index) Size() int {
	return len(idx.Stems)
}

// ImagePath returns the absolute image path for sample i.
func (idx *Index) ImagePath(i int) string {
	return filepath.Join(idx.Root, "images", idx.Stems[i])
}
