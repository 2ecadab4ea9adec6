package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultClasses are the KITTI benchmark scored classes.
var DefaultClasses = []string{"Car", "Pedestrian", "Cyclist"}

// Manifest is the dataset.yaml consumed by the trainer: dataset root plus
// train/val(/test) image lists and the class map.
type Manifest struct {
	Path  string         `yaml:"path"`
	Train string         `yaml:"train"`
	Val   string         `yaml:"val"`
	Test  string         `yaml:"test,omitempty"`
	Names map[int]string `yaml:"names"`
	NC    int            `yaml:"nc"`
}

// WriteManifest materializes one fold's dataset files into dir: train.txt
// and val.txt listing absolute image paths (test.txt too when holdout
// indices are present), plus the dataset.yaml referencing them. Returns the
// dataset.yaml path.
func WriteManifest(dir string, idx *Index, train, val, test []int, classes []string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create manifest dir: %w", err)
	}

	trainList := filepath.Join(dir, "train.txt")
	if err := writeList(trainList, idx, train); err != nil {
		return "", err
	}
	valList := filepath.Join(dir, "val.txt")
	if err := writeList(valList, idx, val); err != nil {
		return "", err
	}

	if len(classes) == 0 {
		classes = DefaultClasses
	}
	m := Manifest{
		Path:  idx.Root,
		Train: trainList,
		Val:   valList,
		Names: make(map[int]string, len(classes)),
		NC:    len(classes),
	}
	for i, name := range classes {
		m.Names[i] = name
	}

	if len(test) > 0 {
		testList := filepath.Join(dir, "test.txt")
		if err := writeList(testList, idx, test); err != nil {
			return "", err
		}
		m.Test = testList
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	configPath := filepath.Join(dir, "dataset.yaml")
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	return configPath, nil
}

func writeList(path string, idx *Index, indices []int) error {
	var b strings.Builder
	for _, i := range indices {
		b.WriteString(idx.ImagePath(i))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write image list: %w", err)
	}
	return nil
}
