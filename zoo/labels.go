// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package zoo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/examples/downloader"
	"github.com/pkg/errors"
)

const imageNetClassIndexURL = "https://storage.googleapis.com/download.tensorflow.org/data/imagenet_class_index.json"

// imageNetLabels downloads (if missing) and parses the Keras ImageNet class
// index, a JSON map from class id to [WordNet id, human name] pairs, and
// returns the 1000 human names indexed by class id.
func imageNetLabels(dataDir string) ([]string, error) {
	path := filepath.Join(dataDir, "imagenet_class_index.json")
	if err := downloader.DownloadIfMissing(imageNetClassIndexURL, path, ""); err != nil {
		return nil, errors.WithMessagef(err, "downloading ImageNet class index to %q", path)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading ImageNet class index from %q", path)
	}
	var index map[string][2]string
	if err := json.Unmarshal(contents, &index); err != nil {
		return nil, errors.Wrapf(err, "parsing ImageNet class index from %q", path)
	}
	labels := make([]string, len(index))
	for key, pair := range index {
		classID, err := strconv.Atoi(key)
		if err != nil || classID < 0 || classID >= len(labels) {
			return nil, errors.Errorf("invalid class id %q in ImageNet class index %q", key, path)
		}
		labels[classID] = pair[1]
	}
	return labels, nil
}

// readLabelsFile reads one class name per line, the format the trainer
// writes next to its checkpoints.
func readLabelsFile(path string) ([]string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading labels from %q", path)
	}
	var labels []string
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			labels = append(labels, line)
		}
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("labels file %q is empty", path)
	}
	return labels, nil
}
