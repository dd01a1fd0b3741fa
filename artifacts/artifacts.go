// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package artifacts manages the on-disk cache of explanation runs.
//
// Every run gets its own directory, grouped by day and keyed by a fresh
// UUID:
//
//	<root>/
//	  2026-08-23/
//	    0b0e41e6-...-b6a2/
//	      data/       attribution tensors and rendered PNGs
//	      labels/     manifest.json: predictions, class names, explainers
//	      training/   model checkpoints, when the run trains a model
//
// Runs never overwrite each other, so a crashed or interrupted run leaves
// previous results intact.
package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sub-directories of one run.
const (
	DataDir     = "data"
	LabelsDir   = "labels"
	TrainingDir = "training"

	manifestFileName = "manifest.json"
	dayFormat        = "2006-01-02"
)

// Cache is the root directory under which runs are created.
type Cache struct {
	root string
}

// New returns a cache rooted at root, creating the directory if needed.
func New(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating cache directory %q", root)
	}
	return &Cache{root: root}, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// Run is one explanation run's directory tree.
type Run struct {
	// ID is the run's UUID.
	ID string

	// Day the run was created, in YYYY-MM-DD.
	Day string

	dir string
}

// NewRun creates a fresh run directory under today's date, with its data,
// labels and training sub-directories.
func (c *Cache) NewRun() (*Run, error) {
	run := &Run{
		ID:  uuid.NewString(),
		Day: time.Now().Format(dayFormat),
	}
	run.dir = filepath.Join(c.root, run.Day, run.ID)
	for _, sub := range []string{DataDir, LabelsDir, TrainingDir} {
		if err := os.MkdirAll(filepath.Join(run.dir, sub), 0755); err != nil {
			return nil, errors.Wrapf(err, "creating run directory %q", filepath.Join(run.dir, sub))
		}
	}
	klog.V(1).Infof("Created run %s under %s", run.ID, run.dir)
	return run, nil
}

// OpenRun returns the existing run with the given day and id.
func (c *Cache) OpenRun(day, id string) (*Run, error) {
	run := &Run{ID: id, Day: day, dir: filepath.Join(c.root, day, id)}
	info, err := os.Stat(run.dir)
	if err != nil || !info.IsDir() {
		return nil, errors.Errorf("run %s/%s not found under %q", day, id, c.root)
	}
	return run, nil
}

// Dir returns the run's root directory.
func (r *Run) Dir() string { return r.dir }

// DataPath returns the path of a file in the run's data directory.
func (r *Run) DataPath(fileName string) string {
	return filepath.Join(r.dir, DataDir, fileName)
}

// LabelsPath returns the path of a file in the run's labels directory.
func (r *Run) LabelsPath(fileName string) string {
	return filepath.Join(r.dir, LabelsDir, fileName)
}

// CheckpointsDir returns the run's training directory, used as the base for
// model checkpoints.
func (r *Run) CheckpointsDir() string {
	return filepath.Join(r.dir, TrainingDir)
}

// Sample records one explained example in the manifest.
type Sample struct {
	// Index of the sample within the run, also used in its file names.
	Index int `json:"index"`

	// Class predicted for the sample.
	Class int32 `json:"class"`

	// ClassName is the human-readable name of Class.
	ClassName string `json:"class_name"`

	// Probability of the predicted class.
	Probability float32 `json:"probability"`
}

// Manifest describes one run: the model, the explainers and the predictions
// of every explained sample. It is stored as labels/manifest.json.
type Manifest struct {
	Model      string    `json:"model"`
	Explainers []string  `json:"explainers"`
	CreatedAt  time.Time `json:"created_at"`
	Samples    []Sample  `json:"samples"`
}

// SaveManifest writes the manifest to the run's labels directory.
func (r *Run) SaveManifest(manifest *Manifest) error {
	contents, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding run manifest")
	}
	path := r.LabelsPath(manifestFileName)
	if err := os.WriteFile(path, contents, 0644); err != nil {
		return errors.Wrapf(err, "writing run manifest to %q", path)
	}
	return nil
}

// Manifest reads the run's manifest back.
func (r *Run) Manifest() (*Manifest, error) {
	path := r.LabelsPath(manifestFileName)
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading run manifest from %q", path)
	}
	manifest := &Manifest{}
	if err := json.Unmarshal(contents, manifest); err != nil {
		return nil, errors.Wrapf(err, "parsing run manifest from %q", path)
	}
	return manifest, nil
}

// Runs lists all runs in the cache, newest day first, runs within a day
// sorted by id. Days (or entries) that don't look like runs are skipped.
func (c *Cache) Runs() ([]*Run, error) {
	days, err := os.ReadDir(c.root)
	if err != nil {
		return nil, errors.Wrapf(err, "listing cache directory %q", c.root)
	}
	var dayNames []string
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		if _, err := time.Parse(dayFormat, day.Name()); err != nil {
			continue
		}
		dayNames = append(dayNames, day.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dayNames)))

	var runs []*Run
	for _, day := range dayNames {
		entries, err := os.ReadDir(filepath.Join(c.root, day))
		if err != nil {
			return nil, errors.Wrapf(err, "listing runs of day %q", day)
		}
		var ids []string
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if _, err := uuid.Parse(entry.Name()); err != nil {
				continue
			}
			ids = append(ids, entry.Name())
		}
		sort.Strings(ids)
		for _, id := range ids {
			runs = append(runs, &Run{ID: id, Day: day, dir: filepath.Join(c.root, day, id)})
		}
	}
	return runs, nil
}

// Size returns the total size in bytes of the run's files.
func (r *Run) Size() (int64, error) {
	var total int64
	err := filepath.Walk(r.dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "sizing run directory %q", r.dir)
	}
	return total, nil
}
