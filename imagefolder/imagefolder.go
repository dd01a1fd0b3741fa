// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imagefolder implements a train.Dataset over a folder-per-class
// image directory:
//
//	root/
//	  cat/   1.jpg 2.jpg ...
//	  dog/   1.jpg 2.jpg ...
//
// Class ids are assigned by the sorted order of the sub-directory names, so
// they are stable across runs. Supported image extensions: .jpg, .jpeg and
// .png.
package imagefolder

import (
	"image"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Index is the scanned contents of a folder-per-class directory: the sorted
// class names and the image files of each class.
type Index struct {
	Root    string
	Classes []string

	// files[classID] lists the image paths of that class, sorted.
	files [][]string
}

// Scan reads the directory structure under root. It fails if root has no
// class sub-directories or a class has no images.
func Scan(root string) (*Index, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning dataset directory %q", root)
	}
	index := &Index{Root: root}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		index.Classes = append(index.Classes, entry.Name())
	}
	if len(index.Classes) == 0 {
		return nil, errors.Errorf("dataset directory %q has no class sub-directories", root)
	}
	sort.Strings(index.Classes)
	index.files = make([][]string, len(index.Classes))
	for classID, className := range index.Classes {
		classDir := filepath.Join(root, className)
		classEntries, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "scanning class directory %q", classDir)
		}
		for _, entry := range classEntries {
			if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
				continue
			}
			index.files[classID] = append(index.files[classID], filepath.Join(classDir, entry.Name()))
		}
		if len(index.files[classID]) == 0 {
			return nil, errors.Errorf("class directory %q has no images (.jpg, .jpeg or .png)", classDir)
		}
		sort.Strings(index.files[classID])
	}
	return index, nil
}

// NumExamples returns the total number of images across all classes.
func (index *Index) NumExamples() int {
	total := 0
	for _, files := range index.files {
		total += len(files)
	}
	return total
}

// sample addresses one image of the index by a flat example id.
type sample struct {
	classID int
	path    string
}

// Dataset yields batches of images from an Index, implementing
// train.Dataset. Images are resized (aspect ratio preserving, black padded)
// to size x size, values scaled to [0, 1].
//
// Yield returns:
//   - spec: the *Dataset itself.
//   - inputs: two tensors, the image batch shaped
//     `[batch_size, size, size, 3]` (Float32) and the flat example indices
//     shaped `[batch_size]` (Int64).
//   - labels: one tensor with the class ids, shaped `[batch_size, 1]`
//     (Int32).
type Dataset struct {
	name      string
	index     *Index
	batchSize int
	size      int
	resize    func(img image.Image, width, height int) image.Image
	infinite  bool
	shuffle   *rand.Rand
	toTensor  *timage.ToTensorConfig

	mu      sync.Mutex
	samples []sample
	order   []int
	pos     int
}

// NewDataset creates a Dataset over the index yielding batches of batchSize
// images resized to size x size. By default it is finite (one epoch, then
// io.EOF) and in file order; see Infinite and Shuffled.
func NewDataset(name string, index *Index, batchSize, size int) *Dataset {
	ds := &Dataset{
		name:      name,
		index:     index,
		batchSize: batchSize,
		size:      size,
		resize:    defaultResize,
		toTensor:  timage.ToTensor(dtypes.Float32),
	}
	for classID, files := range index.files {
		for _, path := range files {
			ds.samples = append(ds.samples, sample{classID: classID, path: path})
		}
	}
	ds.order = make([]int, len(ds.samples))
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	return ds
}

func defaultResize(img image.Image, width, height int) image.Image {
	fitted := imaging.Fit(img, width, height, imaging.Linear)
	size := fitted.Bounds().Size()
	if size.X == width && size.Y == height {
		return fitted
	}
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	return imaging.PasteCenter(canvas, fitted)
}

// WithResize replaces the resize function. The model being trained and the
// dataset must agree on the geometry, so classifiers usually inject their
// own Preprocess resizing here.
func (ds *Dataset) WithResize(resize func(img image.Image, width, height int) image.Image) *Dataset {
	ds.resize = resize
	return ds
}

// Infinite makes the dataset loop forever instead of returning io.EOF at the
// end of the epoch. Used for training.
// It returns the dataset, so calls can be chained.
func (ds *Dataset) Infinite(infinite bool) *Dataset {
	ds.infinite = infinite
	return ds
}

// Shuffled reshuffles the example order at every Reset with the given rng.
// It returns the dataset, so calls can be chained.
func (ds *Dataset) Shuffled(rng *rand.Rand) *Dataset {
	ds.shuffle = rng
	ds.reshuffle()
	return ds
}

func (ds *Dataset) reshuffle() {
	if ds.shuffle == nil {
		return
	}
	ds.shuffle.Shuffle(len(ds.order), func(ii, jj int) {
		ds.order[ii], ds.order[jj] = ds.order[jj], ds.order[ii]
	})
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset: it restarts the epoch, reshuffling if
// configured.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.pos = 0
	ds.reshuffle()
}

// YieldImages returns the next batch as decoded (and resized) images, with
// their class ids and flat example indices. Rendering uses it to get at the
// original images; Yield wraps it into tensors.
func (ds *Dataset) YieldImages() (batch []image.Image, classIDs []int32, indices []int, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	batch = make([]image.Image, 0, ds.batchSize)
	classIDs = make([]int32, 0, ds.batchSize)
	indices = make([]int, 0, ds.batchSize)
	for len(batch) < ds.batchSize {
		if ds.pos >= len(ds.order) {
			if !ds.infinite {
				// The incomplete trailing batch is dropped: graphs are
				// compiled for a fixed batch size.
				batch, classIDs, indices = nil, nil, nil
				err = io.EOF
				return
			}
			ds.pos = 0
			ds.reshuffle()
		}
		exampleIdx := ds.order[ds.pos]
		ds.pos++
		s := ds.samples[exampleIdx]
		var img image.Image
		img, err = imaging.Open(s.path)
		if err != nil {
			err = errors.Wrapf(err, "decoding image %q", s.path)
			return
		}
		batch = append(batch, ds.resize(img, ds.size, ds.size))
		classIDs = append(classIDs, int32(s.classID))
		indices = append(indices, exampleIdx)
	}
	return
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec = ds
	batch, classIDs, indices, err := ds.YieldImages()
	if err != nil {
		return
	}
	labelsT := tensors.FromShape(shapes.Make(dtypes.Int32, len(classIDs), 1))
	copy(tensors.MustMutableFlatData[int32](labelsT), classIDs)
	inputs = []*tensors.Tensor{ds.toTensor.Batch(batch), tensors.FromValue(indices)}
	labels = []*tensors.Tensor{labelsT}
	return
}
