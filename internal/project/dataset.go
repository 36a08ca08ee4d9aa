package project

import (
	"fmt"
	"sort"
	"sync"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/tensor"
)

// Entry is everything the project holds for one image.
type Entry struct {
	Image       ImageRecord
	ImageData   []byte
	Embedding   tensor.Embedding
	Annotations []Annotation
}

// Dataset is a loaded project keyed by image id. It is safe for concurrent use.
type Dataset struct {
	mu         sync.RWMutex
	entries    map[int]*Entry
	categories []CategoryInfo
	statuses   []StatusInfo
}

// NewDataset creates an empty dataset with the given lookup tables.
func NewDataset(categories []CategoryInfo, statuses []StatusInfo) *Dataset {
	return &Dataset{
		entries:    make(map[int]*Entry),
		categories: append([]CategoryInfo(nil), categories...),
		statuses:   append([]StatusInfo(nil), statuses...),
	}
}

// Add inserts an entry. Image ids must be unique.
func (d *Dataset) Add(e Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e.Image.Filename == "" {
		return &apperrors.ValidationError{Field: "filename", Message: fmt.Sprintf("image %d has no filename", e.Image.ID)}
	}
	if _, ok := d.entries[e.Image.ID]; ok {
		return &apperrors.ValidationError{Field: "image_id", Message: fmt.Sprintf("duplicate image id %d", e.Image.ID)}
	}
	if e.Annotations == nil {
		e.Annotations = []Annotation{}
	}
	d.entries[e.Image.ID] = &e
	return nil
}

// Len returns the number of images.
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Has reports whether id is a known image id.
func (d *Dataset) Has(id int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entries[id]
	return ok
}

// Get returns a copy of the entry for id.
func (d *Dataset) Get(id int) (Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("image %d: %w", id, apperrors.ErrNotFound)
	}
	return copyEntry(e), nil
}

// IDs returns all image ids in ascending order.
func (d *Dataset) IDs() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sortedIDs()
}

// Images returns all image records ordered by id.
func (d *Dataset) Images() []ImageRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ImageRecord, 0, len(d.entries))
	for _, id := range d.sortedIDs() {
		out = append(out, d.entries[id].Image)
	}
	return out
}

// Categories returns a copy of the category table.
func (d *Dataset) Categories() []CategoryInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]CategoryInfo(nil), d.categories...)
}

// Statuses returns a copy of the status table.
func (d *Dataset) Statuses() []StatusInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]StatusInfo(nil), d.statuses...)
}

// SetCategories replaces the category table.
func (d *Dataset) SetCategories(categories []CategoryInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.categories = append([]CategoryInfo(nil), categories...)
}

// SetStatuses replaces the status table.
func (d *Dataset) SetStatuses(statuses []StatusInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append([]StatusInfo(nil), statuses...)
}

// UpdateAnnotations replaces the annotation set of one image. Every annotation is
// re-pointed at imageID.
func (d *Dataset) UpdateAnnotations(imageID int, annotations []Annotation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[imageID]
	if !ok {
		return fmt.Errorf("image %d: %w", imageID, apperrors.ErrNotFound)
	}
	anns := make([]Annotation, len(annotations))
	for i, a := range annotations {
		a.ImageID = imageID
		anns[i] = a
	}
	e.Annotations = anns
	return nil
}

// SetCategory re-classifies a single annotation.
func (d *Dataset) SetCategory(imageID, annotationID, categoryID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[imageID]
	if !ok {
		return fmt.Errorf("image %d: %w", imageID, apperrors.ErrNotFound)
	}
	for i := range e.Annotations {
		if e.Annotations[i].ID == annotationID {
			e.Annotations[i].CategoryID = categoryID
			return nil
		}
	}
	return fmt.Errorf("annotation %d on image %d: %w", annotationID, imageID, apperrors.ErrNotFound)
}

// IDsByCategory returns the ids of images holding at least one annotation of the category.
func (d *Dataset) IDsByCategory(categoryID int) []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []int
	for _, id := range d.sortedIDs() {
		for _, a := range d.entries[id].Annotations {
			if a.CategoryID == categoryID {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// StatusCounts counts annotations per status name. The category table decides
// which status an annotation has; unknown categories count as "Undefined".
func (d *Dataset) StatusCounts() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	statusOf := make(map[int]int, len(d.categories))
	for _, c := range d.categories {
		statusOf[c.ID] = c.Status
	}
	names := make(map[int]string, len(d.statuses))
	for _, s := range d.statuses {
		names[s.ID] = s.Name
	}

	counts := make(map[string]int)
	for _, e := range d.entries {
		for _, a := range e.Annotations {
			status, ok := statusOf[a.CategoryID]
			if !ok {
				status = StatusUndefined
			}
			name, ok := names[status]
			if !ok {
				name = "Undefined"
			}
			counts[name]++
		}
	}
	return counts
}

// Stage writes the whole dataset into a new staging directory at dir.
func (d *Dataset) Stage(dir string, lastImageID int) (*Staging, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	staging, err := NewStaging(dir)
	if err != nil {
		return nil, err
	}
	for _, id := range d.sortedIDs() {
		e := d.entries[id]
		stem := Stem(e.Image.Filename)
		if err := staging.WriteImage(e.Image.Filename, e.ImageData); err != nil {
			_ = staging.Remove()
			return nil, err
		}
		if err := staging.WriteEmbedding(stem, e.Embedding); err != nil {
			_ = staging.Remove()
			return nil, err
		}
		if err := staging.WriteAnnotations(stem, AnnotationFile{Image: e.Image, Annotations: e.Annotations}); err != nil {
			_ = staging.Remove()
			return nil, err
		}
	}
	info := ProjectInfo{
		LastImageID: lastImageID,
		Categories:  append([]CategoryInfo{}, d.categories...),
		Statuses:    append([]StatusInfo{}, d.statuses...),
	}
	if err := staging.WriteProjectInfo(info); err != nil {
		_ = staging.Remove()
		return nil, err
	}
	return staging, nil
}

func (d *Dataset) sortedIDs() []int {
	ids := make([]int, 0, len(d.entries))
	for id := range d.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func copyEntry(e *Entry) Entry {
	out := *e
	out.Annotations = append([]Annotation(nil), e.Annotations...)
	return out
}
