package data

import (
	"bufio"
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// VOCConfig locates a PASCAL VOC 2012 segmentation split.
type VOCConfig struct {
	ImageDir string // JPEGImages
	MaskDir  string // SegmentationClass or SegmentationClassAug

	// Split names a list under ImageDir/../ImageSets/Segmentation
	// ("train", "val", "trainval"). SplitFile overrides the location. With
	// neither set every mask in MaskDir is used.
	Split     string
	SplitFile string

	ImageSize int  // square resize; 0 keeps the source size
	Augment   bool // random horizontal flips
	Seed      int64
}

// VOC2012 reads image/mask pairs by ID.
type VOC2012 struct {
	cfg       VOCConfig
	ids       []string
	transform Transform

	mu  sync.Mutex
	rng *rand.Rand
}

// NewVOC2012 resolves the split's IDs. Files are read lazily by Get.
func NewVOC2012(cfg VOCConfig) (*VOC2012, error) {
	ids, err := splitIDs(cfg)
	if err != nil {
		return nil, fmt.Errorf("voc2012: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("voc2012: split %q is empty", cfg.Split)
	}
	return &VOC2012{
		cfg:       cfg,
		ids:       ids,
		transform: NewTransform(cfg.ImageSize, cfg.Augment),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func splitIDs(cfg VOCConfig) ([]string, error) {
	path := cfg.SplitFile
	if path == "" && cfg.Split != "" {
		path = filepath.Join(cfg.ImageDir, "..", "ImageSets", "Segmentation", cfg.Split+".txt")
	}
	if path == "" {
		return maskIDs(cfg.MaskDir)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open split list: %w", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		// Some lists carry "image_path mask_path" pairs; keep the ID.
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id := strings.Fields(line)[0]
		ids = append(ids, strings.TrimSuffix(filepath.Base(id), filepath.Ext(id)))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read split list: %w", err)
	}
	return ids, nil
}

func maskIDs(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = strings.TrimSuffix(filepath.Base(m), ".png")
	}
	sort.Strings(ids)
	return ids, nil
}

// Len returns the number of samples in the split.
func (d *VOC2012) Len() int { return len(d.ids) }

// ID returns the image ID of sample index.
func (d *VOC2012) ID(index int) string { return d.ids[index] }

// Get loads and preprocesses sample index.
func (d *VOC2012) Get(index int) (Sample, error) {
	if index < 0 || index >= len(d.ids) {
		return Sample{}, fmt.Errorf("index %d out of range [0, %d)", index, len(d.ids))
	}
	id := d.ids[index]

	img, err := decodeFile(d.imagePath(id))
	if err != nil {
		return Sample{}, fmt.Errorf("voc2012 %s: %w", id, err)
	}
	raw, err := decodeFile(filepath.Join(d.cfg.MaskDir, id+".png"))
	if err != nil {
		return Sample{}, fmt.Errorf("voc2012 %s: %w", id, err)
	}
	mask, err := LabelImage(raw)
	if err != nil {
		return Sample{}, fmt.Errorf("voc2012 %s: %w", id, err)
	}

	// Transform only reads rng when flipping; give each call its own source
	// so workers never share one.
	d.mu.Lock()
	rng := rand.New(rand.NewSource(d.rng.Int63()))
	d.mu.Unlock()

	s, err := d.transform.Apply(img, mask, rng)
	if err != nil {
		return Sample{}, fmt.Errorf("voc2012 %s: %w", id, err)
	}
	return s, nil
}

// imagePath prefers .jpg and falls back to the other registered formats.
func (d *VOC2012) imagePath(id string) string {
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"} {
		p := filepath.Join(d.cfg.ImageDir, id+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(d.cfg.ImageDir, id+".jpg")
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
