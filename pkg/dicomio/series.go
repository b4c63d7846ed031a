package dicomio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"dicomrecon/internal/models"
)

// Series is the set of slices sharing a SeriesInstanceUID
type Series struct {
	ID       string
	Modality string
	Slices   []models.Slice
}

// LoadOptions controls directory loading
type LoadOptions struct {
	// Workers bounds the files parsed concurrently
	Workers int
	Logger  *log.Logger
}

// LoadDir parses every DICOM file below dir and groups the slices by
// series. Files without pixel data are skipped; any other parse failure
// aborts the load. Series are returned sorted by ID.
func LoadDir(ctx context.Context, dir string, opts LoadOptions) ([]Series, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isDICOMName(d.Name()) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no DICOM files found in %s", dir)
	}

	var mu sync.Mutex
	bySeries := make(map[string]*Series)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := ReadFile(p)
			if errors.Is(err, ErrNoPixelData) {
				logger.Debug("skipping file without pixel data", "path", p)
				return nil
			}
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			series, ok := bySeries[s.SeriesID]
			if !ok {
				series = &Series{ID: s.SeriesID, Modality: s.Modality}
				bySeries[s.SeriesID] = series
			}
			series.Slices = append(series.Slices, s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Series, 0, len(bySeries))
	for _, s := range bySeries {
		// slices arrive in completion order; keep them stable by path
		sort.Slice(s.Slices, func(i, j int) bool { return s.Slices[i].SourcePath < s.Slices[j].SourcePath })
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	logger.Info("loaded DICOM directory", "dir", dir, "files", len(paths), "series", len(out))
	return out, nil
}

// Find returns the series with the given id. An empty id selects the only
// series, and fails when there are several.
func Find(series []Series, id string) (*Series, error) {
	if id == "" {
		if len(series) != 1 {
			ids := make([]string, len(series))
			for i, s := range series {
				ids[i] = s.ID
			}
			return nil, fmt.Errorf("%d series found, choose one of: %s", len(series), strings.Join(ids, ", "))
		}
		return &series[0], nil
	}
	for i := range series {
		if series[i].ID == id {
			return &series[i], nil
		}
	}
	return nil, fmt.Errorf("series %s not found", id)
}

func isDICOMName(name string) bool {
	if strings.HasPrefix(name, ".") || strings.EqualFold(name, "DICOMDIR") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".dcm", ".dicom", ".ima", "":
		return true
	}
	return false
}
