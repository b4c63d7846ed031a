package volume

import "fmt"

// IncompleteSeriesError reports a slice that lacks spatial metadata required
// to place it in the volume
type IncompleteSeriesError struct {
	SeriesID   string
	SliceIndex int
	Source     string
	Field      string
}

func (e *IncompleteSeriesError) Error() string {
	if e.SliceIndex < 0 {
		return fmt.Sprintf("incomplete series %q: %s", e.SeriesID, e.Field)
	}
	return fmt.Sprintf("incomplete series %q: slice %d%s missing %s",
		e.SeriesID, e.SliceIndex, sourceSuffix(e.Source), e.Field)
}

// InconsistentGeometryError reports a slice whose geometry disagrees with the
// rest of its series
type InconsistentGeometryError struct {
	SeriesID   string
	SliceIndex int
	Source     string
	Reason     string
}

func (e *InconsistentGeometryError) Error() string {
	return fmt.Sprintf("inconsistent geometry in series %q: slice %d%s: %s",
		e.SeriesID, e.SliceIndex, sourceSuffix(e.Source), e.Reason)
}

func sourceSuffix(path string) string {
	if path == "" {
		return ""
	}
	return " (" + path + ")"
}
