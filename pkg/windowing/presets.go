// Package windowing maps calibrated intensities to display values and checks
// Hounsfield unit calibration of CT data.
package windowing

import (
	"fmt"
	"sort"
	"strings"
)

// Setting is a window width/center pair in calibrated units
type Setting struct {
	Width  float64 `yaml:"width" json:"width"`
	Center float64 `yaml:"center" json:"center"`
}

// Lower returns the value mapped to black
func (s Setting) Lower() float64 { return s.Center - s.Width/2 }

// Upper returns the value mapped to white
func (s Setting) Upper() float64 { return s.Center + s.Width/2 }

// IsZero reports whether no window was chosen
func (s Setting) IsZero() bool { return s.Width == 0 && s.Center == 0 }

// UnknownPresetError is returned for preset names missing from the table
type UnknownPresetError struct {
	Name string
}

func (e *UnknownPresetError) Error() string {
	return fmt.Sprintf("unknown window preset %q (available: %s)", e.Name, strings.Join(PresetNames(), ", "))
}

var presets = map[string]Setting{
	"lung":         {Width: 1500, Center: -600},
	"bone":         {Width: 2000, Center: 300},
	"soft_tissue":  {Width: 400, Center: 40},
	"brain":        {Width: 100, Center: 50},
	"abdomen":      {Width: 350, Center: 50},
	"mediastinum":  {Width: 350, Center: 50},
	"liver":        {Width: 150, Center: 30},
	"spine":        {Width: 400, Center: 50},
	"pelvis":       {Width: 400, Center: 50},
	"mr_t1":        {Width: 600, Center: 300},
	"mr_t2":        {Width: 4000, Center: 2000},
	"mr_flair":     {Width: 2000, Center: 1000},
	"default":      {Width: 2000, Center: 1000},
	"full_dynamic": {Width: 4096, Center: 2048},
}

// Preset returns the window registered under name. Lookup is
// case-insensitive and treats spaces and dashes as underscores.
func Preset(name string) (Setting, error) {
	s, ok := presets[normalizeName(name)]
	if !ok {
		return Setting{}, &UnknownPresetError{Name: name}
	}
	return s, nil
}

// PresetNames returns the sorted list of preset names
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}
