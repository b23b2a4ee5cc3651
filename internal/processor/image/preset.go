package image

import "fmt"

// Fit is the resize policy. Only FitModeInside is implemented.
type Fit string

const FitModeInside Fit = "inside"

// Preset is a named derivative target.
type Preset struct {
	Name      string
	MaxWidth  int
	MaxHeight int
	Quality   int
	Format    Format
}

// NewPreset validates and builds a preset.
func NewPreset(name string, maxWidth, maxHeight, quality int, format Format) (Preset, error) {
	if name == "" {
		return Preset{}, &ValidationError{Field: "preset name", Reason: "must not be empty"}
	}
	opts := OptimizeOptions{Width: maxWidth, Height: maxHeight, Quality: quality, Format: format, Fit: FitModeInside}
	if err := opts.Validate(); err != nil {
		return Preset{}, fmt.Errorf("preset %s: %w", name, err)
	}
	return Preset{Name: name, MaxWidth: maxWidth, MaxHeight: maxHeight, Quality: quality, Format: format}, nil
}

// Options converts the preset into optimizer options.
func (p Preset) Options() OptimizeOptions {
	return OptimizeOptions{
		Width:   p.MaxWidth,
		Height:  p.MaxHeight,
		Quality: p.Quality,
		Format:  p.Format,
		Fit:     FitModeInside,
	}
}

// PresetTable is an ordered, immutable set of presets with unique names.
type PresetTable struct {
	presets []Preset
}

// NewPresetTable builds a table, rejecting an empty set and duplicate names.
func NewPresetTable(presets ...Preset) (PresetTable, error) {
	if len(presets) == 0 {
		return PresetTable{}, &ValidationError{Field: "preset table", Reason: "at least one preset is required"}
	}
	seen := make(map[string]struct{}, len(presets))
	for _, p := range presets {
		if _, dup := seen[p.Name]; dup {
			return PresetTable{}, &ValidationError{Field: "preset table", Reason: "duplicate preset " + p.Name}
		}
		seen[p.Name] = struct{}{}
	}
	cp := make([]Preset, len(presets))
	copy(cp, presets)
	return PresetTable{presets: cp}, nil
}

// Presets returns a copy of the presets in table order.
func (t PresetTable) Presets() []Preset {
	cp := make([]Preset, len(t.presets))
	copy(cp, t.presets)
	return cp
}

// Names returns the preset names in table order.
func (t PresetTable) Names() []string {
	names := make([]string, len(t.presets))
	for i, p := range t.presets {
		names[i] = p.Name
	}
	return names
}

// Len returns the number of presets.
func (t PresetTable) Len() int { return len(t.presets) }

// Largest returns the preset with the largest pixel box.
func (t PresetTable) Largest() Preset {
	var best Preset
	for _, p := range t.presets {
		if p.MaxWidth*p.MaxHeight > best.MaxWidth*best.MaxHeight {
			best = p
		}
	}
	return best
}

var defaultPresets = PresetTable{presets: []Preset{
	{Name: "thumbnail", MaxWidth: 150, MaxHeight: 150, Quality: 80, Format: FormatWebP},
	{Name: "small", MaxWidth: 400, MaxHeight: 400, Quality: 85, Format: FormatWebP},
	{Name: "medium", MaxWidth: 800, MaxHeight: 800, Quality: 85, Format: FormatWebP},
	{Name: "large", MaxWidth: 1920, MaxHeight: 1920, Quality: 90, Format: FormatWebP},
}}

// DefaultPresets returns the responsive size family: thumbnail, small, medium, large.
func DefaultPresets() PresetTable {
	return defaultPresets
}
