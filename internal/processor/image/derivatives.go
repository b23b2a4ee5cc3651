package image

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/not-nullexception/image-derivatives/internal/metrics"
)

// Derivative is one slot of a DerivativeSet: either a result or the error
// that preset failed with.
type Derivative struct {
	Result *OptimizationResult
	Err    string
}

// Failed reports whether the preset failed.
func (d Derivative) Failed() bool { return d.Err != "" }

func (d Derivative) MarshalJSON() ([]byte, error) {
	if d.Failed() {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{d.Err})
	}
	return json.Marshal(d.Result)
}

func (d *Derivative) UnmarshalJSON(data []byte) error {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Error != "" {
		*d = Derivative{Err: probe.Error}
		return nil
	}
	var res OptimizationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}
	*d = Derivative{Result: &res}
	return nil
}

// DerivativeSet maps preset names to their outcome.
type DerivativeSet map[string]Derivative

// OutputPaths returns every file written by a successful slot.
func (s DerivativeSet) OutputPaths() []string {
	var paths []string
	for _, d := range s {
		if d.Result != nil && d.Result.OutputPath != "" {
			paths = append(paths, d.Result.OutputPath)
		}
	}
	return paths
}

// Failures returns the names of failed presets.
func (s DerivativeSet) Failures() []string {
	var names []string
	for name, d := range s {
		if d.Failed() {
			names = append(names, name)
		}
	}
	return names
}

// GenerateResponsiveSizes runs OptimizeImage once per preset, concurrently.
// A preset failure is recorded in its slot and never stops the others; the
// returned set always holds exactly one entry per preset.
func (p *Processor) GenerateResponsiveSizes(ctx context.Context, inputPath, outputDir string) DerivativeSet {
	presets := p.presets.Presets()
	slots := make([]Derivative, len(presets))

	var wg sync.WaitGroup
	for i, preset := range presets {
		wg.Add(1)
		go func(i int, preset Preset) {
			defer wg.Done()
			outputPath := DerivativePath(outputDir, inputPath, preset.Name, preset.Format)
			res, err := p.OptimizeImage(ctx, inputPath, outputPath, preset.Options())
			if err != nil {
				metrics.DerivativeFailures.WithLabelValues(preset.Name).Inc()
				p.logger.Warn().
					Err(err).
					Str("path", inputPath).
					Str("preset", preset.Name).
					Msg("Derivative failed")
				slots[i] = Derivative{Err: err.Error()}
				return
			}
			slots[i] = Derivative{Result: res}
		}(i, preset)
	}
	wg.Wait()

	set := make(DerivativeSet, len(presets))
	for i, preset := range presets {
		set[preset.Name] = slots[i]
	}
	return set
}
