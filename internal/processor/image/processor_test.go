package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writePNG writes a w x h gradient PNG into dir and returns its path.
func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	return path
}

func writeSolidPNG(t *testing.T, dir, name string, w, h int, c color.NRGBA) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func decodeSize(t *testing.T, path string) (int, int, string) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode config %s: %v", path, err)
	}
	return cfg.Width, cfg.Height, format
}

func assertNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected %s not to exist, stat err: %v", path, err)
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("partial file left behind: %s", e.Name())
		}
	}
}

type failingEncoder struct {
	format Format
}

func (f failingEncoder) Format() Format { return f.format }

func (f failingEncoder) Encode(w io.Writer, _ image.Image, _ int) error {
	_, _ = w.Write([]byte("partial output"))
	return errors.New("encoder limitation")
}

func mustPreset(t *testing.T, name string, w, h, q int, f Format) Preset {
	t.Helper()
	p, err := NewPreset(name, w, h, q, f)
	if err != nil {
		t.Fatalf("preset %s: %v", name, err)
	}
	return p
}

func TestCompressionRatio(t *testing.T) {
	if got := CompressionRatio(10000, 4000); got != 60.00 {
		t.Fatalf("expected 60.00, got %v", got)
	}
	if got := CompressionRatio(1000, 1500); got != -50.00 {
		t.Fatalf("expected -50.00 for a grown output, got %v", got)
	}
	if got := CompressionRatio(3, 1); got != 66.67 {
		t.Fatalf("expected rounding to 66.67, got %v", got)
	}
}

func TestFitInside(t *testing.T) {
	tests := []struct {
		name             string
		srcW, srcH       int
		maxW, maxH       int
		wantW, wantH     int
	}{
		{"landscape downscale", 1200, 800, 400, 400, 400, 267},
		{"portrait downscale", 800, 1200, 400, 400, 267, 400},
		{"never enlarges", 300, 200, 1920, 1920, 300, 200},
		{"exact fit", 150, 150, 150, 150, 150, 150},
		{"extreme ratio keeps one pixel", 10000, 10, 150, 150, 150, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitInside(tt.srcW, tt.srcH, tt.maxW, tt.maxH)
			if w != tt.wantW || h != tt.wantH {
				t.Fatalf("expected %dx%d, got %dx%d", tt.wantW, tt.wantH, w, h)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"jpg": FormatJPEG, "image/webp": FormatWebP, "PNG": FormatPNG, ".avif": FormatAVIF} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	_, err := ParseFormat("tiff")
	var unsupported *UnsupportedFormatError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedFormatError, got %v", err)
	}
}

func TestNewPresetValidation(t *testing.T) {
	cases := []struct {
		name    string
		w, h, q int
		format  Format
	}{
		{"zero width", 0, 10, 80, FormatWebP},
		{"negative height", 10, -1, 80, FormatWebP},
		{"zero quality", 10, 10, 0, FormatWebP},
		{"quality above 100", 10, 10, 101, FormatWebP},
		{"avif preset", 10, 10, 80, FormatAVIF},
	}
	for _, c := range cases {
		if _, err := NewPreset(c.name, c.w, c.h, c.q, c.format); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}

	p := mustPreset(t, "a", 10, 10, 80, FormatPNG)
	if _, err := NewPresetTable(p, p); err == nil {
		t.Fatal("expected duplicate preset names to be rejected")
	}
	if _, err := NewPresetTable(); err == nil {
		t.Fatal("expected empty table to be rejected")
	}
}

func TestDefaultPresets(t *testing.T) {
	table := DefaultPresets()
	names := table.Names()
	want := []string{"thumbnail", "small", "medium", "large"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}

	presets := table.Presets()
	presets[0].MaxWidth = 1
	if DefaultPresets().Presets()[0].MaxWidth != 150 {
		t.Fatal("default preset table was mutated through a returned copy")
	}
	if table.Largest().Name != "large" {
		t.Fatalf("expected large to be the largest preset, got %s", table.Largest().Name)
	}
}

func TestGetDimensions(t *testing.T) {
	dir := t.TempDir()
	p := New()
	ctx := context.Background()

	path := writePNG(t, dir, "source.png", 320, 240)
	meta, err := p.GetDimensions(ctx, path)
	if err != nil {
		t.Fatalf("GetDimensions: %v", err)
	}
	info, _ := os.Stat(path)
	if meta.Width != 320 || meta.Height != 240 || meta.Format != "png" || meta.SizeBytes != info.Size() {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	corrupt := filepath.Join(dir, "corrupt.png")
	if err := os.WriteFile(corrupt, []byte("definitely not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = p.GetDimensions(ctx, corrupt)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}

	_, err = p.GetDimensions(ctx, filepath.Join(dir, "missing.png"))
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %v", err)
	}
}

func TestInspectRejectsOversizedHeader(t *testing.T) {
	dir := t.TempDir()
	p := New(WithLimits(Limits{MaxPixels: 1000, MaxDimension: 100}))

	path := writePNG(t, dir, "big.png", 200, 10)
	_, err := p.Inspect(context.Background(), path)
	var limitErr *ResourceLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected ResourceLimitError, got %v", err)
	}

	out := filepath.Join(dir, "out.png")
	_, err = p.OptimizeImage(context.Background(), path, out, OptimizeOptions{Width: 50, Height: 50, Quality: 80, Format: FormatJPEG})
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected ResourceLimitError from optimize, got %v", err)
	}
	assertNotExists(t, out)
}

func TestOptimizeImage_SkipsCompliantImage(t *testing.T) {
	dir := t.TempDir()
	p := New()
	ctx := context.Background()

	path := writePNG(t, dir, "small.png", 100, 50)
	out := filepath.Join(dir, "small-out.png")

	res, err := p.OptimizeImage(ctx, path, out, OptimizeOptions{Width: 150, Height: 150, Quality: 80, Format: FormatPNG})
	if err != nil {
		t.Fatalf("OptimizeImage: %v", err)
	}
	info, _ := os.Stat(path)
	if res.Optimized || res.OriginalSizeBytes != info.Size() {
		t.Fatalf("expected no-op result, got %+v", res)
	}
	if res.OutputPath != "" || res.CompressionRatioPercent != nil || res.OptimizedSizeBytes != 0 {
		t.Fatalf("no-op result must only carry the original size, got %+v", res)
	}
	assertNotExists(t, out)
}

func TestOptimizeImage_Idempotent(t *testing.T) {
	dir := t.TempDir()
	p := New()
	ctx := context.Background()
	opts := OptimizeOptions{Width: 150, Height: 150, Quality: 80, Format: FormatPNG, Fit: FitModeInside}

	src := writePNG(t, dir, "wide.png", 600, 300)
	first := filepath.Join(dir, "wide-thumbnail.png")
	res, err := p.OptimizeImage(ctx, src, first, opts)
	if err != nil {
		t.Fatalf("first optimize: %v", err)
	}
	if !res.Optimized || res.Width != 150 || res.Height != 75 {
		t.Fatalf("unexpected first result %+v", res)
	}

	before, _ := os.Stat(first)
	second := filepath.Join(dir, "wide-thumbnail-again.png")
	res, err = p.OptimizeImage(ctx, first, second, opts)
	if err != nil {
		t.Fatalf("second optimize: %v", err)
	}
	if res.Optimized {
		t.Fatalf("expected second call to be a no-op, got %+v", res)
	}
	assertNotExists(t, second)
	after, _ := os.Stat(first)
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatal("compliant input was rewritten")
	}
}

func TestOptimizeImage_ResizePreservesAspectWithoutUpscaling(t *testing.T) {
	dir := t.TempDir()
	p := New()
	ctx := context.Background()

	cases := []struct {
		name       string
		w, h       int
		maxW, maxH int
	}{
		{"downscale landscape", 1200, 800, 400, 400},
		{"downscale portrait", 500, 900, 150, 150},
		{"bounds larger than source", 300, 200, 1920, 1920},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			src := writePNG(t, dir, c.name+".png", c.w, c.h)
			out := filepath.Join(dir, c.name+".jpg")

			res, err := p.OptimizeImage(ctx, src, out, OptimizeOptions{Width: c.maxW, Height: c.maxH, Quality: 85, Format: FormatJPEG})
			if err != nil {
				t.Fatalf("OptimizeImage: %v", err)
			}
			w, h, format := decodeSize(t, out)
			if format != "jpeg" {
				t.Fatalf("expected jpeg output, got %s", format)
			}
			if w > c.w || h > c.h {
				t.Fatalf("output %dx%d larger than source %dx%d", w, h, c.w, c.h)
			}
			if w > c.maxW || h > c.maxH {
				t.Fatalf("output %dx%d exceeds bounds %dx%d", w, h, c.maxW, c.maxH)
			}
			srcRatio := float64(c.w) / float64(c.h)
			outRatio := float64(w) / float64(h)
			if math.Abs(srcRatio-outRatio) > 0.01 {
				t.Fatalf("aspect ratio drifted: source %.4f, output %.4f", srcRatio, outRatio)
			}
			if res.Width != w || res.Height != h || res.OutputPath != out || !res.Optimized {
				t.Fatalf("result does not describe output: %+v", res)
			}
			info, _ := os.Stat(out)
			if res.OptimizedSizeBytes != info.Size() {
				t.Fatalf("expected optimized size %d, got %d", info.Size(), res.OptimizedSizeBytes)
			}
			if *res.CompressionRatioPercent != CompressionRatio(res.OriginalSizeBytes, res.OptimizedSizeBytes) {
				t.Fatalf("ratio mismatch: %v", *res.CompressionRatioPercent)
			}
		})
	}
}

func TestOptimizeImage_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	p := New()
	src := writePNG(t, dir, "src.png", 300, 300)

	for _, f := range []Format{"gif", FormatAVIF} {
		out := filepath.Join(dir, "out."+string(f))
		_, err := p.OptimizeImage(context.Background(), src, out, OptimizeOptions{Width: 100, Height: 100, Quality: 80, Format: f})
		var unsupported *UnsupportedFormatError
		if !errors.As(err, &unsupported) {
			t.Fatalf("%s: expected UnsupportedFormatError, got %v", f, err)
		}
		assertNotExists(t, out)
	}
}

func TestOptimizeImage_EncoderFailureLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	p := New(WithCodecs(DefaultCodecs().With(failingEncoder{format: FormatJPEG})))

	src := writePNG(t, dir, "src.png", 300, 300)
	out := filepath.Join(dir, "out.jpg")
	_, err := p.OptimizeImage(context.Background(), src, out, OptimizeOptions{Width: 100, Height: 100, Quality: 80, Format: FormatJPEG})
	if err == nil || !strings.Contains(err.Error(), "encoder limitation") {
		t.Fatalf("expected encoder error, got %v", err)
	}
	assertNotExists(t, out)
	assertNoTempFiles(t, dir)
}

func TestOptimizeImage_UnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	p := New()
	src := writePNG(t, dir, "src.png", 300, 300)

	out := filepath.Join(dir, "missing-dir", "out.png")
	_, err := p.OptimizeImage(context.Background(), src, out, OptimizeOptions{Width: 100, Height: 100, Quality: 80, Format: FormatPNG})
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %v", err)
	}
}

func TestOptimizeImage_Timeout(t *testing.T) {
	dir := t.TempDir()
	p := New()
	src := writePNG(t, dir, "src.png", 300, 300)

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	_, err := p.OptimizeImage(ctx, src, filepath.Join(dir, "out.png"), OptimizeOptions{Width: 100, Height: 100, Quality: 80, Format: FormatPNG})
	var limitErr *ResourceLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected ResourceLimitError, got %v", err)
	}
}

func TestGenerateResponsiveSizes_DefaultPresets(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	if err := os.Mkdir(out, 0o755); err != nil {
		t.Fatal(err)
	}
	p := New()

	const srcW, srcH = 900, 600
	src := writePNG(t, dir, "photo.png", srcW, srcH)
	set := p.GenerateResponsiveSizes(context.Background(), src, out)

	if len(set) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(set))
	}
	for _, name := range DefaultPresets().Names() {
		d, ok := set[name]
		if !ok {
			t.Fatalf("missing preset %s", name)
		}
		if d.Failed() {
			t.Fatalf("preset %s failed: %s", name, d.Err)
		}
		want := filepath.Join(out, "photo-png-"+name+".webp")
		if d.Result.OutputPath != want {
			t.Fatalf("expected output %s, got %s", want, d.Result.OutputPath)
		}
		w, h, format := decodeSize(t, want)
		if format != "webp" {
			t.Fatalf("expected webp, got %s", format)
		}
		if w > srcW || h > srcH {
			t.Fatalf("%s upscaled to %dx%d", name, w, h)
		}
		if math.Abs(float64(w)/float64(h)-float64(srcW)/float64(srcH)) > 0.02 {
			t.Fatalf("%s aspect ratio drifted: %dx%d", name, w, h)
		}
	}

	if w, h, _ := decodeSize(t, set["thumbnail"].Result.OutputPath); w != 150 || h != 100 {
		t.Fatalf("expected 150x100 thumbnail, got %dx%d", w, h)
	}
	if w, h, _ := decodeSize(t, set["large"].Result.OutputPath); w != srcW || h != srcH {
		t.Fatalf("expected large to keep %dx%d, got %dx%d", srcW, srcH, w, h)
	}
}

func TestGenerateResponsiveSizes_IsolatesPresetFailure(t *testing.T) {
	dir := t.TempDir()
	table, err := NewPresetTable(
		mustPreset(t, "thumbnail", 150, 150, 80, FormatPNG),
		mustPreset(t, "small", 400, 400, 85, FormatPNG),
		mustPreset(t, "medium", 800, 800, 85, FormatJPEG),
		mustPreset(t, "large", 1920, 1920, 90, FormatPNG),
	)
	if err != nil {
		t.Fatal(err)
	}
	p := New(
		WithPresets(table),
		WithCodecs(DefaultCodecs().With(failingEncoder{format: FormatJPEG})),
	)

	src := writePNG(t, dir, "rigged.png", 1000, 1000)
	set := p.GenerateResponsiveSizes(context.Background(), src, dir)

	if len(set) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(set))
	}
	var ok, failed int
	for name, d := range set {
		if d.Failed() {
			failed++
			if name != "medium" {
				t.Fatalf("unexpected failure in %s: %s", name, d.Err)
			}
			continue
		}
		ok++
	}
	if ok != 3 || failed != 1 {
		t.Fatalf("expected 3 results and 1 error, got %d and %d", ok, failed)
	}
	if got := set.Failures(); len(got) != 1 || got[0] != "medium" {
		t.Fatalf("unexpected failures %v", got)
	}
	assertNotExists(t, filepath.Join(dir, "rigged-png-medium.jpg"))
	assertNoTempFiles(t, dir)
}

func TestDerivativeJSON(t *testing.T) {
	ratio := 42.5
	set := DerivativeSet{
		"thumbnail": {Result: &OptimizationResult{Optimized: true, OriginalSizeBytes: 100, OptimizedSizeBytes: 57, CompressionRatioPercent: &ratio, OutputPath: "/out/a.webp"}},
		"large":     {Err: "boom"},
	}
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"large":{"error":"boom"}`) {
		t.Fatalf("error slot not encoded as {error}: %s", data)
	}

	var decoded DerivativeSet
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["large"].Err != "boom" || decoded["thumbnail"].Result.OutputPath != "/out/a.webp" {
		t.Fatalf("unexpected decoded set %+v", decoded)
	}
}

func TestDerivativePathKeepsSourceExtension(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/in/photo.png", "/out/photo-png-small.webp"},
		{"/in/photo.jpg", "/out/photo-jpg-small.webp"},
		{"/in/photo.PNG", "/out/photo-PNG-small.webp"},
		{"/in/photo", "/out/photo-small.webp"},
		{"/in/3f2a.tar.png", "/out/3f2a.tar-png-small.webp"},
	}
	for _, tt := range tests {
		if got := DerivativePath("/out", tt.input, "small", FormatWebP); got != filepath.FromSlash(tt.want) {
			t.Errorf("DerivativePath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestGenerateBlurPlaceholder(t *testing.T) {
	dir := t.TempDir()
	p := New()
	ctx := context.Background()

	src := writePNG(t, dir, "photo.png", 640, 320)
	out := PlaceholderPath(dir, src)
	ph, err := p.GenerateBlurPlaceholder(ctx, src, out)
	if err != nil {
		t.Fatalf("GenerateBlurPlaceholder: %v", err)
	}
	if ph.Width != 20 || ph.Height != 10 || ph.Format != FormatWebP {
		t.Fatalf("unexpected placeholder %+v", ph)
	}
	if ph.SizeBytes > 4096 {
		t.Fatalf("placeholder too large: %d bytes", ph.SizeBytes)
	}
	first, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}

	again := filepath.Join(dir, "again.webp")
	if _, err := p.GenerateBlurPlaceholder(ctx, src, again); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(again)
	if !bytes.Equal(first, second) {
		t.Fatal("placeholder is not deterministic")
	}

	tiny := writePNG(t, dir, "tiny.png", 8, 4)
	ph, err = p.GenerateBlurPlaceholder(ctx, tiny, filepath.Join(dir, "tiny-placeholder.webp"))
	if err != nil {
		t.Fatal(err)
	}
	if ph.Width != 8 || ph.Height != 4 {
		t.Fatalf("placeholder enlarged a tiny source to %dx%d", ph.Width, ph.Height)
	}
}

func TestGetDominantColor(t *testing.T) {
	dir := t.TempDir()
	p := New()
	ctx := context.Background()

	red := writeSolidPNG(t, dir, "red.png", 64, 48, color.NRGBA{R: 255, A: 255})
	c, err := p.GetDominantColor(ctx, red)
	if err != nil {
		t.Fatalf("GetDominantColor: %v", err)
	}
	if c != (Color{R: 255, G: 0, B: 0}) {
		t.Fatalf("expected pure red, got %+v", c)
	}

	gradient := writePNG(t, dir, "gradient.png", 120, 80)
	c, err = p.GetDominantColor(ctx, gradient)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []int{c.R, c.G, c.B} {
		if v < 0 || v > 255 {
			t.Fatalf("channel out of range: %+v", c)
		}
	}
	if c.B != 128 {
		t.Fatalf("expected the constant blue channel to survive averaging, got %+v", c)
	}
}

func TestConvertFormat(t *testing.T) {
	dir := t.TempDir()
	p := New()
	ctx := context.Background()

	src := writePNG(t, dir, "src.png", 200, 100)
	out := filepath.Join(dir, "src.jpg")
	res, err := p.ConvertFormat(ctx, src, out, FormatJPEG, 0)
	if err != nil {
		t.Fatalf("ConvertFormat: %v", err)
	}
	w, h, format := decodeSize(t, out)
	if format != "jpeg" || w != 200 || h != 100 || !res.Optimized {
		t.Fatalf("unexpected conversion %dx%d %s %+v", w, h, format, res)
	}

	_, err = p.ConvertFormat(ctx, src, filepath.Join(dir, "src.gif"), "gif", 80)
	var unsupported *UnsupportedFormatError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedFormatError, got %v", err)
	}
	assertNotExists(t, filepath.Join(dir, "src.gif"))
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	l := NewLimiter(1)
	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_, err = l.Acquire(ctx)
	var limitErr *ResourceLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected ResourceLimitError while the only slot is held, got %v", err)
	}

	release()
	release2, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected slot after release: %v", err)
	}
	release2()
}
