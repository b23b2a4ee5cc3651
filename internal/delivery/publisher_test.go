package delivery

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/not-nullexception/image-derivatives/internal/db/models"
	"github.com/not-nullexception/image-derivatives/internal/pipeline"
	imageprocessor "github.com/not-nullexception/image-derivatives/internal/processor/image"
)

type fakeStore struct {
	mu       sync.Mutex
	uploaded map[string]string
	deleted  []string
	purged   []uuid.UUID
	failOn   string
}

func (s *fakeStore) UploadFile(_ context.Context, objectName, filePath, contentType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && filepath.Base(filePath) == s.failOn {
		return 0, errors.New("bucket unavailable")
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	if s.uploaded == nil {
		s.uploaded = make(map[string]string)
	}
	s.uploaded[objectName] = contentType
	return info.Size(), nil
}
func (s *fakeStore) GetImage(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStore) DeleteImage(_ context.Context, objectName string) error {
	s.deleted = append(s.deleted, objectName)
	return nil
}
func (s *fakeStore) DeleteImages(_ context.Context, id uuid.UUID) error {
	s.purged = append(s.purged, id)
	return nil
}
func (s *fakeStore) GetImageURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}
func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close() error               { return nil }

type statusUpdate struct {
	status models.ProcessingStatus
	msg    string
}

type fakeRepo struct {
	createErr error
	deleteErr error
	created   []*models.Image
	updated   []*models.Image
	statuses  map[uuid.UUID]statusUpdate
}

func (r *fakeRepo) GetImageByID(context.Context, uuid.UUID) (*models.Image, error) { return nil, nil }
func (r *fakeRepo) ListImages(context.Context, int, int) ([]*models.Image, int, error) {
	return nil, 0, nil
}
func (r *fakeRepo) CreateImage(_ context.Context, img *models.Image) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.created = append(r.created, img)
	return nil
}
func (r *fakeRepo) UpdateImage(_ context.Context, img *models.Image) error {
	r.updated = append(r.updated, img)
	return nil
}
func (r *fakeRepo) DeleteImage(context.Context, uuid.UUID) error { return r.deleteErr }
func (r *fakeRepo) UpdateImageStatus(_ context.Context, id uuid.UUID, status models.ProcessingStatus, msg string) error {
	if r.statuses == nil {
		r.statuses = make(map[uuid.UUID]statusUpdate)
	}
	r.statuses[id] = statusUpdate{status, msg}
	return nil
}
func (r *fakeRepo) Ping(context.Context) error { return nil }
func (r *fakeRepo) Close() error               { return nil }

func writeFile(t *testing.T, path string, size int) string {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func ratio(v float64) *float64 { return &v }

// testResult builds a result with one encoded slot, one skipped slot and
// one failed slot, plus a placeholder.
func testResult(t *testing.T, dir string) *pipeline.Result {
	t.Helper()
	return &pipeline.Result{
		Sizes: imageprocessor.DerivativeSet{
			"small": {Result: &imageprocessor.OptimizationResult{
				Optimized:               true,
				OriginalSizeBytes:       1000,
				OptimizedSizeBytes:      400,
				CompressionRatioPercent: ratio(60),
				OutputPath:              writeFile(t, filepath.Join(dir, "abc-small.webp"), 400),
				Width:                   400,
				Height:                  200,
			}},
			"thumbnail": {Result: &imageprocessor.OptimizationResult{OriginalSizeBytes: 1000}},
			"medium":    {Err: "encoder limitation"},
		},
		Metadata: imageprocessor.Metadata{Width: 600, Height: 300, Format: "png", SizeBytes: 1000},
		BlurPlaceholder: &imageprocessor.BlurPlaceholder{
			OutputPath: writeFile(t, filepath.Join(dir, "abc-placeholder.webp"), 60),
			Format:     imageprocessor.FormatWebP,
			Width:      20,
			Height:     10,
			SizeBytes:  60,
		},
		DominantColor: imageprocessor.Color{R: 255, G: 0, B: 128},
	}
}

func TestStoreOriginal(t *testing.T) {
	store := &fakeStore{}
	repo := &fakeRepo{}
	p := NewPublisher(repo, store)

	img := models.NewImage("My Photo.PNG", 1000, "image/png")
	src := writeFile(t, filepath.Join(t.TempDir(), "src.png"), 1000)

	if err := p.StoreOriginal(context.Background(), img, src); err != nil {
		t.Fatalf("StoreOriginal: %v", err)
	}

	want := img.ID.String() + "/My_Photo.png"
	if img.OriginalPath != want {
		t.Errorf("OriginalPath = %q, want %q", img.OriginalPath, want)
	}
	if store.uploaded[want] != "image/png" {
		t.Errorf("original not uploaded with its MIME type: %v", store.uploaded)
	}
	if len(repo.created) != 1 {
		t.Errorf("created %d records, want 1", len(repo.created))
	}
}

func TestStoreOriginal_RemovesOrphanOnDBError(t *testing.T) {
	store := &fakeStore{}
	repo := &fakeRepo{createErr: errors.New("db down")}
	p := NewPublisher(repo, store)

	img := models.NewImage("a.png", 10, "image/png")
	src := writeFile(t, filepath.Join(t.TempDir(), "a.png"), 10)

	if err := p.StoreOriginal(context.Background(), img, src); err == nil {
		t.Fatal("expected error")
	}
	if len(store.deleted) != 1 || store.deleted[0] != img.OriginalPath {
		t.Errorf("deleted = %v, want [%s]", store.deleted, img.OriginalPath)
	}
}

func TestPublish(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{}
	repo := &fakeRepo{}
	p := NewPublisher(repo, store)

	img := models.NewImage("abc.png", 1000, "image/png")
	img.OriginalPath = img.ID.String() + "/abc.png"
	res := testResult(t, dir)

	if err := p.Publish(context.Background(), img, res); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if img.Status != models.StatusCompleted {
		t.Errorf("Status = %s, want completed", img.Status)
	}
	if img.OriginalWidth != 600 || img.OriginalHeight != 300 || img.OriginalFormat != "png" {
		t.Errorf("original metadata not recorded: %dx%d %s", img.OriginalWidth, img.OriginalHeight, img.OriginalFormat)
	}
	if img.DominantColor != "#ff0080" {
		t.Errorf("DominantColor = %s, want #ff0080", img.DominantColor)
	}

	small := img.Derivatives["small"]
	if small.ObjectName != img.ID.String()+"/abc-small.webp" || small.Format != "webp" || !small.Optimized {
		t.Errorf("small = %+v", small)
	}
	if store.uploaded[small.ObjectName] != "image/webp" {
		t.Errorf("small uploaded as %q", store.uploaded[small.ObjectName])
	}

	thumb := img.Derivatives["thumbnail"]
	if thumb.ObjectName != img.OriginalPath || thumb.Optimized || thumb.Format != "png" {
		t.Errorf("skipped slot should point at the original, got %+v", thumb)
	}
	if img.Derivatives["medium"].Error != "encoder limitation" {
		t.Errorf("medium = %+v", img.Derivatives["medium"])
	}

	if img.PlaceholderPath != img.ID.String()+"/abc-placeholder.webp" {
		t.Errorf("PlaceholderPath = %q", img.PlaceholderPath)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("local outputs left behind: %d", len(entries))
	}
	if len(repo.updated) != 1 {
		t.Errorf("UpdateImage called %d times, want 1", len(repo.updated))
	}
}

func TestPublish_UploadFailureMarksFailed(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{failOn: "abc-placeholder.webp"}
	repo := &fakeRepo{}
	p := NewPublisher(repo, store)

	img := models.NewImage("abc.png", 1000, "image/png")
	if err := p.Publish(context.Background(), img, testResult(t, dir)); err == nil {
		t.Fatal("expected error")
	}

	if got := repo.statuses[img.ID].status; got != models.StatusFailed {
		t.Errorf("status = %q, want failed", got)
	}
	if len(repo.updated) != 0 {
		t.Errorf("record must not be completed after a failed upload")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("local outputs left behind after failure: %d", len(entries))
	}
}

func TestRemove(t *testing.T) {
	id := uuid.New()

	store := &fakeStore{}
	p := NewPublisher(&fakeRepo{}, store)
	if err := p.Remove(context.Background(), id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(store.purged) != 1 || store.purged[0] != id {
		t.Errorf("purged = %v", store.purged)
	}

	store = &fakeStore{}
	p = NewPublisher(&fakeRepo{deleteErr: errors.New("missing")}, store)
	if err := p.Remove(context.Background(), id); err == nil {
		t.Fatal("expected repository error")
	}
	if len(store.purged) != 0 {
		t.Errorf("objects purged although the record was not deleted")
	}
}
