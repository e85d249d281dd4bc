package recognizer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/andresmejia3/lookout/internal/classifier"
	"github.com/andresmejia3/lookout/internal/gallery"
	"github.com/andresmejia3/lookout/internal/store"
	"github.com/andresmejia3/lookout/internal/types"
	"gocv.io/x/gocv"
)

// meanColor embeds a crop as its per-channel mean, which is enough to separate solid colors.
type meanColor struct {
	calls int
}

func (m *meanColor) Embed(crop gocv.Mat) ([]float32, error) {
	m.calls++
	s := crop.Mean()
	return []float32{float32(s.Val1 / 255), float32(s.Val2 / 255), float32(s.Val3 / 255)}, nil
}

func solid(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func solidMat(t *testing.T, b, g, r float64, rows, cols int) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0), rows, cols, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

// seed writes n examples of the given color for name, one second apart.
func seed(t *testing.T, g *gallery.Gallery, name string, c color.RGBA, n int) {
	t.Helper()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		g.Now = func() time.Time { return at }
		if _, err := g.Append(name, solid(c)); err != nil {
			t.Fatalf("Append(%s) failed: %v", name, err)
		}
	}
}

func TestRecognizeSmallCrop(t *testing.T) {
	emb := &meanColor{}
	r := New(emb, store.NewFileStore(t.TempDir()))

	for _, size := range [][2]int{{10, 30}, {30, 19}, {19, 19}} {
		got, err := r.Recognize(solidMat(t, 0, 0, 255, size[0], size[1]))
		if err != nil {
			t.Fatalf("Recognize(%v) error: %v", size, err)
		}
		if got.Label != types.LabelSmall || got.Probability != 1.0 {
			t.Errorf("Recognize(%v) = %+v, want small/1.0", size, got)
		}
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times for small crops", emb.calls)
	}
}

func TestRecognizeUntrained(t *testing.T) {
	emb := &meanColor{}
	r := New(emb, store.NewFileStore(t.TempDir()))

	got, err := r.Recognize(solidMat(t, 0, 0, 255, 20, 20))
	if err != nil {
		t.Fatal(err)
	}
	if got.Label != types.LabelUnknown || got.Probability != 1.0 {
		t.Errorf("Recognize() = %+v, want unknown/1.0", got)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called while untrained")
	}
	if r.Trained() {
		t.Error("fresh recognizer reports trained")
	}
}

func TestLoadWithNothingPersisted(t *testing.T) {
	r := New(&meanColor{}, store.NewFileStore(t.TempDir()))
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if r.Trained() {
		t.Error("expected recognizer to stay untrained")
	}
}

func TestTrainSinglePerson(t *testing.T) {
	g := gallery.New(t.TempDir())
	seed(t, g, "alice", color.RGBA{R: 200, A: 255}, 2)

	r := New(&meanColor{}, store.NewFileStore(t.TempDir()))
	var progress []int
	stats, err := r.Train(context.Background(), g, func(done, total int) {
		progress = append(progress, done)
		if total != 2 {
			t.Errorf("total = %d, want 2", total)
		}
	})
	if err != nil {
		t.Fatalf("Train() error: %v", err)
	}
	if stats.Examples != 2 || len(stats.People) != 1 || stats.People[0] != "alice" {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(progress) != 2 || progress[1] != 2 {
		t.Errorf("progress calls = %v", progress)
	}

	// Any crop big enough is alice with certainty.
	got, err := r.Recognize(solidMat(t, 255, 0, 0, 40, 40))
	if err != nil {
		t.Fatal(err)
	}
	if got.Label != "alice" || got.Probability != 1.0 {
		t.Errorf("Recognize() = %+v, want alice/1.0", got)
	}
}

func TestTrainPersistsAndReloads(t *testing.T) {
	g := gallery.New(t.TempDir())
	seed(t, g, "bob", color.RGBA{R: 220, B: 220, A: 255}, 3)
	seed(t, g, "carol", color.RGBA{G: 220, A: 255}, 3)

	models := store.NewFileStore(t.TempDir())
	trained := New(&meanColor{}, models)
	if _, err := trained.Train(context.Background(), g, nil); err != nil {
		t.Fatalf("Train() error: %v", err)
	}

	reloaded := New(&meanColor{}, models)
	if err := reloaded.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !reloaded.Trained() {
		t.Fatal("reloaded recognizer is untrained")
	}
	if got := reloaded.People(); len(got) != 2 || got[0] != "bob" || got[1] != "carol" {
		t.Errorf("People() = %v", got)
	}

	// Both colors read the same in BGR and RGB order.
	crops := map[string]gocv.Mat{
		"bob":   solidMat(t, 220, 0, 220, 32, 32),
		"carol": solidMat(t, 0, 220, 0, 32, 32),
	}
	for want, crop := range crops {
		a, err := trained.Recognize(crop)
		if err != nil {
			t.Fatal(err)
		}
		b, err := reloaded.Recognize(crop)
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Errorf("reloaded prediction %+v differs from original %+v", b, a)
		}
		if a.Label != want {
			t.Errorf("Recognize(%s crop) = %+v", want, a)
		}
	}
}

func TestTrainEmptyGalleryKeepsPreviousModel(t *testing.T) {
	g := gallery.New(t.TempDir())
	seed(t, g, "dave", color.RGBA{R: 90, G: 90, A: 255}, 1)

	r := New(&meanColor{}, store.NewFileStore(t.TempDir()))
	if _, err := r.Train(context.Background(), g, nil); err != nil {
		t.Fatal(err)
	}

	_, err := r.Train(context.Background(), gallery.New(t.TempDir()), nil)
	if !errors.Is(err, classifier.ErrInvalidTrainingSet) {
		t.Fatalf("Train(empty) error = %v, want ErrInvalidTrainingSet", err)
	}
	if got := r.People(); len(got) != 1 || got[0] != "dave" {
		t.Errorf("previous classifier lost, People() = %v", got)
	}
}

func TestTrainEmptyGalleryUntrained(t *testing.T) {
	r := New(&meanColor{}, store.NewFileStore(t.TempDir()))
	_, err := r.Train(context.Background(), gallery.New(t.TempDir()), nil)
	if !errors.Is(err, classifier.ErrInvalidTrainingSet) {
		t.Fatalf("Train(empty) error = %v, want ErrInvalidTrainingSet", err)
	}
	if r.Trained() {
		t.Error("failed training must not leave a classifier behind")
	}
}

func TestTrainCanceled(t *testing.T) {
	g := gallery.New(t.TempDir())
	seed(t, g, "erin", color.RGBA{R: 10, A: 255}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(&meanColor{}, store.NewFileStore(t.TempDir()))
	if _, err := r.Train(ctx, g, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Train() error = %v, want context.Canceled", err)
	}
	if r.Trained() {
		t.Error("canceled training must not swap in a classifier")
	}
}
