package gallery

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	return img
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAppendCreatesTimestampedFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "datasets")
	g := New(root)
	g.Now = fixedClock(time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local))

	path, err := g.Append("alice", testImage(32, 40))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	want := filepath.Join(root, "alice", "20240309_140507.png")
	if path != want {
		t.Errorf("Append() path = %q, want %q", path, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	names, err := g.ListNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "alice" {
		t.Errorf("ListNames() = %v, want [alice]", names)
	}

	img, err := g.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 40 {
		t.Errorf("loaded image is %dx%d, want 32x40", b.Dx(), b.Dy())
	}
}

func TestAppendSameSecondOverwrites(t *testing.T) {
	g := New(t.TempDir())
	g.Now = fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local))

	first, err := g.Append("bob", testImage(20, 20))
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Append("bob", testImage(24, 24))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("expected the same path, got %q and %q", first, second)
	}

	examples, err := g.Examples()
	if err != nil {
		t.Fatal(err)
	}
	if len(examples) != 1 {
		t.Errorf("expected 1 example after collision, got %d", len(examples))
	}
}

func TestAppendRejectsBadInput(t *testing.T) {
	g := New(t.TempDir())

	for _, name := range []string{"", "   ", "..", "a/b", `a\b`} {
		if _, err := g.Append(name, testImage(4, 4)); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Append(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
	if _, err := g.Append("carol", image.NewNRGBA(image.Rect(0, 0, 0, 0))); err == nil {
		t.Error("Append of an empty image should fail")
	}
}

func TestAppendSurfacesWriteFailure(t *testing.T) {
	// The root is a regular file, so the person directory cannot be created
	root := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(root, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(root).Append("alice", testImage(8, 8)); err == nil {
		t.Fatal("expected an error when the dataset root is a file")
	}
}

func TestListNamesMissingRoot(t *testing.T) {
	names, err := New(filepath.Join(t.TempDir(), "nope")).ListNames()
	if err != nil {
		t.Fatalf("ListNames failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no names, got %v", names)
	}
}

func TestListNamesSortedAndDirsOnly(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"zoe", "adam", "mia"} {
		if err := os.Mkdir(filepath.Join(root, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	names, err := New(root).ListNames()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"adam", "mia", "zoe"}
	if len(names) != len(want) {
		t.Fatalf("ListNames() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestExamplesAndSummary(t *testing.T) {
	g := New(t.TempDir())
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	g.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for _, name := range []string{"bob", "alice", "bob", "bob"} {
		if _, err := g.Append(name, testImage(10, 10)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(g.Root, "empty"), 0755); err != nil {
		t.Fatal(err)
	}

	examples, err := g.Examples()
	if err != nil {
		t.Fatal(err)
	}
	if len(examples) != 4 {
		t.Fatalf("expected 4 examples, got %d", len(examples))
	}
	if examples[0].Name != "alice" {
		t.Errorf("examples should be ordered by name, first is %q", examples[0].Name)
	}

	people, err := g.Summary()
	if err != nil {
		t.Fatal(err)
	}
	want := []Person{{"alice", 1}, {"bob", 3}, {"empty", 0}}
	if len(people) != len(want) {
		t.Fatalf("Summary() = %v, want %v", people, want)
	}
	for i := range want {
		if people[i] != want[i] {
			t.Errorf("people[%d] = %+v, want %+v", i, people[i], want[i])
		}
	}
}

func TestRename(t *testing.T) {
	g := New(t.TempDir())
	if _, err := g.Append("unknown-1", testImage(10, 10)); err != nil {
		t.Fatal(err)
	}

	if err := g.Rename("unknown-1", "dave"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	names, _ := g.ListNames()
	if len(names) != 1 || names[0] != "dave" {
		t.Errorf("ListNames() after rename = %v", names)
	}

	// Appending under the old name recreates its directory
	if _, err := g.Append("unknown-1", testImage(10, 10)); err != nil {
		t.Fatalf("Append after rename failed: %v", err)
	}

	if err := g.Rename("unknown-1", "dave"); err == nil {
		t.Error("Rename onto an existing person should fail")
	}
	if err := g.Rename("ghost", "erin"); err == nil {
		t.Error("Rename of a missing person should fail")
	}
}
