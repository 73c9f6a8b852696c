package sparse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/colmap-zup/internal/fsutil"
)

const camerasFixture = "# Camera list with one line of data per camera:\n# Number of cameras: 1\n1 PINHOLE 1920 1080 1500 1500 960 540\n"

func TestStore_LoadMissingFiles(t *testing.T) {
	store := NewStore(fsutil.NewMemoryFileSystem())

	m, err := store.Load("/scene/sparse/0")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Cameras != nil || m.Images != nil || m.Points != nil {
		t.Errorf("expected all collections absent, got %+v", m)
	}

	if err := store.Save("/scene/sparse/0", m); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestStore_SaveOnlyPresentCollections(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	dir := "/scene/sparse/0"
	_ = mfs.WriteFile(filepath.Join(dir, PointsFile), []byte("1 1 2 3 0 0 0 0\n"), 0644)

	store := NewStore(mfs)
	m, err := store.Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Points == nil {
		t.Fatal("expected points to load")
	}
	if err := store.Save(dir, m); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if mfs.Exists(filepath.Join(dir, CamerasFile)) || mfs.Exists(filepath.Join(dir, ImagesFile)) {
		t.Error("Save created files that were absent on load")
	}
	want := []string{filepath.Join(dir, PointsFile)}
	if got := mfs.Paths(); len(got) != 1 || got[0] != want[0] {
		t.Errorf("paths = %v, want %v", got, want)
	}
}

func TestStore_RoundTripOnDisk(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		CamerasFile: camerasFixture,
		ImagesFile:  imagesFixture,
		PointsFile:  "# 3D point list\n7 1.0 2.0 3.0 10 20 30 0.5 4 0 5 1\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0640); err != nil {
			t.Fatal(err)
		}
	}

	store := NewStore(nil)
	m, err := store.Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := store.Save(dir, m); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != content {
			t.Errorf("%s changed:\n got %q\nwant %q", name, data, content)
		}
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0640 {
			t.Errorf("%s mode = %v, want 0640", name, info.Mode().Perm())
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(files) {
		t.Errorf("expected %d files, found %d (temporary files left behind?)", len(files), len(entries))
	}
}

func TestStore_SaveNilModel(t *testing.T) {
	if err := NewStore(nil).Save(t.TempDir(), nil); err == nil {
		t.Error("expected error for nil model")
	}
}
