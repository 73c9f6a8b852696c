package sparse

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/banshee-data/colmap-zup/internal/fsutil"
)

const defaultFileMode os.FileMode = 0644

// Store loads and saves text models through a FileSystem.
type Store struct {
	fs fsutil.FileSystem
}

// NewStore creates a Store. A nil fsys uses the OS filesystem.
func NewStore(fsys fsutil.FileSystem) *Store {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Store{fs: fsys}
}

// Load reads the model files from dir. Missing files leave the matching
// collection nil.
func (s *Store) Load(dir string) (*Model, error) {
	m := &Model{}

	data, err := s.read(dir, CamerasFile)
	if err != nil {
		return nil, err
	}
	if data != nil {
		m.Cameras = ParseCameras(data)
	}

	data, err = s.read(dir, ImagesFile)
	if err != nil {
		return nil, err
	}
	if data != nil {
		m.Images = ParseImages(data)
		logStats(ImagesFile, m.Images.Stats())
	}

	data, err = s.read(dir, PointsFile)
	if err != nil {
		return nil, err
	}
	if data != nil {
		m.Points = ParsePoints(data)
		logStats(PointsFile, m.Points.Stats())
	}

	return m, nil
}

// Save writes every present collection of m back into dir. Each file is
// replaced atomically.
func (s *Store) Save(dir string, m *Model) error {
	if m == nil {
		return errors.New("nil model")
	}
	if m.Cameras != nil {
		if err := s.write(dir, CamerasFile, m.Cameras.Bytes()); err != nil {
			return err
		}
	}
	if m.Images != nil {
		if err := s.write(dir, ImagesFile, m.Images.Bytes()); err != nil {
			return err
		}
	}
	if m.Points != nil {
		if err := s.write(dir, PointsFile, m.Points.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) read(dir, name string) ([]byte, error) {
	path := filepath.Join(dir, name)
	data, err := s.fs.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		diagf("%s not found, skipping", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *Store) write(dir, name string, data []byte) error {
	path := filepath.Join(dir, name)
	perm := defaultFileMode
	if info, err := s.fs.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := fsutil.WriteFileAtomic(s.fs, path, data, perm); err != nil {
		opsf("failed to write %s: %v", path, err)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	tracef("wrote %s (%d bytes)", path, len(data))
	return nil
}

func logStats(name string, st Stats) {
	diagf("%s: %d records, %d malformed lines passed through", name, st.Records, st.Malformed)
	if st.Malformed > 0 {
		opsf("%s: %d malformed data lines left untouched", name, st.Malformed)
	}
}
