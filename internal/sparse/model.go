// Package sparse reads and writes COLMAP sparse reconstructions in the text
// format (cameras.txt, images.txt, points3D.txt).
//
// Lines are kept in file order. Comment and blank lines, camera lines,
// 2D-observation lines and malformed data lines are re-emitted verbatim;
// only point positions and image poses are exposed as editable records.
package sparse

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Well-known file names inside a sparse model directory.
const (
	CamerasFile = "cameras.txt"
	ImagesFile  = "images.txt"
	PointsFile  = "points3D.txt"
)

const (
	// CommentMarker starts a comment line.
	CommentMarker = "#"
	// ImagesHeaderTerminator begins the last header line of images.txt.
	ImagesHeaderTerminator = "# Number of images:"

	minPointFields = 4
	minPoseFields  = 10
)

// Coord is a real-valued coordinate that remembers its source spelling, so
// a value read from disk is written back byte-for-byte.
type Coord struct {
	value float64
	text  string
}

// NewCoord returns a coordinate with no source text.
func NewCoord(v float64) Coord {
	return Coord{value: v}
}

// ParseCoord parses a decimal coordinate field.
func ParseCoord(s string) (Coord, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Coord{}, err
	}
	return Coord{value: v, text: s}, nil
}

// Float returns the numeric value.
func (c Coord) Float() float64 { return c.value }

// String returns the source text, or the shortest representation that
// parses back to the same float64.
func (c Coord) String() string {
	if c.text != "" {
		return c.text
	}
	return FormatFloat(c.value)
}

// FormatFloat formats v in shortest round-trip form, always with a decimal
// point or exponent so the field reads as a real.
func FormatFloat(v float64) string {
	abs := math.Abs(v)
	if v == 0 || (abs >= 1e-4 && abs < 1e16) {
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	return strconv.FormatFloat(v, 'e', -1, 64)
}

// Point3D is one record of points3D.txt. Trailing holds color, error and
// track exactly as read.
type Point3D struct {
	ID       string
	Position [3]Coord
	Trailing string
}

// Vec returns the position as a gonum vector.
func (p Point3D) Vec() r3.Vec {
	return r3.Vec{X: p.Position[0].Float(), Y: p.Position[1].Float(), Z: p.Position[2].Float()}
}

// String renders the record as a points3D.txt data line.
func (p Point3D) String() string {
	var b strings.Builder
	b.WriteString(p.ID)
	for _, c := range p.Position {
		b.WriteByte(' ')
		b.WriteString(c.String())
	}
	if p.Trailing != "" {
		b.WriteByte(' ')
		b.WriteString(p.Trailing)
	}
	return b.String()
}

// ImagePose is the pose line of an images.txt record. Rotation is
// (qw, qx, qy, qz); Trailing holds the image name and anything after it.
type ImagePose struct {
	ID          string
	Rotation    [4]Coord
	Translation [3]Coord
	CameraID    string
	Trailing    string
}

// Quat returns the orientation as a gonum quaternion.
func (p ImagePose) Quat() quat.Number {
	return quat.Number{
		Real: p.Rotation[0].Float(),
		Imag: p.Rotation[1].Float(),
		Jmag: p.Rotation[2].Float(),
		Kmag: p.Rotation[3].Float(),
	}
}

// Vec returns the translation as a gonum vector.
func (p ImagePose) Vec() r3.Vec {
	return r3.Vec{X: p.Translation[0].Float(), Y: p.Translation[1].Float(), Z: p.Translation[2].Float()}
}

// Name returns the image file name.
func (p ImagePose) Name() string {
	name, _, _ := strings.Cut(p.Trailing, " ")
	return name
}

// String renders the record as an images.txt pose line.
func (p ImagePose) String() string {
	var b strings.Builder
	b.WriteString(p.ID)
	for _, c := range p.Rotation {
		b.WriteByte(' ')
		b.WriteString(c.String())
	}
	for _, c := range p.Translation {
		b.WriteByte(' ')
		b.WriteString(c.String())
	}
	b.WriteByte(' ')
	b.WriteString(p.CameraID)
	if p.Trailing != "" {
		b.WriteByte(' ')
		b.WriteString(p.Trailing)
	}
	return b.String()
}

// Stats counts the data lines of a parsed file.
type Stats struct {
	// Records is the number of data lines parsed into editable records.
	Records int
	// Malformed is the number of data lines passed through untouched
	// because they did not have the required fields.
	Malformed int
}

// Model holds the three collections of a sparse reconstruction. A nil
// collection means the file was absent; it is skipped on save.
type Model struct {
	Cameras *CameraFile
	Images  *ImageFile
	Points  *PointFile
}
