package sparse

import (
	"bytes"
	"strings"
	"unicode"
)

// line is one physical line split from its terminator.
type line struct {
	body string
	eol  string
}

func splitLines(data []byte) []line {
	var out []line
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		var raw string
		if i < 0 {
			raw, data = string(data), nil
		} else {
			raw, data = string(data[:i+1]), data[i+1:]
		}
		body := strings.TrimSuffix(raw, "\n")
		eol := raw[len(body):]
		if strings.HasSuffix(body, "\r") {
			body = body[:len(body)-1]
			eol = "\r" + eol
		}
		out = append(out, line{body: body, eol: eol})
	}
	return out
}

func isCommentOrBlank(body string) bool {
	return strings.HasPrefix(body, CommentMarker) || strings.TrimSpace(body) == ""
}

// cutFields returns the first n whitespace-separated fields of s and the
// remainder after them with surrounding whitespace removed. ok is false when
// s has fewer than n fields.
func cutFields(s string, n int) (fields []string, rest string, ok bool) {
	fields = make([]string, 0, n)
	rest = s
	for len(fields) < n {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		if rest == "" {
			return fields, "", false
		}
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			end = len(rest)
		}
		fields = append(fields, rest[:end])
		rest = rest[end:]
	}
	return fields, strings.TrimSpace(rest), true
}

func parseCoords(dst []Coord, fields []string) bool {
	for i, f := range fields {
		c, err := ParseCoord(f)
		if err != nil {
			return false
		}
		dst[i] = c
	}
	return true
}

// CameraFile is cameras.txt, kept as raw lines including terminators.
type CameraFile struct {
	Lines []string
}

// ParseCameras splits cameras.txt into lines without interpreting them.
func ParseCameras(data []byte) *CameraFile {
	f := &CameraFile{}
	for _, l := range splitLines(data) {
		f.Lines = append(f.Lines, l.body+l.eol)
	}
	return f
}

// Bytes renders the file.
func (f *CameraFile) Bytes() []byte {
	var b bytes.Buffer
	for _, l := range f.Lines {
		b.WriteString(l)
	}
	return b.Bytes()
}

// PointLine is one line of points3D.txt. Point is nil for comment, blank
// and malformed lines, which render as Text.
type PointLine struct {
	Text      string
	EOL       string
	Point     *Point3D
	Malformed bool
}

// PointFile is points3D.txt.
type PointFile struct {
	Lines []PointLine
}

// ParsePoints parses points3D.txt. It never fails: lines that cannot be
// parsed are kept verbatim and flagged Malformed.
func ParsePoints(data []byte) *PointFile {
	f := &PointFile{}
	for _, l := range splitLines(data) {
		pl := PointLine{Text: l.body, EOL: l.eol}
		if !isCommentOrBlank(l.body) {
			if p, ok := parsePoint(l.body); ok {
				pl.Point = p
			} else {
				pl.Malformed = true
				tracef("points3D.txt: passing through malformed line %q", l.body)
			}
		}
		f.Lines = append(f.Lines, pl)
	}
	return f
}

func parsePoint(body string) (*Point3D, bool) {
	fields, rest, ok := cutFields(body, minPointFields)
	if !ok {
		return nil, false
	}
	p := &Point3D{ID: fields[0], Trailing: rest}
	if !parseCoords(p.Position[:], fields[1:4]) {
		return nil, false
	}
	return p, true
}

// Stats reports the number of parsed and malformed data lines.
func (f *PointFile) Stats() Stats {
	var s Stats
	for _, l := range f.Lines {
		switch {
		case l.Point != nil:
			s.Records++
		case l.Malformed:
			s.Malformed++
		}
	}
	return s
}

// Bytes renders the file.
func (f *PointFile) Bytes() []byte {
	var b bytes.Buffer
	for _, l := range f.Lines {
		if l.Point != nil {
			b.WriteString(l.Point.String())
		} else {
			b.WriteString(l.Text)
		}
		b.WriteString(l.EOL)
	}
	return b.Bytes()
}

// ImageLineKind classifies a line of images.txt.
type ImageLineKind int

const (
	// ImageHeader is a line before the data region.
	ImageHeader ImageLineKind = iota
	// ImageComment is a comment line inside the data region. It does not
	// take part in pose/observation alternation.
	ImageComment
	// ImagePoseLine is an even line of the data region.
	ImagePoseLine
	// ImageObservations is an odd line of the data region (POINTS2D).
	ImageObservations
)

func (k ImageLineKind) String() string {
	switch k {
	case ImageHeader:
		return "header"
	case ImageComment:
		return "comment"
	case ImagePoseLine:
		return "pose"
	case ImageObservations:
		return "observations"
	default:
		return "unknown"
	}
}

// ImageLine is one line of images.txt. Pose is set only for well-formed
// pose lines; everything else renders as Text.
type ImageLine struct {
	Text      string
	EOL       string
	Kind      ImageLineKind
	Pose      *ImagePose
	Malformed bool
}

// ImageFile is images.txt.
type ImageFile struct {
	Lines []ImageLine
}

// ParseImages parses images.txt. The header ends at the "# Number of
// images:" comment when present, otherwise at the first data line. From the
// first data line on, lines alternate pose / observations; a blank line
// counts as an empty observation list.
func ParseImages(data []byte) *ImageFile {
	lines := splitLines(data)

	headerEnd := 0
	for i, l := range lines {
		if strings.HasPrefix(l.body, ImagesHeaderTerminator) {
			headerEnd = i + 1
			break
		}
	}
	for headerEnd < len(lines) && isCommentOrBlank(lines[headerEnd].body) {
		headerEnd++
	}

	f := &ImageFile{Lines: make([]ImageLine, 0, len(lines))}
	slot := 0
	for i, l := range lines {
		il := ImageLine{Text: l.body, EOL: l.eol}
		switch {
		case i < headerEnd:
			il.Kind = ImageHeader
		case strings.HasPrefix(l.body, CommentMarker):
			il.Kind = ImageComment
		case slot%2 == 0:
			il.Kind = ImagePoseLine
			if p, ok := parsePose(l.body); ok {
				il.Pose = p
			} else {
				il.Malformed = true
				tracef("images.txt: passing through malformed pose line %q", l.body)
			}
			slot++
		default:
			il.Kind = ImageObservations
			slot++
		}
		f.Lines = append(f.Lines, il)
	}
	return f
}

func parsePose(body string) (*ImagePose, bool) {
	fields, rest, ok := cutFields(body, minPoseFields)
	if !ok {
		return nil, false
	}
	p := &ImagePose{ID: fields[0], CameraID: fields[8]}
	if !parseCoords(p.Rotation[:], fields[1:5]) || !parseCoords(p.Translation[:], fields[5:8]) {
		return nil, false
	}
	p.Trailing = fields[9]
	if rest != "" {
		p.Trailing += " " + rest
	}
	return p, true
}

// Stats reports the number of parsed and malformed pose lines.
func (f *ImageFile) Stats() Stats {
	var s Stats
	for _, l := range f.Lines {
		switch {
		case l.Pose != nil:
			s.Records++
		case l.Malformed:
			s.Malformed++
		}
	}
	return s
}

// Bytes renders the file.
func (f *ImageFile) Bytes() []byte {
	var b bytes.Buffer
	for _, l := range f.Lines {
		if l.Pose != nil {
			b.WriteString(l.Pose.String())
		} else {
			b.WriteString(l.Text)
		}
		b.WriteString(l.EOL)
	}
	return b.Bytes()
}
