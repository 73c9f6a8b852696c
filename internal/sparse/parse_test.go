package sparse

import (
	"math"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const imagesFixture = `# Image list with two lines of data per image:
#   IMAGE_ID, QW, QX, QY, QZ, TX, TY, TZ, CAMERA_ID, NAME
#   POINTS2D[] as (X, Y, POINT3D_ID)
# Number of images: 2, mean observations per image: 1.5
1 0.9 0.1 0.2 0.3 1.5 2.5 3.5 1 a.jpg
10.0 20.0 7 30.0 40.0 -1
2 1 0 0 0 0 1 2 1 b.jpg

`

func TestSplitLines_PreservesTerminators(t *testing.T) {
	got := splitLines([]byte("a\nb\r\nc"))
	want := []line{{"a", "\n"}, {"b", "\r\n"}, {"c", ""}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(line{})); diff != "" {
		t.Errorf("splitLines mismatch (-want +got):\n%s", diff)
	}
	if len(splitLines(nil)) != 0 {
		t.Error("expected no lines for empty input")
	}
}

func TestCutFields(t *testing.T) {
	tests := []struct {
		in       string
		n        int
		fields   []string
		rest     string
		complete bool
	}{
		{"7 1.0 2.0 3.0 10 20 30", 4, []string{"7", "1.0", "2.0", "3.0"}, "10 20 30", true},
		{"  7\t1  2 3  ", 4, []string{"7", "1", "2", "3"}, "", true},
		{"7 1.0", 4, []string{"7", "1.0"}, "", false},
		{"", 1, []string{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			fields, rest, ok := cutFields(tt.in, tt.n)
			if ok != tt.complete {
				t.Fatalf("ok = %v, want %v", ok, tt.complete)
			}
			if diff := cmp.Diff(tt.fields, fields); diff != "" {
				t.Errorf("fields mismatch (-want +got):\n%s", diff)
			}
			if rest != tt.rest {
				t.Errorf("rest = %q, want %q", rest, tt.rest)
			}
		})
	}
}

func TestParsePoints_RoundTrip(t *testing.T) {
	in := "# 3D point list\n\n7 1.0 2.0 3.0 10 20 30 0.5 4 0 5 1\n8 -1e-07 2.5 1234567.125 1 2 3 0.1\n"
	f := ParsePoints([]byte(in))

	if got := string(f.Bytes()); got != in {
		t.Errorf("round trip changed content:\n got %q\nwant %q", got, in)
	}
	if st := f.Stats(); st.Records != 2 || st.Malformed != 0 {
		t.Errorf("stats = %+v, want 2 records", st)
	}

	p := f.Lines[2].Point
	if p == nil {
		t.Fatal("expected data line to parse")
	}
	if p.ID != "7" || p.Trailing != "10 20 30 0.5 4 0 5 1" {
		t.Errorf("unexpected point: %+v", p)
	}
	if v := p.Vec(); v.X != 1 || v.Y != 2 || v.Z != 3 {
		t.Errorf("Vec = %v", v)
	}
}

func TestParsePoints_Malformed(t *testing.T) {
	tests := []string{
		"7 1.0",
		"7 1.0 abc 3.0 0 0 0",
		"7",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			f := ParsePoints([]byte(in + "\n"))
			if f.Lines[0].Point != nil || !f.Lines[0].Malformed {
				t.Fatalf("expected malformed line, got %+v", f.Lines[0])
			}
			if got := string(f.Bytes()); got != in+"\n" {
				t.Errorf("malformed line altered: %q", got)
			}
			if st := f.Stats(); st.Malformed != 1 {
				t.Errorf("Malformed = %d, want 1", st.Malformed)
			}
		})
	}
}

func TestParseImages_Kinds(t *testing.T) {
	f := ParseImages([]byte(imagesFixture))

	var kinds []ImageLineKind
	for _, l := range f.Lines {
		kinds = append(kinds, l.Kind)
	}
	want := []ImageLineKind{
		ImageHeader, ImageHeader, ImageHeader, ImageHeader,
		ImagePoseLine, ImageObservations,
		ImagePoseLine, ImageObservations,
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}

	if got := string(f.Bytes()); got != imagesFixture {
		t.Errorf("round trip changed content:\n got %q\nwant %q", got, imagesFixture)
	}

	pose := f.Lines[4].Pose
	if pose == nil {
		t.Fatal("expected pose")
	}
	if pose.Name() != "a.jpg" || pose.CameraID != "1" {
		t.Errorf("unexpected pose: %+v", pose)
	}
	q := pose.Quat()
	if q.Real != 0.9 || q.Imag != 0.1 || q.Jmag != 0.2 || q.Kmag != 0.3 {
		t.Errorf("Quat = %v", q)
	}
	if v := pose.Vec(); v.X != 1.5 || v.Y != 2.5 || v.Z != 3.5 {
		t.Errorf("Vec = %v", v)
	}
}

func TestParseImages_WithoutTerminator(t *testing.T) {
	in := "# header\n\n1 1 0 0 0 0 1 2 1 img.jpg\n5.0 6.0 -1\n"
	f := ParseImages([]byte(in))

	if f.Lines[2].Kind != ImagePoseLine || f.Lines[2].Pose == nil {
		t.Errorf("expected pose at line 2, got %+v", f.Lines[2])
	}
	if f.Lines[3].Kind != ImageObservations {
		t.Errorf("expected observations at line 3, got %v", f.Lines[3].Kind)
	}
}

func TestParseImages_CommentInDataRegionKeepsParity(t *testing.T) {
	in := "# Number of images: 2\n1 1 0 0 0 0 0 0 1 a.jpg\n# stray\n1 2 3\n2 1 0 0 0 0 0 0 1 b.jpg\n4 5 6\n"
	f := ParseImages([]byte(in))

	want := []ImageLineKind{ImageHeader, ImagePoseLine, ImageComment, ImageObservations, ImagePoseLine, ImageObservations}
	for i, l := range f.Lines {
		if l.Kind != want[i] {
			t.Errorf("line %d kind = %v, want %v", i, l.Kind, want[i])
		}
	}
}

func TestParseImages_ShortPoseIsMalformed(t *testing.T) {
	in := "# Number of images: 1\n1 1 0 0 0\n1 2 3\n"
	f := ParseImages([]byte(in))

	if !f.Lines[1].Malformed || f.Lines[1].Pose != nil {
		t.Errorf("expected malformed pose, got %+v", f.Lines[1])
	}
	if st := f.Stats(); st.Malformed != 1 || st.Records != 0 {
		t.Errorf("stats = %+v", st)
	}
	if got := string(f.Bytes()); got != in {
		t.Errorf("content changed: %q", got)
	}
}

func TestParseImages_NameWithTrailingFields(t *testing.T) {
	f := ParseImages([]byte("1 1 0 0 0 0 0 0 1 my image.jpg\n\n"))
	pose := f.Lines[0].Pose
	if pose == nil {
		t.Fatal("expected pose")
	}
	if pose.Trailing != "my image.jpg" || pose.Name() != "my" {
		t.Errorf("Trailing = %q Name = %q", pose.Trailing, pose.Name())
	}
}

func TestParseCameras_Verbatim(t *testing.T) {
	in := "# Camera list\n1 PINHOLE 640 480 500 500 320 240\r\n\n2 SIMPLE_RADIAL  800 600 700 400 300 0.01"
	f := ParseCameras([]byte(in))
	if len(f.Lines) != 4 {
		t.Fatalf("lines = %d, want 4", len(f.Lines))
	}
	if got := string(f.Bytes()); got != in {
		t.Errorf("camera file changed: %q", got)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0"},
		{1, "1.0"},
		{-2.5, "-2.5"},
		{0.1, "0.1"},
		{1e-5, "1e-05"},
		{1e20, "1e+20"},
		{123456.789, "123456.789"},
	}
	for _, tt := range tests {
		if got := FormatFloat(tt.in); got != tt.want {
			t.Errorf("FormatFloat(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCoord_RoundTripsExactly(t *testing.T) {
	values := []float64{0.1, 1.0 / 3.0, -123.456789012345678, 6.02214076e23, 5e-324, math.MaxFloat64}
	for _, v := range values {
		c := NewCoord(v)
		back, err := strconv.ParseFloat(c.String(), 64)
		if err != nil {
			t.Fatalf("ParseFloat(%q): %v", c.String(), err)
		}
		if back != v {
			t.Errorf("%v formatted as %q parsed back as %v", v, c.String(), back)
		}
	}

	c, err := ParseCoord("1.50000")
	if err != nil {
		t.Fatal(err)
	}
	if c.String() != "1.50000" || c.Float() != 1.5 {
		t.Errorf("ParseCoord kept %q / %v", c.String(), c.Float())
	}
	if _, err := ParseCoord("x"); err == nil {
		t.Error("expected parse error")
	}
}
