package djvu

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/wudi/pagegrab/assembler"
	"github.com/wudi/pagegrab/toolexec"
)

// fakeTools records invocations and writes the files the real tools would.
type fakeTools struct {
	calls [][]string
	fail  map[string]bool
	texts []string
}

func (f *fakeTools) Run(_ context.Context, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail[name] {
		return errors.New(name + " failed")
	}
	switch name {
	case "c44", "cjb2":
		return os.WriteFile(args[len(args)-1], []byte("AT&TFORM"), 0o644)
	case "djvm":
		return os.WriteFile(args[1], []byte("AT&TFORM"), 0o644)
	case "djvused":
		if strings.Contains(args[2], "set-txt") {
			tmp := strings.Fields(args[2])[3]
			data, err := os.ReadFile(tmp)
			if err != nil {
				return err
			}
			f.texts = append(f.texts, string(data))
		}
	}
	return nil
}

func (f *fakeTools) names() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c[0])
	}
	return out
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 3, 3))
	img.SetGray(1, 1, color.Gray{Y: 0})
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestConvertJPEGGoesStraightToC44(t *testing.T) {
	dir := t.TempDir()
	tools := &fakeTools{}
	a := New(tools, nil)
	img := filepath.Join(dir, "0001.jpg")
	out := filepath.Join(dir, "TEMP-DJVU-PAGE.djvu")
	if err := a.ConvertPage(context.Background(), img, out, assembler.PageOptions{Quality: 40}); err != nil {
		t.Fatalf("ConvertPage() error = %v", err)
	}
	want := [][]string{{"c44", "-decibel", "40", img, out}}
	if !reflect.DeepEqual(tools.calls, want) {
		t.Fatalf("calls = %v, want %v", tools.calls, want)
	}
}

func TestConvertForcedJPEGUsesIntermediateRaster(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "0001.jpg")
	f, err := os.Create(img)
	if err != nil {
		t.Fatal(err)
	}
	if err := jpeg.Encode(f, image.NewGray(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatal(err)
	}
	f.Close()

	tools := &fakeTools{}
	out := filepath.Join(dir, "TEMP-DJVU-PAGE.djvu")
	opts := assembler.PageOptions{Quality: 30, ForceConvert: true}
	if err := New(tools, nil).ConvertPage(context.Background(), img, out, opts); err != nil {
		t.Fatalf("ConvertPage() error = %v", err)
	}
	temp := filepath.Join(dir, tempImageBase+".ppm")
	want := [][]string{{"c44", "-decibel", "30", temp, out}}
	if !reflect.DeepEqual(tools.calls, want) {
		t.Fatalf("calls = %v, want %v", tools.calls, want)
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Fatalf("intermediate raster should be removed")
	}
}

func TestConvertBitonalTIFFGoesStraightToCJB2(t *testing.T) {
	dir := t.TempDir()
	tools := &fakeTools{}
	img := filepath.Join(dir, "0001.tif")
	out := filepath.Join(dir, "page.djvu")
	if err := New(tools, nil).ConvertPage(context.Background(), img, out, assembler.PageOptions{Bitonal: true}); err != nil {
		t.Fatalf("ConvertPage() error = %v", err)
	}
	if !reflect.DeepEqual(tools.calls, [][]string{{"cjb2", img, out}}) {
		t.Fatalf("unexpected calls %v", tools.calls)
	}
}

func TestConvertPNGUsesIntermediateRaster(t *testing.T) {
	for _, bitonal := range []bool{false, true} {
		dir := t.TempDir()
		img := filepath.Join(dir, "0002.png")
		writePNG(t, img)
		tools := &fakeTools{}
		out := filepath.Join(dir, "page.djvu")
		if err := New(tools, nil).ConvertPage(context.Background(), img, out, assembler.PageOptions{Bitonal: bitonal}); err != nil {
			t.Fatalf("ConvertPage(bitonal=%v) error = %v", bitonal, err)
		}
		if len(tools.calls) != 1 {
			t.Fatalf("expected one encoder call, got %v", tools.calls)
		}
		in := tools.calls[0][len(tools.calls[0])-2]
		wantExt := ".ppm"
		if bitonal {
			wantExt = ".pbm"
		}
		if filepath.Ext(in) != wantExt || !strings.HasPrefix(filepath.Base(in), tempImageBase) {
			t.Fatalf("unexpected encoder input %s", in)
		}
		if _, err := os.Stat(in); !os.IsNotExist(err) {
			t.Fatalf("intermediate %s should be removed", in)
		}
		if tools.calls[0][0] == "c44" && tools.calls[0][2] != "48" {
			t.Fatalf("default quality not applied: %v", tools.calls[0])
		}
	}
}

func TestConvertFailureReportsNoOutput(t *testing.T) {
	dir := t.TempDir()
	tools := &fakeTools{fail: map[string]bool{"c44": true}}
	err := New(tools, nil).ConvertPage(context.Background(), filepath.Join(dir, "1.jpg"), filepath.Join(dir, "p.djvu"), assembler.PageOptions{})
	if !errors.Is(err, assembler.ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}

func TestAppendCreatesThenInserts(t *testing.T) {
	dir := t.TempDir()
	tools := &fakeTools{}
	a := New(tools, nil)
	main := filepath.Join(dir, "book.djvu")
	page := filepath.Join(dir, "TEMP-DJVU-PAGE.djvu")
	for i := 0; i < 3; i++ {
		if err := a.AppendPage(context.Background(), page, main); err != nil {
			t.Fatalf("AppendPage() #%d error = %v", i+1, err)
		}
		if !assembler.Exists(main) {
			t.Fatalf("container should exist after append %d", i+1)
		}
	}
	want := [][]string{
		{"djvm", "-c", main, page},
		{"djvm", "-i", main, page},
		{"djvm", "-i", main, page},
	}
	if !reflect.DeepEqual(tools.calls, want) {
		t.Fatalf("calls = %v, want %v", tools.calls, want)
	}
}

func TestAttachText(t *testing.T) {
	dir := t.TempDir()
	tools := &fakeTools{}
	container := filepath.Join(dir, "TEMP-DJVU-PAGE.djvu")
	if err := New(tools, nil).AttachText(context.Background(), "hello \"world\"", container, 1); err != nil {
		t.Fatalf("AttachText() error = %v", err)
	}
	if got := tools.names(); !reflect.DeepEqual(got, []string{"djvused", "djvused"}) {
		t.Fatalf("unexpected tools %v", got)
	}
	if tools.calls[0][3] != "select 1; remove-txt" || tools.calls[0][4] != "-s" {
		t.Fatalf("unexpected remove call %v", tools.calls[0])
	}
	if len(tools.texts) != 1 || tools.texts[0] != assembler.FormatText("hello \"world\"") {
		t.Fatalf("unexpected text layer %q", tools.texts)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "DJVU-FORMATTED-OCR-TEXT-TEMP-FILE-*"))
	if len(matches) != 0 {
		t.Fatalf("temporary text file left behind: %v", matches)
	}
}

var _ toolexec.Runner = (*fakeTools)(nil)
