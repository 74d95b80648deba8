package page

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/pagegrab/assembler"
	"github.com/wudi/pagegrab/fetch"
	"github.com/wudi/pagegrab/ocr"
	"github.com/wudi/pagegrab/publish"
	"github.com/wudi/pagegrab/raster"
	"github.com/wudi/pagegrab/source"
	"github.com/wudi/pagegrab/toolexec"
)

// fakeFetcher serves queued bodies per URL; the last body repeats.
type fakeFetcher struct {
	bodies map[string][][]byte
	calls  int
}

func (f *fakeFetcher) Get(_ context.Context, u string) ([]byte, error) {
	f.calls++
	q := f.bodies[u]
	if len(q) == 0 {
		return nil, &fetch.StatusError{URL: u, Code: 404}
	}
	b := q[0]
	if len(q) > 1 {
		f.bodies[u] = q[1:]
	}
	return b, nil
}

type fakeOCR struct {
	calls  int
	inputs []ocr.Input
	text   string
	err    error
}

func (f *fakeOCR) Name() string { return "fake" }

func (f *fakeOCR) Recognize(_ context.Context, in ocr.Input) (ocr.Result, error) {
	f.calls++
	f.inputs = append(f.inputs, in)
	if _, err := os.Stat(in.Path); err != nil {
		return ocr.Result{}, fmt.Errorf("input missing during recognition: %w", err)
	}
	return ocr.Result{PlainText: f.text}, f.err
}

const imageURL = "http://images.example/doc/%d.jpg"
const textURL = "http://images.example/doc/%d.txt"

func testDefinition(withText bool) source.Definition {
	d := source.Definition{
		Key:     "TEST",
		BookURL: func(id string) (string, error) { return "http://images.example/" + id, nil },
		ImageURL: func(id string, n int) (string, error) {
			return fmt.Sprintf(imageURL, n), nil
		},
	}
	if withText {
		d.TextURL = func(id string, n int) (string, error) { return fmt.Sprintf(textURL, n), nil }
		d.TextIsDirect = true
	}
	return d
}

func newEnv(t *testing.T, withText bool, f *fakeFetcher) (*Env, *fakeOCR) {
	t.Helper()
	src, err := source.New(testDefinition(withText), "doc", f, nil)
	if err != nil {
		t.Fatal(err)
	}
	engine := &fakeOCR{text: "recognized"}
	return &Env{
		Dir:       t.TempDir(),
		Source:    src,
		OCR:       engine,
		Raster:    &raster.Converter{},
		Languages: []string{"eng"},
		Prefix:    "Book",
		Template:  "Book page",
	}, engine
}

func jpegBody(n int) []byte {
	b := bytes.Repeat([]byte{0x00}, n)
	b[0], b[1], b[n-2], b[n-1] = 0xFF, 0xD8, 0xFF, 0xD9
	return b
}

func TestFetchImageCorruptBoundary(t *testing.T) {
	u := fmt.Sprintf(imageURL, 1)
	f := &fakeFetcher{bodies: map[string][][]byte{u: {jpegBody(1000)}}}
	env, _ := newEnv(t, false, f)
	r := New(1, env)
	if ok, err := r.LocateImage(context.Background()); !ok || err != nil {
		t.Fatalf("LocateImage() = %v, %v", ok, err)
	}
	data, err := r.FetchImage(context.Background(), DefaultDownloadPolicy)
	if err != nil || data != nil {
		t.Fatalf("1000 byte body must be rejected, got %d bytes, %v", len(data), err)
	}
	if f.calls != 10 || !r.Failed {
		t.Fatalf("expected 10 attempts and a failed page, got %d calls failed=%v", f.calls, r.Failed)
	}

	f2 := &fakeFetcher{bodies: map[string][][]byte{u: {jpegBody(1001)}}}
	env2, _ := newEnv(t, false, f2)
	r2 := New(1, env2)
	r2.LocateImage(context.Background())
	data, err = r2.FetchImage(context.Background(), DefaultDownloadPolicy)
	if err != nil || len(data) != 1001 {
		t.Fatalf("1001 byte body must be accepted, got %d bytes, %v", len(data), err)
	}
	if f2.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", f2.calls)
	}
}

func TestFetchImageRetriesUntilAcceptable(t *testing.T) {
	u := fmt.Sprintf(imageURL, 2)
	f := &fakeFetcher{bodies: map[string][][]byte{u: {[]byte("oops"), jpegBody(900), jpegBody(4096)}}}
	env, _ := newEnv(t, false, f)
	r := New(2, env)
	r.LocateImage(context.Background())
	data, err := r.FetchImage(context.Background(), DefaultDownloadPolicy)
	if err != nil || len(data) != 4096 || f.calls != 3 {
		t.Fatalf("FetchImage() = %d bytes, %v after %d calls", len(data), err, f.calls)
	}
}

func TestFetchImageStopsOnCancel(t *testing.T) {
	u := fmt.Sprintf(imageURL, 3)
	f := &fakeFetcher{bodies: map[string][][]byte{u: {jpegBody(10)}}}
	env, _ := newEnv(t, false, f)
	r := New(3, env)
	r.LocateImage(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.FetchImage(ctx, DefaultDownloadPolicy); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.calls != 0 {
		t.Fatalf("no attempt should start after cancellation, got %d", f.calls)
	}
}

func TestPersistImageUsesMagicNumber(t *testing.T) {
	env, _ := newEnv(t, false, &fakeFetcher{})
	r := New(3, env)
	png := append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 2000)...)
	if err := r.PersistImage(png); err != nil {
		t.Fatalf("PersistImage() error = %v", err)
	}
	if want := filepath.Join(env.Dir, "0003.png"); r.LocalPath != want || r.Ext != ".png" {
		t.Fatalf("unexpected path %s (%s)", r.LocalPath, r.Ext)
	}
	if r.State != Saved || r.Status != "Saved image file to local file system." {
		t.Fatalf("unexpected state %v %q", r.State, r.Status)
	}

	r4 := New(4, env)
	if err := r4.PersistImage(bytes.Repeat([]byte{7}, 2000)); err != nil {
		t.Fatalf("PersistImage() error = %v", err)
	}
	if filepath.Base(r4.LocalPath) != "0004.UNKNOWN" {
		t.Fatalf("unknown formats keep a marker extension, got %s", r4.LocalPath)
	}
	if _, err := os.Stat(filepath.Join(env.Dir, "0004")); !os.IsNotExist(err) {
		t.Fatalf("raw file should have been renamed")
	}
}

func TestObtainTextPrefersCache(t *testing.T) {
	f := &fakeFetcher{bodies: map[string][][]byte{fmt.Sprintf(textURL, 5): {[]byte("from network")}}}
	env, engine := newEnv(t, true, f)
	env.FallbackOCR = true
	cached := "  cached text\nkept verbatim  "
	if err := os.WriteFile(TextCachePath(env.Dir, 5), []byte(cached), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(5, env)
	if err := r.ObtainText(context.Background(), true, true); err != nil {
		t.Fatalf("ObtainText() error = %v", err)
	}
	if r.Text != cached {
		t.Fatalf("cached text must be returned verbatim, got %q", r.Text)
	}
	if f.calls != 0 || engine.calls != 0 {
		t.Fatalf("cache hit must not fetch (%d) or recognize (%d)", f.calls, engine.calls)
	}
	if !strings.HasPrefix(r.Status, "OCR text already exists") {
		t.Fatalf("unexpected status %q", r.Status)
	}
}

func TestObtainTextFromSourceWritesCache(t *testing.T) {
	f := &fakeFetcher{bodies: map[string][][]byte{fmt.Sprintf(textURL, 6): {[]byte(" source text \n")}}}
	env, engine := newEnv(t, true, f)
	r := New(6, env)
	if err := r.ObtainText(context.Background(), true, false); err != nil {
		t.Fatalf("ObtainText() error = %v", err)
	}
	if r.Text != "source text" || engine.calls != 0 {
		t.Fatalf("unexpected text %q (ocr calls %d)", r.Text, engine.calls)
	}
	data, err := os.ReadFile(TextCachePath(env.Dir, 6))
	if err != nil || string(data) != "source text" {
		t.Fatalf("cache not written: %q, %v", data, err)
	}
	if r.Status != "OCR text completed (Retrieved from source: ~11 chars)." {
		t.Fatalf("unexpected status %q", r.Status)
	}
}

func TestObtainTextWithoutFallback(t *testing.T) {
	env, engine := newEnv(t, false, &fakeFetcher{})
	r := New(7, env)
	if err := r.ObtainText(context.Background(), false, false); err != nil {
		t.Fatalf("ObtainText() error = %v", err)
	}
	if r.HasText || engine.calls != 0 || r.Status != "Not OCR'd." {
		t.Fatalf("unexpected result: text=%v calls=%d status=%q", r.HasText, engine.calls, r.Status)
	}
	if _, err := os.Stat(TextCachePath(env.Dir, 7)); !os.IsNotExist(err) {
		t.Fatalf("no cache should be written")
	}
}

func TestObtainTextForceLocalSkipsSource(t *testing.T) {
	f := &fakeFetcher{bodies: map[string][][]byte{fmt.Sprintf(textURL, 8): {[]byte("network")}}}
	env, engine := newEnv(t, true, f)
	r := New(8, env)
	img := filepath.Join(env.Dir, "0008.jpg")
	os.WriteFile(img, jpegBody(2000), 0o644)
	if err := r.AdoptLocalFile(img); err != nil {
		t.Fatal(err)
	}
	if err := r.ObtainText(context.Background(), false, true); err != nil {
		t.Fatalf("ObtainText() error = %v", err)
	}
	if f.calls != 0 || engine.calls != 1 || r.Text != "recognized" {
		t.Fatalf("fetch calls %d, ocr calls %d, text %q", f.calls, engine.calls, r.Text)
	}
	if r.TextMethod != "OCR'd with fake" {
		t.Fatalf("unexpected method %q", r.TextMethod)
	}
}

func TestRecognizeLocallyConvertsAndCleans(t *testing.T) {
	env, engine := newEnv(t, false, &fakeFetcher{})
	var cleanCalls [][]string
	env.Runner = toolexec.RunnerFunc(func(_ context.Context, name string, args ...string) error {
		cleanCalls = append(cleanCalls, append([]string{name}, args...))
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return os.WriteFile(args[1], data, 0o644)
	})
	p, err := toolexec.ParsePipeline("cp %fin %fout")
	if err != nil {
		t.Fatal(err)
	}
	env.Clean, env.CleanText = p, true

	img := filepath.Join(env.Dir, "0009.gif")
	f, _ := os.Create(img)
	if err := gif.Encode(f, image.NewGray(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatal(err)
	}
	f.Close()

	r := New(9, env)
	if err := r.AdoptLocalFile(img); err != nil {
		t.Fatal(err)
	}
	text, err := r.RecognizeLocally(context.Background())
	if err != nil {
		t.Fatalf("RecognizeLocally() error = %v", err)
	}
	if text != "recognized" {
		t.Fatalf("unexpected text %q", text)
	}
	tiff := filepath.Join(env.Dir, "TESSERACT-OCR-TIFF-TEMP-FILE-9.tiff")
	cleaned := filepath.Join(env.Dir, "TESSERACT-OCR-TIFF-TEMP-FILE-9.cleaned.tiff")
	if len(cleanCalls) != 1 || cleanCalls[0][1] != tiff || cleanCalls[0][2] != cleaned {
		t.Fatalf("unexpected cleaning commands %v", cleanCalls)
	}
	if got := engine.inputs[0]; got.Path != cleaned || got.Languages[0] != "eng" {
		t.Fatalf("unexpected ocr input %+v", got)
	}
	for _, p := range []string{tiff, cleaned} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed", p)
		}
	}
	if _, err := os.Stat(img); err != nil {
		t.Fatalf("page image must be kept: %v", err)
	}
}

type fakeAssembler struct {
	convertErr error
	appended   []string
	texts      []string
}

func (a *fakeAssembler) Ext() string { return ".djvu" }

func (a *fakeAssembler) ConvertPage(_ context.Context, image, pageFile string, _ assembler.PageOptions) error {
	if a.convertErr != nil {
		return a.convertErr
	}
	return os.WriteFile(pageFile, bytes.Repeat([]byte{1}, 3000), 0o644)
}

func (a *fakeAssembler) AppendPage(_ context.Context, pageFile, mainFile string) error {
	a.appended = append(a.appended, pageFile)
	f, err := os.OpenFile(mainFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	f.Write(bytes.Repeat([]byte{1}, 3000))
	return f.Close()
}

func (a *fakeAssembler) AttachText(_ context.Context, text, container string, page int) error {
	a.texts = append(a.texts, fmt.Sprintf("%d:%s", page, text))
	return nil
}

func TestConvertInjectAppend(t *testing.T) {
	env, _ := newEnv(t, false, &fakeFetcher{})
	asm := &fakeAssembler{}
	env.Assembler = asm
	r := New(10, env)
	r.AdoptLocalFile(writeFile(t, env.Dir, "0010.jpg"))
	r.HasText, r.Text = true, "words"

	pageFile := filepath.Join(env.Dir, "TEMP-DJVU-PAGE.djvu")
	main := filepath.Join(env.Dir, "Book.djvu")
	if ok, err := r.Convert(context.Background(), pageFile); !ok || err != nil {
		t.Fatalf("Convert() = %v, %v", ok, err)
	}
	if r.Status != "Page converted to DJVU. (2 kB)" {
		t.Fatalf("unexpected status %q", r.Status)
	}
	if ok, err := r.InjectText(context.Background(), pageFile, 1); !ok || err != nil {
		t.Fatalf("InjectText() = %v, %v", ok, err)
	}
	if ok, err := r.Append(context.Background(), pageFile, main); !ok || err != nil {
		t.Fatalf("Append() = %v, %v", ok, err)
	}
	if r.State != Appended || r.ContainerSize != 3000 {
		t.Fatalf("unexpected state %v size %d", r.State, r.ContainerSize)
	}
	if len(asm.texts) != 1 || asm.texts[0] != "1:words" {
		t.Fatalf("unexpected text injections %v", asm.texts)
	}
}

func TestConvertFailureIsPerPage(t *testing.T) {
	env, _ := newEnv(t, false, &fakeFetcher{})
	env.Assembler = &fakeAssembler{convertErr: assembler.ErrNoOutput}
	r := New(11, env)
	r.AdoptLocalFile(writeFile(t, env.Dir, "0011.jpg"))
	ok, err := r.Convert(context.Background(), filepath.Join(env.Dir, "p.djvu"))
	if ok || err != nil {
		t.Fatalf("Convert() = %v, %v", ok, err)
	}
	if !strings.HasPrefix(r.Status, "Page NOT converted to DJVU") {
		t.Fatalf("unexpected status %q", r.Status)
	}
}

type recordingPublisher struct {
	items []publish.Item
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, it publish.Item) error {
	p.items = append(p.items, it)
	return p.err
}

func TestPublish(t *testing.T) {
	env, _ := newEnv(t, false, &fakeFetcher{})
	pub := &recordingPublisher{}
	env.Publisher = pub
	r := New(12, env)
	r.AdoptLocalFile(writeFile(t, env.Dir, "0012.jpg"))
	if ok, err := r.Publish(context.Background()); !ok || err != nil {
		t.Fatalf("Publish() = %v, %v", ok, err)
	}
	if pub.items[0].Name != "Book - 0012.jpg" || pub.items[0].Description != "{{Book page|0012}}" {
		t.Fatalf("unexpected item %+v", pub.items[0])
	}
	pub.err = publish.ErrExists
	if ok, err := r.Publish(context.Background()); ok || err != nil {
		t.Fatalf("existing item: Publish() = %v, %v", ok, err)
	}
}

func TestDumpText(t *testing.T) {
	env, _ := newEnv(t, false, &fakeFetcher{})
	dump := filepath.Join(env.Dir, "OCR_DUMP.txt")
	for _, n := range []int{1, 2} {
		r := New(n, env)
		r.HasText, r.Text = true, fmt.Sprintf("text %d", n)
		if err := r.DumpText(dump); err != nil {
			t.Fatal(err)
		}
	}
	New(3, env).DumpText(dump)
	data, _ := os.ReadFile(dump)
	if want := "\n\n===Page 1===\n\ntext 1\n\n===Page 2===\n\ntext 2"; string(data) != want {
		t.Fatalf("dump = %q, want %q", data, want)
	}
}

func TestFindLocal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scan-0005-a.png")
	writeFile(t, dir, "0005.txt")
	if got, ok := FindLocal(dir, 5); !ok || filepath.Base(got) != "scan-0005-a.png" {
		t.Fatalf("FindLocal() = %q, %v", got, ok)
	}
	writeFile(t, dir, "0005.jpg")
	if got, _ := FindLocal(dir, 5); filepath.Base(got) != "0005.jpg" {
		t.Fatalf("exact name should win, got %q", got)
	}
	if _, ok := FindLocal(dir, 6); ok {
		t.Fatalf("page 6 should not be found")
	}
	if _, ok := FindLocal(filepath.Join(dir, "missing"), 5); ok {
		t.Fatalf("missing directory should find nothing")
	}
}

func TestSizeText(t *testing.T) {
	cases := []struct {
		n    int64
		unit string
		want string
	}{
		{0, "kB", "?"},
		{2048, "kB", "2 kB"},
		{5 << 20, "kB", "5120 kB"},
		{5 << 20, "MB", "5 MB"},
		{2048, "MB", "2 kB"},
		{12, "B", "12 B"},
	}
	for _, c := range cases {
		if got := SizeText(c.n, c.unit); got != c.want {
			t.Fatalf("SizeText(%d, %s) = %q, want %q", c.n, c.unit, got, c.want)
		}
	}
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, jpegBody(2000), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}
