package publish

import "testing"

func TestNewItem(t *testing.T) {
	it := NewItem("Holinshed Ireland", "Holinshed page", 7, "/books/SCETI_x/0007.png")
	if it.Name != "Holinshed Ireland - 0007.png" {
		t.Fatalf("unexpected name %q", it.Name)
	}
	if it.Description != "{{Holinshed page|0007}}" {
		t.Fatalf("unexpected description %q", it.Description)
	}
	if it.ContentType != "image/png" {
		t.Fatalf("unexpected content type %q", it.ContentType)
	}
	if got := NewItem("p", "t", 1, "/x/0001.UNKNOWN").ContentType; got != "application/octet-stream" {
		t.Fatalf("unexpected fallback content type %q", got)
	}
}
