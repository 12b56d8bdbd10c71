package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadFile_Text(t *testing.T) {
	path := writeFile(t, "notes.md", "  # Notes\n\nhello world\n")

	doc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if doc.Content != "# Notes\n\nhello world" {
		t.Errorf("Content = %q", doc.Content)
	}
	if doc.Metadata["source"] != path || doc.Metadata["title"] != "notes.md" {
		t.Errorf("Metadata = %v", doc.Metadata)
	}
}

func TestLoadFile_HTML(t *testing.T) {
	path := writeFile(t, "page.HTML", `<!doctype html>
<html><head><title> Edge SQL </title><style>body { color: red }</style></head>
<body>
  <h1>Vectors</h1>
  <p>Stored   as <b>F32</b> blobs.</p>
  <script>var secret = 1;</script>
</body></html>`)

	doc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if doc.Metadata["title"] != "Edge SQL" {
		t.Errorf("title = %v", doc.Metadata["title"])
	}
	for _, unwanted := range []string{"secret", "color", "Edge SQL"} {
		if strings.Contains(doc.Content, unwanted) {
			t.Errorf("content contains %q: %q", unwanted, doc.Content)
		}
	}
	if doc.Content != "Vectors\nStored as\nF32\nblobs." {
		t.Errorf("Content = %q", doc.Content)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadFile(writeFile(t, "blank.txt", " \n\t ")); err == nil {
		t.Error("expected error for empty content")
	}
	if _, err := LoadFile(writeFile(t, "bin.txt", "\xff\xfe\x00")); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
	if _, err := LoadFile(writeFile(t, "broken.pdf", "not a pdf")); err == nil {
		t.Error("expected error for malformed pdf")
	}
}

func TestLoadFiles_StopsAtFirstError(t *testing.T) {
	ok := writeFile(t, "a.txt", "alpha")
	docs, err := LoadFiles([]string{ok, filepath.Join(t.TempDir(), "nope.txt")})
	if err == nil {
		t.Fatalf("expected error, got %d docs", len(docs))
	}

	docs, err = LoadFiles([]string{ok})
	if err != nil || len(docs) != 1 || docs[0].Content != "alpha" {
		t.Errorf("LoadFiles = %v, %v", docs, err)
	}
}
