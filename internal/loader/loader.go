// Package loader turns files on disk into documents ready for the store.
package loader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/kalambet/edgevec/internal/retrieval"
)

// maxFileSize caps how much of a text or HTML file is read.
const maxFileSize = 10 << 20 // 10MB

// LoadFile reads path and extracts its text by extension: .pdf, .html and
// .htm are parsed, everything else is read as UTF-8 text. The document
// carries "source" (the path) and "title" metadata.
func LoadFile(path string) (retrieval.Document, error) {
	var (
		text  string
		title string
		err   error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = readPDF(path)
	case ".html", ".htm":
		text, title, err = readHTML(path)
	default:
		text, err = readText(path)
	}
	if err != nil {
		return retrieval.Document{}, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return retrieval.Document{}, fmt.Errorf("%s: no text content", path)
	}
	if title == "" {
		title = filepath.Base(path)
	}
	return retrieval.Document{
		Content:  text,
		Metadata: map[string]any{"source": path, "title": title},
	}, nil
}

// LoadFiles loads every path, stopping at the first failure.
func LoadFiles(paths []string) ([]retrieval.Document, error) {
	docs := make([]retrieval.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("%s: file exceeds %d bytes", path, maxFileSize)
	}
	return data, nil
}

func readText(path string) (string, error) {
	data, err := readLimited(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s: not valid UTF-8 text", path)
	}
	return string(data), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading text from %s: %w", path, err)
	}
	return buf.String(), nil
}

func readHTML(path string) (text, title string, err error) {
	data, err := readLimited(path)
	if err != nil {
		return "", "", err
	}
	text, title, err = ExtractHTML(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("parsing html %s: %w", path, err)
	}
	return text, title, nil
}

// ExtractHTML returns the visible text of an HTML document, one block per
// line, and the contents of its <title> element. Script, style and
// noscript elements are skipped.
func ExtractHTML(r io.Reader) (text, title string, err error) {
	root, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				lines = append(lines, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return strings.Join(lines, "\n"), title, nil
}
