package docx

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
)

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestExtractText(t *testing.T) {
	data := buildDocx(t,
		`<w:p><w:r><w:t>1. What is H</w:t></w:r><w:r><w:t>2O?</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>A.</w:t><w:tab/><w:t>Water*</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>B. Salt</w:t><w:br/><w:t>C. Sand</w:t></w:r></w:p>`)

	got, err := ExtractText(data)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	want := "1. What is H2O?\nA. Water*\nB. Salt\nC. Sand\n"
	if got != want {
		t.Errorf("ExtractText() = %q, want %q", got, want)
	}
}

func TestExtractTextRejectsNonDocx(t *testing.T) {
	if _, err := ExtractText([]byte("plain text")); !errors.Is(err, ErrNotDocx) {
		t.Errorf("expected ErrNotDocx, got %v", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, _ = zw.Create("other.txt")
	_ = zw.Close()
	if _, err := ExtractText(buf.Bytes()); !errors.Is(err, ErrNotDocx) {
		t.Errorf("expected ErrNotDocx for zip without document part, got %v", err)
	}
}
