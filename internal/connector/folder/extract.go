package folder

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/finchsearch/finch/internal/document"
)

// A file whose extracted text trims below this length carries no signal and
// is skipped.
const minFileContentChars = 10

// Extractor converts one binary document format into plain text.
type Extractor interface {
	Extract(path string) (string, error)
}

// Extractors holds the pluggable binary-format extractors. A nil slot means
// the format is configured but cannot be processed on this deployment.
type Extractors struct {
	PDF  Extractor
	DOCX Extractor
}

var (
	mdCodeFence   = regexp.MustCompile("(?s)```.*?```")
	mdInlineCode  = regexp.MustCompile("`([^`]*)`")
	mdImage       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink        = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdHeading     = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasis    = regexp.MustCompile(`(\*{1,3}|_{1,3}|~~)([^*_~]+?)(\*{1,3}|_{1,3}|~~)`)
	mdBlockquote  = regexp.MustCompile(`(?m)^>\s?`)
	mdListMarker  = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	mdTableBorder = regexp.MustCompile(`(?m)^\|?[\s:|-]+\|[\s:|-]*$`)

	wsRun = regexp.MustCompile(`\s+`)
)

// ExtractFile reads the file and converts it to plain text by extension.
func ExtractFile(path, ext string, ex Extractors) (string, document.ContentType, error) {
	switch ext {
	case ".txt":
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", "", fmt.Errorf("read %s: %w", path, err)
		}
		return string(raw), document.ContentText, nil
	case ".md":
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", "", fmt.Errorf("read %s: %w", path, err)
		}
		return stripMarkdown(string(raw)), document.ContentMarkdown, nil
	case ".html", ".htm":
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", "", fmt.Errorf("read %s: %w", path, err)
		}
		text, err := htmlToText(raw)
		if err != nil {
			return "", "", fmt.Errorf("parse %s: %w", path, err)
		}
		return text, document.ContentHTML, nil
	case ".pdf":
		if ex.PDF == nil {
			return "", "", fmt.Errorf("pdf extractor not available")
		}
		text, err := ex.PDF.Extract(path)
		if err != nil {
			return "", "", fmt.Errorf("extract pdf %s: %w", path, err)
		}
		return text, document.ContentPDF, nil
	case ".docx":
		if ex.DOCX == nil {
			return "", "", fmt.Errorf("docx extractor not available")
		}
		text, err := ex.DOCX.Extract(path)
		if err != nil {
			return "", "", fmt.Errorf("extract docx %s: %w", path, err)
		}
		return text, document.ContentDOCX, nil
	default:
		return "", "", fmt.Errorf("unsupported file type %q", ext)
	}
}

// stripMarkdown reduces markdown markup to its readable text, keeping link
// and emphasis labels.
func stripMarkdown(src string) string {
	out := mdCodeFence.ReplaceAllString(src, " ")
	out = mdImage.ReplaceAllString(out, "$1")
	out = mdLink.ReplaceAllString(out, "$1")
	out = mdInlineCode.ReplaceAllString(out, "$1")
	out = mdHeading.ReplaceAllString(out, "")
	out = mdEmphasis.ReplaceAllString(out, "$2")
	out = mdBlockquote.ReplaceAllString(out, "")
	out = mdListMarker.ReplaceAllString(out, "")
	out = mdTableBorder.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "|", " ")
	return strings.TrimSpace(out)
}

func htmlToText(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	doc.Find("script,style,noscript").Remove()
	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}
	return strings.TrimSpace(wsRun.ReplaceAllString(text, " ")), nil
}

// ExternalID derives the stable document identifier for a file. The encoding
// is reversible so a watch event can address a previously indexed path.
func ExternalID(absPath string) string {
	return "file-" + base64.RawURLEncoding.EncodeToString([]byte(absPath))
}

// PathFromExternalID inverts ExternalID.
func PathFromExternalID(id string) (string, error) {
	encoded, ok := strings.CutPrefix(id, "file-")
	if !ok {
		return "", fmt.Errorf("external id %q is not a file id", id)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode external id %q: %w", id, err)
	}
	return string(raw), nil
}
