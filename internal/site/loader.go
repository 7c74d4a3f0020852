package site

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/webmentions/internal/mention"
)

var (
	frontMatterDelim = []byte("---")
	datedName        = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})-(.+)$`)
)

// Loader walks a site source directory and parses its documents.
type Loader struct {
	root     string
	markdown goldmark.Markdown
	logger   *zap.Logger
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string, logger *zap.Logger) (*Loader, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("site source directory is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat site source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("site source %s is not a directory", dir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{root: dir, markdown: goldmark.New(), logger: logger}, nil
}

// Load returns every published document, sorted by URL.
func (l *Loader) Load() ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(l.root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		name := entry.Name()
		if path != l.root && skipName(name) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !isDocument(name) {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		doc, ok, err := l.parse(path, filepath.ToSlash(rel))
		if err != nil {
			l.logger.Warn("skipping unreadable document", zap.String("path", rel), zap.Error(err))
			return nil
		}
		if ok {
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk site source: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].URL < docs[j].URL })
	return docs, nil
}

func (l *Loader) parse(path, rel string) (Document, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, false, err
	}
	// #nosec G304 -- path comes from walking the configured source directory.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, false, err
	}
	data, body, err := splitFrontMatter(raw)
	if err != nil {
		return Document{}, false, err
	}
	if published, ok := data["published"].(bool); ok && !published {
		return Document{}, false, nil
	}

	doc := Document{
		Path:     rel,
		Modified: info.ModTime(),
		Data:     data,
	}
	doc.Title, _ = data["title"].(string)

	ext := filepath.Ext(rel)
	if ext == ".md" || ext == ".markdown" {
		var buf bytes.Buffer
		if err := l.markdown.Convert(body, &buf); err != nil {
			return Document{}, false, fmt.Errorf("render markdown: %w", err)
		}
		doc.Content = buf.String()
	} else {
		doc.Content = string(body)
	}

	slug := strings.TrimSuffix(filepath.Base(rel), ext)
	if m := datedName.FindStringSubmatch(slug); m != nil {
		if ts, err := time.Parse("2006-01-02", m[1]+"-"+m[2]+"-"+m[3]); err == nil {
			doc.Date = ts
		}
		slug = m[4]
	}
	if date, ok := frontMatterDate(data["date"]); ok {
		doc.Date = date
	}

	if permalink, ok := data["permalink"].(string); ok && permalink != "" {
		doc.URL = permalink
	} else {
		doc.URL = derivedURL(rel, slug, doc.Date)
	}
	return doc, true, nil
}

func splitFrontMatter(raw []byte) (map[string]any, []byte, error) {
	data := make(map[string]any)
	trimmed := bytes.TrimPrefix(raw, []byte("\ufeff"))
	if !bytes.HasPrefix(trimmed, frontMatterDelim) {
		return data, raw, nil
	}
	rest := trimmed[len(frontMatterDelim):]
	end := bytes.Index(rest, append([]byte("\n"), frontMatterDelim...))
	if end < 0 {
		return data, raw, nil
	}
	if err := yaml.Unmarshal(rest[:end], &data); err != nil {
		return nil, nil, fmt.Errorf("parse front matter: %w", err)
	}
	if data == nil {
		data = make(map[string]any)
	}
	body := rest[end+1+len(frontMatterDelim):]
	body = bytes.TrimLeft(body, "\r\n")
	return data, body, nil
}

func frontMatterDate(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		ts, err := mention.ParseTime(val)
		return ts, err == nil
	default:
		return time.Time{}, false
	}
}

func derivedURL(rel, slug string, date time.Time) string {
	dir := filepath.ToSlash(filepath.Dir(rel))
	if dir == "_posts" || strings.HasPrefix(dir, "_posts/") {
		if !date.IsZero() {
			return fmt.Sprintf("/%04d/%02d/%02d/%s/", date.Year(), int(date.Month()), date.Day(), slug)
		}
		return "/" + slug + "/"
	}
	if slug == "index" {
		if dir == "." {
			return "/"
		}
		return "/" + dir + "/"
	}
	if dir == "." {
		return "/" + slug + "/"
	}
	return "/" + dir + "/" + slug + "/"
}

func isDocument(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown", ".html":
		return true
	default:
		return false
	}
}

func skipName(name string) bool {
	if name == "_posts" {
		return false
	}
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")
}
