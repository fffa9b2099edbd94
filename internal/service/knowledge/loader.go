// Package knowledge loads the shop's reference documents (FAQ, price lists,
// shipping tables) into one sectioned text block for the AI prompt.
package knowledge

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/traditionalchinese"
)

const (
	StatusLoaded = "loaded"
	StatusError  = "error"
)

// FileInfo 记录单个知识文件的加载结果。
type FileInfo struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Chars  int    `json:"charCount"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Snapshot is the merged knowledge text plus per-file outcomes.
type Snapshot struct {
	Content     string     `json:"-"`
	Files       []FileInfo `json:"files"`
	TotalChars  int        `json:"totalChars"`
	LastRefresh time.Time  `json:"lastRefresh"`
}

var supported = map[string]func([]byte) (string, error){
	".txt": readText,
	".md":  readText,
	".csv": readCSV,
}

// Loader scans a directory for supported files. Reload is safe to call while
// other goroutines read Current.
type Loader struct {
	fsys fs.FS
	now  func() time.Time

	mu      sync.RWMutex
	current Snapshot
}

func NewLoader(fsys fs.FS) *Loader {
	return &Loader{fsys: fsys, now: time.Now}
}

// Current returns the last loaded snapshot.
func (l *Loader) Current() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := l.current
	snap.Files = append([]FileInfo(nil), l.current.Files...)
	return snap
}

// Reload rereads every supported file in name order. A file that fails to
// parse is reported in Files and skipped; only a directory error aborts.
func (l *Loader) Reload() (Snapshot, error) {
	if l.fsys == nil {
		return Snapshot{}, errors.New("knowledge: no directory configured")
	}

	entries, err := fs.ReadDir(l.fsys, ".")
	if err != nil {
		return Snapshot{}, fmt.Errorf("knowledge: read dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var (
		sections []string
		files    []FileInfo
		total    int
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(path.Ext(name))
		read, ok := supported[ext]
		if !ok {
			continue
		}

		info := FileInfo{Name: name, Status: StatusLoaded}
		if fi, err := entry.Info(); err == nil {
			info.Size = fi.Size()
		}

		raw, err := fs.ReadFile(l.fsys, name)
		if err == nil {
			var body string
			body, err = read(raw)
			if err == nil {
				section := "【" + strings.TrimSuffix(name, path.Ext(name)) + "】\n" + strings.TrimSpace(body)
				sections = append(sections, section)
				info.Chars = utf8.RuneCountInString(section)
				total += info.Chars
			}
		}
		if err != nil {
			info.Status = StatusError
			info.Error = err.Error()
		}
		files = append(files, info)
	}

	snap := Snapshot{
		Content:     strings.Join(sections, "\n\n"),
		Files:       files,
		TotalChars:  total,
		LastRefresh: l.now(),
	}

	l.mu.Lock()
	l.current = snap
	l.mu.Unlock()
	return snap, nil
}

// decode accepts UTF-8 and falls back to Big5, the common encoding for
// spreadsheets exported on Traditional Chinese Windows.
func decode(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	out, err := traditionalchinese.Big5.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("unrecognised encoding: %w", err)
	}
	return string(out), nil
}

func readText(raw []byte) (string, error) {
	return decode(raw)
}

// readCSV renders each row as "header: value" pairs so the model sees the
// column meaning next to every value.
func readCSV(raw []byte) (string, error) {
	text, err := decode(raw)
	if err != nil {
		return "", err
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	header := records[0]
	lines := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		parts := make([]string, 0, len(row))
		for i, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				parts = append(parts, strings.TrimSpace(header[i])+": "+cell)
			} else {
				parts = append(parts, cell)
			}
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, " | "))
		}
	}
	return strings.Join(lines, "\n"), nil
}
