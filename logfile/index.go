package logfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// IndexName returns the index file name for prefix.
func IndexName(prefix string) string {
	return prefix + ".index"
}

// scanDir lists the numbered files of prefix in dir. Numbers must run
// contiguously from 1.
func scanDir(dir, prefix string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read log dir: %v", ErrIO, err)
	}
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `\.(\d{6})$`)

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, e.Name(), err)
		}
		files = append(files, FileInfo{Number: n, Name: e.Name(), Size: uint64(info.Size())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Number < files[j].Number })

	for i, f := range files {
		if f.Number != i+1 {
			return nil, fmt.Errorf("%w: log files are not contiguous: expected %s.%06d, found %s", ErrIO, prefix, i+1, f.Name)
		}
	}
	return files, nil
}

// writeIndex replaces the index file with one "./<name>" line per file.
func writeIndex(dir, prefix string, files []FileInfo) error {
	var b strings.Builder
	for _, f := range files {
		b.WriteString("./")
		b.WriteString(f.Name)
		b.WriteByte('\n')
	}
	path := filepath.Join(dir, IndexName(prefix))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0640); err != nil {
		return fmt.Errorf("%w: write index: %v", ErrIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: replace index: %v", ErrIO, err)
	}
	return nil
}

// ReadIndex returns the file names listed in an index file.
func ReadIndex(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open index: %v", ErrIO, err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		names = append(names, filepath.Base(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read index: %v", ErrIO, err)
	}
	return names, nil
}
