package udl

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
)

// ReadURLList loads one URL per line from path, skipping blank lines and '#'
// comments. Repeated URLs keep their first position and drop later
// occurrences, so a sloppily assembled list never downloads twice.
func ReadURLList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open URL list: %w", err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read URL list: %w", err)
	}
	return urls, nil
}

// ArchiveName derives a local file name from the URL's path basename. URLs
// without a usable basename fall back to download.zip; names without an
// extension get .zip appended. Query strings never leak into the name, since
// pre-signed links carry credentials there.
func ArchiveName(rawURL string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = "download.zip"
	}
	if !strings.Contains(name, ".") {
		name += ".zip"
	}
	return name
}
