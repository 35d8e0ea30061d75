// Package manifest reads the solution summary an agent leaves at the root of
// its workspace and extracts the key output files it lists.
package manifest

import (
	"bufio"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// FileName is the manifest file an agent writes at the repository root.
	FileName = "SOLUTION_SUMMARY.md"
	// KeyFilesHeader introduces the markdown list of key output files.
	KeyFilesHeader = "## Key Output Files"
)

var linkPattern = regexp.MustCompile(`^\[[^\]]*\]\(([^)]*)\)`)

// listPrefixes are the markdown bullet markers accepted inside the key files section.
var listPrefixes = []string{"- ", "* ", "+ "}

// Path returns the manifest location for a repository root.
func Path(repoRoot string) string {
	return filepath.Join(repoRoot, FileName)
}

// Read loads the manifest under repoRoot. It returns "" with no error when the
// file is absent.
func Read(repoRoot string) (string, error) {
	data, err := os.ReadFile(Path(repoRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// ParseKeyFiles returns the key output files listed under KeyFilesHeader that
// exist as regular files under repoRoot. Paths are forward-slash relative,
// deduplicated, and kept in manifest order. Bad entries are logged and
// skipped.
func ParseKeyFiles(content, repoRoot string) []string {
	var (
		result     []string
		seen       = make(map[string]bool)
		collecting bool
	)

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)

		if trimmed == KeyFilesHeader {
			collecting = true
			continue
		}
		if !collecting {
			continue
		}

		item, ok := listItem(trimmed)
		if !ok {
			// Blank line, a new heading, or prose ends the section.
			collecting = false
			continue
		}

		candidate := extractPath(item)
		if candidate == "" {
			log.Printf("[manifest] WARNING: skipping empty key file entry %q", trimmed)
			continue
		}

		rel, ok := resolve(candidate, repoRoot)
		if !ok {
			continue
		}
		if seen[rel] {
			continue
		}
		seen[rel] = true
		result = append(result, rel)
	}

	if err := scanner.Err(); err != nil {
		log.Printf("[manifest] WARNING: stopped reading manifest: %v", err)
	}

	if result == nil {
		return []string{}
	}
	return result
}

// listItem returns the text of a bullet line without its marker.
func listItem(line string) (string, bool) {
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	for _, p := range listPrefixes {
		if strings.HasPrefix(line, p) {
			return strings.TrimSpace(line[len(p):]), true
		}
	}
	return "", false
}

// extractPath unwraps [label](path) or `path` and returns the candidate path.
func extractPath(item string) string {
	if m := linkPattern.FindStringSubmatch(item); m != nil {
		target := strings.TrimSpace(m[1])
		// Drop an optional link title: [x](path "title").
		if i := strings.IndexAny(target, " \t"); i >= 0 {
			target = target[:i]
		}
		return strings.Trim(target, "<>")
	}

	if strings.HasPrefix(item, "`") {
		if end := strings.Index(item[1:], "`"); end >= 0 {
			return strings.TrimSpace(item[1 : end+1])
		}
		return strings.TrimSpace(strings.Trim(item, "`"))
	}

	return item
}

// resolve maps candidate onto repoRoot and returns its normalized relative
// form if it names an existing regular file inside the root.
func resolve(candidate, repoRoot string) (string, bool) {
	slashed := filepath.ToSlash(candidate)
	if rel, ok := underRoot(candidate, repoRoot); ok {
		slashed = rel
	} else if strings.HasPrefix(slashed, "/") || filepath.IsAbs(candidate) {
		log.Printf("[manifest] WARNING: absolute key file path %q treated as relative to repository root", candidate)
		slashed = strings.TrimLeft(filepath.ToSlash(strings.TrimPrefix(candidate, filepath.VolumeName(candidate))), "/")
	}

	full := filepath.Join(repoRoot, filepath.FromSlash(slashed))
	rel, err := filepath.Rel(repoRoot, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		log.Printf("[manifest] WARNING: key file %q escapes repository root, skipping", candidate)
		return "", false
	}

	info, err := os.Stat(full)
	if err != nil {
		log.Printf("[manifest] WARNING: key file %q not found, skipping", candidate)
		return "", false
	}
	if !info.Mode().IsRegular() {
		log.Printf("[manifest] WARNING: key file %q is not a regular file, skipping", candidate)
		return "", false
	}

	return filepath.ToSlash(rel), true
}

// underRoot returns candidate relative to repoRoot when candidate is an
// absolute path inside it.
func underRoot(candidate, repoRoot string) (string, bool) {
	if !filepath.IsAbs(candidate) || !filepath.IsAbs(repoRoot) {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Clean(repoRoot), filepath.Clean(candidate))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Summary returns the manifest prose preceding KeyFilesHeader, trimmed. A
// leading top-level title is dropped.
func Summary(content string) string {
	if i := strings.Index(content, KeyFilesHeader); i >= 0 {
		content = content[:i]
	}
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "# ") {
		if nl := strings.IndexByte(content, '\n'); nl >= 0 {
			content = strings.TrimSpace(content[nl+1:])
		} else {
			content = ""
		}
	}
	return content
}
