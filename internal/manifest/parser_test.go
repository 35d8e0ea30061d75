package manifest

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFiles(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestParseKeyFiles_MixedEntries(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "src/main.go", "docs/guide.md", "out.txt")

	content := `# Solution

Implemented the thing.

## Key Output Files
- [entry point](src/main.go)
- ` + "`docs/guide.md`" + `
- /out.txt
- missing/file.go

## Notes
- src/ignored.go
`

	got := ParseKeyFiles(content, root)
	want := []string{"src/main.go", "docs/guide.md", "out.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseKeyFiles() = %v, want %v", got, want)
	}
}

func TestParseKeyFiles_AbsolutePaths(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.txt", "dir/c.txt")
	outside := t.TempDir()
	writeFiles(t, outside, "dir/c.txt")

	content := "## Key Output Files\n" +
		"- " + filepath.ToSlash(filepath.Join(root, "dir", "c.txt")) + "\n" +
		"- `" + filepath.ToSlash(filepath.Join(root, "a.txt")) + "`\n" +
		"- " + filepath.ToSlash(filepath.Join(outside, "dir", "c.txt")) + "\n" +
		"- /a.txt\n"

	got := ParseKeyFiles(content, root)
	want := []string{"dir/c.txt", "a.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseKeyFiles() = %v, want %v", got, want)
	}
}

func TestParseKeyFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.txt", "b.txt", "dir/c.txt")
	if err := os.MkdirAll(filepath.Join(root, "somedir"), 0755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "no header",
			content: "- a.txt\n- b.txt\n",
			want:    []string{},
		},
		{
			name:    "all bullet styles",
			content: "## Key Output Files\n- a.txt\n* b.txt\n+ dir/c.txt\n",
			want:    []string{"a.txt", "b.txt", "dir/c.txt"},
		},
		{
			name:    "blank line ends section",
			content: "## Key Output Files\n- a.txt\n\n- b.txt\n",
			want:    []string{"a.txt"},
		},
		{
			name:    "heading ends section",
			content: "## Key Output Files\n- a.txt\n### More\n- b.txt\n",
			want:    []string{"a.txt"},
		},
		{
			name:    "duplicates removed",
			content: "## Key Output Files\n- a.txt\n- `a.txt`\n- [again](a.txt)\n",
			want:    []string{"a.txt"},
		},
		{
			name:    "directory rejected",
			content: "## Key Output Files\n- somedir\n- a.txt\n",
			want:    []string{"a.txt"},
		},
		{
			name:    "escaping path rejected",
			content: "## Key Output Files\n- ../outside.txt\n- b.txt\n",
			want:    []string{"b.txt"},
		},
		{
			name:    "header must match exactly",
			content: "## Key Output Files (draft)\n- a.txt\n",
			want:    []string{},
		},
		{
			name:    "link with title",
			content: "## Key Output Files\n- [c](dir/c.txt \"the c file\")\n",
			want:    []string{"dir/c.txt"},
		},
		{
			name:    "backtick with trailing description",
			content: "## Key Output Files\n- `b.txt` - second file\n",
			want:    []string{"b.txt"},
		},
		{
			name:    "empty entry skipped",
			content: "## Key Output Files\n- ``\n- a.txt\n",
			want:    []string{"a.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseKeyFiles(tt.content, root)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseKeyFiles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRead_Missing(t *testing.T) {
	content, err := Read(t.TempDir())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if content != "" {
		t.Errorf("Read() = %q, want empty", content)
	}
}

func TestRead_Present(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(Path(root), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	content, err := Read(root)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if content != "hello" {
		t.Errorf("Read() = %q, want hello", content)
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"prose before header", "Added a parser.\n\n## Key Output Files\n- a.go\n", "Added a parser."},
		{"title dropped", "# Solution\n\nFixed the bug.\n## Key Output Files\n", "Fixed the bug."},
		{"no header", "Just text\n", "Just text"},
		{"title only", "# Solution", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summary(tt.content); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}
