package filetemplate

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

//go:embed starter
var embeddedStarter embed.FS

// StarterEntry is the template file inside StarterTemplates that includes the
// rest of the set.
const StarterEntry = "report.j2"

// StarterTemplates exposes a small template set that lists a record's
// attributes and, when present, its JSON content. It doubles as an example of
// resolving includes relative to the template directory.
func StarterTemplates() fs.FS {
	sub, err := fs.Sub(embeddedStarter, "starter")
	if err != nil {
		return embeddedStarter
	}
	return sub
}

// WriteStarterTemplates copies the starter set into dir and returns the
// absolute path of the entry template. Existing files are replaced.
func WriteStarterTemplates(dir string) (string, error) {
	fsys := StarterTemplates()
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		return atomic.WriteFile(target, bytes.NewReader(data))
	})
	if err != nil {
		return "", fmt.Errorf("filetemplate: write starter templates: %w", err)
	}
	return filepath.Abs(filepath.Join(dir, StarterEntry))
}
