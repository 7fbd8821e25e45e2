// Package registry lists model artifacts already present in the models
// directory, including interrupted downloads.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pocketllm/internal/common/fsutil"
	"pocketllm/pkg/types"
)

const (
	modelExt   = ".gguf"
	partialExt = ".partial"
)

// LoadDir scans dir for *.gguf files and *.gguf.partial downloads. A
// missing directory yields an empty list. Results are sorted by name.
func LoadDir(dir string) ([]types.Artifact, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []types.Artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		lower := strings.ToLower(name)
		partial := strings.HasSuffix(lower, modelExt+partialExt)
		if !partial && !strings.HasSuffix(lower, modelExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		a := types.Artifact{
			Name:     strings.TrimSuffix(name, partialExt),
			Path:     filepath.Join(abs, name),
			Size:     info.Size(),
			Complete: !partial && info.Size() > 0,
			ModTime:  info.ModTime().UTC(),
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Complete && !out[j].Complete
	})
	return out, nil
}
