package local

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/nemanja-m/mrfs/internal/shared/errs"
)

// expandInputs resolves local glob patterns to regular files, sorted and
// without duplicates.
func expandInputs(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, "expand input", err)
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, errs.Wrap(errs.IOError, "expand input", err)
			}
			if info.Mode().IsRegular() {
				files = append(files, match)
			}
		}
	}
	if len(files) == 0 {
		return nil, errs.New(errs.NotFound, "expand input", "no files matched %v", patterns)
	}

	slices.Sort(files)
	return slices.Compact(files), nil
}

// stagedName names the i-th uploaded input so files with equal base names
// from different directories do not collide.
func stagedName(i int, file string) string {
	return fmt.Sprintf("%05d-%s", i, filepath.Base(file))
}
