package geometry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	masterRe   = regexp.MustCompile(`_master\.`)
	frameNumRe = regexp.MustCompile(`\d+\.`)
)

// FrameTemplate turns the path of the first data file into the
// wildcarded NAME_TEMPLATE_OF_DATA_FRAMES XDS expects: Eiger-style
// "_master." becomes "_??????." and a trailing CBF frame number is
// replaced digit-for-digit with "?".
func FrameTemplate(firstFile string) string {
	if strings.Contains(firstFile, "master") {
		return masterRe.ReplaceAllString(firstFile, "_??????.")
	}
	return frameNumRe.ReplaceAllStringFunc(firstFile, func(m string) string {
		return strings.Repeat("?", len(m)-1) + "."
	})
}

// FirstDataFile returns the lexicographically first frame file in the
// raw folder: a master .h5/.cxi for Eiger/Lambda data, or any .cbf for
// Pilatus data. Empty string when the folder holds no frames yet.
func FirstDataFile(rawDir string) (string, error) {
	entries, err := os.ReadDir(rawDir)
	if err != nil {
		return "", fmt.Errorf("read raw folder: %w", err)
	}
	var frames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".cbf"):
			frames = append(frames, name)
		case (strings.HasSuffix(name, ".h5") || strings.HasSuffix(name, ".cxi")) && strings.Contains(name, "master"):
			frames = append(frames, name)
		}
	}
	if len(frames) == 0 {
		return "", nil
	}
	sort.Strings(frames)
	return filepath.Join(rawDir, frames[0]), nil
}
