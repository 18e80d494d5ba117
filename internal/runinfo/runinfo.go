// Package runinfo parses the info.txt file the acquisition system
// drops into every raw run folder. The file is a loose "key: value"
// format whose first line names the experiment method; numeric values
// may carry units, so extraction takes the first number on the line.
package runinfo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// FileName is the per-run acquisition summary written by the beamline.
const FileName = "info.txt"

var numberRe = regexp.MustCompile(`[-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?`)

// Info carries the acquisition parameters a processing job needs.
type Info struct {
	Method            string
	FramesPerPosition int
	// DetectorDistance is in millimetres, as written by the beamline.
	DetectorDistance float64
	OrgX             float64
	OrgY             float64
	Frames           int
	StartAngle       float64
	OscillationRange float64
	// Wavelength is in Angstroms.
	Wavelength     float64
	IndexingMethod string
}

// PhotonEnergy converts the wavelength to eV. Zero wavelength yields
// zero rather than an infinity that would corrupt a rendered geometry.
func (i Info) PhotonEnergy() float64 {
	if i.Wavelength == 0 {
		return 0
	}
	return 12400 / i.Wavelength
}

// Load reads info.txt from the given run folder. A missing or empty
// file is an error: without it the run cannot be classified.
func Load(runDir string) (Info, error) {
	path := filepath.Join(runDir, FileName)
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("stat %s: %w", FileName, err)
	}
	if st.Size() == 0 {
		return Info{}, fmt.Errorf("%s is empty in %s", FileName, runDir)
	}

	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open %s: %w", FileName, err)
	}
	defer f.Close()

	info := Info{FramesPerPosition: 1, IndexingMethod: "mosflm-latt-nocell"}

	sc := bufio.NewScanner(f)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			// The first line is "method: <name>".
			if i := strings.LastIndex(line, ":"); i >= 0 {
				info.Method = strings.TrimSpace(line[i+1:])
			} else {
				info.Method = strings.TrimSpace(line)
			}
			first = false
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "frames/position:"):
			info.FramesPerPosition = extractInt(line, info.FramesPerPosition)
		case strings.Contains(lower, "indexing_method"):
			if i := strings.Index(line, ":"); i >= 0 {
				info.IndexingMethod = strings.TrimSpace(line[i+1:])
			}
		case strings.Contains(line, "distance"):
			info.DetectorDistance = extractFloat(line, info.DetectorDistance)
		case strings.Contains(line, "ORGX"):
			info.OrgX = extractFloat(line, info.OrgX)
		case strings.Contains(line, "ORGY"):
			info.OrgY = extractFloat(line, info.OrgY)
		case strings.Contains(line, "start angle"):
			info.StartAngle = extractFloat(line, info.StartAngle)
		case strings.Contains(line, "degrees/frame"):
			info.OscillationRange = extractFloat(line, info.OscillationRange)
		case strings.Contains(line, "wavelength"):
			info.Wavelength = extractFloat(line, info.Wavelength)
		case strings.Contains(line, "frames"):
			info.Frames = extractInt(line, info.Frames)
		}
	}
	if err := sc.Err(); err != nil {
		return Info{}, fmt.Errorf("read %s: %w", FileName, err)
	}
	if info.Frames == 0 {
		info.Frames = 1
	}
	return info, nil
}

func extractFloat(line string, def float64) float64 {
	m := numberRe.FindString(line)
	if m == "" {
		return def
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return def
	}
	return v
}

func extractInt(line string, def int) int {
	v := extractFloat(line, float64(def))
	return int(v)
}
