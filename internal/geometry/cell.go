package geometry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// UnitCell holds the cell constants fed into XDS and, when resolvable,
// the space group number.
type UnitCell struct {
	A, B, C          float64
	Alpha, Beta, Gamma float64
	SpaceGroupNumber int
}

// Complete reports whether all six constants were found.
func (c UnitCell) Complete() bool {
	return c.A > 0 && c.B > 0 && c.C > 0 && c.Alpha > 0 && c.Beta > 0 && c.Gamma > 0
}

// FindCellFile looks for a user-supplied cell next to the raw data:
// a CrystFEL .cell file first, then a .pdb. Empty string when neither
// exists.
func FindCellFile(rawDir string) string {
	for _, pattern := range []string{"*.cell", "*.pdb"} {
		matches, err := filepath.Glob(filepath.Join(rawDir, pattern))
		if err != nil || len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return matches[0]
	}
	return ""
}

// ParseCellFile reads cell constants from a .cell or .pdb file,
// dispatching on the extension.
func ParseCellFile(path string) (UnitCell, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cell":
		return parseCrystFELCell(path)
	case ".pdb":
		return parsePDBCryst1(path)
	default:
		return UnitCell{}, fmt.Errorf("unsupported cell file %q", path)
	}
}

// parseCrystFELCell reads the "key = value [unit]" lines of a CrystFEL
// unit cell file.
func parseCrystFELCell(path string) (UnitCell, error) {
	f, err := os.Open(path)
	if err != nil {
		return UnitCell{}, fmt.Errorf("open cell file: %w", err)
	}
	defer f.Close()

	var cell UnitCell
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		// Strip trailing units ("A", "deg").
		if sp := strings.IndexByte(value, ' '); sp >= 0 {
			value = value[:sp]
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		switch key {
		case "a":
			cell.A = v
		case "b":
			cell.B = v
		case "c":
			cell.C = v
		case "al", "alpha":
			cell.Alpha = v
		case "be", "beta":
			cell.Beta = v
		case "ga", "gamma":
			cell.Gamma = v
		case "space_group_number":
			cell.SpaceGroupNumber = int(v)
		}
	}
	if err := sc.Err(); err != nil {
		return UnitCell{}, fmt.Errorf("read cell file: %w", err)
	}
	return cell, nil
}

// spaceGroupNumbers maps the space group symbols common in
// macromolecular crystallography to their IT numbers. Symbols outside
// the table leave the number at zero, which renders as a commented-out
// SPACE_GROUP_NUMBER line so XDS determines it itself.
var spaceGroupNumbers = map[string]int{
	"P 1":        1,
	"P 1 21 1":   4,
	"C 1 2 1":    5,
	"P 21 21 21": 19,
	"C 2 2 21":   20,
	"P 41 21 2":  92,
	"P 43 21 2":  96,
	"P 3 2 1":    150,
	"P 61 2 2":   178,
	"P 65 2 2":   179,
	"H 3":        146,
	"H 3 2":      155,
	"I 2 3":      197,
	"I 21 3":     199,
	"F 4 3 2":    209,
	"I 4 3 2":    211,
}

// parsePDBCryst1 extracts cell constants and the space group from the
// fixed-column CRYST1 record of a PDB file.
func parsePDBCryst1(path string) (UnitCell, error) {
	f, err := os.Open(path)
	if err != nil {
		return UnitCell{}, fmt.Errorf("open pdb: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "CRYST1") {
			continue
		}
		if len(line) < 54 {
			return UnitCell{}, fmt.Errorf("truncated CRYST1 record in %s", path)
		}
		var cell UnitCell
		fields := []struct {
			lo, hi int
			dst    *float64
		}{
			{6, 15, &cell.A},
			{15, 24, &cell.B},
			{24, 33, &cell.C},
			{33, 40, &cell.Alpha},
			{40, 47, &cell.Beta},
			{47, 54, &cell.Gamma},
		}
		for _, fd := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(line[fd.lo:fd.hi]), 64)
			if err != nil {
				return UnitCell{}, fmt.Errorf("parse CRYST1 in %s: %w", path, err)
			}
			*fd.dst = v
		}
		if len(line) >= 66 {
			symbol := strings.TrimSpace(line[55:66])
			cell.SpaceGroupNumber = spaceGroupNumbers[symbol]
		}
		return cell, nil
	}
	if err := sc.Err(); err != nil {
		return UnitCell{}, fmt.Errorf("read pdb: %w", err)
	}
	return UnitCell{}, fmt.Errorf("no CRYST1 record in %s", path)
}
