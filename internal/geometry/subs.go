package geometry

import (
	"fmt"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/runinfo"
)

// RotationalSubstitutions builds the XDS.INP substitution map for a
// rotation run. Beamline origin overrides win over the values recorded
// in info.txt; the distance offset corrects the encoder readout to the
// true sample-detector distance.
func RotationalSubstitutions(info runinfo.Info, orgX, orgY, distanceOffset float64, frameTemplate string, cell UnitCell) Substitutions {
	if orgX == 0 {
		orgX = info.OrgX
	}
	if orgY == 0 {
		orgY = info.OrgY
	}
	return Substitutions{
		"DETECTOR_DISTANCE":            formatNumber(info.DetectorDistance + distanceOffset),
		"ORGX":                         formatNumber(orgX),
		"ORGY":                         formatNumber(orgY),
		"NFRAMES":                      fmt.Sprintf("%d", info.Frames),
		"NAME_TEMPLATE_OF_DATA_FRAMES": frameTemplate,
		"STARTING_ANGLE":               formatNumber(info.StartAngle),
		"OSCILLATION_RANGE":            formatNumber(info.OscillationRange),
		"WAVELENGTH":                   formatNumber(info.Wavelength),
		"SPACE_GROUP_NUMBER":           spaceGroupLine(cell),
		"UNIT_CELL_CONSTANTS":          unitCellLine(cell),
	}
}

// SerialSubstitutions builds the CrystFEL .geom substitution map for a
// still-shot run. CrystFEL wants metres and a beam centre expressed as
// negative panel offsets, hence the sign flip and the /1000.
func SerialSubstitutions(info runinfo.Info, orgX, orgY, distanceOffset float64, dataH5Path string) Substitutions {
	if orgX == 0 {
		orgX = info.OrgX
	}
	if orgY == 0 {
		orgY = info.OrgY
	}
	return Substitutions{
		"DETECTOR_DISTANCE": formatNumber((info.DetectorDistance + distanceOffset) / 1000),
		"ORGX":              formatNumber(-orgX),
		"ORGY":              formatNumber(-orgY),
		"PHOTON_ENERGY":     formatNumber(info.PhotonEnergy()),
		"data_h5path":       dataH5Path,
	}
}

// WedgeSubstitutions builds the XDS.INP substitution map for one wedge
// of a grid-step scan. The rotation axis alternates with the grid
// position parity because the goniometer reverses direction on every
// other row.
func WedgeSubstitutions(info runinfo.Info, orgX, orgY, distanceOffset float64, frameTemplate string, cell UnitCell,
	position, firstImage, lastImage int, referenceDataSet string) Substitutions {
	if orgX == 0 {
		orgX = info.OrgX
	}
	if orgY == 0 {
		orgY = info.OrgY
	}
	referenceLine := "!REFERENCE_DATA_SET"
	if referenceDataSet != "" {
		referenceLine = "REFERENCE_DATA_SET= " + referenceDataSet
	}
	distance := info.DetectorDistance + distanceOffset
	highRes := HighResolutionCutoff(distance, info.Wavelength, DefaultPixelsShortEdge, DefaultPixelsLongEdge, DefaultPixelSizeM)

	rotationAxis := "1.0 0.0 0.0"
	if position%2 != 0 {
		rotationAxis = "-1.0 0.0 0.0"
	}

	return Substitutions{
		"DETECTOR_DISTANCE":            formatNumber(distance),
		"ORGX":                         formatNumber(orgX),
		"ORGY":                         formatNumber(orgY),
		"NAME_TEMPLATE_OF_DATA_FRAMES": frameTemplate,
		"OSCILLATION_RANGE":            formatNumber(info.OscillationRange),
		"WAVELENGTH":                   formatNumber(info.Wavelength),
		"first_image_index":            fmt.Sprintf("%d", firstImage),
		"last_image_index":             fmt.Sprintf("%d", lastImage),
		"REFERENCE_DATA_SET":           referenceLine,
		"SPACE_GROUP_NUMBER":           spaceGroupLine(cell),
		"UNIT_CELL_CONSTANTS":          unitCellLine(cell),
		"INCLUDE_RESOLUTION_RANGE":     fmt.Sprintf("50.0 %.2f", highRes),
		"ROTATION_AXIS":                rotationAxis,
	}
}

// spaceGroupLine emits a live XDS keyword when the space group is
// known and a commented-out one otherwise.
func spaceGroupLine(cell UnitCell) string {
	if cell.SpaceGroupNumber > 0 {
		return fmt.Sprintf("SPACE_GROUP_NUMBER = %d", cell.SpaceGroupNumber)
	}
	return "!SPACE_GROUP_NUMBER"
}

func unitCellLine(cell UnitCell) string {
	if !cell.Complete() {
		return "!UNIT_CELL_CONSTANTS"
	}
	return fmt.Sprintf("UNIT_CELL_CONSTANTS = %.2f %.2f %.2f %.2f %.2f %.2f",
		cell.A, cell.B, cell.C, cell.Alpha, cell.Beta, cell.Gamma)
}
