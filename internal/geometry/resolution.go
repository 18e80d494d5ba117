package geometry

import "math"

// Default Pilatus 6M detector dimensions, used when frame headers are
// unreadable.
const (
	DefaultPixelsShortEdge = 2462
	DefaultPixelsLongEdge  = 2526
	DefaultPixelSizeM      = 0.000172
)

// HighResolutionCutoff estimates the best resolution (in Angstroms)
// recordable at the detector edge, from the detector distance in mm,
// the wavelength in Angstroms and the panel dimensions. The larger of
// the two edge resolutions is returned, as the worse edge bounds a
// full ring.
func HighResolutionCutoff(detectorDistanceMM, wavelength float64, pixelsShortEdge, pixelsLongEdge int, pixelSizeM float64) float64 {
	shortHalf := float64(pixelsShortEdge/2) * pixelSizeM
	longHalf := float64(pixelsLongEdge/2) * pixelSizeM
	distanceM := detectorDistanceMM / 1000

	resShort := wavelength / (2 * math.Sin(0.5*math.Atan(shortHalf/distanceM)))
	resLong := wavelength / (2 * math.Sin(0.5*math.Atan(longHalf/distanceM)))

	return math.Max(resShort, resLong)
}
