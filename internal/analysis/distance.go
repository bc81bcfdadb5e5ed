package analysis

import (
	"github.com/tidwall/geodesic"

	"github.com/SIOJaffeLab/LogProcessor/internal/track"
)

// Distance returns the WGS84 geodesic distance between two samples in metres.
func Distance(a, b track.Sample) float64 {
	var s12 float64
	geodesic.WGS84.Inverse(a.Latitude, a.Longitude, b.Latitude, b.Longitude, &s12, nil, nil)
	return s12
}
