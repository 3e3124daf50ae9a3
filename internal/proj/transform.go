package proj

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// SRID constants for the supported frames
const (
	SRID4326  = 4326  // WGS84 (lat/lon)
	SRID25832 = 25832 // ETRS89 / UTM zone 32N
)

// ErrOutOfDomain is returned for coordinates outside the target frame's valid region
var ErrOutOfDomain = errors.New("coordinate outside projection domain")

// GRS80 ellipsoid and UTM zone 32N parameters
const (
	semiMajorAxis   = 6378137.0
	inverseFlatten  = 298.257222101
	scaleFactor     = 0.9996
	centralMeridian = 9.0 // degrees east
	falseEasting    = 500000.0
	falseNorthing   = 0.0

	// Valid region: zone 32 (6-12°E) widened by one zone on each side,
	// northern hemisphere up to the UTM limit
	minLon, maxLon = 0.0, 18.0
	minLat, maxLat = 0.0, 84.0
)

// Transformer converts geographic coordinates into the projected frame.
// It is immutable after construction and safe to share.
type Transformer struct {
	SourceSRID int
	TargetSRID int

	lon0  float64 // central meridian, radians
	kA    float64 // k0 * rectifying radius
	alpha [4]float64
	beta  [4]float64
	delta [4]float64
	c     float64 // 2*sqrt(n)/(1+n), conformal latitude term
}

// NewTransformer creates a transformer from source to target SRID
func NewTransformer(sourceSRID, targetSRID int) (*Transformer, error) {
	if sourceSRID != SRID4326 {
		return nil, fmt.Errorf("unsupported source SRID: %d (only 4326 supported)", sourceSRID)
	}
	if targetSRID != SRID25832 {
		return nil, fmt.Errorf("unsupported target SRID: %d (only 25832 supported)", targetSRID)
	}

	f := 1 / inverseFlatten
	n := f / (2 - f)
	n2, n3, n4 := n*n, n*n*n, n*n*n*n

	t := &Transformer{
		SourceSRID: sourceSRID,
		TargetSRID: targetSRID,
		lon0:       centralMeridian * math.Pi / 180,
		kA:         scaleFactor * semiMajorAxis / (1 + n) * (1 + n2/4 + n4/64),
		c:          2 * math.Sqrt(n) / (1 + n),
	}

	// Krüger series to 4th order in n
	t.alpha = [4]float64{
		n/2 - 2*n2/3 + 5*n3/16 + 41*n4/180,
		13*n2/48 - 3*n3/5 + 557*n4/1440,
		61*n3/240 - 103*n4/140,
		49561 * n4 / 161280,
	}
	t.beta = [4]float64{
		n/2 - 2*n2/3 + 37*n3/96 - n4/360,
		n2/48 + n3/15 - 437*n4/1440,
		17*n3/480 - 37*n4/840,
		4397 * n4 / 161280,
	}
	t.delta = [4]float64{
		2*n - 2*n2/3 - 2*n3 + 116*n4/45,
		7*n2/3 - 8*n3/5 - 227*n4/45,
		56*n3/15 - 136*n4/35,
		4279 * n4 / 630,
	}

	return t, nil
}

// Target returns the target frame as an "EPSG:<srid>" name
func (t *Transformer) Target() string {
	return fmt.Sprintf("EPSG:%d", t.TargetSRID)
}

// Transform converts a coordinate from source to target projection
// Input: lon, lat in degrees
// Output: easting, northing in meters
func (t *Transformer) Transform(lon, lat float64) (x, y float64, err error) {
	if !(lon >= minLon && lon <= maxLon && lat >= minLat && lat <= maxLat) {
		return 0, 0, fmt.Errorf("%w: (%f, %f) not within lon [%g, %g], lat [%g, %g]",
			ErrOutOfDomain, lon, lat, minLon, maxLon, minLat, maxLat)
	}

	phi := lat * math.Pi / 180
	lambda := lon*math.Pi/180 - t.lon0

	sinPhi := math.Sin(phi)
	tau := math.Sinh(math.Atanh(sinPhi) - t.c*math.Atanh(t.c*sinPhi))
	xi := math.Atan2(tau, math.Cos(lambda))
	eta := math.Atanh(math.Sin(lambda) / math.Sqrt(1+tau*tau))

	e, n := eta, xi
	for j, a := range t.alpha {
		k := float64(2 * (j + 1))
		e += a * math.Cos(k*xi) * math.Sinh(k*eta)
		n += a * math.Sin(k*xi) * math.Cosh(k*eta)
	}

	return falseEasting + t.kA*e, falseNorthing + t.kA*n, nil
}

// Inverse converts a projected coordinate back to lon, lat in degrees
func (t *Transformer) Inverse(x, y float64) (lon, lat float64, err error) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return 0, 0, fmt.Errorf("%w: (%f, %f) is not finite", ErrOutOfDomain, x, y)
	}

	xi := (y - falseNorthing) / t.kA
	eta := (x - falseEasting) / t.kA

	xiP, etaP := xi, eta
	for j, b := range t.beta {
		k := float64(2 * (j + 1))
		xiP -= b * math.Sin(k*xi) * math.Cosh(k*eta)
		etaP -= b * math.Cos(k*xi) * math.Sinh(k*eta)
	}

	chi := math.Asin(math.Sin(xiP) / math.Cosh(etaP))
	phi := chi
	for j, d := range t.delta {
		phi += d * math.Sin(float64(2*(j+1))*chi)
	}
	lambda := t.lon0 + math.Atan2(math.Sinh(etaP), math.Cos(xiP))

	return lambda * 180 / math.Pi, phi * 180 / math.Pi, nil
}

// TransformRing projects every vertex of r into a new ring of the same length.
// The first out-of-domain vertex fails the whole ring.
func (t *Transformer) TransformRing(r orb.Ring) (orb.Ring, error) {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		x, y, err := t.Transform(p.Lon(), p.Lat())
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", i, err)
		}
		out[i] = orb.Point{x, y}
	}
	return out, nil
}
