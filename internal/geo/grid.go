package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/FranksOps/rankscout/internal/model"
)

// KmPerDegLat is the approximate length of one degree of latitude.
const KmPerDegLat = 111.32

// ErrInvalidGrid is returned for grid specs that cannot produce a lattice.
var ErrInvalidGrid = errors.New("geo: invalid grid spec")

// GridSpec describes a Size x Size lattice of sample points spread over a square
// of side 2*RadiusKm centred on (CenterLat, CenterLng).
type GridSpec struct {
	CenterLat float64 `json:"center_lat"`
	CenterLng float64 `json:"center_lng"`
	RadiusKm  float64 `json:"radius_km"`
	Size      int     `json:"size"`
}

// Validate checks the preconditions of Generate. A grid of one point per axis
// is rejected: callers wanting a single location should disable the grid.
func (s GridSpec) Validate() error {
	switch {
	case s.Size < 2:
		return fmt.Errorf("%w: size must be at least 2, got %d", ErrInvalidGrid, s.Size)
	case !(s.RadiusKm > 0) || math.IsInf(s.RadiusKm, 0):
		return fmt.Errorf("%w: radius must be a positive number of km, got %v", ErrInvalidGrid, s.RadiusKm)
	case math.IsNaN(s.CenterLat) || math.Abs(s.CenterLat) >= 90:
		return fmt.Errorf("%w: center latitude out of range: %v", ErrInvalidGrid, s.CenterLat)
	case math.IsNaN(s.CenterLng) || math.Abs(s.CenterLng) > 180:
		return fmt.Errorf("%w: center longitude out of range: %v", ErrInvalidGrid, s.CenterLng)
	}
	return nil
}

// kmPerDegLng scales a degree of longitude by cos(latitude). The equirectangular
// approximation degrades towards the poles and is not corrected.
func (s GridSpec) kmPerDegLng() float64 {
	return KmPerDegLat * math.Cos(s.CenterLat*math.Pi/180.0)
}

// Bound returns the bounding box covered by the grid. orb points are [lng, lat].
func (s GridSpec) Bound() orb.Bound {
	latDeg := s.RadiusKm / KmPerDegLat
	lngDeg := s.RadiusKm / s.kmPerDegLng()
	return orb.Bound{
		Min: orb.Point{s.CenterLng - lngDeg, s.CenterLat - latDeg},
		Max: orb.Point{s.CenterLng + lngDeg, s.CenterLat + latDeg},
	}
}

// Generate returns exactly Size*Size points in row-major order, starting at
// the south-west corner of Bound. The outer index steps north, the inner index
// steps east, so point (i, j) sits at index i*Size+j.
func Generate(spec GridSpec) ([]model.GeoPoint, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	stepKm := spec.RadiusKm * 2 / float64(spec.Size-1)
	latStep := stepKm / KmPerDegLat
	lngStep := stepKm / spec.kmPerDegLng()

	sw := spec.Bound().Min
	points := make([]model.GeoPoint, 0, spec.Size*spec.Size)
	for i := range spec.Size {
		for j := range spec.Size {
			points = append(points, model.GeoPoint{
				Latitude:  sw.Lat() + float64(i)*latStep,
				Longitude: sw.Lon() + float64(j)*lngStep,
			})
		}
	}
	return points, nil
}

// Within keeps the points that fall inside the boundary. An empty boundary
// keeps everything.
func Within(points []model.GeoPoint, boundary orb.MultiPolygon) []model.GeoPoint {
	if len(boundary) == 0 {
		return points
	}
	var kept []model.GeoPoint
	for _, p := range points {
		if planar.MultiPolygonContains(boundary, orb.Point{p.Longitude, p.Latitude}) {
			kept = append(kept, p)
		}
	}
	return kept
}

// Ring builds a closed single-polygon boundary from lat/lng vertices.
func Ring(vertices []model.GeoPoint) orb.MultiPolygon {
	if len(vertices) < 3 {
		return nil
	}
	ring := make(orb.Ring, 0, len(vertices)+1)
	for _, v := range vertices {
		ring = append(ring, orb.Point{v.Longitude, v.Latitude})
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.MultiPolygon{orb.Polygon{ring}}
}
