package criterion

import (
	"fmt"
	"math"

	"github.com/c360/semtwin/snapshot"
)

const earthRadiusMeters = 6371008.8

// locationLeaf tests the raw provider location. A provider without a
// location fails the positive test.
type locationLeaf struct {
	desc   string
	test   func(snapshot.Location) bool
	negate bool
}

// Near selects providers within radius meters of a point
func Near(lat, lon, radius float64) Criterion {
	center := snapshot.Location{Latitude: lat, Longitude: lon}
	return &locationLeaf{
		desc: fmt.Sprintf("near(%g, %g, %gm)", lat, lon, radius),
		test: func(l snapshot.Location) bool {
			return Distance(center, l) <= radius
		},
	}
}

// WithinBox selects providers inside a latitude/longitude box
func WithinBox(minLat, minLon, maxLat, maxLon float64) Criterion {
	return &locationLeaf{
		desc: fmt.Sprintf("box(%g, %g, %g, %g)", minLat, minLon, maxLat, maxLon),
		test: func(l snapshot.Location) bool {
			return l.Latitude >= minLat && l.Latitude <= maxLat &&
				l.Longitude >= minLon && l.Longitude <= maxLon
		},
	}
}

// Distance returns the haversine distance in meters
func Distance(a, b snapshot.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func (l *locationLeaf) LocationFilter() snapshot.LocationFilter {
	return l.match
}

func (l *locationLeaf) match(loc *snapshot.Location) bool {
	ok := loc != nil && l.test(*loc)
	return ok != l.negate
}

func (l *locationLeaf) ProviderFilter() snapshot.ProviderFilter             { return nil }
func (l *locationLeaf) ServiceFilter() snapshot.ServiceFilter               { return nil }
func (l *locationLeaf) ResourceFilter() snapshot.ResourceFilter             { return nil }
func (l *locationLeaf) ResourceValueFilter() snapshot.ResourceValueFilter   { return nil }
func (l *locationLeaf) DataTopics() []string                                { return renderTopics(l.topics()) }
func (l *locationLeaf) topics() []topic                                     { return []topic{{}} }

func (l *locationLeaf) Negate() Criterion {
	return &locationLeaf{desc: l.desc, test: l.test, negate: !l.negate}
}

func (l *locationLeaf) String() string {
	if l.negate {
		return "location !" + l.desc
	}
	return "location " + l.desc
}

func (l *locationLeaf) eval(p *snapshot.ProviderSnapshot, _ []*snapshot.ResourceSnapshot) bool {
	return l.match(p.Location)
}
