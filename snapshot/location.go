package snapshot

import (
	"encoding/json"
	"strconv"
)

// Well known location resource
const (
	AdminService     = "admin"
	LocationResource = "location"
)

// ParseLocation extracts a point from a location resource value. It accepts
// a Location, {"lat","lon"} or {"latitude","longitude"} objects, a GeoJSON
// Point, and JSON text holding any of those.
func ParseLocation(v any) (*Location, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case Location:
		return &t, true
	case *Location:
		if t == nil {
			return nil, false
		}
		l := *t
		return &l, true
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(t), &decoded); err != nil {
			return nil, false
		}
		if _, isString := decoded.(string); isString {
			return nil, false
		}
		return ParseLocation(decoded)
	case map[string]any:
		if typ, _ := t["type"].(string); typ == "Feature" {
			return ParseLocation(t["geometry"])
		}
		if typ, _ := t["type"].(string); typ == "Point" {
			coords, ok := t["coordinates"].([]any)
			if !ok || len(coords) < 2 {
				return nil, false
			}
			lon, ok1 := number(coords[0])
			lat, ok2 := number(coords[1])
			if !ok1 || !ok2 {
				return nil, false
			}
			return &Location{Latitude: lat, Longitude: lon}, true
		}
		for _, keys := range [][2]string{{"lat", "lon"}, {"latitude", "longitude"}} {
			lat, ok1 := number(t[keys[0]])
			lon, ok2 := number(t[keys[1]])
			if ok1 && ok2 {
				return &Location{Latitude: lat, Longitude: lon}, true
			}
		}
	}
	return nil, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
