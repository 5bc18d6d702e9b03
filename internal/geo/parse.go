package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

var errMalformed = errors.New("malformed coordinate input")

// ParseCenter extracts a canonical center from any of the area shapes the
// backend has been seen to send:
//
//   - a GeoJSON point (Point, *Point, decoded map or raw JSON), [lon, lat]
//   - a WKT string such as "SRID=4326;POLYGON((lon lat, ...))" or "POINT(lon lat)"
//   - a raw [lat, lon] pair ([]float64, [2]float64, []any)
//
// Malformed or missing input never fails: the fallback is used when it is
// valid, DefaultCenter otherwise. Anomalies are logged.
func ParseCenter(logger *slog.Logger, raw any, fallback *Coordinate) Coordinate {
	c, err := parse(raw)
	if err == nil {
		return c
	}
	if logger == nil {
		logger = slog.Default()
	}
	if raw != nil {
		logger.Warn("unusable area center, falling back", "raw", fmt.Sprintf("%v", raw), "error", err)
	}
	if fallback != nil && fallback.Valid() {
		return *fallback
	}
	return DefaultCenter
}

func parse(raw any) (Coordinate, error) {
	switch v := raw.(type) {
	case nil:
		return Coordinate{}, fmt.Errorf("%w: missing", errMalformed)
	case Coordinate:
		return checked(v)
	case *Coordinate:
		if v == nil {
			return Coordinate{}, fmt.Errorf("%w: missing", errMalformed)
		}
		return checked(*v)
	case Point:
		return fromPoint(v)
	case *Point:
		if v == nil {
			return Coordinate{}, fmt.Errorf("%w: missing", errMalformed)
		}
		return fromPoint(*v)
	case map[string]any:
		return fromGeoJSONMap(v)
	case json.RawMessage:
		return parseJSON(v)
	case []byte:
		return parseJSON(v)
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
			return parseJSON([]byte(s))
		}
		return parseWKTCenter(s)
	case [2]float64:
		return checked(Coordinate{Lat: v[0], Lon: v[1]})
	case []float64:
		if len(v) < 2 {
			return Coordinate{}, fmt.Errorf("%w: pair has %d values", errMalformed, len(v))
		}
		return checked(Coordinate{Lat: v[0], Lon: v[1]})
	case []any:
		return fromPair(v)
	default:
		return Coordinate{}, fmt.Errorf("%w: unsupported type %T", errMalformed, raw)
	}
}

func checked(c Coordinate) (Coordinate, error) {
	if !c.Valid() {
		return Coordinate{}, fmt.Errorf("%w: %v out of range", errMalformed, c)
	}
	return c, nil
}

func fromPoint(p Point) (Coordinate, error) {
	if p.Type != "" && !strings.EqualFold(p.Type, "Point") {
		return Coordinate{}, fmt.Errorf("%w: geometry type %q", errMalformed, p.Type)
	}
	c, ok := p.Coordinate()
	if !ok {
		return Coordinate{}, fmt.Errorf("%w: point %v", errMalformed, p.Coordinates)
	}
	return c, nil
}

func fromGeoJSONMap(m map[string]any) (Coordinate, error) {
	if t, ok := m["type"].(string); ok && !strings.EqualFold(t, "Point") {
		return Coordinate{}, fmt.Errorf("%w: geometry type %q", errMalformed, t)
	}
	arr, ok := m["coordinates"].([]any)
	if !ok || len(arr) < 2 {
		return Coordinate{}, fmt.Errorf("%w: missing coordinates", errMalformed)
	}
	lon, okLon := number(arr[0])
	lat, okLat := number(arr[1])
	if !okLon || !okLat {
		return Coordinate{}, fmt.Errorf("%w: non-numeric coordinates", errMalformed)
	}
	return checked(Coordinate{Lat: lat, Lon: lon})
}

func fromPair(arr []any) (Coordinate, error) {
	if len(arr) < 2 {
		return Coordinate{}, fmt.Errorf("%w: pair has %d values", errMalformed, len(arr))
	}
	lat, okLat := number(arr[0])
	lon, okLon := number(arr[1])
	if !okLat || !okLon {
		return Coordinate{}, fmt.Errorf("%w: non-numeric pair", errMalformed)
	}
	return checked(Coordinate{Lat: lat, Lon: lon})
}

func parseJSON(data []byte) (Coordinate, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Coordinate{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if s, ok := v.(string); ok {
		return parseWKTCenter(s)
	}
	return parse(v)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// parseWKTCenter reads only the first pair of the first ring; the rest of
// the ring is not validated.
func parseWKTCenter(s string) (Coordinate, error) {
	body, err := ringBody(s)
	if err != nil {
		return Coordinate{}, err
	}
	first, _, _ := strings.Cut(body, ",")
	return parsePair(first)
}

// ParseRing returns the coordinates of the first ring of a WKT geometry
// (POINT, POLYGON or MULTIPOLYGON), converted from WKT "lon lat" order. An
// optional "SRID=nnnn;" prefix is ignored. Every vertex must be valid.
func ParseRing(wkt string) ([]Coordinate, error) {
	body, err := ringBody(wkt)
	if err != nil {
		return nil, err
	}

	var ring []Coordinate
	for _, pair := range strings.Split(body, ",") {
		c, err := parsePair(pair)
		if err != nil {
			return nil, err
		}
		ring = append(ring, c)
	}
	return ring, nil
}

// ringBody returns the text of the first ring, without parentheses.
func ringBody(wkt string) (string, error) {
	s := strings.TrimSpace(wkt)
	if i := strings.Index(s, ";"); i >= 0 && strings.HasPrefix(strings.ToUpper(s), "SRID=") {
		s = strings.TrimSpace(s[i+1:])
	}

	open := strings.Index(s, "(")
	if open < 0 {
		return "", fmt.Errorf("%w: no coordinate list in %q", errMalformed, wkt)
	}
	switch kind := strings.ToUpper(strings.TrimSpace(s[:open])); kind {
	case "POINT", "POLYGON", "MULTIPOLYGON":
	default:
		return "", fmt.Errorf("%w: unsupported geometry %q", errMalformed, kind)
	}

	body := strings.TrimLeft(s[open:], "( ")
	end := strings.Index(body, ")")
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated ring in %q", errMalformed, wkt)
	}
	return body[:end], nil
}

// parsePair reads one WKT "lon lat" pair.
func parsePair(pair string) (Coordinate, error) {
	fields := strings.Fields(pair)
	if len(fields) < 2 {
		return Coordinate{}, fmt.Errorf("%w: bad pair %q", errMalformed, pair)
	}
	lon, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: bad longitude %q", errMalformed, fields[0])
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: bad latitude %q", errMalformed, fields[1])
	}
	return checked(Coordinate{Lat: lat, Lon: lon})
}
