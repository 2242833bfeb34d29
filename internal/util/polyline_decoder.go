package util

// DecodePolyline converts an encoded polyline (Google format, 1e-5 precision)
// into [lat, lng] pairs. Evacuation routes and simulated device routes both use it.
func DecodePolyline(encoded string) [][2]float64 {
	return DecodePolylineWithPrecision(encoded, 1e-5)
}

// DecodePolylineWithPrecision decodes a polyline with a custom precision factor.
// A truncated trailing pair is dropped.
func DecodePolylineWithPrecision(encoded string, precision float64) [][2]float64 {
	var points [][2]float64
	index, lat, lng := 0, 0, 0

	for index < len(encoded) {
		dLat, next, ok := decodeValue(encoded, index)
		if !ok {
			return points
		}
		dLng, next, ok := decodeValue(encoded, next)
		if !ok {
			return points
		}
		index = next
		lat += dLat
		lng += dLng

		points = append(points, [2]float64{float64(lat) * precision, float64(lng) * precision})
	}

	return points
}

// decodeValue reads one zigzag varint starting at index
func decodeValue(encoded string, index int) (value, next int, ok bool) {
	shift, result := 0, 0
	for {
		if index >= len(encoded) {
			return 0, index, false
		}
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index, true
	}
	return result >> 1, index, true
}
