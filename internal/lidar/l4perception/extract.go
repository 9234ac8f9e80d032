package l4perception

// ExtractObjectPoints gathers the points at indices, in the order the
// indices were recorded during the sweep.
func ExtractObjectPoints(points []Point3D, indices []int) []Point3D {
	out := make([]Point3D, 0, len(indices))
	for _, i := range indices {
		out = append(out, points[i])
	}
	return out
}
