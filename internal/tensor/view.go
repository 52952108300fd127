package tensor

// View returns the typed float view of a RawTensor's data. It is the generic
// counterpart of AsFloat32/AsFloat64 for code parameterized on the model's
// precision class.
func View[T Float](r *RawTensor) []T {
	var dummy T
	switch any(dummy).(type) {
	case float32:
		return any(r.AsFloat32()).([]T)
	default:
		return any(r.AsFloat64()).([]T)
	}
}

// FromSlice creates a CPU RawTensor holding a copy of data.
func FromSlice[T Float](data []T, shape Shape) (*RawTensor, error) {
	raw, err := NewRaw(shape, DataTypeOf[T](), CPU)
	if err != nil {
		return nil, err
	}
	copy(View[T](raw), data)
	return raw, nil
}
