package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Common helper functions for optimizer state management

// extractBufferState copies a single buffer into a state tensor
func extractBufferState(buffer *mat.Dense, name string, stateType string) *StateTensor {
	if buffer == nil {
		return nil
	}
	r, c := buffer.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, buffer.RawRowView(i)...)
	}
	return &StateTensor{
		Name:      name,
		Shape:     []int{r, c},
		Data:      data,
		StateType: stateType,
	}
}

// restoreBufferState copies saved state back into a buffer
func restoreBufferState(buffer *mat.Dense, data []float64, name string) error {
	if buffer == nil {
		return fmt.Errorf("%s buffer is nil", name)
	}
	r, c := buffer.Dims()
	if len(data) != r*c {
		return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			name, r*c, len(data))
	}
	for i := 0; i < r; i++ {
		copy(buffer.RawRowView(i), data[i*c:(i+1)*c])
	}
	return nil
}

// zeroLike allocates a zero buffer shaped like m
func zeroLike(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	return mat.NewDense(r, c, nil)
}

// extractFloat64Param safely extracts a float parameter from the state map
func extractFloat64Param(params map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := params[key].(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case float64:
		return uint64(val)
	case uint64:
		return val
	case int:
		return uint64(val)
	}
	return defaultValue
}
