package sqlite

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	sqlite "modernc.org/sqlite"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions makes the libSQL vector functions available on every
// connection opened afterwards. The driver keeps registrations globally, so
// this runs once per process.
func registerFunctions() error {
	registerOnce.Do(func() {
		fns := []struct {
			name  string
			nArgs int32
			fn    func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error)
		}{
			{"vector", 1, vectorImpl},
			{"vector32", 1, vectorImpl},
			{"vector_extract", 1, vectorExtractImpl},
			{"vector_distance_cos", 2, distanceCosImpl},
			{"libsql_vector_idx", 1, identityImpl},
		}
		for _, f := range fns {
			if err := sqlite.RegisterDeterministicScalarFunction(f.name, f.nArgs, f.fn); err != nil {
				registerErr = fmt.Errorf("registering %s: %w", f.name, err)
				return
			}
		}
	})
	return registerErr
}

func vectorImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	v, err := asVector(args[0])
	if err != nil {
		return nil, fmt.Errorf("vector: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	return encodeFloat32s(v), nil
}

func vectorExtractImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	v, err := asVector(args[0])
	if err != nil {
		return nil, fmt.Errorf("vector_extract: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	return formatVector(v), nil
}

func distanceCosImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, err := asVector(args[0])
	if err != nil {
		return nil, fmt.Errorf("vector_distance_cos: %w", err)
	}
	b, err := asVector(args[1])
	if err != nil {
		return nil, fmt.Errorf("vector_distance_cos: %w", err)
	}
	if a == nil || b == nil {
		return nil, nil
	}
	sim, err := cosine(a, b)
	if err != nil {
		return nil, fmt.Errorf("vector_distance_cos: %w", err)
	}
	return 1 - sim, nil
}

func identityImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	return args[0], nil
}

// asVector accepts either an encoded blob or a JSON array literal.
func asVector(arg driver.Value) ([]float32, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case []byte:
		return decodeFloat32s(v)
	case string:
		return parseVector(v)
	default:
		return nil, fmt.Errorf("unsupported argument type %T", arg)
	}
}

// parseVector parses a literal such as "[0.1,0.2,0.3]".
func parseVector(s string) ([]float32, error) {
	var raw []float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &raw); err != nil {
		return nil, fmt.Errorf("parsing vector literal: %w", err)
	}
	v := make([]float32, len(raw))
	for i, f := range raw {
		v[i] = float32(f)
	}
	return v, nil
}

func formatVector(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch %d vs %d", len(a), len(b))
	}
	var dot, na2, nb2 float64
	for i := range a {
		va, vb := float64(a[i]), float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na2) * math.Sqrt(nb2)), nil
}
