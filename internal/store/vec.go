package store

import (
	"database/sql/driver"
	"fmt"
	"math"

	sqlite "modernc.org/sqlite"

	"github.com/rcliao/agent-recall/internal/embedding"
)

func init() {
	// vec_l2(a, b) is the Euclidean distance between two float32 blobs.
	_ = sqlite.RegisterDeterministicScalarFunction("vec_l2", 2, vecL2)
}

func vecL2(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_l2 expects 2 arguments")
	}
	a, err := blobArg(args[0])
	if err != nil {
		return nil, err
	}
	b, err := blobArg(args[1])
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, nil
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("vec_l2: dimension mismatch %d vs %d", len(a), len(b))
	}
	d := embedding.EuclideanDistance(a, b)
	if math.IsNaN(d) {
		return nil, nil
	}
	return d, nil
}

func blobArg(v driver.Value) ([]float32, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return embedding.Decode(x)
	case string:
		return embedding.Decode([]byte(x))
	default:
		return nil, fmt.Errorf("vec_l2: unsupported argument type %T", v)
	}
}
