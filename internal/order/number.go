package order

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
)

// NumberPrefix starts every human facing order number
const NumberPrefix = "ORD"

// NumberGenerator produces candidate order numbers. Uniqueness is enforced
// by the ledger, a collision makes the pipeline ask for another number.
type NumberGenerator interface {
	Next() string
}

// SnowflakeNumbers embeds creation milliseconds, node id and a per
// millisecond sequence, so numbers never repeat within a node
type SnowflakeNumbers struct {
	node *snowflake.Node
}

func NewSnowflakeNumbers(nodeID int64) (*SnowflakeNumbers, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("order number node %d: %w", nodeID, err)
	}
	return &SnowflakeNumbers{node: node}, nil
}

func (g *SnowflakeNumbers) Next() string {
	return NumberPrefix + g.node.Generate().String()
}

// ClockNumbers is ORD followed by Unix milliseconds. Two orders in the same
// millisecond collide.
type ClockNumbers struct {
	Now func() time.Time
}

func (g ClockNumbers) Next() string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return NumberPrefix + strconv.FormatInt(now().UnixMilli(), 10)
}

// NewNumberGenerator returns the generator for scheme, snowflake or clock
func NewNumberGenerator(scheme string, nodeID int64) (NumberGenerator, error) {
	switch scheme {
	case "", "snowflake":
		return NewSnowflakeNumbers(nodeID)
	case "clock":
		return ClockNumbers{}, nil
	default:
		return nil, fmt.Errorf("unknown order number scheme %q", scheme)
	}
}
