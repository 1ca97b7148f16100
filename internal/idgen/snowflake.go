package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Snowflake issues 64-bit ids ordered by creation time: 41 bits of milliseconds,
// 10 bits of node, 12 bits of per-millisecond sequence. Ids from one node are
// strictly increasing, including under concurrent callers.
type Snowflake struct {
	node *snowflake.Node
}

func NewSnowflake(nodeID int64) (*Snowflake, error) {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: n}, nil
}

func (s *Snowflake) Next() int64 {
	return s.node.Generate().Int64()
}
