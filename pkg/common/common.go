package common

import (
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	idNode     *snowflake.Node
	idNodeOnce sync.Once
)

// SetNodeID configures the snowflake node used by UUIDint64. It must be called
// before the first id is generated to take effect.
func SetNodeID(id int64) {
	idNodeOnce.Do(func() {
		idNode = mustNode(id)
	})
}

func mustNode(id int64) *snowflake.Node {
	node, err := snowflake.NewNode(id)
	if err != nil {
		panic(err)
	}
	return node
}

// UUIDint64 returns a process-unique, time ordered int64 id
func UUIDint64() int64 {
	idNodeOnce.Do(func() {
		idNode = mustNode(1)
	})
	return idNode.Generate().Int64()
}

// AnyEmpty reports whether any of the values is blank
func AnyEmpty(vals ...string) bool {
	for _, v := range vals {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
