package dag

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency edge that would close a cycle. Path
// lists the keys along the cycle, starting and ending at the same key.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}
