package swrcache

import (
	"fmt"
	"strings"
)

// keyPrefix owns the "entry:" keyspace in the backing store. External code
// must not write under it; foreign bytes there are treated as corruption
// and deleted on read.
const keyPrefix = "entry"

const segmentSeparator = ":"

// validateSegment rejects names that could collide in the qualified key
// space. The separator is reserved, and whitespace is almost always a caller
// bug rather than an intentional segment name.
func validateSegment(name string) error {
	if name == "" {
		return fmt.Errorf("swrcache: segment is required")
	}
	if strings.Contains(name, segmentSeparator) {
		return fmt.Errorf("swrcache: segment %q contains reserved separator %q", name, segmentSeparator)
	}
	if strings.ContainsAny(name, " \t\n\r") {
		return fmt.Errorf("swrcache: segment %q contains whitespace", name)
	}
	return nil
}

// qualifyKey maps (segment, id) to the fully-qualified storage key.
// Distinct (segment, id) pairs cannot collide: the segment cannot contain
// the separator, so the key parses unambiguously.
func qualifyKey(segment, id string) string {
	return keyPrefix + segmentSeparator + segment + segmentSeparator + id
}
