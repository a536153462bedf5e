package queue

import (
	"fmt"
	"strings"
)

// qualifiedStructName returns "pkg.Type" for a payload value; used as the default task name.
func qualifiedStructName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}
