// Package observability provides metrics for the trainer service.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrArch    = "architecture"
	attrTarget  = "target"
	attrSuccess = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality: 200-299 -> 2xx, etc.
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func archAttr(arch string) attribute.KeyValue {
	return attribute.String(attrArch, arch)
}

func targetAttr(target string) attribute.KeyValue {
	return attribute.String(attrTarget, target)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// normalizePath replaces dynamic path segments with placeholders to keep
// metric cardinality bounded.
func normalizePath(path string) string {
	if rest, ok := strings.CutPrefix(path, "/v1/trainings/"); ok && rest != "" {
		return "/v1/trainings/{jobId}"
	}
	if rest, ok := strings.CutPrefix(path, "/v1/nodes/"); ok && rest != "" {
		return "/v1/nodes/{name}"
	}
	return path
}
