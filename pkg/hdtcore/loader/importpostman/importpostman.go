// Package importpostman generates skeleton descriptor data from a Postman
// Collection, for the supplemental `hdt import` command.
package importpostman

import (
	"fmt"
	"strings"

	postman "github.com/rbretecher/go-postman-collection"
)

// SkeletonDescriptor is the shape written out as one descriptor YAML file.
type SkeletonDescriptor struct {
	Name    string
	Method  string
	Path    string
	Headers map[string]string
}

// Import walks every request in col, including nested folders, flattening
// them into skeleton descriptors.
func Import(col *postman.Collection) ([]SkeletonDescriptor, error) {
	if col == nil {
		return nil, fmt.Errorf("importpostman: nil collection")
	}
	var out []SkeletonDescriptor
	walkItems(col.Items, &out)
	return out, nil
}

func walkItems(items []*postman.Items, out *[]SkeletonDescriptor) {
	for _, item := range items {
		if item == nil {
			continue
		}
		if len(item.Items) > 0 {
			walkItems(item.Items, out)
			continue
		}
		if item.Request == nil {
			continue
		}
		*out = append(*out, SkeletonDescriptor{
			Name:    item.Name,
			Method:  strings.ToUpper(string(item.Request.Method)),
			Path:    requestPath(item.Request),
			Headers: requestHeaders(item.Request),
		})
	}
}

func requestPath(req *postman.Request) string {
	if req.URL == nil {
		return ""
	}
	if req.URL.Raw != "" {
		return req.URL.Raw
	}
	return "/" + strings.Join(req.URL.Path, "/")
}

func requestHeaders(req *postman.Request) map[string]string {
	headers := make(map[string]string, len(req.Header))
	for _, h := range req.Header {
		headers[h.Key] = h.Value
	}
	return headers
}
