// Package importopenapi generates skeleton descriptor YAML from an
// OpenAPI 3 / Swagger 2 document, for the supplemental `hdt import`
// command. It is additive: the native YAML
// descriptor format (pkg/hdtcore/loader) remains the primary input format.
package importopenapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pb33f/libopenapi"
	v3 "github.com/pb33f/libopenapi/datamodel/high/v3"
)

// SkeletonDescriptor is the shape written out as one descriptor YAML file.
type SkeletonDescriptor struct {
	Name    string
	Method  string
	Path    string
	Tags    []string
	Status  int
	Summary string
}

// Import parses an OpenAPI/Swagger document and returns one skeleton
// descriptor per operation, sorted by path then method for deterministic
// output file naming.
func Import(specBytes []byte) ([]SkeletonDescriptor, error) {
	doc, err := libopenapi.NewDocument(specBytes)
	if err != nil {
		return nil, fmt.Errorf("importopenapi: parsing document: %w", err)
	}

	model, err := doc.BuildV3Model()
	if err != nil {
		return nil, fmt.Errorf("importopenapi: building model: %w", err)
	}
	if model == nil || model.Model.Paths == nil {
		return nil, fmt.Errorf("importopenapi: document has no paths")
	}

	var out []SkeletonDescriptor
	for pair := model.Model.Paths.PathItems.First(); pair != nil; pair = pair.Next() {
		path := pair.Key()
		item := pair.Value()
		for method, op := range operationsOf(item) {
			if op == nil {
				continue
			}
			status := defaultSuccessStatus(op)
			out = append(out, SkeletonDescriptor{
				Name:    operationName(op, method, path),
				Method:  strings.ToUpper(method),
				Path:    path,
				Tags:    op.Tags,
				Status:  status,
				Summary: op.Summary,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out, nil
}

func operationsOf(item *v3.PathItem) map[string]*v3.Operation {
	return map[string]*v3.Operation{
		"get":     item.Get,
		"put":     item.Put,
		"post":    item.Post,
		"delete":  item.Delete,
		"options": item.Options,
		"head":    item.Head,
		"patch":   item.Patch,
		"trace":   item.Trace,
	}
}

func operationName(op *v3.Operation, method, path string) string {
	if op.OperationId != "" {
		return op.OperationId
	}
	return strings.ToLower(method) + strings.ReplaceAll(path, "/", "_")
}

func defaultSuccessStatus(op *v3.Operation) int {
	if op.Responses == nil {
		return 200
	}
	for pair := op.Responses.Codes.First(); pair != nil; pair = pair.Next() {
		code := pair.Key()
		if strings.HasPrefix(code, "2") {
			var status int
			if _, err := fmt.Sscanf(code, "%d", &status); err == nil {
				return status
			}
		}
	}
	return 200
}
