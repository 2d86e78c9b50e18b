// Package swagger emits one Swagger 2.0 document per virtual host.
package swagger

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/descriptor"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/schema"
)

// Document is the root Swagger 2.0 object, marshaled directly to JSON.
type Document struct {
	Swagger     string                    `json:"swagger"`
	Info        Info                      `json:"info"`
	Host        string                    `json:"host,omitempty"`
	BasePath    string                    `json:"basePath,omitempty"`
	Schemes     []string                  `json:"schemes,omitempty"`
	Paths       map[string]PathItem       `json:"paths"`
	Definitions map[string]map[string]any `json:"definitions,omitempty"`
}

// Info is the Swagger "info" block.
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// PathItem maps HTTP method to Operation.
type PathItem map[string]Operation

// Operation describes one method on one path.
type Operation struct {
	Tags        []string            `json:"tags,omitempty"`
	Summary     string              `json:"summary,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  []Parameter         `json:"parameters,omitempty"`
	Responses   map[string]Response `json:"responses"`
}

// Parameter is one path/query/header/body parameter.
type Parameter struct {
	Name     string         `json:"name"`
	In       string         `json:"in"`
	Required bool           `json:"required,omitempty"`
	Type     string         `json:"type,omitempty"`
	Schema   map[string]any `json:"schema,omitempty"`
}

// Response is one status-code response entry.
type Response struct {
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema,omitempty"`
}

var pathVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Build emits one Swagger document per virtual host.
func Build(vh *descriptor.VirtualHost) (*Document, error) {
	doc := &Document{
		Swagger: "2.0",
		Info: Info{
			Title:       vh.SwaggerInfo.Title,
			Description: vh.SwaggerInfo.Description,
			Version:     vh.SwaggerInfo.Version,
		},
		BasePath: vh.SwaggerInfo.BasePath,
		Schemes:  vh.SwaggerInfo.Schemes,
		Paths:    make(map[string]PathItem),
	}

	names := make([]string, 0, len(vh.Descriptors))
	byName := make(map[string]*descriptor.Descriptor, len(vh.Descriptors))
	for _, d := range vh.Descriptors {
		if d.Private {
			continue
		}
		names = append(names, d.Name)
		byName[d.Name] = d
	}
	sort.Strings(names)

	for _, name := range names {
		d := byName[name]
		swaggerPath := normalizePath(stripHostPrefix(d.Request.Path, vh.HostVariable))
		item, ok := doc.Paths[swaggerPath]
		if !ok {
			item = PathItem{}
		}

		op := Operation{
			Tags:       d.Tags,
			Summary:    d.Name,
			Parameters: pathParameters(stripHostPrefix(d.Request.Path, vh.HostVariable)),
			Responses:  map[string]Response{},
		}

		statuses := make([]int, 0, len(d.Responses))
		for s := range d.Responses {
			statuses = append(statuses, s)
		}
		sort.Ints(statuses)

		for _, status := range statuses {
			resp := d.Responses[status]
			r := Response{Description: resp.Description}
			if resp.BodySchema != nil {
				r.Schema = resp.BodySchema
			} else if resp.BodySketch != nil {
				translated, _, err := schema.Translate(resp.BodySketch)
				if err != nil {
					return nil, err
				}
				r.Schema = translated
			}
			r.Description = firstNonEmpty(r.Description, httpStatusText(status))
			op.Responses[strconv.Itoa(status)] = r
		}

		item[strings.ToLower(d.Request.Method)] = op
		doc.Paths[swaggerPath] = item
	}

	return doc, nil
}

// stripHostPrefix removes the virtual host's scheme+authority variable from
// the front of a request path: Swagger path keys are host-relative.
func stripHostPrefix(path, hostVariable string) string {
	if hostVariable == "" {
		return path
	}
	for _, prefix := range []string{"${" + hostVariable + "}", "$" + hostVariable} {
		if strings.HasPrefix(path, prefix) {
			return path[len(prefix):]
		}
	}
	return path
}

// normalizePath turns "$var"/"${var}" path segments into Swagger's "{var}"
// form.
func normalizePath(path string) string {
	return pathVarPattern.ReplaceAllStringFunc(path, func(match string) string {
		sub := pathVarPattern.FindStringSubmatch(match)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		return "{" + name + "}"
	})
}

func pathParameters(path string) []Parameter {
	matches := pathVarPattern.FindAllStringSubmatch(path, -1)
	var params []Parameter
	seen := make(map[string]bool)
	for _, m := range matches {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		params = append(params, Parameter{Name: name, In: "path", Required: true, Type: "string"})
	}
	return params
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func httpStatusText(status int) string {
	switch status {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 409:
		return "Conflict"
	case 422:
		return "Unprocessable Entity"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	default:
		return "Response"
	}
}
