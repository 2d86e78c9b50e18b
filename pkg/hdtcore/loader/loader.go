// Package loader walks an input directory tree and builds the variable
// catalogue and virtual hosts the rest of the pipeline consumes: a root
// manifest of global variables, one manifest plus descriptor YAML files
// per virtual-host subdirectory.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/descriptor"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/variable"
)

// manifestFile is the top-level/per-host global-variables manifest on disk.
type manifestFile struct {
	Variables []variableSpec `yaml:"variables"`

	HostVariable string             `yaml:"host_variable"`
	Swagger      swaggerHeaderSpec  `yaml:"swagger"`
}

type swaggerHeaderSpec struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	BasePath    string   `yaml:"basePath"`
	Schemes     []string `yaml:"schemes"`
}

type variableSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Kind        string   `yaml:"kind"`
	Value       string   `yaml:"value"`
	Enum        []string `yaml:"enum"`
	Template    string   `yaml:"template"`
	Of          string   `yaml:"of"`
	Transform   string   `yaml:"transform"`
}

// descriptorFile is the on-disk shape of one API descriptor YAML file.
type descriptorFile struct {
	Name    string            `yaml:"name"`
	Private bool              `yaml:"private"`
	Tags    []string          `yaml:"tags"`
	Groups  []string          `yaml:"groups"`

	Request struct {
		Method  string            `yaml:"method"`
		Path    string            `yaml:"path"`
		Headers map[string]string `yaml:"headers"`
		Auth    string            `yaml:"auth"`
		Body    any               `yaml:"body"`
	} `yaml:"request"`

	Consumes []string `yaml:"consumes"`
	Produces []string `yaml:"produces"`

	OnBeforeRun []hookSpec `yaml:"on_before_run"`
	Before      []hookSpec `yaml:"before"`
	AfterAPI    []hookSpec `yaml:"after_api"`
	AfterAll    []hookSpec `yaml:"after_all"`
	OnAfterRun  []hookSpec `yaml:"on_after_run"`

	Responses map[string]responseSpec `yaml:"responses"`
}

type hookSpec struct {
	Name  string `yaml:"name"`
	Quit  []int  `yaml:"quit"`
	Fatal bool   `yaml:"fatal"`
}

type responseSpec struct {
	Description string   `yaml:"description"`
	Body        any       `yaml:"body"`
	BodyMD      map[string]any `yaml:"bodymd"`
	Schema      map[string]any `yaml:"schema"`
	IgnoreBody  bool      `yaml:"ignore_body"`
	SerialVars  []string  `yaml:"serial_vars"`

	Actions actionsSpec `yaml:"actions"`
	Tests   []testSpec  `yaml:"tests"`
}

type actionsSpec struct {
	VarSet    []varSetSpec  `yaml:"var_set"`
	VarNew    *varNewSpec   `yaml:"var_new"`
	VarRename []varRenameSp `yaml:"var_rename"`
	VarDelete []string      `yaml:"var_delete"`
}

type varSetSpec struct {
	Name  string `yaml:"name"`
	Path  string `yaml:"path"`
	Value string `yaml:"value"`
}

type varNewSpec struct {
	Name       string   `yaml:"name"`
	Path       string   `yaml:"path"`
	Get        string   `yaml:"get"`
	Delete     string   `yaml:"delete"`
	SerialVars []string `yaml:"serial_vars"`
}

type varRenameSp struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type testSpec struct {
	Name string            `yaml:"name"`
	Vars map[string]string `yaml:"vars"`

	OnBeforeRun []hookSpec `yaml:"on_before_run"`
	Before      []hookSpec `yaml:"before"`
	AfterAPI    []hookSpec `yaml:"after_api"`
	AfterAll    []hookSpec `yaml:"after_all"`
	OnAfterRun  []hookSpec `yaml:"on_after_run"`
}

// Corpus is everything the loader produces: the global catalogue plus
// every discovered virtual host.
type Corpus struct {
	Catalogue    *variable.Catalogue
	VirtualHosts []*descriptor.VirtualHost
}

// Load walks dir, reading the top-level manifest, one manifest + set of
// descriptor files per subdirectory ("virtual host"), honoring .hdtignore
// exclusion globs.
func Load(dir string, extraVars map[string]string) (*Corpus, error) {
	cat := variable.NewCatalogue()

	ignore, err := loadIgnorePatterns(dir)
	if err != nil {
		return nil, err
	}

	rootManifestPath := filepath.Join(dir, "manifest.yaml")
	if _, err := os.Stat(rootManifestPath); err == nil {
		root, err := readManifest(rootManifestPath)
		if err != nil {
			return nil, err
		}
		declareVariables(cat, root.Variables)
	}

	for name, value := range extraVars {
		cat.Declare(&variable.Variable{Name: name, Kind: variable.KindScalar, Scalar: value})
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loader: reading %s: %w", dir, err)
	}

	var hosts []*descriptor.VirtualHost
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if matchesIgnore(entry.Name(), ignore) {
			continue
		}
		hostDir := filepath.Join(dir, entry.Name())
		vh, err := loadVirtualHost(hostDir, entry.Name(), cat)
		if err != nil {
			return nil, err
		}
		if vh == nil {
			continue
		}
		hosts = append(hosts, vh)
	}

	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })

	return &Corpus{Catalogue: cat, VirtualHosts: hosts}, nil
}

func loadVirtualHost(hostDir, name string, cat *variable.Catalogue) (*descriptor.VirtualHost, error) {
	manifestPath := filepath.Join(hostDir, "manifest.yaml")
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, nil
	}
	m, err := readManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	declareVariables(cat, m.Variables)

	vh := &descriptor.VirtualHost{
		Name:         name,
		HostVariable: m.HostVariable,
		SwaggerInfo: descriptor.SwaggerInfo{
			Title:       m.Swagger.Title,
			Description: m.Swagger.Description,
			Version:     m.Swagger.Version,
			BasePath:    m.Swagger.BasePath,
			Schemes:     m.Swagger.Schemes,
		},
	}

	entries, err := os.ReadDir(hostDir)
	if err != nil {
		return nil, fmt.Errorf("loader: reading %s: %w", hostDir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if n == "manifest.yaml" || strings.HasPrefix(n, "swagger-") {
			continue
		}
		if !strings.HasSuffix(n, ".yaml") && !strings.HasSuffix(n, ".yml") {
			continue
		}
		files = append(files, n)
	}
	sort.Strings(files)

	for _, f := range files {
		d, err := readDescriptor(filepath.Join(hostDir, f), name)
		if err != nil {
			return nil, err
		}
		// The host variable's runtime value is the scheme+authority prefix of
		// every request path the host owns. Absolute
		// paths in a descriptor are left untouched.
		if vh.HostVariable != "" && !strings.Contains(d.Request.Path, "://") {
			d.Request.Path = "${" + vh.HostVariable + "}" + d.Request.Path
		}
		vh.Descriptors = append(vh.Descriptors, d)
	}

	return vh, nil
}

func readManifest(path string) (*manifestFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: reading manifest %s: %w", path, err)
	}
	var m manifestFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("loader: parsing manifest %s: %w", path, err)
	}
	return &m, nil
}

func declareVariables(cat *variable.Catalogue, specs []variableSpec) {
	for _, s := range specs {
		v := &variable.Variable{
			Name:        s.Name,
			Description: s.Description,
			Template:    s.Template,
			Of:          s.Of,
			Enum:        s.Enum,
			Scalar:      s.Value,
		}
		switch strings.ToLower(s.Kind) {
		case "enumeration", "enum":
			v.Kind = variable.KindEnumeration
		case "template":
			v.Kind = variable.KindTemplate
		case "computed":
			v.Kind = variable.KindComputed
			switch strings.ToLower(s.Transform) {
			case "base64":
				v.Transform = variable.TransformBase64
			case "":
				v.Transform = variable.TransformNone
			default:
				v.Transform = variable.Transform(s.Transform)
			}
		default:
			v.Kind = variable.KindScalar
		}
		cat.Declare(v)
	}
}

func readDescriptor(path, hostName string) (*descriptor.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: reading descriptor %s: %w", path, err)
	}
	var df descriptorFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("loader: parsing descriptor %s: %w", path, err)
	}

	name := df.Name
	if name == "" {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		name = hostName + "/" + base
	}

	d := &descriptor.Descriptor{
		Name:        name,
		Private:     df.Private,
		Tags:        df.Tags,
		Groups:      df.Groups,
		OnBeforeRun: toHooks(df.OnBeforeRun),
		Before:      toHooks(df.Before),
		AfterAPI:    toHooks(df.AfterAPI),
		AfterAll:    toHooks(df.AfterAll),
		OnAfterRun:  toHooks(df.OnAfterRun),
	}
	d.Request = descriptor.RequestTemplate{
		Method:  df.Request.Method,
		Path:    df.Request.Path,
		Headers: df.Request.Headers,
		Auth:    df.Request.Auth,
		Body:    df.Request.Body,
	}
	d.Extra.Consumes = df.Consumes
	d.Extra.Produces = df.Produces

	d.Responses = make(map[int]*descriptor.ResponseDescriptor, len(df.Responses))
	for statusText, rs := range df.Responses {
		status, err := parseStatus(statusText)
		if err != nil {
			return nil, fmt.Errorf("loader: descriptor %s: %w", name, err)
		}
		d.Responses[status] = &descriptor.ResponseDescriptor{
			Status:      status,
			Description: rs.Description,
			BodySketch:  rs.Body,
			BodyOverlay: rs.BodyMD,
			BodySchema:  rs.Schema,
			IgnoreBody:  rs.IgnoreBody,
			SerialVars:  rs.SerialVars,
			Actions:     toActions(rs.Actions),
			Tests:       toTests(rs.Tests),
		}
	}

	return d, nil
}

func parseStatus(s string) (int, error) {
	var status int
	if _, err := fmt.Sscanf(s, "%d", &status); err != nil {
		return 0, fmt.Errorf("invalid response status key %q", s)
	}
	return status, nil
}

func toHooks(in []hookSpec) []descriptor.Hook {
	if len(in) == 0 {
		return nil
	}
	out := make([]descriptor.Hook, len(in))
	for i, h := range in {
		out[i] = descriptor.Hook{Name: h.Name, Quit: h.Quit, Fatal: h.Fatal}
	}
	return out
}

func toActions(in actionsSpec) descriptor.Actions {
	out := descriptor.Actions{VarDeletes: in.VarDelete}
	for _, vs := range in.VarSet {
		out.VarSets = append(out.VarSets, descriptor.VarSet{Name: vs.Name, Path: vs.Path, Value: vs.Value})
	}
	for _, vr := range in.VarRename {
		out.VarRenames = append(out.VarRenames, descriptor.VarRename{From: vr.From, To: vr.To})
	}
	if in.VarNew != nil {
		out.VarNew = &descriptor.VarNew{
			Name:       in.VarNew.Name,
			Path:       in.VarNew.Path,
			Get:        in.VarNew.Get,
			Delete:     in.VarNew.Delete,
			SerialVars: in.VarNew.SerialVars,
		}
	}
	return out
}

func toTests(in []testSpec) []descriptor.Test {
	if len(in) == 0 {
		return nil
	}
	out := make([]descriptor.Test, len(in))
	for i, ts := range in {
		out[i] = descriptor.Test{
			Name:        ts.Name,
			Vars:        ts.Vars,
			OnBeforeRun: toHooks(ts.OnBeforeRun),
			Before:      toHooks(ts.Before),
			AfterAPI:    toHooks(ts.AfterAPI),
			AfterAll:    toHooks(ts.AfterAll),
			OnAfterRun:  toHooks(ts.OnAfterRun),
		}
	}
	return out
}
