package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/expand"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/loader"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/planner"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/variable"
)

// buildPlan runs the load -> resolve -> expand -> filter -> plan pipeline
// shared by `compile` and `run`. It returns the full corpus of
// Concrete APIs considered (for hook/getter/destructor resolution by name,
// which must see referenced-only APIs too), the built tree (only the
// insertable subset matching -tests), and the resolved base environment the
// runtime should fork from.
func buildPlan(log *zap.Logger) ([]*expand.ConcreteAPI, *planner.Tree, *variable.Environment, *variable.Catalogue, error) {
	extraVars, err := loadConfigVars(configFile)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("loading -config files: %w", err)
	}
	for k, v := range parseVarAssignments() {
		extraVars[k] = v // -var always wins over -config
	}

	corpus, err := loader.Load(indir, extraVars)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load: %w", err)
	}

	baseEnv, err := corpus.Catalogue.Resolve()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("resolving variable catalogue: %w", err)
	}

	var all []*expand.ConcreteAPI
	for _, vh := range corpus.VirtualHosts {
		for _, d := range vh.Descriptors {
			apis, err := expand.Expand(d, corpus.Catalogue)
			if err != nil {
				return nil, nil, nil, nil, fmt.Errorf("expanding %s: %w", d.Name, err)
			}
			all = append(all, apis...)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	filtered := filterByTestPrefix(all, testPrefix)

	// Enumerations count as predefined for dependency satisfaction: the
	// runtime binds one candidate value per combination before any request
	// that consumes them is grounded.
	predefined := planner.Predefined{}
	for _, name := range baseEnv.Names() {
		predefined[name] = true
	}
	for _, name := range corpus.Catalogue.EnumerationNames() {
		predefined[name] = true
	}

	tree, err := planner.Build(filtered, all, predefined)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("planning: %w", err)
	}

	if log != nil {
		log.Debug("plan built", zap.Int("corpus", len(all)), zap.Int("planned", len(filtered)))
	}

	return all, tree, baseEnv, corpus.Catalogue, nil
}

// filterByTestPrefix keeps every API whose own Name or any of its Groups
// starts with at least one of the given prefixes. No prefixes means "everything".
func filterByTestPrefix(apis []*expand.ConcreteAPI, prefixes []string) []*expand.ConcreteAPI {
	if len(prefixes) == 0 {
		return apis
	}
	var out []*expand.ConcreteAPI
	for _, a := range apis {
		if matchesAnyPrefix(a.Name, prefixes) || matchesAnyPrefix(a.DescriptorName, prefixes) {
			out = append(out, a)
			continue
		}
		for _, g := range a.Groups {
			if matchesAnyPrefix(g, prefixes) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// loadConfigVars reads the comma-separated `-config FILE[,FILE]` list of
// JSON variable files, each a flat {"name": "value"} object,
// later files overriding earlier ones.
func loadConfigVars(commaSeparated string) (map[string]string, error) {
	out := make(map[string]string)
	if commaSeparated == "" {
		return out, nil
	}
	for _, path := range strings.Split(commaSeparated, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var fileVars map[string]string
		if err := json.Unmarshal(data, &fileVars); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		for k, v := range fileVars {
			out[k] = v
		}
	}
	return out, nil
}

func matchesAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
