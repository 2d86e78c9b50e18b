// Package runtime walks the test execution tree, substituting variables
// into HTTP requests, validating responses, applying actions, and
// enforcing per-resource serialisation. Sibling subtrees run concurrently,
// each over its own copy of the variable environment.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/descriptor"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/expand"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/httpclient"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/planner"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/variable"
)

// HookFunc is an in-process hook callback, the Func case of descriptor.Hook.
type HookFunc func(ctx *RunContext) error

// Invoker dispatches one grounded request and returns the raw response. The
// concrete implementation lives in httpclient; Invoker lets tests fake it.
type Invoker interface {
	Do(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error)
}

// Result records one node's outcome, identified by its dotted tree path.
type Result struct {
	Identifier string
	APIName    string
	Status     int
	Passed     bool
	Err        error
	Children   []*Result
}

// RunContext is the per-node, per-variable-combination execution frame.
// ignoreFailures is set on preRun/postRun satellite frames and inherited
// by their children. It is also the context handed to hook
// callbacks, exposing GetVar/SetVar/IsBreak/SetBreak/SendRequest.
type RunContext struct {
	Node           *planner.Node
	Identifier     string
	Parent         *RunContext
	Env            *variable.Environment
	ignoreFailures bool

	rt         *Runtime
	breakFlag  bool
	response   *httpclient.Response
	parsedBody any
}

// GetVar reads a variable from this context's environment.
func (rc *RunContext) GetVar(name string) (string, bool) {
	return rc.Env.Get(name)
}

// SetVar binds a variable in this context's environment.
func (rc *RunContext) SetVar(name, value string) {
	rc.Env.Set(name, value)
}

// IsBreak reports whether an earlier hook in the current chain requested
// termination of the remaining hooks.
func (rc *RunContext) IsBreak() bool {
	return rc.breakFlag
}

// SetBreak terminates the remaining hooks of the current chain without
// error; the waterfall continues past the chain.
func (rc *RunContext) SetBreak(b bool) {
	rc.breakFlag = b
}

// SendRequest issues an ad-hoc HTTP call through the same client the main
// requests use, for hook code that needs out-of-band calls.
func (rc *RunContext) SendRequest(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	return rc.rt.Invoker.Do(ctx, req)
}

// Body returns the parsed JSON body of the most recent response seen by
// this context, or nil.
func (rc *RunContext) Body() any {
	return rc.parsedBody
}

// Runtime executes a built tree against live HTTP endpoints.
type Runtime struct {
	Invoker Invoker
	Log     *zap.Logger

	// Resolve looks up a Concrete API's sibling by descriptor name, used
	// for hook dispatch ("Name" form) -- the tree itself only links
	// parent/child/preRun/postRun, not arbitrary cross-references.
	Resolve func(descriptorName string) *expand.ConcreteAPI

	// Catalogue supplies enumeration candidates for runtime variable
	// re-expansion. Nil disables fan-out: every node runs a
	// single combination.
	Catalogue *variable.Catalogue

	// Timeout bounds each request when the caller's context carries no
	// deadline of its own.
	Timeout time.Duration

	queues serialQueues
}

// New creates a Runtime ready to execute trees.
func New(invoker Invoker, log *zap.Logger, resolve func(string) *expand.ConcreteAPI) *Runtime {
	return &Runtime{
		Invoker: invoker,
		Log:     log,
		Resolve: resolve,
		Timeout: httpclient.DefaultTimeout,
		queues:  newSerialQueues(),
	}
}

// Run executes the whole tree starting at root with env as the base
// (predefined) environment, returning the root's synthetic result wrapping
// every top-level child's outcome.
func (r *Runtime) Run(ctx context.Context, root *planner.Node, env *variable.Environment) *Result {
	rc := &RunContext{Node: root, Identifier: "", Env: env, rt: r}
	children := r.runChildren(ctx, rc, root.Children)
	return &Result{Identifier: "", APIName: "", Passed: allPassed(children), Children: children}
}

func allPassed(results []*Result) bool {
	for _, c := range results {
		if !c.Passed {
			return false
		}
	}
	return true
}

// runChildren executes node's children concurrently, each against its own
// cloned Environment, so one sibling's writes never leak into another's.
func (r *Runtime) runChildren(ctx context.Context, parent *RunContext, children []*planner.Node) []*Result {
	results := make([]*Result, len(children))
	var wg sync.WaitGroup
	for i, child := range children {
		wg.Add(1)
		go func(idx int, n *planner.Node) {
			defer wg.Done()
			childCtx := &RunContext{
				Node:           n,
				Identifier:     n.Identifier(),
				Parent:         parent,
				Env:            parent.Env.Clone(),
				ignoreFailures: parent.ignoreFailures,
				rt:             r,
			}
			results[idx] = r.runNode(ctx, childCtx)
		}(i, child)
	}
	wg.Wait()
	return results
}

// runNode re-expands the environment against the node's consumes set and
// iterates the resulting variable combinations sequentially, each in a
// fresh frame with its own deep-copied environment. A single
// combination runs directly in rc.
func (r *Runtime) runNode(ctx context.Context, rc *RunContext) *Result {
	api := rc.Node.Api

	combos, err := r.nodeCombinations(api, rc.Env)
	if err != nil {
		res := &Result{Identifier: rc.Identifier, APIName: api.Name, Err: err, Passed: rc.ignoreFailures}
		r.logFailure(rc, err)
		return res
	}

	if len(combos) == 1 {
		for k, v := range combos[0] {
			rc.Env.Set(k, v)
		}
		return r.runOnce(ctx, rc)
	}

	parent := &Result{Identifier: rc.Identifier, APIName: api.Name, Passed: true}
	for i, combo := range combos {
		frame := &RunContext{
			Node:           rc.Node,
			Identifier:     fmt.Sprintf("%s.%d", rc.Identifier, i),
			Parent:         rc.Parent,
			Env:            rc.Env.Clone(),
			ignoreFailures: rc.ignoreFailures,
			rt:             r,
		}
		for k, v := range combo {
			frame.Env.Set(k, v)
		}
		res := r.runOnce(ctx, frame)
		parent.Children = append(parent.Children, res)
		if !res.Passed {
			parent.Passed = false
		}
	}
	return parent
}

// nodeCombinations computes the Cartesian product of enumeration candidates
// for every consumed variable that is declared as an enumeration and not
// already bound in env. Zero combinations is fatal.
func (r *Runtime) nodeCombinations(api *expand.ConcreteAPI, env *variable.Environment) ([]variable.Combination, error) {
	if r.Catalogue == nil {
		return []variable.Combination{{}}, nil
	}
	var enumNames []string
	for name := range api.Consumes {
		if env.Has(name) {
			continue
		}
		if v, ok := r.Catalogue.Lookup(name); ok && v.Kind == variable.KindEnumeration {
			enumNames = append(enumNames, name)
		}
	}
	combos, err := r.Catalogue.Combinations(enumNames)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", api.Name, err)
	}
	if len(combos) == 0 {
		return nil, fmt.Errorf("%s: variable re-expansion produced zero combinations", api.Name)
	}
	return combos, nil
}

// runOnce executes the nine-stage waterfall for one node frame, then
// recurses into children. The serialisation lock, if
// any, is taken when the frame reaches its main-request stage and held
// through postRun.
func (r *Runtime) runOnce(ctx context.Context, rc *RunContext) *Result {
	api := rc.Node.Api
	result := &Result{Identifier: rc.Identifier, APIName: api.Name}

	if rc.Node.PreRun != nil {
		r.runPreRun(ctx, rc)
	}

	var release func()
	acquire := func() error {
		rel, err := r.acquireSerial(rc, api)
		if err != nil {
			return err
		}
		release = rel
		return nil
	}

	status, err, childResults, beforeOK := r.runWaterfall(ctx, rc, api, acquire)

	// The destructor satellite fires only if execution got at least as far
	// as attempting the main request: nothing can exist to tear down before
	// that.
	if rc.Node.PostRun != nil && beforeOK {
		r.runPostRun(ctx, rc)
	}

	if release != nil {
		release()
	}

	result.Status = status
	result.Err = err
	result.Children = childResults
	result.Passed = (err == nil || rc.ignoreFailures)
	for _, c := range childResults {
		if !c.Passed {
			result.Passed = false
		}
	}

	if err != nil && !rc.ignoreFailures {
		r.logFailure(rc, err)
	}

	return result
}

func (r *Runtime) logFailure(rc *RunContext, err error) {
	if r.Log == nil {
		return
	}
	r.Log.Warn("api failed", zap.String("node", rc.Identifier), zap.Error(err))
}

// runWaterfall executes stages 2-8 of the waterfall (onBeforeRun, before,
// main request, afterApi, children, afterAll, onAfterRun), per the
// stage-dependency rules: before needs onBeforeRun, main needs
// before, afterApi needs main, children needs afterApi, afterAll needs
// afterApi (not children), onAfterRun needs onBeforeRun. The first error
// encountered is remembered and returned even though later cleanup-oriented
// stages (afterAll, onAfterRun) still run. acquire is invoked immediately
// before the main request dispatch so the serialisation key sees any
// environment mutations the earlier hook stages made.
func (r *Runtime) runWaterfall(ctx context.Context, rc *RunContext, api *expand.ConcreteAPI, acquire func() error) (int, error, []*Result, bool) {
	onBeforeErr := r.runHooks(ctx, rc, api.OnBeforeRun)
	onBeforeOK := onBeforeErr == nil

	var beforeErr error
	if onBeforeOK {
		beforeErr = r.runHooks(ctx, rc, api.Before)
	} else {
		beforeErr = onBeforeErr
	}

	var status int
	var mainErr error
	if beforeErr == nil {
		if mainErr = acquire(); mainErr == nil {
			status, mainErr = r.dispatch(ctx, rc, api)
			if mainErr == nil {
				mainErr = r.applyActions(rc, api)
			}
		}
	} else {
		mainErr = beforeErr
	}

	var afterAPIErr error
	if mainErr == nil {
		afterAPIErr = r.runHooks(ctx, rc, api.AfterAPI)
	} else {
		afterAPIErr = mainErr
	}

	var children []*Result
	if afterAPIErr == nil || rc.ignoreFailures {
		children = r.runChildren(ctx, rc, rc.Node.Children)
	}

	var afterAllErr error
	if afterAPIErr == nil {
		afterAllErr = r.runHooks(ctx, rc, api.AfterAll)
	} else {
		afterAllErr = afterAPIErr
	}

	if onBeforeOK {
		if onAfterErr := r.runHooks(ctx, rc, api.OnAfterRun); onAfterErr != nil && afterAllErr == nil {
			afterAllErr = onAfterErr
		}
	}

	return status, firstNonNil(beforeErr, mainErr, afterAPIErr, afterAllErr), children, beforeErr == nil
}

func firstNonNil(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// dispatch grounds the request template against rc.Env, sends it, and
// validates the response.
func (r *Runtime) dispatch(ctx context.Context, rc *RunContext, api *expand.ConcreteAPI) (int, error) {
	req, err := groundRequest(rc.Env, api)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", api.Name, err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	resp, err := r.Invoker.Do(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", api.Name, err)
	}
	rc.response = resp

	if resp.Status != api.ExpectedStatus {
		return resp.Status, fmt.Errorf("%s: expected status %d, got %d", api.Name, api.ExpectedStatus, resp.Status)
	}

	if isJSON(resp.Headers) {
		doc, err := parseJSON(resp.Body)
		if err != nil {
			return resp.Status, fmt.Errorf("%s: response body is not valid JSON: %w", api.Name, err)
		}
		rc.parsedBody = doc
	}

	if api.Response.IgnoreBody {
		return resp.Status, nil
	}

	schemaDoc := api.Response.BodySchema
	if len(schemaDoc) == 0 {
		return resp.Status, nil
	}
	if rc.parsedBody == nil {
		return resp.Status, fmt.Errorf("%s: response has a body schema but no JSON body", api.Name)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schemaDoc), gojsonschema.NewGoLoader(rc.parsedBody))
	if err != nil {
		return resp.Status, fmt.Errorf("%s: schema validation error: %w", api.Name, err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return resp.Status, fmt.Errorf("%s: response body failed schema validation: %s", api.Name, strings.Join(msgs, "; "))
	}
	return resp.Status, nil
}

func isJSON(headers map[string]string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "application/json")
		}
	}
	return false
}

// runHooks executes a hook chain in order. A hook calling
// SetBreak(true) terminates the remaining hooks without error; a hook API
// returning a status listed in its Quit set does the same (the resolved
// quit-semantics Open Question: presence-in-list, not indexOf-truthy). A
// user-function error is a hook error and fails the chain.
func (r *Runtime) runHooks(ctx context.Context, rc *RunContext, hooks []descriptor.Hook) error {
	rc.breakFlag = false
	defer func() { rc.breakFlag = false }()

	for _, h := range hooks {
		if rc.breakFlag {
			return nil
		}
		if h.Func != nil {
			fn, ok := h.Func.(HookFunc)
			if !ok {
				return fmt.Errorf("hook has unsupported callback type %T", h.Func)
			}
			if err := fn(rc); err != nil {
				return fmt.Errorf("hook: %w", err)
			}
			continue
		}
		if h.Name == "" {
			continue
		}
		target := r.Resolve(h.Name)
		if target == nil {
			return fmt.Errorf("hook references unknown API %q", h.Name)
		}
		status, err := r.dispatch(ctx, rc, target)
		if containsInt(h.Quit, status) {
			return nil
		}
		if err != nil {
			if h.Fatal {
				return err
			}
			if r.Log != nil {
				r.Log.Debug("non-fatal hook failure", zap.String("hook", h.Name), zap.Error(err))
			}
			continue
		}
		if aerr := r.applyActions(rc, target); aerr != nil && h.Fatal {
			return aerr
		}
	}
	return nil
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// runPreRun executes the getter-then-delete satellite subtree: it exists to clean up leftover
// state from a previous run, so every failure here -- including the
// destructor's -- is ignored.
func (r *Runtime) runPreRun(ctx context.Context, rc *RunContext) {
	pre := rc.Node.PreRun
	preCtx := &RunContext{Node: pre, Identifier: pre.Identifier(), Parent: rc, Env: rc.Env.Clone(), ignoreFailures: true, rt: r}
	_, getErr := r.dispatch(ctx, preCtx, pre.Api)
	if getErr != nil {
		return
	}
	_ = r.applyActions(preCtx, pre.Api)
	for _, destructor := range pre.Children {
		destructorCtx := &RunContext{Node: destructor, Identifier: destructor.Identifier(), Parent: preCtx, Env: preCtx.Env.Clone(), ignoreFailures: true, rt: r}
		_, _ = r.dispatch(ctx, destructorCtx, destructor.Api)
	}
}

// runPostRun executes the destructor satellite after the constructor's own
// subtree has finished.
func (r *Runtime) runPostRun(ctx context.Context, rc *RunContext) {
	post := rc.Node.PostRun
	postCtx := &RunContext{Node: post, Identifier: post.Identifier(), Parent: rc, Env: rc.Env.Clone(), ignoreFailures: true, rt: r}
	_, _ = r.dispatch(ctx, postCtx, post.Api)
}
