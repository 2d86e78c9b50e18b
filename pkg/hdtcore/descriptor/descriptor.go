// Package descriptor defines the Multi-Response API Descriptor and its
// constituent Response Descriptors, the unit the loader
// produces and Descriptor Expansion (pkg/hdtcore/expand) consumes.
package descriptor

// RequestTemplate is one HTTP request shape, still symbolic in $var
// placeholders.
type RequestTemplate struct {
	Method  string
	Path    string
	Headers map[string]string
	// Auth optionally names an auth scheme ("basic", "bearer",
	// "oauth2_client_credentials", "oauth2_password"); the runtime reads
	// that scheme's credentials from the environment before dispatch.
	Auth string
	// Body is the JSON-shaped request payload; string leaves are
	// substituted like any other template text.
	Body any
}

// Hook is one step of a before/afterApi/afterAll/onBeforeRun/onAfterRun
// chain. Exactly one of Name or Func is set; Func is
// populated only for in-process hooks registered programmatically (e.g. by
// tests), never by the loader.
type Hook struct {
	// Name references another API by qualified name (hook form (b)).
	Name string
	// Quit lists status codes that silently terminate the chain when this
	// hook is itself an API invocation that returns one of them.
	Quit []int
	// Fatal marks that a non-quit failure of this hook fails the whole
	// chain (an error of that waterfall stage); without it the failure is
	// logged and the chain goes on with the next hook.
	Fatal bool
	// Func is an in-process hook callback: (ctx) -> error. See
	// pkg/hdtcore/runtime.HookFunc.
	Func any
}

// VarNew links a constructor API's produced variable to its getter and
// destructor peers and to the keys that must serialise concurrent creation.
type VarNew struct {
	Name       string
	Path       string
	Get        string
	Delete     string
	SerialVars []string
}

// VarSet extracts a value from the response and binds it to Name.
type VarSet struct {
	Name string
	Path string
	// Value, when set, is a textual template resolved against the
	// environment instead of extracted from the response body.
	Value string
}

// VarRename moves a binding from From to To.
type VarRename struct {
	From string
	To   string
}

// Actions is the ordered set of response-time mutations declared in a
// Response Descriptor's `actions` block.
type Actions struct {
	VarSets    []VarSet
	VarNew     *VarNew
	VarRenames []VarRename
	VarDeletes []string
}

// Test is one entry in a Response Descriptor's `tests` list: per-test
// variable overrides used to force a particular response status.
type Test struct {
	Name string
	Vars map[string]string

	OnBeforeRun []Hook
	Before      []Hook
	AfterAPI    []Hook
	AfterAll    []Hook
	OnAfterRun  []Hook
}

// ResponseDescriptor describes one possible status code a Multi-Response
// API Descriptor may return.
type ResponseDescriptor struct {
	Status      int
	Description string
	// BodySketch is the friendly sketch grammar; BodySchema, if set,
	// is an already-expanded JSON Schema taking precedence over BodySketch.
	BodySketch any
	// BodyOverlay is the `bodymd` block: dotted path ending in a schema
	// keyword -> value that replaces that keyword in the translated sketch
	// (see schema.ApplyBodyOverlay; values are not merged).
	BodyOverlay map[string]any
	BodySchema  map[string]any
	IgnoreBody bool
	Actions    Actions
	Tests      []Test
	SerialVars []string
}

// Descriptor is a Multi-Response API Descriptor: one request template, many
// Response Descriptors.
type Descriptor struct {
	// Name is the qualified name "virtual-host/path".
	Name      string
	Private   bool
	Request   RequestTemplate
	Responses map[int]*ResponseDescriptor

	Tags    []string
	Groups  []string
	Extra   struct {
		Consumes []string
		Produces []string
	}

	OnBeforeRun []Hook
	Before      []Hook
	AfterAPI    []Hook
	AfterAll    []Hook
	OnAfterRun  []Hook
}

// VirtualHost groups descriptors under a namespace and supplies the runtime
// value of the host variable used as the scheme+authority prefix of every
// request path it owns.
type VirtualHost struct {
	Name         string
	HostVariable string
	SwaggerInfo  SwaggerInfo
	Descriptors  []*Descriptor
}

// SwaggerInfo carries the static Swagger header fields for a virtual host.
type SwaggerInfo struct {
	Title       string
	Description string
	Version     string
	BasePath    string
	Schemes     []string
}
