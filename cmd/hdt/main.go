// Command hdt is the CLI entry point: gendoc, compile, run, and import.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	postman "github.com/rbretecher/go-postman-collection"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/expand"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/httpclient"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/loader"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/loader/importopenapi"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/loader/importpostman"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/runtime"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/swagger"
	"github.com/smithbk/hapi-doc-test/pkg/hdtlog"
)

// Exit codes.
const (
	exitSuccess        = 0
	exitInvalidUsage   = 1
	exitDocGenFailure  = 2
	exitCompileFailure = 3
)

var (
	version = "dev"

	indir      string
	outdir     string
	configFile string
	varAssigns []string
	testPrefix []string
	logLevel   string
	verbose    bool

	cfgFile string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInvalidUsage)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hdt",
		Short: "hdt documents and tests a declarative HTTP API surface",
	}
	cobra.OnInitialize(initConfig)
	root.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file (default .hdt.yaml)")
	root.PersistentFlags().StringVar(&indir, "indir", ".", "input directory of virtual-host manifests and descriptors")
	root.PersistentFlags().StringVar(&outdir, "outdir", "out", "output directory")
	root.PersistentFlags().StringVar(&configFile, "config", "", "comma-separated JSON variable file(s)")
	root.PersistentFlags().StringArrayVar(&varAssigns, "var", nil, "NAME=VALUE variable override, may repeat")
	root.PersistentFlags().StringArrayVar(&testPrefix, "tests", nil, "PREFIX of test names to run, may repeat")
	root.PersistentFlags().StringVar(&logLevel, "log", "info", "log level: error|warn|info|debug|trace")
	root.PersistentFlags().BoolVarP(&verbose, "v", "v", false, "alias for -log trace")

	_ = viper.BindPFlag("indir", root.PersistentFlags().Lookup("indir"))
	_ = viper.BindPFlag("outdir", root.PersistentFlags().Lookup("outdir"))

	root.AddCommand(gendocCmd(), compileCmd(), runCmd(), importCmd(), versionCmd())
	return root
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".hdt")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("HDT")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
	indir = viper.GetString("indir")
	outdir = viper.GetString("outdir")
}

func setupLogger() *zap.Logger {
	levelName := logLevel
	if verbose {
		levelName = "trace"
	}
	level, err := hdtlog.ParseLevel(levelName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInvalidUsage)
	}
	return hdtlog.Must(hdtlog.New(level))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hdt %s\n", version)
		},
	}
}

func gendocCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gendoc",
		Short: "Emit the Swagger 2.0 document for every virtual host",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger()
			defer log.Sync()

			corpus, err := loader.Load(indir, parseVarAssignments())
			if err != nil {
				log.Error("load failed", zap.Error(err))
				os.Exit(exitDocGenFailure)
			}

			if err := os.MkdirAll(outdir, 0o755); err != nil {
				log.Error("creating outdir failed", zap.Error(err))
				os.Exit(exitDocGenFailure)
			}

			for _, vh := range corpus.VirtualHosts {
				doc, err := swagger.Build(vh)
				if err != nil {
					log.Error("building swagger doc failed", zap.String("vhost", vh.Name), zap.Error(err))
					os.Exit(exitDocGenFailure)
				}
				data, err := json.MarshalIndent(doc, "", "  ")
				if err != nil {
					log.Error("marshaling swagger doc failed", zap.Error(err))
					os.Exit(exitDocGenFailure)
				}
				path := fmt.Sprintf("%s/swagger-%s.json", outdir, vh.Name)
				if err := os.WriteFile(path, data, 0o644); err != nil {
					log.Error("writing swagger doc failed", zap.Error(err))
					os.Exit(exitDocGenFailure)
				}
				log.Info("wrote swagger document", zap.String("path", path))
			}
			return nil
		},
	}
}

func compileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile",
		Short: "Build the test execution tree without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger()
			defer log.Sync()

			_, _, _, _, err := buildPlan(log)
			if err != nil {
				log.Error("compile failed", zap.Error(err))
				os.Exit(exitCompileFailure)
			}
			log.Info("compilation succeeded")
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var rateLimit float64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compile and execute the test plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger()
			defer log.Sync()

			apis, tree, baseEnv, cat, err := buildPlan(log)
			if err != nil {
				log.Error("compile failed", zap.Error(err))
				os.Exit(exitCompileFailure)
			}

			byDescriptor := make(map[string]*expand.ConcreteAPI, len(apis))
			for _, a := range apis {
				if _, ok := byDescriptor[a.DescriptorName]; !ok {
					byDescriptor[a.DescriptorName] = a
				}
			}

			var opts []httpclient.Option
			if rateLimit > 0 {
				opts = append(opts, httpclient.WithRateLimit(rateLimit, int(rateLimit)+1))
			}
			client := httpclient.New(opts...)

			rt := runtime.New(client, log, func(name string) *expand.ConcreteAPI {
				return byDescriptor[name]
			})
			rt.Catalogue = cat

			result := rt.Run(context.Background(), tree.Root, baseEnv)
			fmt.Print(renderReport(result))
			if !result.Passed {
				os.Exit(exitCompileFailure)
			}
			log.Info("run succeeded")
			return nil
		},
	}
	cmd.Flags().Float64Var(&rateLimit, "rate", 0, "optional requests/second dispatch throttle")
	return cmd
}

// skeletonFile is the on-disk shape emitted by `hdt import`, deliberately
// using the same yaml keys readDescriptor (pkg/hdtcore/loader) expects so
// the written file is a valid -- if minimal -- native descriptor, ready for
// a user to fill in produces/actions by hand.
type skeletonFile struct {
	Name string `yaml:"name"`
	Tags []string `yaml:"tags,omitempty"`

	Request struct {
		Method  string            `yaml:"method"`
		Path    string            `yaml:"path"`
		Headers map[string]string `yaml:"headers,omitempty"`
	} `yaml:"request"`

	Consumes []string `yaml:"consumes,omitempty"`

	Responses map[string]skeletonResponse `yaml:"responses"`
}

type skeletonResponse struct {
	Description string `yaml:"description"`
	Body        string `yaml:"body"`
}

func importCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "import SPECFILE",
		Short: "Generate skeleton descriptor YAML from an OpenAPI or Postman document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("import: reading %s: %w", args[0], err)
			}

			var skeletons []skeletonFile
			switch from {
			case "openapi":
				ops, err := importopenapi.Import(data)
				if err != nil {
					return err
				}
				for _, op := range ops {
					skeletons = append(skeletons, skeletonFromOpenAPI(op))
				}
			case "postman":
				col, err := postman.ParseCollection(bytes.NewReader(data))
				if err != nil {
					return fmt.Errorf("import: parsing postman collection: %w", err)
				}
				items, err := importpostman.Import(col)
				if err != nil {
					return err
				}
				for _, it := range items {
					skeletons = append(skeletons, skeletonFromPostman(it))
				}
			default:
				return fmt.Errorf("import: --from must be 'openapi' or 'postman'")
			}

			if err := os.MkdirAll(outdir, 0o755); err != nil {
				return fmt.Errorf("import: creating outdir: %w", err)
			}
			for i, sk := range skeletons {
				out, err := yaml.Marshal(sk)
				if err != nil {
					return fmt.Errorf("import: marshaling %s: %w", sk.Name, err)
				}
				path := fmt.Sprintf("%s/%03d-%s.yaml", outdir, i, sanitizeFileName(sk.Name))
				if err := os.WriteFile(path, out, 0o644); err != nil {
					return fmt.Errorf("import: writing %s: %w", path, err)
				}
			}
			fmt.Printf("wrote %d skeleton descriptor(s) to %s\n", len(skeletons), outdir)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "openapi", "source format: openapi|postman")
	return cmd
}

// skeletonFromOpenAPI builds one skeleton from an imported OpenAPI
// operation, inferring `consumes` from "{var}" path parameters the way
// the native `$var`/`${var}` descriptor form would have declared them.
func skeletonFromOpenAPI(op importopenapi.SkeletonDescriptor) skeletonFile {
	sk := skeletonFile{Name: op.Name, Tags: op.Tags}
	sk.Request.Method = op.Method
	sk.Request.Path = curlyBracesToDollar(op.Path)
	sk.Consumes = pathVarNames(sk.Request.Path)
	sk.Responses = map[string]skeletonResponse{
		fmt.Sprintf("%d", op.Status): {
			Description: firstNonEmptyStr(op.Summary, "imported response"),
			Body:        "(ign)response body -- fill in produces/schema",
		},
	}
	return sk
}

func skeletonFromPostman(it importpostman.SkeletonDescriptor) skeletonFile {
	sk := skeletonFile{Name: it.Name}
	sk.Request.Method = it.Method
	sk.Request.Path = it.Path
	sk.Request.Headers = it.Headers
	sk.Consumes = pathVarNames(it.Path)
	sk.Responses = map[string]skeletonResponse{
		"200": {Description: "imported response", Body: "(ign)response body -- fill in produces/schema"},
	}
	return sk
}

var curlyVarPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func curlyBracesToDollar(path string) string {
	return curlyVarPattern.ReplaceAllString(path, "$$$1")
}

func pathVarNames(path string) []string {
	matches := regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`).FindAllStringSubmatch(path, -1)
	var names []string
	seen := make(map[string]bool)
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

func firstNonEmptyStr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
}

func parseVarAssignments() map[string]string {
	out := make(map[string]string, len(varAssigns))
	for _, assignment := range varAssigns {
		parts := strings.SplitN(assignment, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}
