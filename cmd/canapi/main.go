package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/canapi/internal/registry/auth"
	"github.com/jmerrifield20/canapi/pkg/apispec"
	"github.com/jmerrifield20/canapi/pkg/client"
	"github.com/jmerrifield20/canapi/pkg/source"
	"github.com/jmerrifield20/canapi/pkg/urltemplate"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile      string
	registryDirs []string
	remoteURL    string
	remotePolicy string
	debug        bool

	logger = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "canapi",
	Short: "Call HTTP APIs described by configuration documents",
	Long: `canapi builds HTTP clients from declarative API documents and calls
their endpoints from the command line.

Documents are looked up by name in local registry directories
({dir}/{name}.json or {dir}/{name}/{version}.json) and then on a remote
registry server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".canapi"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("canapi")
		viper.AutomaticEnv()
		viper.SetDefault("cache_ttl", "5m")
		viper.SetDefault("remote_policy", "on-miss")
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if cfgFile != "" || !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}

		if len(registryDirs) == 0 {
			registryDirs = viper.GetStringSlice("registry_dirs")
		}
		if remoteURL == "" {
			remoteURL = viper.GetString("remote_url")
		}
		if remotePolicy == "" {
			remotePolicy = viper.GetString("remote_policy")
		}

		if debug {
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			logger = l
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.canapi/config.yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&registryDirs, "registry-dir", nil, "local registry directory (repeatable, searched in order)")
	rootCmd.PersistentFlags().StringVar(&remoteURL, "remote", "", "remote registry base URL, e.g. https://registry.example.com/v1/apis")
	rootCmd.PersistentFlags().StringVar(&remotePolicy, "remote-policy", "", "when to query the remote registry: on-miss or always")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// newResolver assembles a resolver from the configured sources.
func newResolver(ctx context.Context) (*client.Resolver, error) {
	policy, err := client.ParseRemotePolicy(remotePolicy)
	if err != nil {
		return nil, err
	}
	r := client.NewResolver(
		client.WithResolverLogger(logger),
		client.WithRemotePolicy(policy),
	)
	for _, dir := range registryDirs {
		r.RegisterLocalSource(dir, dir)
	}
	if remoteURL == "" {
		return r, nil
	}

	var cache source.Cache
	ttl := viper.GetDuration("cache_ttl")
	if redisURL := viper.GetString("redis_url"); redisURL != "" {
		rdb, err := source.DialRedis(ctx, redisURL)
		if err != nil {
			return nil, err
		}
		cache = source.NewRedisCache(rdb, "", ttl)
	} else {
		cache = source.NewMemoryCache(ttl)
	}
	r.SetRemoteSource(source.NewCached(source.NewRemote(remoteURL, 0), cache, logger))
	return r, nil
}

// ── call ─────────────────────────────────────────────────────────────────────

var (
	callURLParams []string
	callQuery     []string
	callHeaders   []string
	callBody      string
	callVersion   string
	callCompact   bool
	callTimeout   time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call <api> <member.path>",
	Short: "Call an endpoint of an API",
	Long: `Call resolves an API by name and calls one of its endpoints.

  canapi call httpbin stream -u n=10
  canapi call github repos.list -u user=octocat -q per_page=5 -H Accept:application/json
  canapi call httpbin anything.post -d '{"k":"v"}'`,
	Args: cobra.ExactArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringArrayVarP(&callURLParams, "url-param", "u", nil, "path placeholder value, key=value")
	callCmd.Flags().StringArrayVarP(&callQuery, "query", "q", nil, "query parameter, key=value")
	callCmd.Flags().StringArrayVarP(&callHeaders, "header", "H", nil, "request header, Name:value")
	callCmd.Flags().StringVarP(&callBody, "data", "d", "", "JSON request body")
	callCmd.Flags().StringVar(&callVersion, "version", "", "document version")
	callCmd.Flags().BoolVar(&callCompact, "json", false, "print compact JSON instead of indented output")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "request timeout")
}

func runCall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r, err := newResolver(ctx)
	if err != nil {
		return err
	}
	api, err := r.Resolve(ctx, args[0], client.WithVersion(callVersion))
	if err != nil {
		return err
	}
	ep, err := api.Lookup(args[1])
	if err != nil {
		return err
	}

	urlParams, err := parsePairs(callURLParams, "=")
	if err != nil {
		return err
	}
	opts, err := callOptions()
	if err != nil {
		return err
	}

	out, err := ep.Call(ctx, urlParams, opts)
	if err != nil {
		var sErr *client.HTTPStatusError
		if errors.As(err, &sErr) {
			fmt.Fprintln(os.Stderr, string(sErr.Body))
		}
		return err
	}
	return printResult(cmd.OutOrStdout(), out, callCompact)
}

func callOptions() (client.Options, error) {
	opts := client.Options{}
	if callTimeout > 0 {
		opts["timeout"] = callTimeout.String()
	}
	if len(callQuery) > 0 {
		q, err := parsePairs(callQuery, "=")
		if err != nil {
			return nil, err
		}
		opts["params"] = toAnyMap(q)
	}
	if len(callHeaders) > 0 {
		h, err := parsePairs(callHeaders, ":")
		if err != nil {
			return nil, err
		}
		opts["headers"] = toAnyMap(h)
	}
	if callBody != "" {
		var body any
		if err := json.Unmarshal([]byte(callBody), &body); err != nil {
			return nil, fmt.Errorf("--data is not valid JSON: %w", err)
		}
		opts["json"] = body
	}
	return opts, nil
}

func printResult(w io.Writer, out any, compact bool) error {
	if raw, ok := out.([]byte); ok {
		_, err := w.Write(raw)
		return err
	}
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(out)
}

// parsePairs splits "key<sep>value" arguments.
func parsePairs(pairs []string, sep string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, sep)
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid argument %q: want key%svalue", p, sep)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ── describe ─────────────────────────────────────────────────────────────────

var describeVersion string

var describeCmd = &cobra.Command{
	Use:   "describe <api>",
	Short: "List the endpoints of an API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		r, err := newResolver(ctx)
		if err != nil {
			return err
		}
		api, err := r.Resolve(ctx, args[0], client.WithVersion(describeVersion))
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n\n", api.Name(), api.URI())
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MEMBER\tMETHOD\tPATH\tPARAMS")
		for _, ep := range endpoints(api) {
			params, _ := urltemplate.Placeholders(ep.Path())
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ep.Key(), ep.Method(), ep.Path(), strings.Join(params, ","))
		}
		return w.Flush()
	},
}

func init() {
	describeCmd.Flags().StringVar(&describeVersion, "version", "", "document version")
}

// endpoints flattens an API tree, sorted by member path.
func endpoints(api *client.API) []*client.Endpoint {
	var out []*client.Endpoint
	for _, key := range api.Keys() {
		m, _ := api.Member(key)
		switch m.Kind {
		case client.MemberEndpoint:
			out = append(out, m.Endpoint)
		case client.MemberGroup:
			out = append(out, endpoints(m.Group)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ── publish ──────────────────────────────────────────────────────────────────

var (
	publishToken   string
	publishVersion string
)

var publishCmd = &cobra.Command{
	Use:   "publish <file>",
	Short: "Publish a document to the remote registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if remoteURL == "" {
			return errors.New("--remote (or remote_url) is required")
		}
		token := publishToken
		if token == "" {
			token = viper.GetString("publish_token")
		}
		if token == "" {
			return errors.New("--token (or CANAPI_PUBLISH_TOKEN) is required")
		}

		doc, err := apispec.LoadFile(args[0])
		if err != nil {
			return err
		}
		if publishVersion != "" {
			doc.Version = publishVersion
		}
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}

		target := source.NewRemote(remoteURL, 0).DocumentURL(doc.Name, doc.Version)
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build publish request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("publish to %s: %w", remoteURL, err)
		}
		defer resp.Body.Close() //nolint:errcheck

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", source.Key(doc.Name, doc.Version))
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishToken, "token", "", "publish token (see 'canapi token')")
	publishCmd.Flags().StringVar(&publishVersion, "version", "", "publish under this version")
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSecret  string
	tokenIssuer  string
	tokenSubject string
	tokenAPIs    []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a publish token for a registry server",
	Long: `Token signs a publish token with the registry's shared secret.

  canapi token --secret "$SECRET" --subject ci --api httpbin --api github`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("publish_secret")
		}
		issuer, err := auth.NewIssuer(secret, tokenIssuer, tokenTTL)
		if err != nil {
			return err
		}
		tok, err := issuer.Issue(tokenSubject, tokenAPIs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "registry publish secret (or CANAPI_PUBLISH_SECRET)")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "canapi-registry", "token issuer, must match registry.issuer")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "token subject recorded as publisher")
	tokenCmd.Flags().StringSliceVar(&tokenAPIs, "api", []string{"*"}, "api names the token may publish")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the canapi version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "canapi %s (client %s)\n", version, client.Version)
	},
}
