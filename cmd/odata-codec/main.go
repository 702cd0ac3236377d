package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zmcp/odata-codec/internal/config"
	"github.com/zmcp/odata-codec/internal/constants"
	"github.com/zmcp/odata-codec/internal/odataerr"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "odata-codec",
	Short: "Read and write OData JSON entity payloads against a service's metadata",
	Long: `Read and write OData JSON entity payloads against a service's metadata.

The decode command materializes a request body into the entity store; the
encode command writes stored entities as an OData response. Entities live
in memory for a single run unless --redis points at a Redis server.

Examples:
  odata-codec decode --metadata service.xml --set Products product.json
  odata-codec decode --metadata service.xml --set Products --key 5 --op merge patch.json
  odata-codec encode --metadata service.xml --set Products --expand Category --level full --redis redis://localhost:6379/0`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Load .env file if it exists
	godotenv.Load()

	flags := rootCmd.PersistentFlags()
	flags.String("metadata", "", "Path to the service $metadata document, or the service URL to fetch it from (overrides ODATA_METADATA env var)")
	flags.StringP("user", "u", "", "Username for basic authentication when fetching metadata (overrides ODATA_USERNAME env var)")
	flags.StringP("password", "p", "", "Password for basic authentication (overrides ODATA_PASSWORD env var)")
	flags.String("service-root", "http://localhost/service/", "Service root that identities and links are built from")
	flags.String("level", constants.MetadataMinimal, "Response metadata level: none, minimal or full")
	flags.String("format", "", "Response media type, e.g. 'application/json;odata.metadata=full' (overrides --level)")
	flags.Int("max-depth", constants.DefaultMaxRecursionDepth, "Maximum payload and expansion nesting")
	flags.Int("max-objects", constants.DefaultMaxObjectCount, "Maximum resources created or fetched per request")
	flags.Int("page-size", 0, "Entries per feed page, 0 writes every entry")
	flags.String("redis", "", "Redis URL to keep entities in (e.g. redis://localhost:6379/0)")
	flags.String("redis-prefix", "odata:", "Prefix for every Redis key")
	flags.BoolP("verbose", "v", false, "Enable verbose output to stderr")
	flags.Bool("trace", false, "Write every structural event to a trace file in the temp directory")
	flags.StringArray("load", nil, "Insert a payload before running, as Set=file.json (repeatable)")

	// Bind flags to viper for environment variable support
	config.SetDefaults(v)
	for key, flag := range map[string]string{
		"metadata":     "metadata",
		"username":     "user",
		"password":     "password",
		"service_root": "service-root",
		"level":        "level",
		"format":       "format",
		"max_depth":    "max-depth",
		"max_objects":  "max-objects",
		"page_size":    "page-size",
		"redis":        "redis",
		"redis_prefix": "redis-prefix",
		"verbose":      "verbose",
		"trace":        "trace",
	} {
		v.BindPFlag(key, flags.Lookup(flag))
	}
	config.BindEnv(v)

	rootCmd.AddCommand(decodeCmd, encodeCmd)
}

// printError reports err on stderr. Codec errors show their status and code.
func printError(err error) {
	header := color.New(color.FgRed, color.Bold)
	body := color.New(color.FgRed)

	if codecErr, ok := odataerr.As(err); ok {
		if odataerr.IsClientError(err) {
			header = color.New(color.FgYellow, color.Bold)
			body = color.New(color.FgYellow)
		}
		header.Fprintf(os.Stderr, "Error %d (%s)\n", codecErr.StatusCode(), codecErr.Code)
		body.Fprintf(os.Stderr, "  %s\n", codecErr.Error())
		return
	}
	header.Fprintln(os.Stderr, "Error")
	body.Fprintf(os.Stderr, "  %v\n", err)
}

// exitCode maps client errors to 2 and everything else to 1
func exitCode(err error) int {
	if odataerr.IsClientError(err) {
		return 2
	}
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(exitCode(err))
	}
}

func verbosef(format string, args ...any) {
	if v.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
