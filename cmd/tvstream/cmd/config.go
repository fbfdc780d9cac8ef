package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/tvstream/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format: defaults merged with
the config file, .env and TVSTREAM_* environment variables.

Redirect the output to create a configuration template:

  tvstream config dump > config.yaml

Environment variables use the TVSTREAM_ prefix and underscores for nesting,
e.g. streaming.max_buffer -> TVSTREAM_STREAMING_MAX_BUFFER.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return dumpConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func dumpConfig(w io.Writer, v any) error {
	data, err := yaml.Marshal(toMap(v))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Fprintln(w, "# tvstream configuration")
	fmt.Fprintln(w, "# Durations: 250ms, 30s, 5m, 72h, 30d, 2w. Sizes: 256KB, 1MB.")
	fmt.Fprintln(w)
	_, err = w.Write(data)
	return err
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations and byte sizes rendered the way the config file accepts them.
func toMap(v any) map[string]any {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	typ := val.Type()

	out := make(map[string]any, val.NumField())
	for i := range val.NumField() {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			out[key] = duration.Format(fv)
		case fmt.Stringer:
			out[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				out[key] = toMap(fv)
			} else {
				out[key] = fv
			}
		}
	}
	return out
}
