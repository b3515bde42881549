package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srg/blimd/internal/codec"
	"github.com/srg/blimd/internal/schema"
	"github.com/srg/blimd/pkg/config"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the effective GATT schema",
		Long: `Schema validates and prints the schema run would bind devices against:
the file given by --schema or schema_file, or the built-in one.`,
		Args: cobra.NoArgs,
		RunE: runSchema,
	}
	cmd.Flags().String("schema", "", "YAML schema file replacing the built-in schema")
	cmd.Flags().Bool("codecs", false, "List the available codec names instead")
	return cmd
}

func runSchema(cmd *cobra.Command, _ []string) error {
	if listCodecs, _ := cmd.Flags().GetBool("codecs"); listCodecs {
		for _, name := range codec.NewRegistry().Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}

	path, err := schemaPath(cmd)
	if err != nil {
		return err
	}
	s, _, err := effectiveSchema(path)
	if err != nil {
		return err
	}
	return s.Dump(cmd.OutOrStdout())
}

// schemaPath resolves --schema, falling back to schema_file from --config.
// The rest of the configuration is not validated here.
func schemaPath(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Changed("schema") {
		return cmd.Flags().GetString("schema")
	}
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return "", fmt.Errorf("reading config file: %w", err)
	}
	cfg := config.DefaultConfig()
	if err := cfg.Parse(data); err != nil {
		return "", err
	}
	return cfg.SchemaFile, nil
}

// effectiveSchema loads path, or the built-in schema when path is empty, and
// validates it against the built-in codecs.
func effectiveSchema(path string) (*schema.Schema, *codec.Registry, error) {
	s := schema.Default()
	if path != "" {
		var err error
		if s, err = schema.Load(path); err != nil {
			return nil, nil, err
		}
	}
	reg := codec.NewRegistry()
	if err := s.Validate(reg); err != nil {
		return nil, nil, fmt.Errorf("invalid schema: %w", err)
	}
	return s, reg, nil
}
