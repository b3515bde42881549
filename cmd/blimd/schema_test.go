package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

type SchemaCommandTestSuite struct {
	CommandTestSuite
}

func (s *SchemaCommandTestSuite) TestDefaultSchema() {
	// GOAL: Verify the schema command prints the built-in schema as YAML
	//
	// TEST SCENARIO: No flags → parseable YAML with the four built-in services in order

	out, err := s.ExecuteCommand("schema")
	s.Require().NoError(err)

	var doc struct {
		Services []struct {
			Name string `yaml:"name"`
		} `yaml:"services"`
	}
	s.Require().NoError(yaml.Unmarshal([]byte(out), &doc), "output MUST be valid YAML")

	names := make([]string, 0, len(doc.Services))
	for _, svc := range doc.Services {
		names = append(names, svc.Name)
	}
	s.Equal([]string{"device_information", "hgp_info_state", "hgp_battery", "hgp_user_input"}, names)
}

func (s *SchemaCommandTestSuite) TestSchemaFile() {
	// GOAL: Verify --schema and schema_file select the printed schema and are validated
	//
	// TEST SCENARIO: Custom file via flag, via config file, unknown codec → error

	dir := s.T().TempDir()
	custom := filepath.Join(dir, "custom.yaml")
	s.Require().NoError(os.WriteFile(custom, []byte(`
services:
  - name: battery
    uuid: "180f"
    characteristics:
      - {name: level, uuid: "2a19", codec: uint8, required: true}
`), 0o600))

	s.Run("flag", func() {
		out, err := s.ExecuteCommand("schema", "--schema", custom)
		s.Require().NoError(err)
		s.Contains(out, "name: battery")
		s.NotContains(out, "device_information")
	})

	s.Run("config file", func() {
		cfgPath := filepath.Join(dir, "blimd.yaml")
		s.Require().NoError(os.WriteFile(cfgPath, []byte("schema_file: "+custom+"\n"), 0o600))
		out, err := s.ExecuteCommand("schema", "--config", cfgPath)
		s.Require().NoError(err, "schema MUST NOT require tracked addresses")
		s.Contains(out, "name: battery")
	})

	s.Run("unknown codec", func() {
		bad := filepath.Join(dir, "bad.yaml")
		s.Require().NoError(os.WriteFile(bad, []byte(`
services:
  - name: battery
    uuid: "180f"
    characteristics:
      - {name: level, uuid: "2a19", codec: float128}
`), 0o600))
		_, err := s.ExecuteCommand("schema", "--schema", bad)
		s.ErrorContains(err, "invalid schema")
	})

	s.Run("missing file", func() {
		_, err := s.ExecuteCommand("schema", "--schema", filepath.Join(dir, "nope.yaml"))
		s.ErrorContains(err, "reading schema file")
	})
}

func (s *SchemaCommandTestSuite) TestListCodecs() {
	out, err := s.ExecuteCommand("schema", "--codecs")
	s.Require().NoError(err)
	for _, name := range []string{"utf8", "uint8", "battery_level_state", "temperature_celsius"} {
		s.Contains(out, name+"\n", "codec %s MUST be listed", name)
	}
}

func TestSchemaCommandTestSuite(t *testing.T) {
	suite.Run(t, new(SchemaCommandTestSuite))
}
