package testcase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a suite definition from path (YAML or JSON, by extension) and
// resolves the submission files named in its files section relative to the
// suite file's directory. Unknown fields are rejected.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite: %w", err)
	}

	suite, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, fmt.Errorf("parsing suite %s: %w", path, err)
	}

	if err := suite.resolveFiles(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return suite, nil
}

// Parse decodes a suite definition from raw bytes without touching the
// filesystem. Callers submitting inline suites (the HTTP API) use this
// directly and supply file contents themselves.
func Parse(data []byte, asJSON bool) (*Suite, error) {
	var suite Suite
	if asJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&suite); err != nil {
			return nil, err
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&suite); err != nil {
			return nil, err
		}
	}
	return &suite, nil
}

func (s *Suite) resolveFiles(dir string) error {
	read := func(name string) (string, error) {
		if name == "" {
			return "", nil
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("reading submission file %s: %w", name, err)
		}
		return string(data), nil
	}

	var err error
	if s.HTML, err = read(s.Files.HTML); err != nil {
		return err
	}
	if s.CSS, err = read(s.Files.CSS); err != nil {
		return err
	}
	if s.JS, err = read(s.Files.JS); err != nil {
		return err
	}
	if s.BackendCode, err = read(s.Files.Backend); err != nil {
		return err
	}
	return nil
}

// PublicOnly returns a copy of the suite containing only tests marked public.
func (s *Suite) PublicOnly() *Suite {
	out := *s
	out.Tests = nil
	for _, tc := range s.Tests {
		if tc.Public {
			out.Tests = append(out.Tests, tc)
		}
	}
	return &out
}
