package harness

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/lockstep/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// scenarioExts are the file extensions LoadScenario understands.
var scenarioExts = map[string]bool{".yaml": true, ".yml": true, ".cue": true}

// IsScenarioFile reports whether path has a scenario file extension.
func IsScenarioFile(path string) bool {
	return scenarioExts[strings.ToLower(filepath.Ext(path))]
}

// LoadScenario reads a YAML or CUE scenario, validates it against the
// embedded schema and then structurally.
//
// Returns ValidationErrors when the file parses but is invalid.
func LoadScenario(path string) (*ir.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(path, data)
}

// ParseScenario is LoadScenario for data already in memory. name selects
// the format by extension and labels errors.
func ParseScenario(name string, data []byte) (*ir.Scenario, error) {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return nil, err
	}

	var s *ir.Scenario
	switch strings.ToLower(filepath.Ext(name)) {
	case ".cue":
		s, err = decodeCUE(ctx, schema, name, data)
	case ".yaml", ".yml":
		s, err = decodeYAML(ctx, schema, data)
	default:
		return nil, fmt.Errorf("%s: unsupported scenario format (want .yaml, .yml or .cue)", name)
	}
	if err != nil {
		return nil, err
	}

	if errs := Validate(s); len(errs) > 0 {
		return nil, errs
	}
	return s, nil
}

// decodeYAML parses with strict field checking, then runs the result
// through the schema so YAML and CUE files are held to the same rules.
func decodeYAML(ctx *cue.Context, schema cue.Value, data []byte) (*ir.Scenario, error) {
	var s ir.Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scenario: %w", err)
	}
	v := ctx.CompileBytes(raw)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode scenario: %w", err)
	}
	// Positions refer to the re-encoded JSON, not the YAML file.
	if errs := checkSchema(schema, v, false); len(errs) > 0 {
		return nil, errs
	}
	return &s, nil
}

// decodeCUE evaluates the file, unifies it with #Scenario and decodes the
// concrete result.
func decodeCUE(ctx *cue.Context, schema cue.Value, name string, data []byte) (*ir.Scenario, error) {
	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse CUE: %w", err)
	}
	if errs := checkSchema(schema, v, true); len(errs) > 0 {
		return nil, errs
	}

	raw, err := schema.Unify(v).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export CUE: %w", err)
	}
	var s ir.Scenario
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode CUE scenario: %w", err)
	}
	return &s, nil
}

func compileSchema(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile scenario schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Scenario"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("lookup #Scenario: %w", err)
	}
	return def, nil
}

// checkSchema unifies v with the closed #Scenario definition and converts
// every CUE error into a ValidationError.
func checkSchema(schema, v cue.Value, withLines bool) ValidationErrors {
	err := schema.Unify(v).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	var errs ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		ve := ValidationError{
			Code:    ErrSchema,
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		if pos := e.Position(); withLines && pos.IsValid() {
			ve.Line = pos.Line()
		}
		if ve.Field == "" {
			ve.Field = "scenario"
		}
		errs = append(errs, ve)
	}
	return errs
}

// FindScenarioFiles expands paths into scenario files. Directories are
// walked recursively; files are taken as given. The result is sorted and
// free of duplicates.
func FindScenarioFiles(paths []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("scenario path: %w", err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if IsScenarioFile(p) {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
	}
	if len(files) == 0 {
		return nil, errors.New("no scenario files found")
	}
	sort.Strings(files)
	return files, nil
}
