package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrSchemaRetryExceeded is raised by the caller (pkg/consensusagent) once a
// structured-output retry loop has exhausted its attempts. Validator itself
// is a pure function and never retries.
var ErrSchemaRetryExceeded = errors.New("schema: retry attempts exceeded")

// Validator validates arbitrary JSON payloads against a compiled JSON
// Schema document. Construction compiles the schema once; Validate is a
// pure, stateless, concurrency-safe check — any retry loop belongs to the
// caller, not to the validator.
type Validator struct {
	schema *jsonschema.Schema
	name   string
}

// Compile loads and compiles a JSON Schema document from disk.
func Compile(name, path string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	s, err := compiler.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: failed to compile %s from %s: %w", name, path, err)
	}
	return &Validator{schema: s, name: name}, nil
}

// CompileString compiles a JSON Schema document supplied inline, useful for
// tests and embedded schemas.
func CompileString(name, url, doc string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader([]byte(doc))); err != nil {
		return nil, fmt.Errorf("schema: failed to add resource %s: %w", url, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema: failed to compile %s: %w", name, err)
	}
	return &Validator{schema: s, name: name}, nil
}

// Result is the outcome of one Validate call.
type Result struct {
	Valid  bool
	Reason string // non-empty only when Valid is false
}

// Validate checks payload (raw JSON bytes) against the compiled schema.
func (v *Validator) Validate(payload []byte) Result {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Result{Valid: false, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	if err := v.schema.Validate(doc); err != nil {
		return Result{Valid: false, Reason: err.Error()}
	}

	return Result{Valid: true}
}

// Name returns the validator's label, used in logs and reduction entries.
func (v *Validator) Name() string {
	return v.name
}
