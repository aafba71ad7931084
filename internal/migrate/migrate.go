// Package migrate upgrades persisted documents of any historical schema
// version to the current one. Every step is a pure function over a private
// copy of the document, so a failed migration never touches its input.
package migrate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// Migrate upgrades doc to the current version. The returned chain lists the
// version produced by each applied step and is empty when doc is already
// current. doc itself is never modified. A failing or panicking step aborts
// the chain with a *types.MigrationStepError.
func Migrate(doc Doc) (Doc, []Version, error) {
	cur := deepCopy(doc).(map[string]any)
	if cur == nil {
		cur = Doc{}
	}
	chain := []Version{}
	v := DetectVersion(cur)
	for v != Current {
		s, ok := stepFrom(v)
		if !ok {
			return nil, chain, &types.MigrationStepError{Step: "detect", From: string(v), To: string(Current), Err: errors.New("no step from this version")}
		}
		next, err := runStep(s, cur)
		if err != nil {
			return nil, chain, err
		}
		cur = next
		chain = append(chain, s.to)
		v = s.to
	}
	return cur, chain, nil
}

// runStep applies one step, converting panics into step errors.
func runStep(s step, doc Doc) (out Doc, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &types.MigrationStepError{Step: s.Name(), From: string(s.from), To: string(s.to), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out, err = s.apply(doc)
	if err != nil {
		return nil, &types.MigrationStepError{Step: s.Name(), From: string(s.from), To: string(s.to), Err: err}
	}
	if out == nil {
		return nil, &types.MigrationStepError{Step: s.Name(), From: string(s.from), To: string(s.to), Err: errors.New("step produced no document")}
	}
	out["version"] = string(s.to)
	return out, nil
}

// decode parses a JSON object keeping numbers as json.Number.
func decode(data []byte) (Doc, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Doc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("parsing document: %w", &types.ValidationError{Reason: "document is not a JSON object"})
	}
	return doc, nil
}

// Parse decodes raw bytes into a Doc.
func Parse(data []byte) (Doc, error) {
	return decode(data)
}

// Result is the outcome of Run.
type Result struct {
	SourceVersion Version
	AppliedChain  []Version
	Migrated      Doc
	Document      *types.Document
	Validation    ValidationResult
}

// Run parses raw, migrates it to the current version and validates the
// outcome. On a validation failure the result is still returned together
// with a *types.ValidationFailedAfterMigration error.
func Run(raw []byte) (*Result, error) {
	doc, err := decode(raw)
	if err != nil {
		return nil, err
	}
	res := &Result{SourceVersion: DetectVersion(doc)}
	res.Migrated, res.AppliedChain, err = Migrate(doc)
	if err != nil {
		return nil, err
	}
	res.Validation = Validate(res.Migrated)
	if !res.Validation.Valid {
		return res, &types.ValidationFailedAfterMigration{Errors: res.Validation.Errors}
	}
	data, err := json.Marshal(res.Migrated)
	if err != nil {
		return nil, fmt.Errorf("encoding migrated document: %w", err)
	}
	res.Document = types.NewDocument()
	if err := json.Unmarshal(data, res.Document); err != nil {
		return nil, fmt.Errorf("decoding migrated document: %w", err)
	}
	res.Document.Normalize()
	return res, nil
}
