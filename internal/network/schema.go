package network

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gravitas-games/forge/internal/craft"
	"github.com/gravitas-games/forge/internal/grid"
	"github.com/gravitas-games/forge/internal/inventory"
	"github.com/gravitas-games/forge/internal/synth"
)

// ErrInvalidRequest is returned for bodies that are not JSON or do not match
// their schema.
var ErrInvalidRequest = errors.New("invalid request")

// Schema names.
const (
	SchemaCraftRequest = "craft_request.schema.json"
	SchemaGrant        = "grant.schema.json"
	SchemaSynthesis    = "synthesis.schema.json"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			schemasErr = err
			return
		}
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		for _, e := range entries {
			data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(e.Name(), bytes.NewReader(data)); err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(entries))
		for _, e := range entries {
			s, err := c.Compile(e.Name())
			if err != nil {
				schemasErr = fmt.Errorf("compile %s: %w", e.Name(), err)
				return
			}
			out[e.Name()] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Validate checks raw JSON against the named embedded schema.
func Validate(name string, data []byte) error {
	all, err := loadSchemas()
	if err != nil {
		return err
	}
	s, ok := all[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON document", ErrInvalidRequest)
	}
	if err := s.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%w: %s", ErrInvalidRequest, describe(verr))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// describe reports the deepest cause, which names the offending field.
func describe(verr *jsonschema.ValidationError) string {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	loc := verr.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, verr.Message)
}

// DecodeCraft validates and parses a craft request body. Errors are
// ErrInvalidRequest, grid.ErrMalformed or synth.ErrUnknownCategory.
func DecodeCraft(data []byte) (craft.Request, error) {
	if err := Validate(SchemaCraftRequest, data); err != nil {
		return craft.Request{}, err
	}
	var body CraftRequest
	if err := json.Unmarshal(data, &body); err != nil {
		return craft.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	g, err := grid.Parse(body.Grid)
	if err != nil {
		return craft.Request{}, err
	}
	category, err := synth.ParseCategory(body.WeaponType)
	if err != nil {
		return craft.Request{}, err
	}
	return craft.Request{Grid: g, Category: category}, nil
}

// DecodeGrant validates and parses an admin grant body.
func DecodeGrant(data []byte) (inventory.OwnerID, inventory.Counts, error) {
	if err := Validate(SchemaGrant, data); err != nil {
		return "", nil, err
	}
	var body GrantRequest
	if err := json.Unmarshal(data, &body); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return inventory.OwnerID(body.Owner), inventory.Counts{inventory.MaterialID(body.Material): body.Quantity}, nil
}

// DecodeSynthesis validates and parses a stateless synthesis body. The
// materials must add up to exactly the cells of a valid grid.
func DecodeSynthesis(data []byte) (synth.Request, error) {
	if err := Validate(SchemaSynthesis, data); err != nil {
		return synth.Request{}, err
	}
	var req synth.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return synth.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if total := req.Materials.Total(); total != grid.RequiredCells {
		return synth.Request{}, fmt.Errorf("%w: synthesis requires exactly %d materials, got %d",
			ErrInvalidRequest, grid.RequiredCells, total)
	}
	category, err := synth.ParseCategory(string(req.Category))
	if err != nil {
		return synth.Request{}, err
	}
	req.Category = category
	return req, nil
}
