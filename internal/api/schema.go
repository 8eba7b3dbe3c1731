// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/holomush/authd/internal/auth"
)

// SchemaBaseURL prefixes the $id of every request schema.
const SchemaBaseURL = "https://holomush.dev/schemas/authd/"

// Request bodies. Presence and format rules live in the auth package so
// that every transport reports the same messages; the schemas pin down
// the shape only.
type signupRequest struct {
	Name     string `json:"name" jsonschema:"description=Display name"`
	Email    string `json:"email" jsonschema:"description=Email address"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code" jsonschema:"description=One-time recovery code"`
}

type resetPasswordRequest struct {
	Email           string `json:"email"`
	Token           string `json:"token" jsonschema:"description=Reset token from verify-otp"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

type requestSchema struct {
	name  string
	title string
	value any
}

var requestSchemas = []requestSchema{
	{"signup", "Signup request", &signupRequest{}},
	{"login", "Login request", &loginRequest{}},
	{"forgot-password", "Forgot password request", &forgotPasswordRequest{}},
	{"verify-otp", "Verify OTP request", &verifyOTPRequest{}},
	{"reset-password", "Reset password request", &resetPasswordRequest{}},
}

func schemaID(name string) string {
	return SchemaBaseURL + name + ".schema.json"
}

func reflectSchema(rs requestSchema) *jsonschema.Schema {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(rs.value)
	schema.ID = jsonschema.ID(schemaID(rs.name))
	schema.Title = rs.title
	return schema
}

// GenerateSchemas returns every request schema as indented JSON, keyed by
// file name.
func GenerateSchemas() (map[string][]byte, error) {
	out := make(map[string][]byte, len(requestSchemas))
	for _, rs := range requestSchemas {
		data, err := json.MarshalIndent(reflectSchema(rs), "", "  ")
		if err != nil {
			return nil, oops.Code("SCHEMA_GENERATE_FAILED").With("schema", rs.name).Wrap(err)
		}
		out[rs.name+".schema.json"] = data
	}
	return out, nil
}

var (
	compileOnce sync.Once
	compiled    map[string]*jschema.Schema
	compileErr  error
)

func compiledSchemas() (map[string]*jschema.Schema, error) {
	compileOnce.Do(func() {
		compiled, compileErr = compileSchemas()
	})
	return compiled, compileErr
}

func compileSchemas() (map[string]*jschema.Schema, error) {
	c := jschema.NewCompiler()
	for _, rs := range requestSchemas {
		data, err := json.Marshal(reflectSchema(rs))
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", rs.name).Wrap(err)
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", rs.name).Wrap(err)
		}
		if err := c.AddResource(schemaID(rs.name), doc); err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", rs.name).Wrap(err)
		}
	}

	out := make(map[string]*jschema.Schema, len(requestSchemas))
	for _, rs := range requestSchemas {
		sch, err := c.Compile(schemaID(rs.name))
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", rs.name).Wrap(err)
		}
		out[rs.name] = sch
	}
	return out, nil
}

// validateShape checks a decoded JSON instance against the named request
// schema and converts violations into field errors.
func validateShape(name string, instance any) ([]auth.FieldError, error) {
	schemas, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	sch, ok := schemas[name]
	if !ok {
		return nil, oops.Code("SCHEMA_UNKNOWN").With("schema", name).Errorf("no schema named %q", name)
	}

	err = sch.Validate(instance)
	if err == nil {
		return nil, nil
	}
	var ve *jschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, oops.Code("SCHEMA_VALIDATE_FAILED").With("schema", name).Wrap(err)
	}
	return shapeErrors(ve), nil
}

func shapeErrors(ve *jschema.ValidationError) []auth.FieldError {
	if len(ve.Causes) > 0 {
		var out []auth.FieldError
		for _, cause := range ve.Causes {
			out = append(out, shapeErrors(cause)...)
		}
		return out
	}

	field := strings.Join(ve.InstanceLocation, ".")
	switch k := ve.ErrorKind.(type) {
	case *kind.Type:
		if field == "" {
			return []auth.FieldError{{Field: "body", Message: "Request body must be a JSON object"}}
		}
		return []auth.FieldError{{Field: field, Message: fmt.Sprintf("Must be a %s", strings.Join(k.Want, " or "))}}
	case *kind.AdditionalProperties:
		out := make([]auth.FieldError, 0, len(k.Properties))
		for _, prop := range k.Properties {
			out = append(out, auth.FieldError{Field: prop, Message: "Unknown field"})
		}
		return out
	}
	if field == "" {
		field = "body"
	}
	return []auth.FieldError{{Field: field, Message: "Is invalid"}}
}
