// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

var (
	// ErrNoJSON is returned when oracle output contains no JSON object.
	ErrNoJSON = errors.New("no JSON object in oracle output")

	// ErrMalformedPayload is returned when the JSON does not match the
	// expected shape or types.
	ErrMalformedPayload = errors.New("malformed oracle payload")

	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing required field")
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// payloadValidate reports fields by their JSON names.
var payloadValidate *validator.Validate

func init() {
	payloadValidate = validator.New()
	payloadValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// ExtractJSON returns the first JSON object found in s. Markdown code
// fences are preferred over bare objects embedded in prose.
func ExtractJSON(s string) (string, error) {
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		if obj, ok := firstObject(m[1]); ok {
			return obj, nil
		}
	}
	if obj, ok := firstObject(s); ok {
		return obj, nil
	}
	return "", ErrNoJSON
}

// firstObject scans for a balanced {...} region, skipping braces inside
// string literals.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString, escaped := false, false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					i = len(s)
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// assessmentPayload is the strict assessment schema. Pointers distinguish
// an absent field from an explicit zero.
type assessmentPayload struct {
	PredictedAltitudeFt *float64 `json:"predicted_altitude_ft" validate:"required"`
	CeilingFt           *float64 `json:"ceiling_ft" validate:"required"`
	RiskScore           *float64 `json:"risk_score" validate:"required"`
	Confidence          *float64 `json:"confidence" validate:"required"`
}

// ParseAssessment decodes the final assessment answer. Risk and confidence
// are clamped to [0, 1] before returning.
func ParseAssessment(content string) (datatypes.RiskAssessment, error) {
	raw, err := ExtractJSON(content)
	if err != nil {
		return datatypes.RiskAssessment{}, err
	}
	var p assessmentPayload
	if err := decode(raw, &p); err != nil {
		return datatypes.RiskAssessment{}, err
	}
	if err := payloadValidate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return datatypes.RiskAssessment{}, fmt.Errorf("%w: %s", ErrMissingField, verrs[0].Field())
		}
		return datatypes.RiskAssessment{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return datatypes.RiskAssessment{
		PredictedAltitudeFt: *p.PredictedAltitudeFt,
		CeilingFt:           *p.CeilingFt,
		RiskScore:           *p.RiskScore,
		Confidence:          *p.Confidence,
	}.Clamped(), nil
}

// ParseDecision decodes a decision oracle answer. Field values are not
// checked against their vocabularies here; that is the guardrail's job.
func ParseDecision(content string) (datatypes.RawDecision, error) {
	raw, err := ExtractJSON(content)
	if err != nil {
		return datatypes.RawDecision{}, err
	}
	var d datatypes.RawDecision
	if err := decode(raw, &d); err != nil {
		return datatypes.RawDecision{}, err
	}
	return d, nil
}

func decode(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
