// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/AleutianAI/AltitudeWarning/services/llm"
)

// Tool names advertised to the assessment oracle.
const (
	CeilingToolName    = "ceiling_tool"
	TrajectoryToolName = "trajectory_tool"
	RiskToolName       = "risk_tool"
	VisibilityToolName = "visibility_tool"
)

var (
	// ErrUnknownTool is returned when the oracle requests a tool that is not
	// registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when tool arguments do not decode or
	// miss a required field.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrDuplicateTool is returned by Register for a name already in use.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrToolPanic is returned by Call when the tool panicked.
	ErrToolPanic = errors.New("tool panicked")
)

var argsValidate = validator.New()

// Tool is a named, JSON-in/JSON-out function the oracle can call.
type Tool interface {
	Spec() llm.ToolSpec
	Call(ctx context.Context, args string) (string, error)
}

// funcTool adapts a typed function to the Tool interface. A is the
// argument struct; its pointer fields carry validate:"required" tags.
type funcTool[A any] struct {
	spec llm.ToolSpec
	fn   func(A) (any, error)
}

func (t funcTool[A]) Spec() llm.ToolSpec { return t.spec }

func (t funcTool[A]) Call(ctx context.Context, args string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in A
	raw := strings.TrimSpace(args)
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidArguments, t.spec.Name, err)
	}
	if err := argsValidate.Struct(in); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidArguments, t.spec.Name, err)
	}
	out, err := t.fn(in)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", t.spec.Name, err)
	}
	return string(b), nil
}

// Registry holds the tools available to the assessment loop. It is
// read-only after construction and safe for concurrent use.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry returns a registry with the four standard tools. A
// non-positive horizon falls back to DefaultHorizonSeconds.
func NewRegistry(horizonSeconds int) *Registry {
	if horizonSeconds <= 0 {
		horizonSeconds = DefaultHorizonSeconds
	}
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range standardTools(horizonSeconds) {
		// Names are distinct by construction.
		_ = r.Register(t)
	}
	return r
}

// Register adds a tool. It must not be called once the registry is in use.
func (r *Registry) Register(t Tool) error {
	name := t.Spec().Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Specs returns the tool advertisements in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Call runs the named tool with JSON arguments and returns its JSON result.
// A panicking tool is reported as ErrToolPanic.
func (r *Registry) Call(ctx context.Context, name, args string) (out string, err error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownTool, name)
	}
	defer func() {
		if rec := recover(); rec != nil {
			out, err = "", fmt.Errorf("%w: %s: %v", ErrToolPanic, name, rec)
		}
	}()
	return t.Call(ctx, args)
}

// =============================================================================
// Standard tools
// =============================================================================

type ceilingArgs struct {
	Lat *float64 `json:"lat" validate:"required"`
	Lon *float64 `json:"lon" validate:"required"`
}

type trajectoryArgs struct {
	CurrentAltitudeFt *float64 `json:"current_altitude_ft" validate:"required"`
	VerticalSpeedFps  *float64 `json:"vertical_speed_fps" validate:"required"`
	HorizonSeconds    *int     `json:"horizon_seconds" validate:"omitempty,gt=0"`
}

type riskArgs struct {
	PredictedAltitudeFt *float64 `json:"predicted_altitude_ft" validate:"required"`
	CeilingFt           *float64 `json:"ceiling_ft" validate:"required"`
	VerticalSpeedFps    *float64 `json:"vertical_speed_fps" validate:"required"`
}

type visibilityArgs struct {
	VisibilityKm *float64 `json:"visibility_km" validate:"required,gte=0"`
}

// CeilingResult is the ceiling_tool output.
type CeilingResult struct {
	CeilingFt float64 `json:"ceiling_ft"`
}

// TrajectoryResult is the trajectory_tool output.
type TrajectoryResult struct {
	PredictedAltitudeFt float64 `json:"predicted_altitude_ft"`
	HorizonSeconds      int     `json:"horizon_seconds"`
}

// RiskResult is the risk_tool output.
type RiskResult struct {
	RiskScore  float64 `json:"risk_score"`
	Confidence float64 `json:"confidence"`
}

func number(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.Number, Description: desc}
}

func standardTools(horizonSeconds int) []Tool {
	return []Tool{
		funcTool[ceilingArgs]{
			spec: llm.ToolSpec{
				Name:        CeilingToolName,
				Description: "Return the simulated altitude ceiling in feet for a location.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"lat": number("Latitude in decimal degrees"),
						"lon": number("Longitude in decimal degrees"),
					},
					Required: []string{"lat", "lon"},
				},
			},
			fn: func(a ceilingArgs) (any, error) {
				return CeilingResult{CeilingFt: Ceiling(*a.Lat, *a.Lon)}, nil
			},
		},
		funcTool[trajectoryArgs]{
			spec: llm.ToolSpec{
				Name:        TrajectoryToolName,
				Description: "Project altitude forward using a fixed horizon.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"current_altitude_ft": number("Current altitude in feet"),
						"vertical_speed_fps":  number("Vertical speed in feet per second (positive is climbing)"),
						"horizon_seconds": {
							Type:        jsonschema.Integer,
							Description: fmt.Sprintf("Projection horizon in seconds (default %d)", horizonSeconds),
						},
					},
					Required: []string{"current_altitude_ft", "vertical_speed_fps"},
				},
			},
			fn: func(a trajectoryArgs) (any, error) {
				h := horizonSeconds
				if a.HorizonSeconds != nil {
					h = *a.HorizonSeconds
				}
				return TrajectoryResult{
					PredictedAltitudeFt: Trajectory(*a.CurrentAltitudeFt, *a.VerticalSpeedFps, h),
					HorizonSeconds:      h,
				}, nil
			},
		},
		funcTool[riskArgs]{
			spec: llm.ToolSpec{
				Name:        RiskToolName,
				Description: "Compute risk_score and confidence from ceiling margin and climb rate.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"predicted_altitude_ft": number("Projected altitude in feet"),
						"ceiling_ft":            number("Altitude ceiling in feet"),
						"vertical_speed_fps":    number("Vertical speed in feet per second"),
					},
					Required: []string{"predicted_altitude_ft", "ceiling_ft", "vertical_speed_fps"},
				},
			},
			fn: func(a riskArgs) (any, error) {
				risk, conf := Risk(*a.PredictedAltitudeFt, *a.CeilingFt, *a.VerticalSpeedFps)
				return RiskResult{RiskScore: risk, Confidence: conf}, nil
			},
		},
		funcTool[visibilityArgs]{
			spec: llm.ToolSpec{
				Name:        VisibilityToolName,
				Description: "Assess visibility impact on flight safety and confidence reduction.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"visibility_km": number("Horizontal visibility in kilometres"),
					},
					Required: []string{"visibility_km"},
				},
			},
			fn: func(a visibilityArgs) (any, error) {
				return Visibility(*a.VisibilityKm), nil
			},
		},
	}
}
