package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// isContextLengthError sniffs the provider error text for a context-window
// overflow. The SDK does not expose a typed sentinel for this, so this
// mirrors what a resource-exhausted/invalid-argument response body says.
func isContextLengthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context") && (strings.Contains(msg, "exceed") || strings.Contains(msg, "too long") || strings.Contains(msg, "token"))
}

// GenAIClient is the concrete Client backed by the real Gemini SDK,
// grounded on the client-construction pattern in
// theRebelliousNerd-codenerd/internal/embedding/genai.go, generalized from
// embedding calls to the streaming chat/tool-calling surface the runtime's
// ReAct loop needs.
type GenAIClient struct {
	client *genai.Client
	model  string
}

func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("llm: create genai client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GenAIClient{client: client, model: model}, nil
}

// Stream sends the conversation to Gemini and emits each streamed part
// (text, thought, or function call) as it arrives. systemInstruction, when
// non-empty, is set as GenerateContentConfig.SystemInstruction so the skill
// discovery catalog reaches the model. It returns once the model finishes
// its turn, mirroring executor.go's per-turn model call but generalized to
// streaming instead of one-shot request/response.
func (c *GenAIClient) Stream(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error {
	genaiContents := toGenAIContents(contents)
	config := &genai.GenerateContentConfig{}
	if len(tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toFunctionDeclarations(tools)}}
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(systemInstruction)}}
	}

	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, genaiContents, config) {
		if err != nil {
			if isContextLengthError(err) {
				return models.ContextWindowExceeded(err.Error())
			}
			return fmt.Errorf("llm: stream: %w", err)
		}
		if resp == nil || len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				emit(models.FunctionCallPart(p.FunctionCall.ID, p.FunctionCall.Name, p.FunctionCall.Args))
			case p.Thought:
				emit(models.ThoughtPart(p.Text))
			case p.Text != "":
				emit(models.TextPart(p.Text))
			}
		}
	}
	return nil
}

func toGenAIContents(contents []models.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		role := c.Role
		var parts []*genai.Part
		for _, p := range c.Parts {
			switch p.Kind {
			case models.PartText, models.PartThought:
				parts = append(parts, genai.NewPartFromText(p.Text))
			case models.PartFunctionCall:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: p.CallID, Name: p.ToolName, Args: p.Args}})
			case models.PartFunctionResponse:
				resultMap, _ := p.Result.(map[string]any)
				if resultMap == nil {
					resultMap = map[string]any{"result": p.Result}
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: p.CallID, Name: p.ToolName, Response: resultMap}})
			}
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}

func toFunctionDeclarations(tools []models.ToolSchema) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaFromMap(t.Parameters),
		})
	}
	return out
}

// schemaFromMap does a best-effort conversion of the JSON-Schema-shaped
// map stored on ToolSchema into genai.Schema. Tool authors only use the
// small subset (object/string/number/array) the swarm's own built-in tools
// need, so this does not attempt to cover the full JSON Schema spec.
func schemaFromMap(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, v := range props {
			if pm, ok := v.(map[string]any); ok {
				s.Properties[name] = schemaFromMap(pm)
			}
		}
	}
	if req, ok := m["required"].([]string); ok {
		s.Required = req
	}
	if desc, ok := m["description"].(string); ok {
		s.Description = desc
	}
	return s
}
