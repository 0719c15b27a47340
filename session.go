package realtime

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/realtime"
)

const (
	DefaultInstructions = "You are a voice assistant that helps the user work on a GitHub repository. " +
		"Open a repository with open_repo before creating or editing files, branches or pull requests. " +
		"Keep spoken answers short."
	DefaultVADEagerness       = "low"        // low, medium, high
	DefaultNoiseReduction     = "near_field" // near_field, far_field
	DefaultTranscriptionModel = "whisper-1"
	DefaultOutputSpeed        = 1.0
	DefaultMaxOutputTokens    = int64(1024)

	audioSampleRate = 24000
	audioFormatPCM  = "audio/pcm"
)

// ToolDefinition declares one function the model may call.
type ToolDefinition struct {
	Type        string         `json:"type" yaml:"type"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
}

// SessionSettings is what the client declares for a session, both in the
// token request and in the session.update sent when the channel opens.
type SessionSettings struct {
	Instructions        string
	OutputModalities    []string
	VADEagerness        string
	NoiseReduction      string
	InputLanguage       string
	TranscriptionPrompt string
	TranscriptionModel  string
	OutputSpeed         float64
	MaxOutputTokens     int64
	Tools               []ToolDefinition
}

func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		Instructions:       DefaultInstructions,
		OutputModalities:   []string{"audio"},
		VADEagerness:       DefaultVADEagerness,
		NoiseReduction:     DefaultNoiseReduction,
		TranscriptionModel: DefaultTranscriptionModel,
		OutputSpeed:        DefaultOutputSpeed,
		MaxOutputTokens:    DefaultMaxOutputTokens,
	}
}

// Param builds the typed session request for cfg.
func (s SessionSettings) Param(cfg RealtimeConfig) *realtime.RealtimeSessionCreateRequestParam {
	cfg = cfg.withDefaults()

	eagerness := s.VADEagerness
	if eagerness == "" {
		eagerness = DefaultVADEagerness
	}
	input := realtime.RealtimeAudioConfigInputParam{
		TurnDetection: realtime.RealtimeAudioInputTurnDetectionUnionParam{
			OfSemanticVad: &realtime.RealtimeAudioInputTurnDetectionSemanticVadParam{
				CreateResponse:    param.NewOpt(true),
				InterruptResponse: param.NewOpt(true),
				Eagerness:         eagerness,
			},
		},
		Format: realtime.RealtimeAudioFormatsUnionParam{
			OfAudioPCM: &realtime.RealtimeAudioFormatsAudioPCMParam{
				Rate: audioSampleRate,
				Type: audioFormatPCM,
			},
		},
	}
	if s.NoiseReduction != "" {
		input.NoiseReduction = realtime.RealtimeAudioConfigInputNoiseReductionParam{
			Type: realtime.NoiseReductionType(s.NoiseReduction),
		}
	}
	if s.TranscriptionModel != "" {
		input.Transcription = realtime.AudioTranscriptionParam{
			Model: realtime.AudioTranscriptionModel(s.TranscriptionModel),
		}
		if s.InputLanguage != "" {
			input.Transcription.Language = param.NewOpt(s.InputLanguage)
		}
		if s.TranscriptionPrompt != "" {
			input.Transcription.Prompt = param.NewOpt(s.TranscriptionPrompt)
		}
	}

	output := realtime.RealtimeAudioConfigOutputParam{
		Format: realtime.RealtimeAudioFormatsUnionParam{
			OfAudioPCM: &realtime.RealtimeAudioFormatsAudioPCMParam{
				Rate: audioSampleRate,
				Type: audioFormatPCM,
			},
		},
		Voice: realtime.RealtimeAudioConfigOutputVoice(cfg.Voice),
	}
	if s.OutputSpeed > 0 {
		output.Speed = param.NewOpt(s.OutputSpeed)
	}

	p := &realtime.RealtimeSessionCreateRequestParam{
		Model: cfg.Model,
		Audio: realtime.RealtimeAudioConfigParam{
			Input:  input,
			Output: output,
		},
	}
	if s.Instructions != "" {
		p.Instructions = param.NewOpt(s.Instructions)
	}
	if s.MaxOutputTokens > 0 {
		p.MaxOutputTokens = realtime.RealtimeSessionCreateRequestMaxOutputTokensUnionParam{
			OfInt: param.NewOpt(s.MaxOutputTokens),
		}
	}
	return p
}

// Payload is the JSON object for the "session" field of client_secrets and
// session.update. The tool catalog and output modalities are added on top of
// the typed request.
func (s SessionSettings) Payload(cfg RealtimeConfig) (map[string]any, error) {
	data, err := s.Param(cfg).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshaling session: %w", err)
	}
	out := map[string]any{}
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("re-decoding session: %w", err)
	}
	out["type"] = "realtime"
	if len(s.OutputModalities) > 0 {
		out["output_modalities"] = s.OutputModalities
	}
	if len(s.Tools) > 0 {
		tools := make([]map[string]any, 0, len(s.Tools))
		for _, t := range s.Tools {
			typ := t.Type
			if typ == "" {
				typ = "function"
			}
			def := map[string]any{
				"type":       typ,
				"name":       t.Name,
				"parameters": t.Parameters,
			}
			if t.Description != "" {
				def["description"] = t.Description
			}
			tools = append(tools, def)
		}
		out["tools"] = tools
		out["tool_choice"] = "auto"
	}
	return out, nil
}
