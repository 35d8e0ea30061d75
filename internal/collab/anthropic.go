package collab

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/witchcraftery/jarules-sub000/internal/manifest"
)

const (
	defaultMaxIterations = 50
	defaultMaxTokens     = 8192
)

// AnthropicConfig configures an AnthropicGenerator.
type AnthropicConfig struct {
	// ProviderID names the provider in errors and logs.
	ProviderID string
	Model      string
	// APIKey is used unless UseBedrock is set.
	APIKey string
	// UseBedrock routes requests through AWS Bedrock with the default
	// credential chain.
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
	// MaxIterations bounds model turns (default 50).
	MaxIterations int
	MaxTokens     int
	// Stop, when set, is checked before every turn.
	Stop *StopSignal
	// RequestOptions are appended to the client options.
	RequestOptions []option.RequestOption
}

// AnthropicGenerator runs a tool loop against the Messages API. The model
// writes files through the write_file tool; every written path is returned.
type AnthropicGenerator struct {
	client        anthropic.Client
	provider      string
	model         anthropic.Model
	maxIterations int
	maxTokens     int64
	stop          *StopSignal
}

// NewAnthropicGenerator creates a generator for the Anthropic API or Bedrock.
func NewAnthropicGenerator(cfg AnthropicConfig) (*AnthropicGenerator, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("provider %s: no API key configured", cfg.ProviderID)
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, cfg.RequestOptions...)

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseBedrock {
		model = bedrockModel(model)
	}

	g := &AnthropicGenerator{
		client:        anthropic.NewClient(opts...),
		provider:      cfg.ProviderID,
		model:         model,
		maxIterations: cfg.MaxIterations,
		maxTokens:     int64(cfg.MaxTokens),
		stop:          cfg.Stop,
	}
	if g.maxIterations <= 0 {
		g.maxIterations = defaultMaxIterations
	}
	if g.maxTokens <= 0 {
		g.maxTokens = defaultMaxTokens
	}
	return g, nil
}

// bedrockModel maps Anthropic model names to Bedrock cross-region inference profiles.
func bedrockModel(model anthropic.Model) anthropic.Model {
	profiles := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
	}
	if p, ok := profiles[model]; ok {
		return anthropic.Model(p)
	}
	return model
}

// Model returns the model requests are sent to.
func (g *AnthropicGenerator) Model() anthropic.Model {
	return g.model
}

// Generate implements Generator.
func (g *AnthropicGenerator) Generate(ctx context.Context, task, workingDir string) ([]string, error) {
	ws := newWorkspace(workingDir)
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(task)),
	}

	for turn := 1; turn <= g.maxIterations; turn++ {
		if g.stop.ShouldStop() {
			return ws.files(), &TaskError{Provider: g.provider, Err: ErrStopped}
		}

		resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     g.model,
			MaxTokens: g.maxTokens,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt()},
			},
			Messages: messages,
			Tools:    toolDefinitions(),
		})
		if err != nil {
			return ws.files(), taskErrorf(g.provider, "API call failed: %w", err)
		}

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				result := ws.execute(variant.Name, variant.Input)
				if result.IsError {
					log.Printf("[collab] %s tool %s: %s", g.provider, variant.Name, result.Content)
				}
				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, result.Content, result.IsError))
			}
		}

		if resp.StopReason != anthropic.StopReasonToolUse || len(toolResultBlocks) == 0 {
			return ws.files(), nil
		}

		messages = append(messages,
			anthropic.NewAssistantMessage(assistantBlocks...),
			anthropic.NewUserMessage(toolResultBlocks...),
		)
	}

	return ws.files(), taskErrorf(g.provider, "max iterations (%d) reached", g.maxIterations)
}

func systemPrompt() string {
	return fmt.Sprintf(`You are working inside a git repository. Complete the task by writing files with the %s tool; paths are relative to the repository root. Use %s and %s to inspect existing files.

When finished, write %s containing a short summary of the solution followed by a section headed exactly "%s" that lists each important file you wrote as a bullet, for example:

%s
- path/to/file.go
`, ToolWriteFile, ToolReadFile, ToolListFiles, manifest.FileName, manifest.KeyFilesHeader, manifest.KeyFilesHeader)
}

var _ Generator = (*AnthropicGenerator)(nil)
