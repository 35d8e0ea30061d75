package collab

import (
	"fmt"

	"github.com/witchcraftery/jarules-sub000/internal/config"
)

// Options carries runtime dependencies the config file cannot express.
type Options struct {
	Stop *StopSignal
}

// FromConfig builds the generator for id, which names a configured agent or,
// failing that, a provider. An agent's model overrides its provider's.
func FromConfig(cfg *config.Config, id string, opts Options) (Generator, error) {
	providerID, model := id, ""
	if agent, ok := cfg.Agent(id); ok {
		providerID, model = agent.Provider, agent.Model
	}

	provider, ok := cfg.Provider(providerID)
	if !ok {
		return nil, fmt.Errorf("no provider configured for %q", id)
	}
	if model == "" {
		model = provider.Model
	}

	switch provider.Kind {
	case config.ProviderAnthropic:
		key, err := config.GetAPIKey(cfg, provider)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", provider.ID, err)
		}
		return NewAnthropicGenerator(AnthropicConfig{
			ProviderID:    provider.ID,
			Model:         modelOrDefault(model),
			APIKey:        key,
			MaxIterations: provider.MaxIterations,
			MaxTokens:     provider.MaxTokens,
			Stop:          opts.Stop,
		})

	case config.ProviderBedrock:
		return NewAnthropicGenerator(AnthropicConfig{
			ProviderID:    provider.ID,
			Model:         modelOrDefault(model),
			UseBedrock:    true,
			AWSRegion:     provider.AWSRegion,
			AWSProfile:    provider.AWSProfile,
			MaxIterations: provider.MaxIterations,
			MaxTokens:     provider.MaxTokens,
			Stop:          opts.Stop,
		})

	case config.ProviderCommand:
		return NewCommandGenerator(provider.ID, provider.Command, model, nil)

	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q", provider.ID, provider.Kind)
	}
}

func modelOrDefault(model string) string {
	if model == "" {
		return config.DefaultModel
	}
	return model
}
