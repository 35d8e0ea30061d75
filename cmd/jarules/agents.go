package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/witchcraftery/jarules-sub000/internal/config"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List configured agents and their providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if path := cfg.Path(); path != "" {
			fmt.Printf("%s %s\n\n", labelStyle.Render("Config:"), path)
		}
		displayAgents(cfg)
		return cfg.Validate()
	},
}

func displayAgents(cfg *config.Config) {
	if len(cfg.Agents) == 0 {
		fmt.Println("No agents configured. Run 'jarules init' to write an example config.")
		return
	}

	fmt.Printf("%s %s %s %s\n",
		headerStyle.Width(14).Render("AGENT"),
		headerStyle.Width(14).Render("PROVIDER"),
		headerStyle.Width(10).Render("KIND"),
		headerStyle.Render("DETAIL"))
	for _, a := range cfg.Agents {
		p, ok := cfg.Provider(a.Provider)
		kind, detail := "?", "unknown provider"
		if ok {
			kind, detail = p.Kind, providerDetail(cfg, p, a)
		}
		fmt.Printf("%s %s %s %s\n",
			lipgloss.NewStyle().Width(14).Render(a.ID),
			lipgloss.NewStyle().Width(14).Render(a.Provider),
			lipgloss.NewStyle().Width(10).Render(kind),
			detail)
	}
}

func providerDetail(cfg *config.Config, p config.ProviderConfig, a config.AgentConfig) string {
	model := a.Model
	if model == "" {
		model = p.Model
	}
	switch p.Kind {
	case config.ProviderAnthropic:
		key, _ := config.GetAPIKey(cfg, p)
		return fmt.Sprintf("%s, key %s", model, config.MaskAPIKey(key))
	case config.ProviderBedrock:
		region := p.AWSRegion
		if region == "" {
			region = "default region"
		}
		return fmt.Sprintf("%s, %s", model, region)
	case config.ProviderCommand:
		return strings.Join(p.Command, " ")
	}
	return model
}
