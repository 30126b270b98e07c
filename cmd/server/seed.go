package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"syncbridge/internal/config"
	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/services"
)

// seedFile is the agents.yaml layout
type seedFile struct {
	Agents []seedAgent `yaml:"agents"`
}

type seedAgent struct {
	LiveChatAgentID        string `yaml:"livechat_agent_id"`
	RingCentralExtensionID string `yaml:"ringcentral_extension_id"`
	Email                  string `yaml:"email"`
	Name                   string `yaml:"name"`
}

func newSeedCmd(configPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert agent mappings from a YAML file",
		Long:  "Registers each agent's LiveChat id and RingCentral extension. Existing mappings are updated in place.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, *configPath, file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "agents.yaml", "path to agents YAML file")
	return cmd
}

func runSeed(cmd *cobra.Command, configPath, file string) error {
	agents, err := loadAgents(file)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, store, err := openStore(cfg.DB)
	if err != nil {
		return err
	}
	defer closeDB(db)

	n, err := seedAgents(cmd.Context(), services.NewAgentDirectory(store, store), agents)
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %d of %d agents from %s\n", n, len(agents), file)
	return err
}

// loadAgents reads and checks an agents file
func loadAgents(path string) ([]domain.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("%s: no agents listed", path)
	}

	agents := make([]domain.Agent, 0, len(f.Agents))
	for _, a := range f.Agents {
		agents = append(agents, domain.Agent{
			LiveChatAgentID:        a.LiveChatAgentID,
			RingCentralExtensionID: a.RingCentralExtensionID,
			Email:                  a.Email,
			Name:                   a.Name,
		})
	}
	return agents, nil
}

// seedAgents registers every agent, stopping at the first failure
func seedAgents(ctx context.Context, directory *services.AgentDirectory, agents []domain.Agent) (int, error) {
	for i := range agents {
		if err := directory.Register(ctx, &agents[i]); err != nil {
			return i, err
		}
	}
	return len(agents), nil
}
