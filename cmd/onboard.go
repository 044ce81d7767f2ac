package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/climpire/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfg := config.Default()

	var (
		host        = cfg.Host
		port        = fmt.Sprintf("%d", cfg.Port)
		secret      string
		projectPath string
		language    string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen host").
				Value(&host),
			huh.NewInput().
				Title("Listen port").
				Value(&port).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("port is required")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("OAuth encryption secret").
				Description("Encrypts stored OAuth tokens (OAUTH_ENCRYPTION_SECRET). Leave empty to set via env later.").
				EchoMode(huh.EchoModePassword).
				Value(&secret),
			huh.NewInput().
				Title("Default project path").
				Description("Used when a directive doesn't name a project.").
				Value(&projectPath),
			huh.NewSelect[string]().
				Title("Default meeting language").
				Options(
					huh.NewOption("Auto-detect from directives", ""),
					huh.NewOption("English", "en"),
					huh.NewOption("Korean", "ko"),
					huh.NewOption("Japanese", "ja"),
					huh.NewOption("Chinese", "zh"),
				).
				Value(&language),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Println("Onboarding cancelled.")
		os.Exit(1)
	}

	cfg.Host = host
	fmt.Sscanf(port, "%d", &cfg.Port)
	cfg.Language = language

	cfgPath := resolveConfigPath()
	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Printf("Failed to write %s: %s\n", cfgPath, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", cfgPath)

	if secret != "" {
		envPath := filepath.Join(filepath.Dir(cfgPath), ".env")
		line := fmt.Sprintf("OAUTH_ENCRYPTION_SECRET=%s\n", secret)
		f, err := os.OpenFile(envPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err == nil {
			_, _ = f.WriteString(line)
			_ = f.Close()
			fmt.Printf("Appended OAUTH_ENCRYPTION_SECRET to %s\n", envPath)
		}
	}
	if projectPath != "" {
		fmt.Printf("Tip: pass project paths in directives, or set project_path per task. Default noted: %s\n", projectPath)
	}

	fmt.Println()
	fmt.Println("Done. Start the server with:  climpire serve")
}
