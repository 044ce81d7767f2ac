package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/climpire/internal/cliauth"
	"github.com/nextlevelbuilder/climpire/internal/config"
	"github.com/nextlevelbuilder/climpire/internal/store"
	"github.com/nextlevelbuilder/climpire/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("climpire doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults plus env apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	fmt.Printf("    %-12s %s", "Path:", cfg.DBPath)
	st, dbErr := store.Open(cfg.DBPath, zerolog.Nop())
	if dbErr != nil {
		fmt.Printf(" (OPEN FAILED: %s)\n", dbErr)
	} else {
		fmt.Println(" (OK)")
		if depts, err := st.ListDepartments(context.Background()); err == nil {
			fmt.Printf("    %-12s %d seeded\n", "Departments:", len(depts))
		}
		if agents, err := st.ListAgents(context.Background()); err == nil {
			fmt.Printf("    %-12s %d seeded\n", "Agents:", len(agents))
		}
		_ = st.Close()
	}

	fmt.Println()
	fmt.Println("  Vault:")
	if cfg.OAuth.IsConfigured() {
		fmt.Printf("    %-12s configured\n", "Secret:")
	} else {
		fmt.Printf("    %-12s NOT SET (set OAUTH_ENCRYPTION_SECRET or SESSION_SECRET)\n", "Secret:")
	}

	fmt.Println()
	fmt.Println("  CLI Providers:")
	detector := cliauth.New(cfg.Providers.OpenAIAPIKey, zerolog.Nop())
	for _, s := range detector.Detect(true) {
		state := "not installed"
		if s.Installed && s.Authenticated {
			state = "ready"
			if s.Method != "" {
				state += " (" + s.Method + ")"
			}
		} else if s.Installed {
			state = "installed, not authenticated"
		}
		fmt.Printf("    %-14s %s\n", s.Provider+":", state)
	}

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("git")
	checkBinary("curl")

	fmt.Println()
	fmt.Printf("  Logs dir: %s", cfg.LogsDir)
	if _, err := os.Stat(cfg.LogsDir); err != nil {
		fmt.Println(" (will be created on first run)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
