package cli

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skippybot/skippy/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check daemon preconditions and connectivity",
	RunE:  runDoctor,
}

type doctorCheck struct {
	name string
	run  func() error
}

func runDoctor(cmd *cobra.Command, args []string) error {
	checks := []doctorCheck{
		{"config", checkConfig},
		{"ollama", checkOllama},
		{"daemon socket", checkSocket},
	}
	failed := 0
	for _, c := range checks {
		if err := c.run(); err != nil {
			failed++
			fmt.Printf("%s %s: %v\n", color.RedString("✗"), c.name, err)
		} else {
			fmt.Printf("%s %s\n", color.GreenString("✓"), c.name)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func checkConfig() error {
	_, err := config.Load()
	return err
}

func checkOllama() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config unreadable")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(cfg.Ollama.Host + "/api/tags")
	if err != nil {
		return fmt.Errorf("endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func checkSocket() error {
	path, err := config.SocketPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("socket missing (daemon not running?)")
	}
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return fmt.Errorf("socket not accepting connections: %w", err)
	}
	conn.Close()
	return nil
}
