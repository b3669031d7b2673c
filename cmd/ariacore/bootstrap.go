package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// runBootstrap implements the first-run setup path: generate the
// process API key and the LLM master key, write them to the config
// directory's .env file, and print them once so the operator can store
// them. Refuses to overwrite an existing .env — re-running bootstrap
// must never silently rotate live credentials.
func runBootstrap(args []string) int {
	fs := flag.NewFlagSet("bootstrap", flag.ExitOnError)
	configDir := fs.String("config-dir", getEnv("ARIA_CONFIG_DIR", "./config"), "Path to configuration directory")
	force := fs.Bool("force", false, "Overwrite an existing .env file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	fmt.Printf("aria-core bootstrap (%s/%s)\n", runtime.GOOS, runtime.GOARCH)

	if err := os.MkdirAll(*configDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create config directory: %v\n", err)
		return 1
	}

	envPath := filepath.Join(*configDir, ".env")
	if _, err := os.Stat(envPath); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "%s already exists; re-run with -force to overwrite\n", envPath)
		return 1
	}

	apiKey, err := randomKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate api key: %v\n", err)
		return 1
	}
	masterKey, err := randomKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate llm master key: %v\n", err)
		return 1
	}

	content := fmt.Sprintf(`# Generated by aria-core bootstrap. Keep this file out of version control.
ARIA_API_KEY=%s
ARIA_LLM_MASTER_KEY=%s
ARIA_LLM_BASE_URL=http://localhost:4000/v1
ARIA_DB_HOST=localhost
ARIA_DB_PORT=5432
ARIA_DB_USER=aria
ARIA_DB_PASSWORD=
ARIA_DB_NAME=aria
`, apiKey, masterKey)

	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", envPath, err)
		return 1
	}

	fmt.Printf("wrote %s\n\n", envPath)
	fmt.Printf("ARIA_API_KEY=%s\n", apiKey)
	fmt.Printf("ARIA_LLM_MASTER_KEY=%s\n", masterKey)
	fmt.Println("\nSet ARIA_DB_PASSWORD before starting the server.")
	return 0
}

func randomKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
