package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	serverStartTimeout = 10 * time.Second
	serverPollInterval = 200 * time.Millisecond
)

func serverHealthy() bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// locateServerBinary finds vidrelay-server: next to the CLI binary first,
// then PATH, then the usual install prefixes.
func locateServerBinary() (string, error) {
	var candidates []string
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), "vidrelay-server"))
	}
	if fromPath, err := exec.LookPath("vidrelay-server"); err == nil {
		return fromPath, nil
	}
	candidates = append(candidates,
		"/usr/local/bin/vidrelay-server",
		"/usr/bin/vidrelay-server",
		filepath.Join(os.Getenv("HOME"), "go/bin/vidrelay-server"),
		filepath.Join(os.Getenv("HOME"), ".local/bin/vidrelay-server"),
	)

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("vidrelay-server binary not found")
}

// spawnServer launches the server detached so it outlives this CLI
// invocation. The server daemonizes itself from there.
func spawnServer() error {
	serverPath, err := locateServerBinary()
	if err != nil {
		return err
	}

	cmd := exec.Command(serverPath)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	detachProcess(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	// reap, never block
	go cmd.Wait()
	return nil
}

func awaitServer() error {
	deadline := time.Now().Add(serverStartTimeout)
	for time.Now().Before(deadline) {
		if serverHealthy() {
			return nil
		}
		time.Sleep(serverPollInterval)
	}
	return fmt.Errorf("server did not start within %v", serverStartTimeout)
}

// ensureServerRunning starts the server when the health check fails.
func ensureServerRunning() error {
	if serverHealthy() {
		return nil
	}

	fmt.Println("Server not running, starting...")
	if err := spawnServer(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	if err := awaitServer(); err != nil {
		return err
	}

	fmt.Println("Server started successfully")
	return nil
}
