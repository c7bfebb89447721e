package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:   "vidrelay",
		Short: "vidrelay CLI - extract and relay social video downloads",
		Long:  `A command-line interface for extracting direct media URLs from social video platforms and streaming them through a local relay server.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:4000", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(downloadCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func postJSON(path string, payload interface{}) (*http.Response, []byte, error) {
	data, _ := json.Marshal(payload)
	resp, err := http.Post(serverURL+path, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body, nil
}

var extractCmd = &cobra.Command{
	Use:   "extract [url]",
	Short: "Resolve a video page URL to its direct media URL and metadata",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		resp, body, err := postJSON("/api/v1/extract", map[string]string{"url": args[0]})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}

		var ref map[string]interface{}
		json.Unmarshal(body, &ref)
		fmt.Printf("Platform:  %v\n", ref["platform"])
		fmt.Printf("Title:     %v\n", ref["title"])
		fmt.Printf("Filename:  %v\n", ref["suggested_filename"])
		fmt.Printf("Direct:    %v\n", ref["direct_url"])
		fmt.Println("Note: the direct URL expires within minutes; use 'add' + 'download' to stream instead.")
	},
}

var addCmd = &cobra.Command{
	Use:   "add [url]",
	Short: "Create a download session for a video page URL",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		resp, body, err := postJSON("/api/v1/sessions", map[string]string{"url": args[0]})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if resp.StatusCode != http.StatusCreated {
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}

		var result map[string]interface{}
		json.Unmarshal(body, &result)
		fmt.Printf("Session created!\n")
		fmt.Printf("ID:       %s\n", result["id"])
		fmt.Printf("Platform: %s\n", result["platform"])
		fmt.Printf("Filename: %s\n", result["filename"])
		fmt.Printf("Stream:   %s/api/v1/stream/%s\n", serverURL, result["id"])
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		resp, err := http.Get(serverURL + "/api/v1/sessions")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		var sessions []map[string]interface{}
		json.Unmarshal(body, &sessions)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPLATFORM\tSTATE\tBYTES\tFILENAME")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
				truncate(str(s["id"]), 8),
				s["platform"],
				s["state"],
				s["bytes_transferred"],
				truncate(str(s["filename"]), 40))
		}
		w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get session details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		resp, err := http.Get(serverURL + "/api/v1/sessions/" + args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}

		var s map[string]interface{}
		json.Unmarshal(body, &s)
		fmt.Printf("Session Details:\n")
		fmt.Printf("  ID:       %s\n", s["id"])
		fmt.Printf("  URL:      %s\n", s["source_url"])
		fmt.Printf("  Platform: %s\n", s["platform"])
		fmt.Printf("  State:    %s\n", s["state"])
		fmt.Printf("  Filename: %s\n", s["filename"])
		fmt.Printf("  Bytes:    %v\n", s["bytes_transferred"])
		if s["failure_reason"] != nil {
			fmt.Printf("  Failure:  %s\n", s["failure_reason"])
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show session statistics",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		resp, err := http.Get(serverURL + "/api/v1/sessions/stats")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		var stats map[string]interface{}
		json.Unmarshal(body, &stats)

		fmt.Println("Session Statistics:")
		fmt.Printf("  In registry: %v\n", stats["sessions"])
		fmt.Printf("  Active:      %v\n", stats["active"])
		if archive, ok := stats["archive"].(map[string]interface{}); ok {
			fmt.Printf("  Archived:    %v\n", archive["total"])
			fmt.Printf("  Completed:   %v\n", archive["completed"])
			fmt.Printf("  Failed:      %v\n", archive["failed"])
			fmt.Printf("  Delivered:   %v bytes\n", archive["bytes_delivered"])
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived sessions",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		limit, _ := cmd.Flags().GetInt("limit")

		resp, err := http.Get(fmt.Sprintf("%s/api/v1/sessions/history?limit=%d", serverURL, limit))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		var records []map[string]interface{}
		json.Unmarshal(body, &records)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPLATFORM\tSTATE\tBYTES\tARCHIVED")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
				truncate(str(rec["ID"]), 8),
				rec["Platform"],
				rec["State"],
				rec["BytesTransferred"],
				rec["ArchivedAt"])
		}
		w.Flush()
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove finished sessions from the registry",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		resp, body, err := postJSON("/api/v1/sessions/clear", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}

		var result map[string]interface{}
		json.Unmarshal(body, &result)
		fmt.Printf("Removed %v finished sessions\n", result["removed"])
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download [url]",
	Short: "Create a session and stream the media to a local file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		outPath, _ := cmd.Flags().GetString("output")

		resp, body, err := postJSON("/api/v1/sessions", map[string]string{"url": args[0]})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if resp.StatusCode != http.StatusCreated {
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}

		var session map[string]interface{}
		json.Unmarshal(body, &session)
		id := str(session["id"])
		fmt.Printf("Session %s created, streaming...\n", truncate(id, 8))

		stream, err := http.Get(serverURL + "/api/v1/stream/" + id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer stream.Body.Close()

		if stream.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(stream.Body)
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(msg))
			os.Exit(1)
		}

		if outPath == "" {
			outPath = filenameFromDisposition(stream.Header.Get("Content-Disposition"))
		}
		if outPath == "" {
			outPath = "video.mp4"
		}

		out, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer out.Close()

		written, err := io.Copy(out, stream.Body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: stream interrupted after %d bytes: %v\n", written, err)
			os.Exit(1)
		}

		fmt.Printf("Saved %d bytes to %s\n", written, outPath)
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum records to show")
	downloadCmd.Flags().StringP("output", "o", "", "Output file path (default: server-suggested filename)")
}

func filenameFromDisposition(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
