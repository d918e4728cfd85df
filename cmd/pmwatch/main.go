package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/juju/errors"

	"github.com/planboard/backend/internal/client"
	"github.com/planboard/backend/internal/tui/app"
)

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:8080", "HTTP base URL of the planboard backend")
	token := flag.String("token", "", "Auth token (if backend requires it)")
	projectID := flag.String("project", "", "Project to watch (defaults to the first one)")
	flag.Parse()

	httpClient := client.NewHTTPClient(*baseURL, *token)

	if *projectID == "" {
		id, err := firstProject(httpClient)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		*projectID = id
	}

	stream := client.NewStreamClient(deriveWSBase(*baseURL), *token, client.Subscription{
		Feed:  "task_list",
		Scope: *projectID,
	}, client.StreamConfig{})

	m := app.New(stream, httpClient, *projectID)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func firstProject(c *client.HTTPClient) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	projects, err := c.ListProjects(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range projects {
		if !p.Archived {
			return p.ID, nil
		}
	}
	return "", errors.NotFoundf("active project (pass -project)")
}

// deriveWSBase converts http://host:port → ws://host:port
func deriveWSBase(httpURL string) string {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "ws://127.0.0.1:8080"
	}
	scheme := "ws"
	if strings.HasPrefix(u.Scheme, "https") {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
