// Command docgen writes the HTTP endpoint reference as AsciiDoc from the
// @Title/@Route/@Description/@Response annotations in the api package.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
)

type Endpoint struct {
	Title       string
	Route       string
	Description string
	Response    string
}

var (
	reTitle = regexp.MustCompile(`// @Title: (.*)`)
	reRoute = regexp.MustCompile(`// @Route: (.*)`)
	reDesc  = regexp.MustCompile(`// @Description: (.*)`)
	reResp  = regexp.MustCompile(`// @Response: (.*)`)
)

func main() {
	var apiDir, out string

	cmd := &cobra.Command{
		Use:   "docgen",
		Short: "Generate the HTTP API reference from handler annotations",
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoints, err := parseEndpoints(apiDir)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, []byte(render(endpoints)), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s (%d endpoints)\n", out, len(endpoints))
			return nil
		},
	}
	cmd.Flags().StringVar(&apiDir, "api", "internal/api", "directory holding the annotated handlers")
	cmd.Flags().StringVar(&out, "out", "internal/docs/api.adoc", "output file")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseEndpoints(apiDir string) ([]Endpoint, error) {
	files, err := os.ReadDir(apiDir)
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		found, err := parseFile(filepath.Join(apiDir, name))
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, found...)
	}
	return endpoints, nil
}

// parseFile collects annotation blocks; @Response closes a block.
func parseFile(path string) ([]Endpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var endpoints []Endpoint
	var current Endpoint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		if match := reTitle.FindStringSubmatch(line); len(match) > 1 {
			current.Title = strings.TrimSpace(match[1])
		}
		if match := reRoute.FindStringSubmatch(line); len(match) > 1 {
			current.Route = strings.TrimSpace(match[1])
		}
		if match := reDesc.FindStringSubmatch(line); len(match) > 1 {
			current.Description = strings.TrimSpace(match[1])
		}
		if match := reResp.FindStringSubmatch(line); len(match) > 1 {
			current.Response = strings.TrimSpace(match[1])
			if current.Title != "" && current.Route != "" {
				endpoints = append(endpoints, current)
			}
			current = Endpoint{}
		}
	}
	return endpoints, scanner.Err()
}

func render(endpoints []Endpoint) string {
	var b strings.Builder
	b.WriteString("= talkd HTTP API\n")
	b.WriteString(":toc:\n\n")
	b.WriteString("// Generated by cmd/docgen from handler annotations. Do not edit.\n")

	for _, ep := range endpoints {
		fmt.Fprintf(&b, "\n== %s\n\n", ep.Title)
		fmt.Fprintf(&b, "`%s`\n\n", ep.Route)
		if ep.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", ep.Description)
		}
		fmt.Fprintf(&b, "Response: `%s`\n", ep.Response)
	}
	return b.String()
}
