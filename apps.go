package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/services"
)

// appsFile lists the applications handed to a one-shot synchronization.
type appsFile struct {
	Apps []appEntry `yaml:"apps"`
}

type appEntry struct {
	AppURL     string   `yaml:"app_url"`
	SourceURL  string   `yaml:"source_url"`
	Automatic  *bool    `yaml:"automatic"`
	Attributes string   `yaml:"attributes"`
	Emails     []string `yaml:"emails"`
}

func loadApps(path string) ([]services.AppRegistration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseApps(data)
}

func parseApps(data []byte) ([]services.AppRegistration, error) {
	var f appsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse applications: %w", err)
	}
	if len(f.Apps) == 0 {
		return nil, fmt.Errorf("no applications listed")
	}

	seen := make(map[string]bool, len(f.Apps))
	apps := make([]services.AppRegistration, 0, len(f.Apps))
	for i, e := range f.Apps {
		appURL := strings.TrimSpace(e.AppURL)
		if appURL == "" {
			return nil, fmt.Errorf("application %d: app_url is required", i)
		}
		if seen[appURL] {
			return nil, fmt.Errorf("application %s is listed twice", appURL)
		}
		seen[appURL] = true

		apps = append(apps, services.AppRegistration{
			AppURL:    appURL,
			SourceURL: strings.TrimSpace(e.SourceURL),
			Metadata: models.AppMetadata{
				Automatic:  e.Automatic,
				Attributes: e.Attributes,
				Emails:     e.Emails,
			},
		})
	}
	return apps, nil
}
