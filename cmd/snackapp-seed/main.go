// Command snackapp-seed loads a menu definition from a YAML file and
// inserts it into the project's food_items table. It needs the service
// role key, so it is an operator tool, not part of the app.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/iorgasnack/snackapp/supabase"
)

type menuFile struct {
	Items []struct {
		Name        string  `yaml:"name"`
		Description string  `yaml:"description"`
		Price       float64 `yaml:"price"`
		ImageURL    string  `yaml:"image_url"`
		Category    string  `yaml:"category"`
		Available   *bool   `yaml:"available"`
	} `yaml:"items"`
}

func main() {
	var (
		menuPath   = flag.String("menu", "./menu.yaml", "Path to the menu YAML file")
		envFile    = flag.String("env", ".env", "Path to .env with SNACKAPP_PROJECT_URL and SERVICE_ROLE_KEY")
		projectURL = flag.String("project-url", "", "Project URL (overrides SNACKAPP_PROJECT_URL)")
	)
	flag.Parse()

	ctx := context.Background()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}

	url := *projectURL
	if url == "" {
		url = os.Getenv("SNACKAPP_PROJECT_URL")
	}
	if url == "" {
		log.Fatal("project URL missing: set -project-url or SNACKAPP_PROJECT_URL")
	}

	serviceRole := os.Getenv("SERVICE_ROLE_KEY")
	if serviceRole == "" {
		log.Fatalf("SERVICE_ROLE_KEY missing in %s", *envFile)
	}

	data, err := os.ReadFile(filepath.Clean(*menuPath))
	if err != nil {
		log.Fatalf("read menu: %v", err)
	}
	var menu menuFile
	if err := yaml.Unmarshal(data, &menu); err != nil {
		log.Fatalf("parse menu: %v", err)
	}
	if len(menu.Items) == 0 {
		log.Fatalf("menu %s has no items", *menuPath)
	}

	client, err := supabase.New(supabase.Config{URL: url, APIKey: serviceRole})
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	rows := make([]map[string]any, 0, len(menu.Items))
	for _, item := range menu.Items {
		available := true
		if item.Available != nil {
			available = *item.Available
		}
		rows = append(rows, map[string]any{
			"name":        item.Name,
			"description": item.Description,
			"price":       item.Price,
			"image_url":   item.ImageURL,
			"category":    item.Category,
			"available":   available,
		})
	}

	if _, err := client.From("food_items").Insert(rows).Execute(ctx); err != nil {
		log.Fatalf("insert menu items: %v", err)
	}
	fmt.Printf("seeded %d menu items\n", len(rows))
}
