package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"catalogexport/internal/database"
	"catalogexport/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

type seedProduct struct {
	Name         string   `yaml:"name"`
	Article      string   `yaml:"article"`
	Description  string   `yaml:"description"`
	ReleaseDate  string   `yaml:"release_date"`
	Category     string   `yaml:"category"`
	Manufacturer string   `yaml:"manufacturer"`
	Price        float64  `yaml:"price"`
	Image        string   `yaml:"image"`
	Maintenances []string `yaml:"maintenances"`
}

type seedFile struct {
	Categories    []string             `yaml:"categories"`
	Manufacturers []string             `yaml:"manufacturers"`
	Maintenances  []models.Maintenance `yaml:"maintenances"`
	Products      []seedProduct        `yaml:"products"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		seedPath = flag.String("seed", "configs/catalog.yaml", "path to catalog seed yaml")
		dbPath   = flag.String("db", "./data/catalog.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*seedPath)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed seedFile
	if err = yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}
	if len(seed.Products) == 0 {
		return fmt.Errorf("no products in yaml")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	categories := make(map[string]int64, len(seed.Categories))
	for _, name := range seed.Categories {
		if categories[name], err = db.CreateCategory(ctx, name); err != nil {
			return fmt.Errorf("category %s: %w", name, err)
		}
	}
	manufacturers := make(map[string]int64, len(seed.Manufacturers))
	for _, name := range seed.Manufacturers {
		if manufacturers[name], err = db.CreateManufacturer(ctx, name); err != nil {
			return fmt.Errorf("manufacturer %s: %w", name, err)
		}
	}
	maintenances := make(map[string]int64, len(seed.Maintenances))
	for _, m := range seed.Maintenances {
		if maintenances[m.Name], err = db.CreateMaintenance(ctx, m); err != nil {
			return fmt.Errorf("maintenance %s: %w", m.Name, err)
		}
	}

	created := 0
	for _, sp := range seed.Products {
		if sp.Name == "" {
			continue
		}
		p, err := toProduct(sp, categories, manufacturers, maintenances)
		if err != nil {
			return err
		}
		if err = db.CreateProduct(ctx, &p); err != nil {
			return fmt.Errorf("create %s: %w", sp.Name, err)
		}
		created++
	}

	logger.Info().Int("created", created).Str("db", *dbPath).Msg("catalog seeded")
	return nil
}

func toProduct(sp seedProduct, categories, manufacturers, maintenances map[string]int64) (models.Product, error) {
	p := models.Product{
		Name:        sp.Name,
		Article:     sp.Article,
		Description: sp.Description,
		Price:       sp.Price,
		Image:       sp.Image,
	}
	if sp.ReleaseDate != "" {
		d, err := time.Parse("2006-01-02", sp.ReleaseDate)
		if err != nil {
			return p, fmt.Errorf("product %s: invalid release_date %q", sp.Name, sp.ReleaseDate)
		}
		p.ReleaseDate = &d
	}
	if id, ok := categories[sp.Category]; ok {
		p.CategoryID = &id
	}
	if id, ok := manufacturers[sp.Manufacturer]; ok {
		p.ManufacturerID = &id
	}
	for _, name := range sp.Maintenances {
		id, ok := maintenances[name]
		if !ok {
			return p, fmt.Errorf("product %s: unknown maintenance %q", sp.Name, name)
		}
		p.MaintenanceIDs = append(p.MaintenanceIDs, id)
	}
	return p, nil
}
