package models

import "time"

// Maintenance is a service offering attached to a product.
type Maintenance struct {
	Name  string  `json:"name" yaml:"name"`
	Price float64 `json:"price" yaml:"price"`
}

// CatalogRow is a denormalized product snapshot read at export time.
type CatalogRow struct {
	ID           int64
	Name         string
	Article      string
	Description  string
	ReleaseDate  *time.Time
	Category     *string
	Manufacturer *string
	Price        float64
	ImageURL     string
	Maintenances []Maintenance
}

// Product is the write model used to populate the catalog tables.
type Product struct {
	ID             int64      `yaml:"id"`
	Name           string     `yaml:"name"`
	Article        string     `yaml:"article"`
	Description    string     `yaml:"description"`
	ReleaseDate    *time.Time `yaml:"release_date"`
	CategoryID     *int64     `yaml:"category_id"`
	ManufacturerID *int64     `yaml:"manufacturer_id"`
	Price          float64    `yaml:"price"`
	Image          string     `yaml:"image"`
	MaintenanceIDs []int64    `yaml:"maintenance_ids"`
}

// ExportStats aggregates counters reported in the success notification.
type ExportStats struct {
	TotalProducts    int `json:"total_products"`
	WithImages       int `json:"with_images"`
	WithManufacturer int `json:"with_manufacturer"`
	WithCategory     int `json:"with_category"`
}
