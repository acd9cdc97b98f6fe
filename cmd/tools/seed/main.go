// Command seed is a one-shot catalogue loader: it reads a YAML file of
// expected backup jobs and inserts each as a new Expected Job row
// (spec.md §1 "catalogue seeding scripts", out of scope for the core
// but needed to populate it for a first run).
//
// Usage:
//
//	seed -file jobs.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/backupwatch/server/internal/config"
	"github.com/backupwatch/server/internal/store"
)

// jobSpec mirrors one entry of the seeding YAML file. Field names match
// spec.md §3.1's Expected Job attributes.
type jobSpec struct {
	Year                 int      `yaml:"year"`
	Company              string   `yaml:"company"`
	City                 string   `yaml:"city"`
	Neighborhood         string   `yaml:"neighborhood"`
	DatabaseName         string   `yaml:"database_name"`
	ExpectedHourUTC      int      `yaml:"expected_hour_utc"`
	ExpectedMinuteUTC    int      `yaml:"expected_minute_utc"`
	ExpectedFrequency    string   `yaml:"expected_frequency"`
	DaysOfWeek           []string `yaml:"days_of_week"`
	FinalStorageTemplate string   `yaml:"final_storage_template"`
	IsActive             *bool    `yaml:"is_active"`
}

type catalogueFile struct {
	Jobs []jobSpec `yaml:"jobs"`
}

func main() {
	path := flag.String("file", "", "path to a YAML catalogue file (required)")
	flag.Parse()
	if *path == "" {
		log.Fatal("seed: -file is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("seed: read %s: %v", *path, err)
	}
	var cat catalogueFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		log.Fatalf("seed: parse %s: %v", *path, err)
	}

	ctx := context.Background()
	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("seed: connect: %v", err)
	}
	defer db.Close()

	created := 0
	for _, js := range cat.Jobs {
		isActive := true
		if js.IsActive != nil {
			isActive = *js.IsActive
		}
		var days []store.Weekday
		for _, d := range js.DaysOfWeek {
			days = append(days, store.Weekday(d))
		}

		id, err := db.CreateJob(ctx, store.ExpectedJob{
			Year:                 js.Year,
			Company:              js.Company,
			City:                 js.City,
			Neighborhood:         js.Neighborhood,
			DatabaseName:         js.DatabaseName,
			ExpectedHourUTC:      js.ExpectedHourUTC,
			ExpectedMinuteUTC:    js.ExpectedMinuteUTC,
			ExpectedFrequency:    store.Frequency(js.ExpectedFrequency),
			DaysOfWeek:           days,
			FinalStorageTemplate: js.FinalStorageTemplate,
			IsActive:             isActive,
		})
		if err != nil {
			log.Printf("seed: skip %s/%s/%s: %v", js.Company, js.City, js.DatabaseName, err)
			continue
		}
		created++
		fmt.Printf("created job %s (%s_%s_%s/%s)\n", id, js.Company, js.City, js.Neighborhood, js.DatabaseName)
	}

	fmt.Printf("%d job(s) created successfully\n", created)
}
