package main

import (
	"flag"
	"fmt"
)

// GenConfig holds settings for the gen command.
type GenConfig struct {
	Database     string
	Tables       int
	Records      int // Rows inserted before the workload starts
	Operations   int
	Workload     string
	InsertPct    int
	UpdatePct    int
	DeletePct    int
	Seed         int64
	Output       string
	CreateTables bool
	Progress     bool
}

func parseGenFlags(args []string) (*GenConfig, error) {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	c := &GenConfig{}

	fs.StringVar(&c.Database, "database", "bench", "Database name")
	fs.IntVar(&c.Tables, "tables", 1, "Number of tables")
	fs.IntVar(&c.Records, "records", 1000, "Rows inserted before the workload")
	fs.IntVar(&c.Operations, "operations", 10000, "Workload operations after the initial load")
	fs.StringVar(&c.Workload, "workload", "mixed", "Workload type: mixed|insert-only|update-heavy")
	fs.IntVar(&c.InsertPct, "insert-pct", -1, "Insert percentage (overrides workload default)")
	fs.IntVar(&c.UpdatePct, "update-pct", -1, "Update percentage (overrides workload default)")
	fs.IntVar(&c.DeletePct, "delete-pct", -1, "Delete percentage (overrides workload default)")
	fs.Int64Var(&c.Seed, "seed", 1, "Random seed")
	fs.StringVar(&c.Output, "out", "-", "Output file, - for stdout")
	fs.BoolVar(&c.CreateTables, "create-tables", true, "Emit CREATE TABLE records first")
	fs.BoolVar(&c.Progress, "progress", true, "Print progress to stderr")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *GenConfig) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database must not be empty")
	}
	if c.Tables < 1 {
		return fmt.Errorf("tables must be at least 1")
	}
	if c.Records < 0 {
		return fmt.Errorf("records must be non-negative")
	}
	if c.Operations < 0 {
		return fmt.Errorf("operations must be non-negative")
	}

	switch c.Workload {
	case "mixed", "insert-only", "update-heavy":
	case "":
		c.Workload = "mixed"
	default:
		return fmt.Errorf("invalid workload: %s (must be mixed|insert-only|update-heavy)", c.Workload)
	}
	return c.Distribution().Validate()
}

// Distribution returns the operation mix for the workload.
func (c *GenConfig) Distribution() WorkloadDistribution {
	var dist WorkloadDistribution
	switch c.Workload {
	case "mixed":
		dist = WorkloadDistribution{Insert: 50, Update: 35, Delete: 15}
	case "insert-only":
		dist = WorkloadDistribution{Insert: 100}
	case "update-heavy":
		dist = WorkloadDistribution{Insert: 15, Update: 75, Delete: 10}
	}

	if c.InsertPct >= 0 {
		dist.Insert = c.InsertPct
	}
	if c.UpdatePct >= 0 {
		dist.Update = c.UpdatePct
	}
	if c.DeletePct >= 0 {
		dist.Delete = c.DeletePct
	}
	return dist
}

// WorkloadDistribution is the percentage of each DML operation.
type WorkloadDistribution struct {
	Insert int
	Update int
	Delete int
}

func (w WorkloadDistribution) Total() int {
	return w.Insert + w.Update + w.Delete
}

func (w WorkloadDistribution) Validate() error {
	if total := w.Total(); total != 100 {
		return fmt.Errorf("workload percentages must sum to 100, got %d", total)
	}
	return nil
}
