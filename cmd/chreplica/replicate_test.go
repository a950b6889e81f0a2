package main

import (
	"testing"

	"github.com/hpoveda/chreplica/internal/config"
)

func TestApplyPositionals(t *testing.T) {
	base := func() config.ReplicationConfig {
		return config.Defaults().Replication
	}

	t.Run("no optionals", func(t *testing.T) {
		rep := base()
		if err := applyPositionals(nil, &rep); err != nil {
			t.Fatal(err)
		}
		if rep.Tables != nil || rep.MaxRowsPerTable != 0 {
			t.Errorf("got %+v", rep)
		}
	})

	t.Run("tables only", func(t *testing.T) {
		rep := base()
		if err := applyPositionals([]string{"Orders, Clients"}, &rep); err != nil {
			t.Fatal(err)
		}
		if len(rep.Tables) != 2 || rep.Tables[1] != "Clients" {
			t.Errorf("Tables = %v", rep.Tables)
		}
	})

	t.Run("dash skips the table list", func(t *testing.T) {
		rep := base()
		if err := applyPositionals([]string{"-", "5000"}, &rep); err != nil {
			t.Fatal(err)
		}
		if rep.Tables != nil || rep.MaxRowsPerTable != 5000 {
			t.Errorf("got %+v", rep)
		}
	})

	t.Run("numeric third argument is a row cap", func(t *testing.T) {
		rep := base()
		if err := applyPositionals([]string{"Orders", "5000", "raw_"}, &rep); err != nil {
			t.Fatal(err)
		}
		if rep.MaxRowsPerTable != 5000 || rep.TargetTablePrefix != "raw_" {
			t.Errorf("got %+v", rep)
		}
	})

	t.Run("non-numeric third argument is a prefix", func(t *testing.T) {
		rep := base()
		if err := applyPositionals([]string{"Orders", "raw_"}, &rep); err != nil {
			t.Fatal(err)
		}
		if rep.MaxRowsPerTable != 0 || rep.TargetTablePrefix != "raw_" {
			t.Errorf("got %+v", rep)
		}
	})

	t.Run("full surface", func(t *testing.T) {
		rep := base()
		err := applyPositionals([]string{"Orders", "1000", "raw_", "false", "OrderId"}, &rep)
		if err != nil {
			t.Fatal(err)
		}
		if rep.Incremental {
			t.Error("Incremental should be false")
		}
		if rep.PreferredIdentityColumn != "OrderId" {
			t.Errorf("PreferredIdentityColumn = %q", rep.PreferredIdentityColumn)
		}
	})

	t.Run("boolean directly after tables", func(t *testing.T) {
		rep := base()
		if err := applyPositionals([]string{"Orders", "false"}, &rep); err != nil {
			t.Fatal(err)
		}
		if rep.Incremental {
			t.Error("Incremental should be false")
		}
		if rep.TargetTablePrefix != "" {
			t.Errorf("TargetTablePrefix = %q", rep.TargetTablePrefix)
		}
	})

	t.Run("bad boolean", func(t *testing.T) {
		rep := base()
		if err := applyPositionals([]string{"Orders", "1000", "raw_", "maybe"}, &rep); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("too many arguments", func(t *testing.T) {
		rep := base()
		if err := applyPositionals([]string{"a", "1", "p", "true", "Id", "extra"}, &rep); err == nil {
			t.Error("expected error")
		}
	})
}

func TestLooksBool(t *testing.T) {
	for _, s := range []string{"true", "False", "YES", "no", "t"} {
		if !looksBool(s) {
			t.Errorf("looksBool(%q) = false", s)
		}
	}
	for _, s := range []string{"1000", "raw_", ""} {
		if looksBool(s) {
			t.Errorf("looksBool(%q) = true", s)
		}
	}
}
