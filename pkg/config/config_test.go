package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("RECEIPTGATE_PORT")
	os.Unsetenv("RECEIPTGATE_AUTO_MIGRATE_ON_STARTUP")
	c := Load()
	if c.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", c.Port)
	}
	if !c.AutoMigrate {
		t.Fatal("expected AutoMigrate to default true")
	}
}

func TestValidate_RequiresDatabaseURL(t *testing.T) {
	c := &Config{AllowInsecureDev: true}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing database URL")
	}
}

func TestValidate_RequiresAPIKeyUnlessInsecure(t *testing.T) {
	c := &Config{DatabaseURL: "file:test.db"}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing api key")
	}
	c.AllowInsecureDev = true
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error in insecure dev mode, got %v", err)
	}
}

func TestLoadProfile_EmptyPath(t *testing.T) {
	p, err := LoadProfile("")
	if err != nil || p != nil {
		t.Fatalf("expected nil profile and no error, got %v %v", p, err)
	}
}

func TestApplyProfile_OverlaysFields(t *testing.T) {
	c := &Config{}
	c.ApplyProfile(&DeploymentProfile{MaxConcurrentWrites: 7, EnableGraphLayer: true})
	if c.MaxConcurrentWrites() != 7 {
		t.Fatalf("expected overlay to set concurrency to 7, got %d", c.MaxConcurrentWrites())
	}
	if !c.EnableGraphLayer {
		t.Fatal("expected graph layer to be enabled by profile")
	}
}

func TestMaxConcurrentWrites_DefaultsWhenUnset(t *testing.T) {
	c := &Config{}
	if c.MaxConcurrentWrites() != 32 {
		t.Fatalf("expected default concurrency 32, got %d", c.MaxConcurrentWrites())
	}
}
