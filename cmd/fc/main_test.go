package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/fieldchat/internal/config"
	"github.com/zulandar/fieldchat/internal/db"
	"github.com/zulandar/fieldchat/internal/models"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "fc dev") {
		t.Errorf("expected output to contain 'fc dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"fc 1.0.0", "commit: abc123", "built: 2026-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestRootCmdHelp(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Fieldchat") {
		t.Errorf("expected help output to contain 'Fieldchat', got: %s", out)
	}
	for _, sub := range []string{"version", "chat", "serve", "workorders", "transcript", "db"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestCommandsRequireConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	tests := [][]string{
		{"chat", "-c", missing},
		{"serve", "-c", missing},
		{"workorders", "list", "-c", missing},
		{"transcript", "-c", missing},
		{"db", "migrate", "-c", missing},
	}
	for _, args := range tests {
		t.Run(strings.Join(args[:len(args)-2], " "), func(t *testing.T) {
			cmd := newRootCmd()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(args)

			err := cmd.Execute()
			if err == nil {
				t.Fatal("expected error for missing config")
			}
			if !strings.Contains(err.Error(), "load config") {
				t.Errorf("error = %q, want it to mention load config", err)
			}
		})
	}
}

func TestWorkOrdersDoneRequiresID(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"workorders", "done"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error without an order id")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldchat.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDBMigrateJournalDisabled(t *testing.T) {
	path := writeConfig(t, "api:\n  base_url: http://backend.test\n")

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"db", "migrate", "-c", path})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "journal is disabled") {
		t.Fatalf("err = %v, want journal is disabled", err)
	}
}

func sqliteConfig(t *testing.T) (string, string) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "journal.db")
	return writeConfig(t, "api:\n  base_url: http://backend.test\njournal:\n  driver: sqlite\n  dsn: "+dsn+"\n"), dsn
}

func TestDBMigrateSQLite(t *testing.T) {
	path, _ := sqliteConfig(t)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"db", "migrate", "-c", path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("db migrate: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Connected to sqlite journal") {
		t.Errorf("output missing connect line: %s", out)
	}
	if !strings.Contains(out, "Migrated 1 tables") {
		t.Errorf("output missing migrate line: %s", out)
	}
}

func TestTranscriptCmd(t *testing.T) {
	path, dsn := sqliteConfig(t)

	gormDB, err := db.Connect(config.JournalConfig{Driver: db.DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	j, err := db.NewJournal(gormDB)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	ctx := context.Background()
	msgs := []models.Message{
		{ID: "a", Sender: models.RoleUser, Body: "How do I reset the pump?", SentAt: 1700000000},
		{ID: "b", Sender: models.RoleBot, Body: "Hold the button [doc1].", SentAt: 1700000001,
			Citations: []models.Citation{{FilePath: "http://doc/pump"}}},
	}
	for i, m := range msgs {
		if err := j.Record(ctx, "conv-1", i, m); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		sqlDB.Close()
	}

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"transcript", "-c", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "conv-1") || !strings.Contains(out, "2") {
		t.Errorf("conversation listing = %q", out)
	}

	cmd = newRootCmd()
	buf.Reset()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"transcript", "conv-1", "-c", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("transcript conv-1: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "user: How do I reset the pump?") {
		t.Errorf("missing user line: %s", out)
	}
	if !strings.Contains(out, "bot: Hold the button [1](<http://doc/pump>).") {
		t.Errorf("missing rendered bot line: %s", out)
	}
}
