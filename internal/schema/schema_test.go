package schema

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestBuildSchema(t *testing.T) {
	root := &cobra.Command{Use: "lever"}
	child := &cobra.Command{Use: "plan", Short: "plan cmds"}
	leaf := &cobra.Command{Use: "multiply", Short: "build a multiply plan"}
	leaf.Flags().Int("chunks", 1, "flash loan chunks")
	child.AddCommand(leaf)
	root.AddCommand(child)

	s, err := Build(root, "plan multiply")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "lever plan multiply" {
		t.Fatalf("unexpected path: %s", s.Path)
	}
	if len(s.Flags) != 1 || s.Flags[0].Name != "chunks" {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
}

func TestBuildSchemaUnknownPath(t *testing.T) {
	root := &cobra.Command{Use: "lever"}
	if _, err := Build(root, "plans show"); err == nil {
		t.Fatal("expected error for unknown command path")
	}
}
