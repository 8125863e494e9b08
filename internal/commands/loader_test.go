package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emberside/firebot/pkg/models"
)

func writePack(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestPackLoad(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "b.yaml", `
- name: lurk
  reply: "{user} is lurking"
`)
	writePack(t, dir, "a.yaml", `
- name: discord
  aliases: [dc]
  type: social
  cooldown: 5s
  reply: "Join us: https://example.com/invite"
- name: hug
  group_only: true
  reply: "{user} hugs {args}"
`)
	writePack(t, dir, "notes.txt", "not a pack file")

	pack := &Pack{Dir: dir}
	cmds, err := pack.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cmds) != 3 {
		t.Fatalf("loaded %d commands, want 3", len(cmds))
	}

	// Files load in lexical order, a.yaml before b.yaml.
	if cmds[0].Name != "discord" || cmds[1].Name != "hug" || cmds[2].Name != "lurk" {
		t.Fatalf("order = %s, %s, %s", cmds[0].Name, cmds[1].Name, cmds[2].Name)
	}
	if cmds[0].Type != "social" {
		t.Fatalf("Type = %q", cmds[0].Type)
	}
	if cmds[0].Cooldown != 5*time.Second {
		t.Fatalf("Cooldown = %v", cmds[0].Cooldown)
	}
	if len(cmds[0].Aliases) != 1 || cmds[0].Aliases[0] != "dc" {
		t.Fatalf("Aliases = %v", cmds[0].Aliases)
	}
	if !cmds[1].GroupOnly {
		t.Fatal("group_only not parsed")
	}
	if cmds[2].Type != "custom" {
		t.Fatalf("default Type = %q", cmds[2].Type)
	}
	for _, c := range cmds {
		if c.Run == nil {
			t.Fatalf("command %q has no action", c.Name)
		}
	}
}

func TestPackLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "- reply: hi\n", "has no name"},
		{"missing reply", "- name: hi\n", "has no reply"},
		{"bad yaml", "not: [valid", "parse"},
		{"bad cooldown", "- name: hi\n  cooldown: soon\n  reply: hello\n", "invalid cooldown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writePack(t, dir, "pack.yaml", tc.yaml)
			if _, err := (&Pack{Dir: dir}).Load(); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}

	t.Run("missing dir", func(t *testing.T) {
		if _, err := (&Pack{Dir: "/nonexistent-pack-dir"}).Load(); err == nil {
			t.Fatal("expected error for missing directory")
		}
	})
}

func TestPackReplyPlaceholders(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "pack.yaml", `
- name: greet
  reply: "Hi {user}, welcome to {room}! You said: {args}"
`)
	cmd, err := (&Pack{Dir: dir}).LoadOne("greet")
	if err != nil {
		t.Fatalf("LoadOne: %v", err)
	}

	gw := newFakeGateway()
	room := models.Room{ID: "group-1", Name: "general", Type: models.RoomClosedGroup}
	room.AddMembers([]models.User{{ID: "u1", Username: "alice"}})
	inv := &Invocation{
		Command: cmd,
		Message: models.Message{AuthorID: "u1", RoomID: "group-1"},
		Room:    room,
		Args:    []string{"hello", "there"},
		replier: gw,
	}
	if err := cmd.Run(context.Background(), inv); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "group-1: Hi alice, welcome to general! You said: hello there"
	if got := gw.lastReply(); got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}

	// An author missing from the member cache falls back to the raw id.
	inv.Message.AuthorID = "u9"
	if err := cmd.Run(context.Background(), inv); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := gw.lastReply(); !strings.Contains(got, "Hi u9,") {
		t.Fatalf("reply = %q", got)
	}
}

func TestPackLoadOneUnknown(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "pack.yaml", "- name: hi\n  reply: hello\n")
	if _, err := (&Pack{Dir: dir}).LoadOne("nosuch"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestMultiSource(t *testing.T) {
	first := &sliceSource{cmds: []*Command{testCommand("alpha")}}
	second := &sliceSource{cmds: []*Command{testCommand("beta"), testCommand("alpha")}}
	src := MultiSource{first, second}

	cmds, err := src.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cmds) != 3 || cmds[0].Name != "alpha" || cmds[1].Name != "beta" {
		t.Fatalf("concatenation order wrong: %v", names(cmds))
	}

	// LoadOne prefers earlier sources.
	got, err := src.LoadOne("alpha")
	if err != nil {
		t.Fatalf("LoadOne: %v", err)
	}
	if got != first.cmds[0] {
		t.Fatal("LoadOne did not prefer the first source")
	}

	if _, err := src.LoadOne("nosuch"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func names(cmds []*Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Name
	}
	return out
}
