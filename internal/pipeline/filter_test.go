package pipeline

import (
	"dirmirror/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRules(t *testing.T, patterns []string, ignoreCreation, ignoreTemp, ideMode bool) Rules {
	t.Helper()
	rules, err := NewRules(patterns, ignoreCreation, ignoreTemp, ideMode)
	require.NoError(t, err)
	return rules
}

func TestShouldExclude(t *testing.T) {
	plain := mustRules(t, []string{"*.tmp", "build"}, false, false, false)
	noCreate := mustRules(t, nil, true, false, false)
	temp := mustRules(t, nil, false, true, false)
	ide := mustRules(t, nil, false, false, true)

	tests := []struct {
		name  string
		rules Rules
		path  string
		dir   bool
		kind  model.EventKind
		want  bool
	}{
		{"pattern match", plain, "x.tmp", false, model.EventCreate, true},
		{"pattern no match", plain, "x.txt", false, model.EventCreate, false},
		{"excluded dir subtree", plain, "build/a/b.go", false, model.EventModify, true},
		{"delete of excluded path", plain, "x.tmp", false, model.EventDelete, true},
		{"ignore creation drops create", noCreate, "new.txt", false, model.EventCreate, true},
		{"ignore creation drops dir create", noCreate, "newdir", true, model.EventCreate, true},
		{"ignore creation keeps modify", noCreate, "new.txt", false, model.EventModify, false},
		{"ignore creation keeps rename into place", noCreate, "doc.txt", false, model.EventRenameTo, false},
		{"temp suffix", temp, "notes.txt~", false, model.EventModify, true},
		{"temp suffix nested", temp, "a/b/c~", false, model.EventDelete, true},
		{"tilde inside name", temp, "a~b.txt", false, model.EventModify, false},
		{"ide git", ide, ".git/HEAD", false, model.EventCreate, true},
		{"ide nested idea", ide, "sub/.idea/workspace.xml", false, model.EventModify, true},
		{"ide implies temp", ide, "notes.txt~", false, model.EventCreate, true},
		{"ide keeps gitignore", ide, ".gitignore", false, model.EventCreate, false},
		{"ide keeps sources", ide, "src/main.go", false, model.EventModify, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldExclude(tt.path, tt.dir, tt.kind, tt.rules))
		})
	}
}

func TestNewRulesInvalidPattern(t *testing.T) {
	_, err := NewRules([]string{"[x"}, false, false, false)
	require.Error(t, err)
}

func TestNewRulesIDEModeImpliesTempFiles(t *testing.T) {
	rules := mustRules(t, nil, false, false, true)
	assert.True(t, rules.IgnoreTempFiles)
}

func TestApplyRename(t *testing.T) {
	rules := mustRules(t, []string{"*.tmp"}, false, false, false)
	rename := model.CanonicalEvent{Kind: model.EventRename, From: "a.txt", Path: "b.txt", ContentChanged: true}

	t.Run("both visible", func(t *testing.T) {
		out, ok := Apply(rename, rules)
		require.True(t, ok)
		assert.Equal(t, rename, out)
	})

	t.Run("origin hidden becomes create", func(t *testing.T) {
		ev := rename
		ev.From = "a.tmp"
		out, ok := Apply(ev, rules)
		require.True(t, ok)
		assert.Equal(t, model.EventCreate, out.Kind)
		assert.Equal(t, "b.txt", out.Path)
		assert.Empty(t, out.From)
	})

	t.Run("destination hidden becomes delete", func(t *testing.T) {
		ev := rename
		ev.Path = "b.tmp"
		out, ok := Apply(ev, rules)
		require.True(t, ok)
		assert.Equal(t, model.EventDelete, out.Kind)
		assert.Equal(t, "a.txt", out.Path)
	})

	t.Run("both hidden", func(t *testing.T) {
		ev := model.CanonicalEvent{Kind: model.EventRename, From: "a.tmp", Path: "b.tmp"}
		_, ok := Apply(ev, rules)
		assert.False(t, ok)
	})

	t.Run("origin hidden with ignore creation still mirrors the save", func(t *testing.T) {
		r := mustRules(t, []string{"*.tmp"}, true, false, false)
		ev := rename
		ev.From = "a.tmp"
		out, ok := Apply(ev, r)
		require.True(t, ok)
		assert.Equal(t, model.EventCreate, out.Kind)
		assert.True(t, out.MovedIn)
	})
}

func TestApplyIgnoreCreation(t *testing.T) {
	rules := mustRules(t, nil, true, false, false)

	_, ok := Apply(model.CanonicalEvent{Kind: model.EventCreate, Path: "fresh.txt"}, rules)
	assert.False(t, ok)

	out, ok := Apply(model.CanonicalEvent{Kind: model.EventCreate, Path: "doc.txt", MovedIn: true}, rules)
	require.True(t, ok)
	assert.Equal(t, "doc.txt", out.Path)

	_, ok = Apply(model.CanonicalEvent{Kind: model.EventModify, Path: "doc.txt"}, rules)
	assert.True(t, ok)

	rename := model.CanonicalEvent{Kind: model.EventRename, From: "a.txt", Path: "b.txt"}
	_, ok = Apply(rename, rules)
	assert.True(t, ok)
}

func TestFilter(t *testing.T) {
	rules := mustRules(t, []string{"*.tmp"}, false, false, true)
	in := make(chan model.CanonicalEvent, 8)
	in <- model.CanonicalEvent{Kind: model.EventCreate, Path: "x.tmp"}
	in <- model.CanonicalEvent{Kind: model.EventCreate, Path: ".git/HEAD"}
	in <- model.CanonicalEvent{Kind: model.EventCreate, Path: "notes.txt~"}
	in <- model.CanonicalEvent{Kind: model.EventCreate, Path: "keep.txt"}
	close(in)

	var got []string
	for ev := range Filter(in, rules) {
		got = append(got, ev.Path)
	}
	assert.Equal(t, []string{"keep.txt"}, got)
}
