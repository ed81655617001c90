package memory

import (
	"errors"
	"reflect"
	"testing"
)

func TestSkillCreateGetDelete(t *testing.T) {
	s := openStore(t)
	if err := s.CreateSkill("mining", "dig holes", "use the drill", ""); err != nil {
		t.Fatal(err)
	}
	sk, err := s.GetSkill("mining")
	if err != nil {
		t.Fatal(err)
	}
	if sk.Owner != GlobalOwner {
		t.Errorf("empty owner should default to global, got %q", sk.Owner)
	}
	if err := s.DeleteSkill("mining"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSkill("mining"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSkillVisibility(t *testing.T) {
	s := openStore(t)
	s.CreateSkill("shared", "", "", GlobalOwner)
	s.CreateSkill("mine", "", "", "alice")
	s.CreateSkill("theirs", "", "", "bob")

	skills, err := s.ListSkills("alice")
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, sk := range skills {
		names[sk.Name] = true
	}
	if !names["shared"] || !names["mine"] || names["theirs"] {
		t.Errorf("visibility wrong: %v", names)
	}
}

func TestSkillDeepMergeSequence(t *testing.T) {
	s := openStore(t)
	s.CreateSkill("sk", "", "", "")

	// {a:{b:1}} then {a:{c:2}} yields {a:{b:1,c:2}}.
	if _, err := s.UpdateSkill("sk", map[string]any{"a": map[string]any{"b": float64(1)}}); err != nil {
		t.Fatal(err)
	}
	sk, err := s.UpdateSkill("sk", map[string]any{"a": map[string]any{"c": float64(2)}})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"a": map[string]any{"b": float64(1), "c": float64(2)}}
	if !reflect.DeepEqual(sk.SkillData, want) {
		t.Fatalf("merged data = %#v, want %#v", sk.SkillData, want)
	}

	// {a:{b:null}} deletes the leaf.
	sk, err = s.UpdateSkill("sk", map[string]any{"a": map[string]any{"b": nil}})
	if err != nil {
		t.Fatal(err)
	}
	want = map[string]any{"a": map[string]any{"c": float64(2)}}
	if !reflect.DeepEqual(sk.SkillData, want) {
		t.Fatalf("after delete data = %#v, want %#v", sk.SkillData, want)
	}
}

func TestSkillArraysReplace(t *testing.T) {
	s := openStore(t)
	s.CreateSkill("sk", "", "", "")
	s.UpdateSkill("sk", map[string]any{"steps": []any{"one", "two"}})
	sk, err := s.UpdateSkill("sk", map[string]any{"steps": []any{"three"}})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sk.SkillData["steps"], []any{"three"}) {
		t.Errorf("arrays must replace, got %#v", sk.SkillData["steps"])
	}
}

func TestSkillDataNullClears(t *testing.T) {
	s := openStore(t)
	s.CreateSkill("sk", "desc", "instr", "")
	s.UpdateSkill("sk", map[string]any{"a": float64(1)})

	sk, err := s.UpdateSkill("sk", map[string]any{"skill_data": nil})
	if err != nil {
		t.Fatal(err)
	}
	if len(sk.SkillData) != 0 {
		t.Errorf("skill_data not cleared: %#v", sk.SkillData)
	}
	if sk.Description != "desc" || sk.Instructions != "instr" {
		t.Errorf("clear touched description/instructions: %+v", sk)
	}
}

func TestSkillWrapperShape(t *testing.T) {
	s := openStore(t)
	s.CreateSkill("sk", "", "", "")
	sk, err := s.UpdateSkill("sk", map[string]any{"skill_data": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatal(err)
	}
	if sk.SkillData["k"] != "v" {
		t.Errorf("wrapper shape not honored: %#v", sk.SkillData)
	}
}

func TestSkillInstructionsStayTopLevel(t *testing.T) {
	s := openStore(t)
	s.CreateSkill("sk", "", "", "")
	sk, err := s.UpdateSkill("sk", map[string]any{"instructions": "new text", "extra": "data"})
	if err != nil {
		t.Fatal(err)
	}
	if sk.Instructions != "new text" {
		t.Errorf("instructions = %q", sk.Instructions)
	}
	if _, ok := sk.SkillData["instructions"]; ok {
		t.Error("instructions leaked into skill_data")
	}
	if sk.SkillData["extra"] != "data" {
		t.Errorf("direct field not merged into skill_data: %#v", sk.SkillData)
	}
}

func TestDeepMergeDoesNotMutate(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"b": 1}}
	DeepMerge(dst, map[string]any{"a": map[string]any{"c": 2}})
	inner := dst["a"].(map[string]any)
	if _, ok := inner["c"]; ok {
		t.Error("DeepMerge mutated its input")
	}
}
