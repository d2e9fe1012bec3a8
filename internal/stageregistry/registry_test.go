package stageregistry

import "testing"

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	fn := func(e Exec) (StageOutput, error) { return StageOutput{}, nil }
	if err := r.Register("orchestrator", fn); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok := r.Get("orchestrator")
	if !ok {
		t.Fatal("expected handler to be found")
	}
	if got == nil {
		t.Fatal("expected non-nil handler")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("does_not_exist")
	if ok {
		t.Fatal("expected ok=false for unregistered stage")
	}
}

func TestRegistryRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	fn := func(e Exec) (StageOutput, error) { return StageOutput{}, nil }
	if err := r.Register("orchestrator", fn); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register("orchestrator", fn); err == nil {
		t.Fatal("expected error registering duplicate stage name")
	}
}

func TestRegistryRegisterNilHandler(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("orchestrator", nil); err == nil {
		t.Fatal("expected error registering nil handler")
	}
}

func TestRegistryRegisterEmptyName(t *testing.T) {
	r := NewRegistry()
	fn := func(e Exec) (StageOutput, error) { return StageOutput{}, nil }
	if err := r.Register("", fn); err == nil {
		t.Fatal("expected error registering empty stage name")
	}
}
