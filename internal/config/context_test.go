package config

import "testing"

func TestInjectorBindResolve(t *testing.T) {
	inj := NewInjector()

	if _, ok := inj.Resolve(CapWalletIdentity); ok {
		t.Fatal("resolved an unbound capability")
	}
	if _, err := inj.MustResolve(CapWalletIdentity); err == nil {
		t.Fatal("MustResolve succeeded on an unbound capability")
	}

	inj.Bind(CapWalletIdentity, "identity")
	v, ok := inj.Resolve(CapWalletIdentity)
	if !ok || v != "identity" {
		t.Errorf("Resolve = %v, %v", v, ok)
	}

	// Rebinding replaces the previous value.
	inj.Bind(CapWalletIdentity, "replaced")
	v, _ = inj.Resolve(CapWalletIdentity)
	if v != "replaced" {
		t.Errorf("rebind did not replace: %v", v)
	}
}
