package config

import "testing"

func TestNew_AppliesOptionFuncsInOrder(t *testing.T) {
	o, err := New(
		WithPolicy(PolicyVG),
		WithCapacities(16<<20, 2<<20),
		WithBlockGeometry(4096, 64),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if o.Policy != PolicyVG {
		t.Fatalf("Policy = %q, want vg", o.Policy)
	}
	if o.TotalCapacity != 16<<20 || o.FastMemoryCapacity != 2<<20 {
		t.Fatalf("capacities = (%d, %d), want (16MiB, 2MiB)", o.TotalCapacity, o.FastMemoryCapacity)
	}
}

func TestValidate_RejectsNonPowerOfTwoBlockSize(t *testing.T) {
	_, err := New(WithBlockGeometry(100, 64))
	if err == nil {
		t.Fatalf("expected an error for a non-power-of-two block size")
	}
}

func TestValidate_RejectsFastMemoryExceedingTotal(t *testing.T) {
	_, err := New(WithCapacities(1<<20, 2<<20))
	if err == nil {
		t.Fatalf("expected an error when fast memory capacity exceeds total capacity")
	}
}

func TestValidate_RejectsUnknownPolicy(t *testing.T) {
	_, err := New(WithPolicy("nonsense"))
	if err == nil {
		t.Fatalf("expected an error for an unknown policy")
	}
}

func TestValidate_RejectsNonPositiveQueueLength(t *testing.T) {
	o := NewDefaultOptions()
	o.QueueLength = 0
	if err := o.Validate(); err == nil {
		t.Fatalf("expected an error for a zero queue length")
	}
}

func TestFromEnv_FallsBackToDefaultsWhenUnset(t *testing.T) {
	o := FromEnv()
	if o.Policy != PolicyLLT {
		t.Fatalf("Policy = %q, want the default llt", o.Policy)
	}
	if o.TotalCapacity != DefaultTotalCapacity {
		t.Fatalf("TotalCapacity = %d, want default %d", o.TotalCapacity, DefaultTotalCapacity)
	}
	if !o.DataEviction {
		t.Fatalf("DataEviction should keep its default of true when HYMEM_DATA_EVICTION is unset")
	}
}
