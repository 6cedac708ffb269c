package core_test

import (
	"errors"
	"testing"

	"github.com/jstz-dev/jstz-core/core"
)

func TestErrorWrapAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := core.NewError(core.KindStorageFailure, "write account balance", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
	if got := core.KindOf(err); got != core.KindStorageFailure {
		t.Fatalf("KindOf = %v, want %v", got, core.KindStorageFailure)
	}
}

func TestKindOfDefaultsUnclassifiedErrors(t *testing.T) {
	if got := core.KindOf(errors.New("raw")); got != core.KindStorageFailure {
		t.Fatalf("KindOf(raw) = %v, want KindStorageFailure", got)
	}
}

func TestKindFatalClassification(t *testing.T) {
	fatal := []core.Kind{core.KindDecode, core.KindBadSignature, core.KindAddressMismatch, core.KindNonceReplay, core.KindNonceGap, core.KindUnauthorizedInject}
	for _, k := range fatal {
		if !k.Fatal() {
			t.Errorf("%s should be fatal", k)
		}
	}
	nonFatal := []core.Kind{core.KindInsufficient, core.KindOutOfGas, core.KindUserError, core.KindAborted}
	for _, k := range nonFatal {
		if k.Fatal() {
			t.Errorf("%s should not be fatal", k)
		}
	}
}
