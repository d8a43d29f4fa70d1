package packagekit

import (
	"errors"
	"testing"

	godbus "github.com/godbus/dbus/v5"

	"github.com/hostctl/hostctl/internal/errs"
)

func TestWrapError_AccessDenied(t *testing.T) {
	err := wrapError("InstallPackages", godbus.Error{Name: "org.freedesktop.PackageKit.Transaction.NotAuthorized"})
	if !errs.Is(err, errs.KindPermissionDenied) {
		t.Errorf("got %v, want KindPermissionDenied", err)
	}
}

func TestWrapError_ServiceUnknown(t *testing.T) {
	err := wrapError("CreateTransaction", godbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"})
	if !errs.Is(err, errs.KindProtocolUnavailable) {
		t.Errorf("got %v, want KindProtocolUnavailable", err)
	}
}

func TestWrapError_Unclassified(t *testing.T) {
	if err := wrapError("Resolve", errors.New("boom")); !errs.Is(err, errs.KindInternal) {
		t.Errorf("got %v, want KindInternal", err)
	}
}
