package dbus

import (
	"errors"
	"testing"

	godbus "github.com/godbus/dbus/v5"

	"github.com/hostctl/hostctl/internal/errs"
)

func TestWrapDBusError_AccessDenied(t *testing.T) {
	err := wrapDBusError("StartUnit", "nginx.service", godbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"})
	if !errs.Is(err, errs.KindPermissionDenied) {
		t.Errorf("got %v, want KindPermissionDenied", err)
	}
}

func TestWrapDBusError_NoSuchUnit(t *testing.T) {
	err := wrapDBusError("GetUnit", "missing.service", godbus.Error{Name: "org.freedesktop.systemd1.NoSuchUnit"})
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("got %v, want KindNotFound", err)
	}
}

func TestWrapDBusError_ServiceUnknown(t *testing.T) {
	err := wrapDBusError("ListUnits", "", godbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"})
	if !errs.Is(err, errs.KindProtocolUnavailable) {
		t.Errorf("got %v, want KindProtocolUnavailable", err)
	}
}

func TestWrapDBusError_Unclassified(t *testing.T) {
	err := wrapDBusError("Reload", "", errors.New("boom"))
	if !errs.Is(err, errs.KindInternal) {
		t.Errorf("got %v, want KindInternal", err)
	}
}

func TestJoinUnits(t *testing.T) {
	if got := joinUnits([]string{"a.service", "b.service"}); got != "a.service,b.service" {
		t.Errorf("joinUnits = %q", got)
	}
	if got := joinUnits(nil); got != "" {
		t.Errorf("joinUnits(nil) = %q, want empty", got)
	}
}
