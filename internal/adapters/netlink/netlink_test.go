package netlink

import (
	"syscall"
	"testing"

	"github.com/hostctl/hostctl/internal/errs"
)

func TestWrapNetlinkError_PermissionDenied(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.EPERM, syscall.EACCES} {
		err := wrapNetlinkError("op", errno)
		if !errs.Is(err, errs.KindPermissionDenied) {
			t.Errorf("errno %v: got %v, want KindPermissionDenied", errno, err)
		}
	}
}

func TestWrapNetlinkError_NotFound(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.ENOENT, syscall.ENODEV} {
		err := wrapNetlinkError("op", errno)
		if !errs.Is(err, errs.KindNotFound) {
			t.Errorf("errno %v: got %v, want KindNotFound", errno, err)
		}
	}
}

func TestWrapNetlinkError_Other(t *testing.T) {
	err := wrapNetlinkError("op", syscall.EINVAL)
	if !errs.Is(err, errs.KindInternal) {
		t.Errorf("got %v, want KindInternal", err)
	}
}

func TestVportTypeRoundTrip(t *testing.T) {
	for _, name := range vportTypes {
		code := vportTypeCode(name)
		if vportTypeName(code) != name {
			t.Errorf("round trip failed for %q: code=%d name=%q", name, code, vportTypeName(code))
		}
	}
}

func TestVportTypeCode_Unknown(t *testing.T) {
	if code := vportTypeCode("does-not-exist"); code != 0 {
		t.Errorf("vportTypeCode(unknown) = %d, want 0", code)
	}
}
