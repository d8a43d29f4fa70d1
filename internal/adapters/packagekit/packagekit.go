// Package packagekit installs and removes system packages through the
// PackageKit D-Bus service, replacing shell-outs to apt-get/dnf/yum.
package packagekit

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/hostctl/hostctl/internal/errs"
)

const (
	busName        = "org.freedesktop.PackageKit"
	objectPath     = dbus.ObjectPath("/org/freedesktop/PackageKit")
	transactionIfc = "org.freedesktop.PackageKit.Transaction"
)

// transactionFlag mirrors PackageKit's TransactionFlagEnum bit values used
// by this adapter; PackageKit expects flags as a uint64 bitmask.
const (
	flagNone   uint64 = 0
	filterNone uint64 = 0
)

// Adapter drives PackageKit over D-Bus.
type Adapter struct {
	conn *dbus.Conn
}

// Connect attaches to the system bus, where PackageKit is always exposed.
func Connect() (*Adapter, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errs.Newf(errs.KindProtocolUnavailable, "packagekit: connect: %v", err)
	}
	return &Adapter{conn: conn}, nil
}

// Close releases the bus connection.
func (a *Adapter) Close() error { return a.conn.Close() }

func (a *Adapter) newTransaction(ctx context.Context) (dbus.ObjectPath, error) {
	var txPath dbus.ObjectPath
	obj := a.conn.Object(busName, objectPath)
	call := obj.CallWithContext(ctx, busName+".CreateTransaction", 0)
	if err := call.Store(&txPath); err != nil {
		return "", wrapError("CreateTransaction", err)
	}
	return txPath, nil
}

// InstallPackages resolves and installs packages by name.
func (a *Adapter) InstallPackages(ctx context.Context, packages []string) error {
	txPath, err := a.newTransaction(ctx)
	if err != nil {
		return err
	}
	tx := a.conn.Object(busName, txPath)

	packageIDs, err := a.resolvePackageIDs(ctx, tx, packages)
	if err != nil {
		return err
	}
	call := tx.CallWithContext(ctx, transactionIfc+".InstallPackages", 0, flagNone, packageIDs)
	if err := call.Err; err != nil {
		return wrapError("InstallPackages", err)
	}
	return nil
}

// RemovePackages removes packages by name, optionally taking dependents
// and orphaned auto-installed dependencies with it.
func (a *Adapter) RemovePackages(ctx context.Context, packages []string, allowDeps, autoremove bool) error {
	txPath, err := a.newTransaction(ctx)
	if err != nil {
		return err
	}
	tx := a.conn.Object(busName, txPath)

	packageIDs, err := a.resolvePackageIDs(ctx, tx, packages)
	if err != nil {
		return err
	}
	call := tx.CallWithContext(ctx, transactionIfc+".RemovePackages", 0, flagNone, packageIDs, allowDeps, autoremove)
	if err := call.Err; err != nil {
		return wrapError("RemovePackages", err)
	}
	return nil
}

// resolvePackageIDs maps human package names to PackageKit's
// name;version;arch;repo package-ID strings via the Resolve method,
// collecting Package signal emissions on the transaction object.
func (a *Adapter) resolvePackageIDs(ctx context.Context, tx dbus.BusObject, packages []string) ([]string, error) {
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(tx.Path()),
		dbus.WithMatchInterface(transactionIfc),
	}
	if err := a.conn.AddMatchSignal(match...); err != nil {
		return nil, wrapError("AddMatch", err)
	}
	defer a.conn.RemoveMatchSignal(match...)

	sigCh := make(chan *dbus.Signal, 32)
	a.conn.Signal(sigCh)
	defer a.conn.RemoveSignal(sigCh)

	call := tx.CallWithContext(ctx, transactionIfc+".Resolve", 0, filterNone, packages)
	if err := call.Err; err != nil {
		return nil, wrapError("Resolve", err)
	}

	var ids []string
	for {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				return ids, nil
			}
			switch sig.Name {
			case transactionIfc + ".Package":
				if len(sig.Body) >= 2 {
					if id, ok := sig.Body[1].(string); ok {
						ids = append(ids, id)
					}
				}
			case transactionIfc + ".Finished":
				return ids, nil
			case transactionIfc + ".ErrorCode":
				return nil, errs.Newf(errs.KindNotFound, "packagekit: resolve failed for %v", packages)
			}
		case <-ctx.Done():
			return nil, errs.New(errs.KindTimeout, "packagekit: resolve timed out")
		}
	}
}

func wrapError(op string, err error) error {
	if dbusErr, ok := err.(dbus.Error); ok {
		switch dbusErr.Name {
		case "org.freedesktop.DBus.Error.AccessDenied", "org.freedesktop.PackageKit.Transaction.NotAuthorized":
			return errs.Newf(errs.KindPermissionDenied, "packagekit %s: %s", op, dbusErr.Body)
		case "org.freedesktop.DBus.Error.ServiceUnknown":
			return errs.Newf(errs.KindProtocolUnavailable, "packagekit %s: service unavailable", op)
		}
	}
	return errs.Newf(errs.KindInternal, "packagekit %s: %v", op, err)
}
