package notify

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

const (
	notificationsService = "org.freedesktop.Notifications"
	notificationsPath    = "/org/freedesktop/Notifications"
	notificationsIface   = "org.freedesktop.Notifications"
)

// Notification is a desktop notification
type Notification struct {
	Summary string
	Body    string

	// Icon is an icon name or an image file path
	Icon string
}

// Notifier shows desktop notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// DBusNotifier sends notifications through org.freedesktop.Notifications
type DBusNotifier struct {
	appName string
	timeout int32
}

// NewDBusNotifier creates a notifier. timeoutMs <= 0 uses the server default.
func NewDBusNotifier(appName string, timeoutMs int32) *DBusNotifier {
	if timeoutMs <= 0 {
		timeoutMs = -1
	}
	return &DBusNotifier{appName: appName, timeout: timeoutMs}
}

// Notify sends n and returns once the server accepted it
func (d *DBusNotifier) Notify(ctx context.Context, n Notification) error {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object(notificationsService, dbus.ObjectPath(notificationsPath))

	var id uint32
	err = obj.CallWithContext(ctx, notificationsIface+".Notify", 0,
		d.appName,
		uint32(0),
		n.Icon,
		n.Summary,
		n.Body,
		[]string{},
		map[string]dbus.Variant{},
		d.timeout,
	).Store(&id)
	if err != nil {
		return fmt.Errorf("notify call failed: %w", err)
	}

	logger.WithComponent("notify").Debug().
		Uint32("notification_id", id).
		Str("summary", n.Summary).
		Msg("Notification sent")
	return nil
}

// Log writes notifications to the log. It backs headless runs.
type Log struct{}

// Notify logs n
func (Log) Notify(ctx context.Context, n Notification) error {
	logger.WithComponent("notify").Info().
		Str("summary", n.Summary).
		Str("body", n.Body).
		Msg("Notification")
	return nil
}
