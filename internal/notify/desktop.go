package notify

import (
	"fmt"

	toast "git.sr.ht/~jackmordaunt/go-toast/v2"
	"github.com/rs/zerolog"

	"github.com/parlorsh/parlor/internal/logging"
)

// DesktopSink renders events as OS toast notifications. Grounded on the
// teacher's per-platform notifier package, but collapsed to one sink: the
// teacher split Start/Show/SetClickHandler per OS because it routed clicks
// back into a Wails window, which Parlor (a terminal client) has no
// equivalent of — go-toast/v2's cross-platform Notification.Push is
// enough on its own.
type DesktopSink struct {
	appName string
	log     zerolog.Logger
}

// NewDesktopSink builds a sink that pushes toast notifications under
// appName.
func NewDesktopSink(appName string) *DesktopSink {
	return &DesktopSink{
		appName: appName,
		log:     logging.WithComponent("notify-desktop"),
	}
}

// Notify implements Sink.
func (d *DesktopSink) Notify(ev Event) error {
	n := toast.Notification{
		AppID:   d.appName,
		Title:   ev.Title,
		Message: ev.Body,
	}
	if err := n.Push(); err != nil {
		d.log.Debug().Err(err).Str("kind", string(ev.Kind)).Msg("failed to push desktop notification")
		return fmt.Errorf("desktop notify: %w", err)
	}
	return nil
}
