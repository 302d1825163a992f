package forever

import (
	"time"

	"github.com/hazyhaar/gen4eva/page"
)

// ActivityKind classifies what the engine did.
type ActivityKind string

const (
	ActivityArtifact      ActivityKind = "artifact"
	ActivityNotification  ActivityKind = "notification"
	ActivityArmed         ActivityKind = "armed"
	ActivityDisarmed      ActivityKind = "disarmed"
	ActivityClickSave     ActivityKind = "click_save"
	ActivityClickGenerate ActivityKind = "click_generate"
	ActivityRecovery      ActivityKind = "recovery"
	ActivityBootstrapOK   ActivityKind = "bootstrap_ok"
	ActivityBootstrapFail ActivityKind = "bootstrap_fail"
	ActivityReattach      ActivityKind = "reattach"
)

// Activity is reported for every state change and synthetic click, for
// journaling. At is filled by the engine.
type Activity struct {
	Kind   ActivityKind
	At     time.Time
	Node   page.Node
	Detail string
}

// ActivityFunc receives activities on the loop. It must not block.
type ActivityFunc func(Activity)
