package forever

import (
	"math/rand/v2"
	"time"

	"github.com/hazyhaar/gen4eva/locator"
)

// Selectors is the one place host-page heuristics live. The class names are
// emitted by the host's build tooling and go stale on redeploys.
type Selectors struct {
	// RootClass identifies the container new artifacts appear in.
	RootClass string `yaml:"root_class"`
	// NotificationClass identifies the toast region.
	NotificationClass string `yaml:"notification_class"`
	// NotificationContainerClass identifies a toast appearing in the region.
	NotificationContainerClass string `yaml:"notification_container_class"`
	// SaveClass identifies the save control used by auto-save.
	SaveClass string `yaml:"save_class"`
	// GenerateLabels are the accepted generate-button labels, one per locale.
	GenerateLabels locator.TextMatcher `yaml:"generate_labels"`
	ButtonTag      string              `yaml:"button_tag"`
	// SourceAttribute is the attribute whose change marks a finished artifact.
	SourceAttribute string `yaml:"source_attr"`
}

// DelayRange is a half-open [Min, Max) range delays are drawn from.
type DelayRange struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Draw returns a uniformly distributed delay. A degenerate range returns Min.
func (r DelayRange) Draw(rnd *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rnd.Int64N(int64(r.Max-r.Min)))
}

// Timing holds every interval and window of the loop.
type Timing struct {
	BootstrapInterval  time.Duration `yaml:"bootstrap_interval"`
	HealthInterval     time.Duration `yaml:"health_interval"`
	ArtifactWindow     time.Duration `yaml:"artifact_window"`
	NotificationWindow time.Duration `yaml:"notification_window"`
	GenerateDelay      DelayRange    `yaml:"generate_delay"`
	RecoveryDelay      DelayRange    `yaml:"recovery_delay"`
}

// Appearance is the label and colour of a toggle in each of its two states.
type Appearance struct {
	OffLabel string `yaml:"off_label"`
	OnLabel  string `yaml:"on_label"`
	OffColor string `yaml:"off_color"`
	OnColor  string `yaml:"on_color"`
}

// Options configures an Engine.
type Options struct {
	Selectors Selectors
	Timing    Timing
	Forever   Appearance
	AutoSave  Appearance
	// AutoSaveEnabled is the initial auto-save flag.
	AutoSaveEnabled bool
	// Signal is the page event name that forces a re-bootstrap.
	Signal string
	// Rand draws the randomized delays. Tests inject a seeded source.
	Rand *rand.Rand
}

// DefaultOptions mirrors the host page as last verified.
func DefaultOptions() Options {
	return Options{
		Selectors: Selectors{
			RootClass:                  "display-grid-images",
			NotificationClass:          "Toastify",
			NotificationContainerClass: "Toastify__toast-container",
			GenerateLabels:             locator.TextMatcher{"Generate", "生成"},
			ButtonTag:                  "button",
			SourceAttribute:            "src",
		},
		Timing: Timing{
			BootstrapInterval:  time.Second,
			HealthInterval:     2 * time.Second,
			ArtifactWindow:     600 * time.Millisecond,
			NotificationWindow: 600 * time.Millisecond,
			GenerateDelay:      DelayRange{Min: time.Second, Max: 3 * time.Second},
			RecoveryDelay:      DelayRange{Min: 200 * time.Millisecond, Max: 400 * time.Millisecond},
		},
		Forever: Appearance{
			OffLabel: "Once",
			OnLabel:  "Generate Forever",
			OffColor: "rgb(245, 243, 194)",
			OnColor:  "rgb(245, 194, 194)",
		},
		AutoSave: Appearance{
			OffLabel: "No Save",
			OnLabel:  "Auto Save",
			OffColor: "rgb(245, 243, 194)",
			OnColor:  "rgb(194, 245, 200)",
		},
		Signal: "gen_4eva",
	}
}

func (o *Options) defaults() {
	d := DefaultOptions()
	if o.Selectors.RootClass == "" {
		o.Selectors.RootClass = d.Selectors.RootClass
	}
	if o.Selectors.NotificationClass == "" {
		o.Selectors.NotificationClass = d.Selectors.NotificationClass
	}
	if o.Selectors.NotificationContainerClass == "" {
		o.Selectors.NotificationContainerClass = d.Selectors.NotificationContainerClass
	}
	if len(o.Selectors.GenerateLabels) == 0 {
		o.Selectors.GenerateLabels = d.Selectors.GenerateLabels
	}
	if o.Selectors.ButtonTag == "" {
		o.Selectors.ButtonTag = d.Selectors.ButtonTag
	}
	if o.Selectors.SourceAttribute == "" {
		o.Selectors.SourceAttribute = d.Selectors.SourceAttribute
	}
	if o.Timing.BootstrapInterval <= 0 {
		o.Timing.BootstrapInterval = d.Timing.BootstrapInterval
	}
	if o.Timing.HealthInterval <= 0 {
		o.Timing.HealthInterval = d.Timing.HealthInterval
	}
	if o.Timing.ArtifactWindow <= 0 {
		o.Timing.ArtifactWindow = d.Timing.ArtifactWindow
	}
	if o.Timing.NotificationWindow <= 0 {
		o.Timing.NotificationWindow = d.Timing.NotificationWindow
	}
	if o.Timing.GenerateDelay == (DelayRange{}) {
		o.Timing.GenerateDelay = d.Timing.GenerateDelay
	}
	if o.Timing.RecoveryDelay == (DelayRange{}) {
		o.Timing.RecoveryDelay = d.Timing.RecoveryDelay
	}
	if o.Forever == (Appearance{}) {
		o.Forever = d.Forever
	}
	if o.AutoSave == (Appearance{}) {
		o.AutoSave = d.AutoSave
	}
	if o.Signal == "" {
		o.Signal = d.Signal
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
}
