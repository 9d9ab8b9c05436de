package analytics_transport

// Environment is the synchronous context-query surface the payload
// builder reads. Implementations return zero values for anything they
// cannot observe.
type Environment interface {
	PageURL() string
	PageTitle() string
	Referrer() string
	UserAgent() string
	Locale() string
	Timezone() string
	Screen() ScreenInfo
	FeatureFlags() map[string]bool
}

// StaticEnvironment is an Environment with fixed values, used by
// server-side producers and the CLI where there is no live page.
type StaticEnvironment struct {
	URL     string
	Title   string
	Ref     string
	Agent   string
	Lang    string
	TZ      string
	Display ScreenInfo
	Flags   map[string]bool
}

func (e *StaticEnvironment) PageURL() string { return e.URL }
func (e *StaticEnvironment) PageTitle() string { return e.Title }
func (e *StaticEnvironment) Referrer() string { return e.Ref }
func (e *StaticEnvironment) UserAgent() string { return e.Agent }
func (e *StaticEnvironment) Locale() string { return e.Lang }
func (e *StaticEnvironment) Timezone() string { return e.TZ }
func (e *StaticEnvironment) Screen() ScreenInfo { return e.Display }

func (e *StaticEnvironment) FeatureFlags() map[string]bool {
	if len(e.Flags) == 0 {
		return nil
	}
	flags := make(map[string]bool, len(e.Flags))
	for k, v := range e.Flags {
		flags[k] = v
	}
	return flags
}
